package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/eventoracle/internal/models"
)

// DefaultKalshiURL is the public trade API base.
const DefaultKalshiURL = "https://api.elections.kalshi.com/trade-api/v2"

// Kalshi lists open markets from the Kalshi trade API.
type Kalshi struct {
	name       string
	baseURL    string
	categories []string
	client     *http.Client
}

type kalshiResponse struct {
	Markets []kalshiMarket `json:"markets"`
}

type kalshiMarket struct {
	Ticker      string  `json:"ticker"`
	EventTicker string  `json:"event_ticker"`
	Title       string  `json:"title"`
	Subtitle    string  `json:"subtitle"`
	Status      string  `json:"status"`
	OpenTime    string  `json:"open_time"`
	CloseTime   string  `json:"close_time"`
	Category    string  `json:"category"`
	YesBid      float64 `json:"yes_bid"`
	YesAsk      float64 `json:"yes_ask"`
}

func NewKalshi(name, baseURL string, categories []string, client *http.Client) *Kalshi {
	if baseURL == "" {
		baseURL = DefaultKalshiURL
	}
	return &Kalshi{name: name, baseURL: strings.TrimRight(baseURL, "/"), categories: categories, client: client}
}

func (k *Kalshi) Name() string            { return k.name }
func (k *Kalshi) Type() models.SourceType { return models.SourceKalshi }

// Fetch returns open markets, one request per configured category or a single
// unfiltered request when none are configured.
func (k *Kalshi) Fetch(ctx context.Context, limit int) ([]models.SourceItem, error) {
	categories := k.categories
	if len(categories) == 0 {
		categories = []string{""}
	}

	now := time.Now()
	seen := map[string]bool{}
	var items []models.SourceItem
	for _, cat := range categories {
		u, err := url.Parse(k.baseURL + "/markets")
		if err != nil {
			return nil, fmt.Errorf("failed to parse URL: %w", err)
		}
		q := u.Query()
		q.Set("status", "open")
		if limit > 0 {
			q.Set("limit", strconv.Itoa(limit))
		}
		if cat != "" {
			q.Set("category", cat)
		}
		u.RawQuery = q.Encode()

		var resp kalshiResponse
		if err := getJSON(ctx, k.client, u.String(), &resp); err != nil {
			return nil, fmt.Errorf("kalshi %s: %w", k.name, err)
		}

		for _, m := range resp.Markets {
			if m.Ticker == "" || seen[m.Ticker] {
				continue
			}
			seen[m.Ticker] = true

			published := now
			if t, err := time.Parse(time.RFC3339, m.OpenTime); err == nil {
				published = t
			}
			meta := map[string]any{
				"ticker":   m.Ticker,
				"category": m.Category,
				"yes_bid":  m.YesBid,
				"yes_ask":  m.YesAsk,
			}
			if m.EventTicker != "" {
				meta["event_ticker"] = m.EventTicker
			}
			if m.CloseTime != "" {
				meta["close_time"] = m.CloseTime
			}

			items = append(items, models.SourceItem{
				SourceType:  models.SourceKalshi,
				SourceName:  k.name,
				URL:         "https://kalshi.com/markets/" + strings.ToLower(m.Ticker),
				Title:       m.Title,
				Snippet:     m.Subtitle,
				PublishedAt: published,
				Metadata:    meta,
			})
		}
	}
	return capItems(items, limit), nil
}
