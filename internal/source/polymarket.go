package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/eventoracle/internal/models"
)

// DefaultPolymarketURL is the Gamma API base.
const DefaultPolymarketURL = "https://gamma-api.polymarket.com"

// Polymarket lists open events from the Polymarket Gamma API.
type Polymarket struct {
	name       string
	baseURL    string
	categories map[string]bool
	client     *http.Client
}

type polymarketEvent struct {
	ID          string             `json:"id"`
	Ticker      string             `json:"ticker"`
	Slug        string             `json:"slug"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Category    string             `json:"category"`
	StartDate   string             `json:"startDate"`
	EndDate     string             `json:"endDate"`
	Active      bool               `json:"active"`
	Closed      bool               `json:"closed"`
	Volume24hr  float64            `json:"volume24hr"`
	Liquidity   float64            `json:"liquidity"`
	Markets     []polymarketMarket `json:"markets"`
}

type polymarketMarket struct {
	ID            string `json:"id"`
	Question      string `json:"question"`
	Outcomes      string `json:"outcomes"`      // JSON string: "[\"Yes\", \"No\"]"
	OutcomePrices string `json:"outcomePrices"` // JSON string: "[\"0.75\", \"0.25\"]"
}

func NewPolymarket(name, baseURL string, categories []string, client *http.Client) *Polymarket {
	if baseURL == "" {
		baseURL = DefaultPolymarketURL
	}
	cats := make(map[string]bool, len(categories))
	for _, c := range categories {
		cats[strings.ToLower(c)] = true
	}
	return &Polymarket{name: name, baseURL: strings.TrimRight(baseURL, "/"), categories: cats, client: client}
}

func (p *Polymarket) Name() string            { return p.name }
func (p *Polymarket) Type() models.SourceType { return models.SourcePolymarket }

// Fetch returns open events ordered by 24h volume, filtered by category when configured.
func (p *Polymarket) Fetch(ctx context.Context, limit int) ([]models.SourceItem, error) {
	u, err := url.Parse(p.baseURL + "/events")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("order", "volume24hr")
	q.Set("ascending", "false")
	if limit > 0 {
		// Over-fetch to leave room for category filtering.
		q.Set("limit", strconv.Itoa(limit*3))
	}
	u.RawQuery = q.Encode()

	var events []polymarketEvent
	if err := getJSON(ctx, p.client, u.String(), &events); err != nil {
		return nil, fmt.Errorf("polymarket %s: %w", p.name, err)
	}

	now := time.Now()
	items := make([]models.SourceItem, 0, len(events))
	for _, pe := range events {
		if pe.Closed {
			continue
		}
		if len(p.categories) > 0 && !p.categories[strings.ToLower(pe.Category)] {
			continue
		}

		meta := map[string]any{
			"market_id":  pe.ID,
			"category":   pe.Category,
			"volume24hr": pe.Volume24hr,
			"liquidity":  pe.Liquidity,
		}
		if pe.Ticker != "" {
			meta["ticker"] = pe.Ticker
		}
		if pe.EndDate != "" {
			meta["end_date"] = pe.EndDate
		}
		var maxYes float64
		for _, m := range pe.Markets {
			yes, _, err := parseMarketProbabilities(m)
			if err != nil {
				continue
			}
			if yes > maxYes {
				maxYes = yes
			}
		}
		if maxYes > 0 {
			meta["yes_probability"] = maxYes
		}

		published := now
		if t, err := time.Parse(time.RFC3339, pe.StartDate); err == nil {
			published = t
		}
		link := ""
		if pe.Slug != "" {
			link = "https://polymarket.com/event/" + pe.Slug
		}

		items = append(items, models.SourceItem{
			SourceType:  models.SourcePolymarket,
			SourceName:  p.name,
			URL:         link,
			Title:       pe.Title,
			Snippet:     pe.Description,
			PublishedAt: published,
			Metadata:    meta,
		})
	}
	return capItems(items, limit), nil
}

// parseMarketProbabilities extracts Yes/No probabilities from a market.
func parseMarketProbabilities(market polymarketMarket) (float64, float64, error) {
	var outcomes []string
	if err := json.Unmarshal([]byte(market.Outcomes), &outcomes); err != nil {
		return 0, 0, fmt.Errorf("failed to parse outcomes: %w", err)
	}
	var prices []string
	if err := json.Unmarshal([]byte(market.OutcomePrices), &prices); err != nil {
		return 0, 0, fmt.Errorf("failed to parse outcome prices: %w", err)
	}

	var yes, no float64
	for i, outcome := range outcomes {
		if i >= len(prices) {
			break
		}
		price, err := strconv.ParseFloat(prices[i], 64)
		if err != nil {
			continue
		}
		switch outcome {
		case "Yes":
			yes = price
		case "No":
			no = price
		}
	}
	return yes, no, nil
}
