// Package source fetches candidate items from external feeds and markets.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rewired-gh/eventoracle/internal/config"
	"github.com/rewired-gh/eventoracle/internal/models"
)

const userAgent = "eventoracle/1.0"

// Source produces items for ingestion. Fetch returns at most limit items when limit > 0.
type Source interface {
	Name() string
	Type() models.SourceType
	Fetch(ctx context.Context, limit int) ([]models.SourceItem, error)
}

// FromConfig builds the configured sources in order.
func FromConfig(cfgs []config.SourceConfig, timeout time.Duration) ([]Source, error) {
	client := &http.Client{Timeout: timeout}
	sources := make([]Source, 0, len(cfgs))
	for _, c := range cfgs {
		var src Source
		switch c.Type {
		case string(models.SourceRSS):
			src = NewRSS(c.Name, c.URL, client)
		case string(models.SourcePolymarket):
			src = NewPolymarket(c.Name, c.URL, c.Categories, client)
		case string(models.SourceKalshi):
			src = NewKalshi(c.Name, c.URL, c.Categories, client)
		case "fixture":
			src = NewFixture(c.Name, c.Path)
		default:
			return nil, fmt.Errorf("source %q: unknown type %q", c.Name, c.Type)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// getJSON fetches url and decodes the JSON body into v, retrying server errors.
func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	resp, err := doRequest(ctx, client, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

var retryDelay = time.Second

// doRequest performs a GET with retry on transport and 5xx errors.
func doRequest(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	maxRetries := 3
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i) * retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func capItems(items []models.SourceItem, limit int) []models.SourceItem {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
