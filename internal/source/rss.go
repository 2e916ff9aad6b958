package source

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rewired-gh/eventoracle/internal/models"
)

// RSS reads an RSS or Atom feed.
type RSS struct {
	name   string
	url    string
	parser *gofeed.Parser
}

func NewRSS(name, url string, client *http.Client) *RSS {
	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = userAgent
	return &RSS{name: name, url: url, parser: parser}
}

func (s *RSS) Name() string            { return s.name }
func (s *RSS) Type() models.SourceType { return models.SourceRSS }

func (s *RSS) Fetch(ctx context.Context, limit int) ([]models.SourceItem, error) {
	feed, err := s.parser.ParseURLWithContext(s.url, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", s.url, err)
	}

	now := time.Now()
	items := make([]models.SourceItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		published := now
		if entry.PublishedParsed != nil {
			published = *entry.PublishedParsed
		} else if entry.UpdatedParsed != nil {
			published = *entry.UpdatedParsed
		}

		summary := entry.Description
		if summary == "" {
			summary = entry.Content
		}

		meta := map[string]any{"feed": feed.Title}
		if entry.GUID != "" {
			meta["guid"] = entry.GUID
		}
		if len(entry.Categories) > 0 {
			meta["categories"] = entry.Categories
		}

		items = append(items, models.SourceItem{
			SourceType:  models.SourceRSS,
			SourceName:  s.name,
			URL:         entry.Link,
			Title:       entry.Title,
			Snippet:     summary,
			PublishedAt: published,
			Metadata:    meta,
		})
	}
	return capItems(items, limit), nil
}
