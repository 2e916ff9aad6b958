package source

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rewired-gh/eventoracle/internal/models"
	"gopkg.in/yaml.v3"
)

// Fixture replays items from a local YAML file. It is used for offline runs and tests.
type Fixture struct {
	name string
	path string
}

type fixtureFile struct {
	Items []fixtureItem `yaml:"items"`
}

type fixtureItem struct {
	SourceType  string         `yaml:"source_type"`
	SourceName  string         `yaml:"source_name"`
	URL         string         `yaml:"url"`
	Title       string         `yaml:"title"`
	Snippet     string         `yaml:"snippet"`
	PublishedAt string         `yaml:"published_at"`
	Metadata    map[string]any `yaml:"metadata"`
}

func NewFixture(name, path string) *Fixture {
	return &Fixture{name: name, path: path}
}

func (f *Fixture) Name() string            { return f.name }
func (f *Fixture) Type() models.SourceType { return models.SourceCustom }

// Fetch reads the file on every call. Items without a source_type are custom items.
// Type validation is left to ingestion so bad fixture rows are counted, not fatal.
func (f *Fixture) Fetch(ctx context.Context, limit int) ([]models.SourceItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture %s: %w", f.path, err)
	}
	var file fixtureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse fixture %s: %w", f.path, err)
	}

	now := time.Now()
	items := make([]models.SourceItem, 0, len(file.Items))
	for _, it := range file.Items {
		st := models.SourceType(it.SourceType)
		if st == "" {
			st = models.SourceCustom
		}
		name := it.SourceName
		if name == "" {
			name = f.name
		}
		published := now
		if it.PublishedAt != "" {
			t, err := time.Parse(time.RFC3339, it.PublishedAt)
			if err != nil {
				return nil, fmt.Errorf("fixture %s: item %q: invalid published_at: %w", f.path, it.Title, err)
			}
			published = t
		}
		items = append(items, models.SourceItem{
			SourceType:  st,
			SourceName:  name,
			URL:         it.URL,
			Title:       it.Title,
			Snippet:     it.Snippet,
			PublishedAt: published,
			Metadata:    it.Metadata,
		})
	}
	return capItems(items, limit), nil
}
