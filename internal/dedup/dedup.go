package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/eventoracle/internal/logger"
	"github.com/rewired-gh/eventoracle/internal/models"
)

// Store is the persistence the deduplicator needs.
type Store interface {
	InsertRawItem(ctx context.Context, item *models.RawItem) (string, bool, error)
}

// Ingested is one accepted input item after storage, new or duplicate.
type Ingested struct {
	RawItemID    string
	CanonicalKey string
	SourceType   models.SourceType
	Title        string
	Snippet      string
	New          bool
}

// Result summarizes one Ingest call.
type Result struct {
	Items      []Ingested
	New        int
	Duplicates int
	Skipped    int
}

// Deduplicator turns fetched items into stored raw items.
type Deduplicator struct {
	store Store
	now   func() time.Time
}

// New creates a deduplicator backed by store.
func New(store Store) *Deduplicator {
	return &Deduplicator{store: store, now: time.Now}
}

// Ingest stores every well-formed item. Malformed items are skipped and counted;
// a storage failure aborts the batch and is returned.
func (d *Deduplicator) Ingest(ctx context.Context, items []models.SourceItem) (Result, error) {
	var res Result
	for _, in := range items {
		raw, err := d.toRawItem(in)
		if err != nil {
			logger.Warn("Skipping malformed item from %s: %v", in.SourceName, err)
			res.Skipped++
			continue
		}

		id, inserted, err := d.store.InsertRawItem(ctx, raw)
		if err != nil {
			return res, fmt.Errorf("failed to store item %q: %w", raw.Title, err)
		}
		if inserted {
			res.New++
		} else {
			res.Duplicates++
		}
		res.Items = append(res.Items, Ingested{
			RawItemID:    id,
			CanonicalKey: raw.CanonicalKey,
			SourceType:   raw.SourceType,
			Title:        raw.Title,
			Snippet:      raw.Snippet,
			New:          inserted,
		})
	}
	logger.Debug("Ingested %d items: %d new, %d duplicate, %d skipped", len(items), res.New, res.Duplicates, res.Skipped)
	return res, nil
}

func (d *Deduplicator) toRawItem(in models.SourceItem) (*models.RawItem, error) {
	if _, err := models.ParseSourceType(string(in.SourceType)); err != nil {
		return nil, err
	}
	title := strings.Join(strings.Fields(StripHTML(in.Title)), " ")
	if title == "" {
		return nil, errors.New("missing title")
	}
	in.Title = title
	in.Snippet = strings.Join(strings.Fields(StripHTML(in.Snippet)), " ")
	key := CanonicalKey(in)
	if strings.HasSuffix(key, ":") {
		return nil, fmt.Errorf("title %q has no usable words", title)
	}

	now := d.now()
	published := in.PublishedAt
	if published.IsZero() {
		published = now
	}
	name := in.SourceName
	if name == "" {
		name = string(in.SourceType)
	}
	return &models.RawItem{
		ID:           uuid.New().String(),
		SourceType:   in.SourceType,
		SourceName:   name,
		URL:          strings.TrimSpace(in.URL),
		Title:        in.Title,
		Snippet:      in.Snippet,
		Fingerprint:  Fingerprint(in),
		CanonicalKey: key,
		PublishedAt:  published,
		FirstSeenAt:  now,
		FetchedAt:    now,
		Metadata:     in.Metadata,
	}, nil
}
