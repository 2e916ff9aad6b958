package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/rewired-gh/eventoracle/internal/models"
)

const rawItemCols = `r.id, r.source_type, r.source_name, r.url, r.title, r.snippet, r.fingerprint,
	r.canonical_key, r.published_at, r.first_seen_at, r.fetched_at, r.metadata`

// InsertRawItem stores item unless an item with the same fingerprint exists.
// It returns the stored ID and whether a new row was written. On a duplicate
// the existing ID is returned and item is left untouched.
func (s *Storage) InsertRawItem(ctx context.Context, item *models.RawItem) (string, bool, error) {
	if err := item.Validate(); err != nil {
		return "", false, fmt.Errorf("invalid raw item: %w", err)
	}
	meta := item.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := marshalJSON(meta)
	if err != nil {
		return "", false, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		INSERT INTO raw_items
			(id, source_type, source_name, url, title, snippet, fingerprint, canonical_key,
			 published_at, first_seen_at, fetched_at, metadata)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(fingerprint) DO NOTHING`,
		item.ID, string(item.SourceType), item.SourceName, item.URL, item.Title, item.Snippet,
		item.Fingerprint, item.CanonicalKey,
		toNano(item.PublishedAt), toNano(item.FirstSeenAt), toNano(item.FetchedAt), metaJSON,
	)
	if err != nil {
		return "", false, fmt.Errorf("failed to insert raw item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 1 {
		if err := tx.Commit(); err != nil {
			return "", false, fmt.Errorf("failed to commit raw item: %w", err)
		}
		return item.ID, true, nil
	}

	var existingID string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM raw_items WHERE fingerprint = ?`, item.Fingerprint).Scan(&existingID); err != nil {
		return "", false, fmt.Errorf("failed to look up duplicate raw item: %w", err)
	}
	return existingID, false, tx.Commit()
}

// GetRawItem returns the raw item with the given ID.
func (s *Storage) GetRawItem(ctx context.Context, id string) (*models.RawItem, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `SELECT `+rawItemCols+` FROM raw_items r WHERE r.id = ?`, id)
	item, err := scanRawItem(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("raw item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get raw item: %w", err)
	}
	return item, nil
}

// GetRawItems returns the raw items with the given IDs, in no particular order.
// Unknown IDs are silently absent from the result.
func (s *Storage) GetRawItems(ctx context.Context, ids []string) ([]models.RawItem, error) {
	if len(ids) == 0 {
		return []models.RawItem{}, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.query(ctx, sq.Select(rawItemCols).From("raw_items r").Where(sq.Eq{"r.id": ids}))
	if err != nil {
		return nil, fmt.Errorf("failed to query raw items: %w", err)
	}
	return collectRawItems(rows)
}

// CountRawItems returns the number of stored raw items.
func (s *Storage) CountRawItems(ctx context.Context) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count raw items: %w", err)
	}
	return n, nil
}

func collectRawItems(rows *sql.Rows) ([]models.RawItem, error) {
	defer rows.Close()
	items := []models.RawItem{}
	for rows.Next() {
		item, err := scanRawItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan raw item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanRawItem(scan func(...any) error) (*models.RawItem, error) {
	var r models.RawItem
	var sourceType, metaJSON string
	var url, snippet sql.NullString
	var publishedNano, firstSeenNano, fetchedNano int64
	err := scan(
		&r.ID, &sourceType, &r.SourceName, &url, &r.Title, &snippet, &r.Fingerprint,
		&r.CanonicalKey, &publishedNano, &firstSeenNano, &fetchedNano, &metaJSON,
	)
	if err != nil {
		return nil, err
	}
	r.SourceType = models.SourceType(sourceType)
	r.URL = url.String
	r.Snippet = snippet.String
	r.PublishedAt = fromNano(publishedNano)
	r.FirstSeenAt = fromNano(firstSeenNano)
	r.FetchedAt = fromNano(fetchedNano)
	if metaJSON != "" && metaJSON != "{}" {
		if err := json.Unmarshal([]byte(metaJSON), &r.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &r, nil
}
