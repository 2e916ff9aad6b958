package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/rewired-gh/eventoracle/internal/models"
)

const predictionCols = `id, event_id, run_id, p, ttc_hours, rationale, superseded_by, created_at`

// SavePrediction writes a prediction and its ranked attributions in one transaction.
// Every attributed raw item must exist and ranks must run 1..n without gaps.
// With supersede set, any live prediction of the same event is marked as replaced
// by the new one; otherwise an existing live prediction is left alongside it.
func (s *Storage) SavePrediction(ctx context.Context, p *models.Prediction, attrs []models.Attribution, supersede bool) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid prediction: %w", err)
	}
	if err := checkRanks(attrs); err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var eventExists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE id = ?`, p.EventID).Scan(&eventExists); err != nil {
		return fmt.Errorf("failed to look up event: %w", err)
	}
	if eventExists == 0 {
		return fmt.Errorf("event %s: %w", p.EventID, ErrNotFound)
	}

	for _, a := range attrs {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_items WHERE id = ?`, a.RawItemID).Scan(&n); err != nil {
			return fmt.Errorf("failed to look up raw item: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("raw item %s: %w", a.RawItemID, ErrMissingEvidence)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO predictions (id, event_id, run_id, p, ttc_hours, rationale, superseded_by, created_at)
		VALUES (?,?,?,?,?,?,NULL,?)`,
		p.ID, p.EventID, p.RunID, p.P, p.TTCHours, p.Rationale, toNano(p.CreatedAt),
	); err != nil {
		return fmt.Errorf("failed to insert prediction: %w", err)
	}

	for _, a := range attrs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO prediction_evidence (prediction_id, raw_item_id, rank) VALUES (?,?,?)`,
			p.ID, a.RawItemID, a.Rank,
		); err != nil {
			return fmt.Errorf("failed to insert attribution: %w", err)
		}
	}

	if supersede {
		if _, err := tx.ExecContext(ctx, `
			UPDATE predictions SET superseded_by = ?
			WHERE event_id = ? AND id != ? AND superseded_by IS NULL`,
			p.ID, p.EventID, p.ID,
		); err != nil {
			return fmt.Errorf("failed to supersede predictions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit prediction: %w", err)
	}
	return nil
}

// LivePrediction returns the newest prediction of an event that has not been superseded.
func (s *Storage) LivePrediction(ctx context.Context, eventID string) (*models.Prediction, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+predictionCols+` FROM predictions
		WHERE event_id = ? AND superseded_by IS NULL
		ORDER BY created_at DESC, id DESC LIMIT 1`, eventID)
	p, err := scanPrediction(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("live prediction for event %s: %w", eventID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction: %w", err)
	}
	return p, nil
}

// ListPredictions returns every prediction of an event, superseded ones included, oldest first.
func (s *Storage) ListPredictions(ctx context.Context, eventID string) ([]models.Prediction, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+predictionCols+` FROM predictions
		WHERE event_id = ? ORDER BY created_at ASC, id ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	predictions := []models.Prediction{}
	for rows.Next() {
		p, err := scanPrediction(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		predictions = append(predictions, *p)
	}
	return predictions, rows.Err()
}

// Attributions returns the ranked evidence of a prediction, rank 1 first.
func (s *Storage) Attributions(ctx context.Context, predictionID string) ([]models.Attribution, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT prediction_id, raw_item_id, rank FROM prediction_evidence
		WHERE prediction_id = ? ORDER BY rank ASC`, predictionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attributions: %w", err)
	}
	defer rows.Close()

	attrs := []models.Attribution{}
	for rows.Next() {
		var a models.Attribution
		if err := rows.Scan(&a.PredictionID, &a.RawItemID, &a.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan attribution: %w", err)
		}
		attrs = append(attrs, a)
	}
	return attrs, rows.Err()
}

func checkRanks(attrs []models.Attribution) error {
	ranks := make([]int, len(attrs))
	seen := make(map[string]bool, len(attrs))
	for i, a := range attrs {
		if seen[a.RawItemID] {
			return fmt.Errorf("raw item %s attributed twice: %w", a.RawItemID, ErrInvalidRanks)
		}
		seen[a.RawItemID] = true
		ranks[i] = a.Rank
	}
	sort.Ints(ranks)
	for i, r := range ranks {
		if r != i+1 {
			return ErrInvalidRanks
		}
	}
	return nil
}

func scanPrediction(scan func(...any) error) (*models.Prediction, error) {
	var p models.Prediction
	var runID, rationale, supersededBy sql.NullString
	var createdNano int64
	err := scan(&p.ID, &p.EventID, &runID, &p.P, &p.TTCHours, &rationale, &supersededBy, &createdNano)
	if err != nil {
		return nil, err
	}
	p.RunID = runID.String
	p.Rationale = rationale.String
	p.SupersededBy = supersededBy.String
	p.CreatedAt = fromNano(createdNano)
	return &p, nil
}
