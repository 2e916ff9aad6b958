package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/eventoracle/internal/models"
)

const resolutionCols = `id, event_id, run_id, status, outcome, confidence, confirming, contradicting,
	sources_checked, summary, confirming_ids, contradicting_ids, created_at`

// SaveResolution records a resolution check of a locked event. A resolved check
// moves the event to the resolved state in the same transaction; open and
// contradicted checks leave it locked.
func (s *Storage) SaveResolution(ctx context.Context, r *models.Resolution) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid resolution: %w", err)
	}
	confirming, err := marshalJSON(nonNil(r.ConfirmingIDs))
	if err != nil {
		return fmt.Errorf("failed to marshal confirming ids: %w", err)
	}
	contradicting, err := marshalJSON(nonNil(r.ContradictingIDs))
	if err != nil {
		return fmt.Errorf("failed to marshal contradicting ids: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var state string
	err = tx.QueryRowContext(ctx, `SELECT state FROM events WHERE id = ?`, r.EventID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("event %s: %w", r.EventID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load event state: %w", err)
	}
	if models.EventState(state) != models.EventLocked {
		return fmt.Errorf("event %s is %s: %w", r.EventID, state, ErrEventNotLocked)
	}

	var outcome sql.NullString
	if r.Outcome != models.OutcomeNone {
		outcome = sql.NullString{String: string(r.Outcome), Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO resolutions (`+resolutionCols+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.EventID, r.RunID, string(r.Status), outcome, r.Confidence, r.Confirming, r.Contradicting,
		r.SourcesChecked, r.Summary, confirming, contradicting, toNano(r.CreatedAt),
	); err != nil {
		return fmt.Errorf("failed to insert resolution: %w", err)
	}

	if r.Status == models.ResolutionResolved {
		if _, err := tx.ExecContext(ctx,
			`UPDATE events SET state = ?, updated_at = ? WHERE id = ?`,
			string(models.EventResolved), time.Now().UnixNano(), r.EventID,
		); err != nil {
			return fmt.Errorf("failed to resolve event: %w", err)
		}
	}
	return tx.Commit()
}

// LatestResolution returns the most recent resolution check of an event.
func (s *Storage) LatestResolution(ctx context.Context, eventID string) (*models.Resolution, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+resolutionCols+` FROM resolutions
		WHERE event_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, eventID)
	r, err := scanResolution(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resolution for event %s: %w", eventID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resolution: %w", err)
	}
	return r, nil
}

// CountResolutions returns how many resolution checks an event has.
func (s *Storage) CountResolutions(ctx context.Context, eventID string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resolutions WHERE event_id = ?`, eventID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count resolutions: %w", err)
	}
	return n, nil
}

func scanResolution(scan func(...any) error) (*models.Resolution, error) {
	var r models.Resolution
	var status string
	var runID, outcome, summary sql.NullString
	var confirming, contradicting string
	var createdNano int64
	err := scan(
		&r.ID, &r.EventID, &runID, &status, &outcome, &r.Confidence, &r.Confirming, &r.Contradicting,
		&r.SourcesChecked, &summary, &confirming, &contradicting, &createdNano,
	)
	if err != nil {
		return nil, err
	}
	st, err := models.ParseResolutionStatus(status)
	if err != nil {
		return nil, err
	}
	r.Status = st
	r.RunID = runID.String
	r.Outcome = models.Outcome(outcome.String)
	r.Summary = summary.String
	r.CreatedAt = fromNano(createdNano)
	if err := json.Unmarshal([]byte(confirming), &r.ConfirmingIDs); err != nil {
		return nil, fmt.Errorf("failed to decode confirming ids: %w", err)
	}
	if err := json.Unmarshal([]byte(contradicting), &r.ContradictingIDs); err != nil {
		return nil, fmt.Errorf("failed to decode contradicting ids: %w", err)
	}
	return &r, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
