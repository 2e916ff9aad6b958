package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rewired-gh/eventoracle/internal/models"
)

const eventCols = `e.id, e.proposal_id, e.key, e.title, e.description, e.state, e.primary_tag,
	e.created_at, e.updated_at`

// CreateEventFromProposal promotes an accepted proposal into a draft event.
// If the proposal already has an event, that event is returned with created=false.
func (s *Storage) CreateEventFromProposal(ctx context.Context, proposalID string) (*models.Event, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, `SELECT `+proposalCols+` FROM event_proposals p WHERE p.id = ?`, proposalID)
	p, err := scanProposal(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("proposal %s: %w", proposalID, ErrNotFound)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load proposal: %w", err)
	}
	if p.Status != models.StatusAccepted {
		return nil, false, fmt.Errorf("proposal %s is %s: %w", proposalID, p.Status, ErrProposalNotAccepted)
	}

	row = tx.QueryRowContext(ctx, `SELECT `+eventCols+` FROM events e WHERE e.proposal_id = ?`, proposalID)
	existing, err := scanEvent(row.Scan)
	if err == nil {
		return existing, false, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to look up event: %w", err)
	}

	now := time.Now()
	e := &models.Event{
		ID:          uuid.New().String(),
		ProposalID:  p.ID,
		Key:         p.CanonicalKey,
		Title:       p.Title,
		Description: p.Description,
		State:       models.EventDraft,
		PrimaryTag:  p.Judgment.PrimaryTag,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO events
			(id, proposal_id, key, title, description, state, primary_tag, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ID, e.ProposalID, e.Key, e.Title, e.Description, string(e.State), e.PrimaryTag,
		now.UnixNano(), now.UnixNano(),
	); err != nil {
		return nil, false, fmt.Errorf("failed to insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit event: %w", err)
	}
	return e, true, nil
}

// GetEvent returns the event with the given ID.
func (s *Storage) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `SELECT `+eventCols+` FROM events e WHERE e.id = ?`, id)
	e, err := scanEvent(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return e, nil
}

// TransitionEvent moves an event to the given state if the lifecycle allows it.
func (s *Storage) TransitionEvent(ctx context.Context, id string, to models.EventState) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var current string
	err = tx.QueryRowContext(ctx, `SELECT state FROM events WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load event state: %w", err)
	}
	from, err := models.ParseEventState(current)
	if err != nil {
		return err
	}
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("event %s %s -> %s: %w", id, from, to, ErrInvalidTransition)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE events SET state = ?, updated_at = ? WHERE id = ?`, string(to), time.Now().UnixNano(), id,
	); err != nil {
		return fmt.Errorf("failed to update event state: %w", err)
	}
	return tx.Commit()
}

// EventFilter narrows ListEvents. Zero values match everything.
type EventFilter struct {
	State models.EventState
	// Unpredicted restricts the result to events without a live prediction.
	Unpredicted bool
	// ClosedBefore, when set, restricts the result to events whose live
	// prediction expects the event to close at or before this time.
	ClosedBefore time.Time
	// Unreviewed drops events with a contradicted resolution.
	Unreviewed bool
	// UncheckedSince, when set, drops events with a resolution check after this time.
	UncheckedSince time.Time
	Limit          int
}

// ListEvents returns events matching f, oldest first.
func (s *Storage) ListEvents(ctx context.Context, f EventFilter) ([]models.Event, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	b := sq.Select(eventCols).From("events e").OrderBy("e.created_at ASC", "e.id ASC")
	if f.State != "" {
		b = b.Where(sq.Eq{"e.state": string(f.State)})
	}
	if f.Unpredicted {
		b = b.Where(`NOT EXISTS (
			SELECT 1 FROM predictions pr WHERE pr.event_id = e.id AND pr.superseded_by IS NULL)`)
	}
	if !f.ClosedBefore.IsZero() {
		b = b.Where(`EXISTS (
			SELECT 1 FROM predictions pr WHERE pr.event_id = e.id AND pr.superseded_by IS NULL
				AND pr.created_at + CAST(pr.ttc_hours * 3600000000000 AS INTEGER) <= ?)`, f.ClosedBefore.UnixNano())
	}
	if f.Unreviewed {
		b = b.Where(`NOT EXISTS (
			SELECT 1 FROM resolutions r WHERE r.event_id = e.id AND r.status = 'contradicted')`)
	}
	if !f.UncheckedSince.IsZero() {
		b = b.Where(`NOT EXISTS (
			SELECT 1 FROM resolutions r WHERE r.event_id = e.id AND r.created_at > ?)`, f.UncheckedSince.UnixNano())
	}
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func scanEvent(scan func(...any) error) (*models.Event, error) {
	var e models.Event
	var state string
	var description sql.NullString
	var createdNano, updatedNano int64
	err := scan(
		&e.ID, &e.ProposalID, &e.Key, &e.Title, &description, &state, &e.PrimaryTag,
		&createdNano, &updatedNano,
	)
	if err != nil {
		return nil, err
	}
	st, err := models.ParseEventState(state)
	if err != nil {
		return nil, err
	}
	e.State = st
	e.Description = description.String
	e.CreatedAt = fromNano(createdNano)
	e.UpdatedAt = fromNano(updatedNano)
	return &e, nil
}
