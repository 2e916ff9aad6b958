package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/rewired-gh/eventoracle/internal/models"
)

const runCols = `id, kind, subject_id, attempt, status, failure_kind, model, input, output,
	raw_response, error, tokens_in, tokens_out, cost_usd, latency_ms, started_at, ended_at`

// RecordRun appends an agent run record. Runs are never updated.
func (s *Storage) RecordRun(ctx context.Context, r *models.AgentRun) error {
	if r.ID == "" || r.SubjectID == "" {
		return fmt.Errorf("invalid agent run: ID and subject ID are required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_runs (`+runCols+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, string(r.Kind), r.SubjectID, r.Attempt, string(r.Status), string(r.FailureKind),
		r.Model, r.Input, r.Output, r.RawResponse, r.Error,
		r.TokensIn, r.TokensOut, r.CostUSD, r.LatencyMS,
		toNano(r.StartedAt), toNano(r.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert agent run: %w", err)
	}
	return nil
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Kind      models.RunKind
	SubjectID string
	Status    models.RunStatus
}

// ListRuns returns agent runs matching f in the order they started.
func (s *Storage) ListRuns(ctx context.Context, f RunFilter) ([]models.AgentRun, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	b := sq.Select(runCols).From("agent_runs").OrderBy("started_at ASC", "attempt ASC")
	if f.Kind != "" {
		b = b.Where(sq.Eq{"kind": string(f.Kind)})
	}
	if f.SubjectID != "" {
		b = b.Where(sq.Eq{"subject_id": f.SubjectID})
	}
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": string(f.Status)})
	}
	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent runs: %w", err)
	}
	defer rows.Close()

	runs := []models.AgentRun{}
	for rows.Next() {
		var r models.AgentRun
		var kind, status string
		var failureKind, model, input, output, raw, errText sql.NullString
		var startedNano, endedNano int64
		if err := rows.Scan(
			&r.ID, &kind, &r.SubjectID, &r.Attempt, &status, &failureKind, &model, &input, &output,
			&raw, &errText, &r.TokensIn, &r.TokensOut, &r.CostUSD, &r.LatencyMS, &startedNano, &endedNano,
		); err != nil {
			return nil, fmt.Errorf("failed to scan agent run: %w", err)
		}
		r.Kind = models.RunKind(kind)
		r.Status = models.RunStatus(status)
		r.FailureKind = models.FailureKind(failureKind.String)
		r.Model = model.String
		r.Input = input.String
		r.Output = output.String
		r.RawResponse = raw.String
		r.Error = errText.String
		r.StartedAt = fromNano(startedNano)
		r.EndedAt = fromNano(endedNano)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
