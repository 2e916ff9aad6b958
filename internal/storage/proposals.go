package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rewired-gh/eventoracle/internal/models"
)

const proposalCols = `p.id, p.canonical_key, p.title, p.description, p.proposed_by, p.status,
	p.judgment, p.created_at, p.updated_at`

// AttachOutcome describes what AttachEvidence did with a group of items.
type AttachOutcome int

const (
	// AttachCreated means a new pending proposal was created for the key.
	AttachCreated AttachOutcome = iota
	// AttachLinked means the items were linked to the existing pending proposal.
	AttachLinked
	// AttachClosed means only judged proposals exist for the key and nothing was written.
	AttachClosed
)

// AttachResult reports the proposal touched by AttachEvidence.
type AttachResult struct {
	ProposalID string
	Outcome    AttachOutcome
	Linked     int // newly written proposal_evidence rows
}

// AttachEvidence links raw items to the pending proposal for draft.CanonicalKey,
// creating draft as a new pending proposal when none exists. When the key has
// only judged proposals the items are left unlinked unless reopen is set and at
// least one item is not yet linked to any proposal of the key; then a fresh
// pending proposal is created with those items. Everything happens in one transaction.
func (s *Storage) AttachEvidence(ctx context.Context, draft *models.EventProposal, itemIDs []string, reopen bool) (AttachResult, error) {
	if draft.Status != models.StatusPending || draft.Judgment != nil {
		return AttachResult{}, fmt.Errorf("invalid proposal: new proposals must be pending without judgment")
	}
	if err := draft.Validate(); err != nil {
		return AttachResult{}, fmt.Errorf("invalid proposal: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return AttachResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var result AttachResult
	var pendingID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM event_proposals WHERE canonical_key = ? AND status = 'pending'`,
		draft.CanonicalKey,
	).Scan(&pendingID)
	switch {
	case err == nil:
		result = AttachResult{ProposalID: pendingID, Outcome: AttachLinked}
	case errors.Is(err, sql.ErrNoRows):
		var judged int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM event_proposals WHERE canonical_key = ?`, draft.CanonicalKey,
		).Scan(&judged); err != nil {
			return AttachResult{}, fmt.Errorf("failed to look up judged proposals: %w", err)
		}
		if judged > 0 {
			if !reopen {
				return AttachResult{Outcome: AttachClosed}, nil
			}
			// Only evidence the judged proposals never saw may reopen the key.
			fresh, err := unlinkedForKey(ctx, tx, draft.CanonicalKey, itemIDs)
			if err != nil {
				return AttachResult{}, err
			}
			if len(fresh) == 0 {
				return AttachResult{Outcome: AttachClosed}, nil
			}
			itemIDs = fresh
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO event_proposals
				(id, canonical_key, title, description, proposed_by, status, judgment, created_at, updated_at)
			VALUES (?,?,?,?,?,?,NULL,?,?)`,
			draft.ID, draft.CanonicalKey, draft.Title, draft.Description, draft.ProposedBy,
			string(models.StatusPending), toNano(draft.CreatedAt), toNano(draft.UpdatedAt),
		); err != nil {
			return AttachResult{}, fmt.Errorf("failed to insert proposal: %w", err)
		}
		result = AttachResult{ProposalID: draft.ID, Outcome: AttachCreated}
	default:
		return AttachResult{}, fmt.Errorf("failed to look up pending proposal: %w", err)
	}

	now := time.Now()
	for _, itemID := range itemIDs {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO proposal_evidence (proposal_id, raw_item_id, added_at)
			VALUES (?,?,?)
			ON CONFLICT(proposal_id, raw_item_id) DO NOTHING`,
			result.ProposalID, itemID, now.UnixNano(),
		)
		if err != nil {
			return AttachResult{}, fmt.Errorf("failed to link raw item %s: %w", itemID, err)
		}
		n, _ := res.RowsAffected()
		result.Linked += int(n)
	}
	if result.Linked > 0 && result.Outcome == AttachLinked {
		if _, err := tx.ExecContext(ctx,
			`UPDATE event_proposals SET updated_at = ? WHERE id = ?`, now.UnixNano(), result.ProposalID,
		); err != nil {
			return AttachResult{}, fmt.Errorf("failed to touch proposal: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return AttachResult{}, fmt.Errorf("failed to commit evidence: %w", err)
	}
	return result, nil
}

// unlinkedForKey returns the items of itemIDs not linked to any proposal with the given key.
func unlinkedForKey(ctx context.Context, tx *sql.Tx, key string, itemIDs []string) ([]string, error) {
	var fresh []string
	for _, itemID := range itemIDs {
		var n int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM proposal_evidence pe
			JOIN event_proposals p ON p.id = pe.proposal_id
			WHERE p.canonical_key = ? AND pe.raw_item_id = ?`, key, itemID,
		).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to look up evidence for %s: %w", itemID, err)
		}
		if n == 0 {
			fresh = append(fresh, itemID)
		}
	}
	return fresh, nil
}

// GetProposal returns the proposal with the given ID.
func (s *Storage) GetProposal(ctx context.Context, id string) (*models.EventProposal, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `SELECT `+proposalCols+` FROM event_proposals p WHERE p.id = ?`, id)
	p, err := scanProposal(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("proposal %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}
	return p, nil
}

// ProposalFilter narrows ListProposals. Zero values match everything.
type ProposalFilter struct {
	Status       models.ProposalStatus
	CanonicalKey string
	// WithoutEvent restricts the result to proposals no event was created from.
	WithoutEvent bool
	Limit        int
}

// ListProposals returns proposals matching f, oldest first.
func (s *Storage) ListProposals(ctx context.Context, f ProposalFilter) ([]models.EventProposal, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	b := sq.Select(proposalCols).From("event_proposals p").OrderBy("p.created_at ASC", "p.id ASC")
	if f.Status != "" {
		b = b.Where(sq.Eq{"p.status": string(f.Status)})
	}
	if f.CanonicalKey != "" {
		b = b.Where(sq.Eq{"p.canonical_key": f.CanonicalKey})
	}
	if f.WithoutEvent {
		b = b.Where(`NOT EXISTS (SELECT 1 FROM events e WHERE e.proposal_id = p.id)`)
	}
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("failed to query proposals: %w", err)
	}
	defer rows.Close()

	proposals := []models.EventProposal{}
	for rows.Next() {
		p, err := scanProposal(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}
		proposals = append(proposals, *p)
	}
	return proposals, rows.Err()
}

// CountProposals returns the number of proposals with the given status.
func (s *Storage) CountProposals(ctx context.Context, status models.ProposalStatus) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM event_proposals WHERE status = ?`, string(status),
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count proposals: %w", err)
	}
	return n, nil
}

// ProposalEvidence returns the raw items linked to a proposal, newest first.
func (s *Storage) ProposalEvidence(ctx context.Context, proposalID string) ([]models.RawItem, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+rawItemCols+`
		FROM raw_items r
		JOIN proposal_evidence pe ON pe.raw_item_id = r.id
		WHERE pe.proposal_id = ?
		ORDER BY r.published_at DESC, r.id ASC`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query proposal evidence: %w", err)
	}
	return collectRawItems(rows)
}

// CommitJudgment moves a pending proposal to the judgment's decision and stores the
// judgment in the same statement. A proposal that is no longer pending is left as is
// and ErrNotPending is returned.
func (s *Storage) CommitJudgment(ctx context.Context, proposalID string, j *models.Judgment) error {
	if err := j.Validate(); err != nil {
		return fmt.Errorf("invalid judgment: %w", err)
	}
	if !models.StatusPending.CanTransitionTo(j.Decision) {
		return fmt.Errorf("invalid judgment decision %q", j.Decision)
	}
	judgmentJSON, err := marshalJSON(j)
	if err != nil {
		return fmt.Errorf("failed to marshal judgment: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		UPDATE event_proposals SET status = ?, judgment = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		string(j.Decision), judgmentJSON, time.Now().UnixNano(), proposalID,
	)
	if err != nil {
		return fmt.Errorf("failed to commit judgment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_proposals WHERE id = ?`, proposalID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to look up proposal: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("proposal %s: %w", proposalID, ErrNotFound)
		}
		return fmt.Errorf("proposal %s: %w", proposalID, ErrNotPending)
	}
	return tx.Commit()
}

func scanProposal(scan func(...any) error) (*models.EventProposal, error) {
	var p models.EventProposal
	var status string
	var description, judgmentJSON sql.NullString
	var createdNano, updatedNano int64
	err := scan(
		&p.ID, &p.CanonicalKey, &p.Title, &description, &p.ProposedBy, &status,
		&judgmentJSON, &createdNano, &updatedNano,
	)
	if err != nil {
		return nil, err
	}
	st, err := models.ParseProposalStatus(status)
	if err != nil {
		return nil, err
	}
	p.Status = st
	p.Description = description.String
	if judgmentJSON.Valid {
		var j models.Judgment
		if err := json.Unmarshal([]byte(judgmentJSON.String), &j); err != nil {
			return nil, fmt.Errorf("failed to unmarshal judgment: %w", err)
		}
		p.Judgment = &j
	}
	p.CreatedAt = fromNano(createdNano)
	p.UpdatedAt = fromNano(updatedNano)
	return &p, nil
}
