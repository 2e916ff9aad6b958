package judge

import (
	"context"
	"errors"
	"fmt"

	"github.com/rewired-gh/eventoracle/internal/logger"
	"github.com/rewired-gh/eventoracle/internal/models"
	"github.com/rewired-gh/eventoracle/internal/storage"
)

// Summary counts the results of a JudgePending pass.
type Summary struct {
	Judged             int
	Accepted           int
	Rejected           int
	ValidationFailures int
	BackendFailures    int
	Skipped            int
	EventsCreated      int
	// Promoted counts accepted proposals from earlier passes whose event was
	// created or activated now.
	Promoted int
}

// Failures is the total number of proposals left pending by oracle failures.
func (s Summary) Failures() int {
	return s.ValidationFailures + s.BackendFailures
}

// JudgePending judges up to limit pending proposals, oldest first. A limit of
// zero or less judges all of them. Accepted proposals left without an active
// event by an earlier failed pass are promoted first. Oracle failures are counted
// and the pass continues; persistence errors stop it and are returned with the
// partial summary.
func (j *Judge) JudgePending(ctx context.Context, limit int) (Summary, error) {
	var sum Summary
	if err := j.promoteAccepted(ctx, &sum); err != nil {
		return sum, err
	}

	pending, err := j.store.ListProposals(ctx, storage.ProposalFilter{Status: models.StatusPending, Limit: limit})
	if err != nil {
		return sum, fmt.Errorf("failed to list pending proposals: %w", err)
	}

	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		out, err := j.JudgeProposal(ctx, p.ID)
		var fe *FailureError
		switch {
		case err == nil:
		case errors.Is(err, ErrAlreadyJudged):
			sum.Skipped++
			continue
		case errors.As(err, &fe):
			logger.Warn("Proposal %s left pending: %v", p.ID, fe)
			if fe.Kind == models.FailureValidation {
				sum.ValidationFailures++
			} else {
				sum.BackendFailures++
			}
			continue
		default:
			return sum, err
		}

		sum.Judged++
		switch out.Decision {
		case models.StatusAccepted:
			sum.Accepted++
		case models.StatusRejected:
			sum.Rejected++
		case models.StatusPending:
		}
		if out.EventCreated {
			sum.EventsCreated++
		}
	}
	return sum, nil
}

// promoteAccepted finishes accepted proposals whose event creation or activation
// failed after the judgment was committed.
func (j *Judge) promoteAccepted(ctx context.Context, sum *Summary) error {
	orphans, err := j.store.ListProposals(ctx, storage.ProposalFilter{Status: models.StatusAccepted, WithoutEvent: true})
	if err != nil {
		return fmt.Errorf("failed to list accepted proposals without events: %w", err)
	}
	for _, p := range orphans {
		_, created, err := j.promote(ctx, p.ID)
		if err != nil {
			return err
		}
		if created {
			sum.EventsCreated++
		}
		sum.Promoted++
		logger.Info("Created missing event for accepted proposal %s", p.ID)
	}

	if !j.cfg.AutoActivate {
		return nil
	}
	drafts, err := j.store.ListEvents(ctx, storage.EventFilter{State: models.EventDraft})
	if err != nil {
		return fmt.Errorf("failed to list draft events: %w", err)
	}
	for _, e := range drafts {
		if err := j.store.TransitionEvent(ctx, e.ID, models.EventActive); err != nil {
			return fmt.Errorf("failed to activate event %s: %w", e.ID, err)
		}
		sum.Promoted++
		logger.Info("Activated draft event %s", e.ID)
	}
	return nil
}
