package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/rewired-gh/eventoracle/internal/logger"
	"github.com/rewired-gh/eventoracle/internal/models"
	"github.com/rewired-gh/eventoracle/internal/storage"
)

// Summary counts the results of a ResolvePending pass.
type Summary struct {
	Locked             int
	Resolved           int
	Open               int
	Contradicted       int
	ValidationFailures int
	BackendFailures    int
	Skipped            int
}

func (s Summary) Failures() int {
	return s.ValidationFailures + s.BackendFailures
}

// LockDue locks every active event whose live prediction expected it to close
// by now and returns how many were locked.
func (r *Resolver) LockDue(ctx context.Context) (int, error) {
	due, err := r.store.ListEvents(ctx, storage.EventFilter{
		State:        models.EventActive,
		ClosedBefore: r.now(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list due events: %w", err)
	}
	locked := 0
	for _, e := range due {
		err := r.store.TransitionEvent(ctx, e.ID, models.EventLocked)
		if errors.Is(err, storage.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return locked, fmt.Errorf("failed to lock event %s: %w", e.ID, err)
		}
		logger.Debug("Event %s locked: %s", e.ID, e.Title)
		locked++
	}
	return locked, nil
}

// ResolvePending locks due events, then checks up to limit locked events,
// oldest first. Events awaiting human review and events checked within
// RecheckAfter are left alone. Oracle failures are counted; persistence
// errors stop the pass.
func (r *Resolver) ResolvePending(ctx context.Context, limit int) (Summary, error) {
	var sum Summary
	locked, err := r.LockDue(ctx)
	sum.Locked = locked
	if err != nil {
		return sum, err
	}

	f := storage.EventFilter{State: models.EventLocked, Unreviewed: true, Limit: limit}
	if r.cfg.RecheckAfter > 0 {
		f.UncheckedSince = r.now().Add(-r.cfg.RecheckAfter)
	}
	events, err := r.store.ListEvents(ctx, f)
	if err != nil {
		return sum, fmt.Errorf("failed to list events to resolve: %w", err)
	}

	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res, err := r.Resolve(ctx, e.ID)
		var fe *FailureError
		switch {
		case err == nil:
			switch res.Status {
			case models.ResolutionResolved:
				sum.Resolved++
			case models.ResolutionContradicted:
				sum.Contradicted++
			default:
				sum.Open++
			}
		case errors.Is(err, ErrEventNotLocked), errors.Is(err, storage.ErrEventNotLocked):
			sum.Skipped++
		case errors.As(err, &fe):
			logger.Warn("Event %s not checked: %v", e.ID, fe)
			if fe.Kind == models.FailureValidation {
				sum.ValidationFailures++
			} else {
				sum.BackendFailures++
			}
		default:
			return sum, err
		}
	}
	return sum, nil
}
