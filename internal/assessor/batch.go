package assessor

import (
	"context"
	"errors"
	"fmt"

	"github.com/rewired-gh/eventoracle/internal/logger"
	"github.com/rewired-gh/eventoracle/internal/models"
	"github.com/rewired-gh/eventoracle/internal/storage"
)

// Summary counts the results of an AssessPending pass.
type Summary struct {
	Assessed           int
	ValidationFailures int
	BackendFailures    int
	Skipped            int
}

func (s Summary) Failures() int {
	return s.ValidationFailures + s.BackendFailures
}

// AssessPending predicts up to limit active events that have no live prediction,
// oldest first. Oracle failures are counted; persistence errors stop the pass.
func (a *Assessor) AssessPending(ctx context.Context, limit int) (Summary, error) {
	var sum Summary
	events, err := a.store.ListEvents(ctx, storage.EventFilter{
		State:       models.EventActive,
		Unpredicted: true,
		Limit:       limit,
	})
	if err != nil {
		return sum, fmt.Errorf("failed to list events to assess: %w", err)
	}

	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		_, err := a.Assess(ctx, e.ID)
		var fe *FailureError
		switch {
		case err == nil:
			sum.Assessed++
		case errors.Is(err, ErrAlreadyPredicted), errors.Is(err, ErrEventNotActive):
			sum.Skipped++
		case errors.As(err, &fe):
			logger.Warn("Event %s not assessed: %v", e.ID, fe)
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
