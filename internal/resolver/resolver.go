// Package resolver locks events whose expected close time has passed and
// decides their outcome from independent evidence sources.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/eventoracle/internal/assessor"
	"github.com/rewired-gh/eventoracle/internal/logger"
	"github.com/rewired-gh/eventoracle/internal/models"
	"github.com/rewired-gh/eventoracle/internal/oracle"
	"github.com/rewired-gh/eventoracle/internal/storage"
)

// ErrEventNotLocked is returned when resolving an event outside the locked state.
var ErrEventNotLocked = errors.New("event is not locked")

// FailureError is an oracle failure that left the event without a resolution check.
type FailureError struct {
	Kind     models.FailureKind
	Attempts int
	Err      error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("%s failure after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *FailureError) Unwrap() error { return e.Err }

// Store is the persistence the resolver needs.
type Store interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	ListEvents(ctx context.Context, f storage.EventFilter) ([]models.Event, error)
	TransitionEvent(ctx context.Context, id string, to models.EventState) error
	ProposalEvidence(ctx context.Context, proposalID string) ([]models.RawItem, error)
	SaveResolution(ctx context.Context, r *models.Resolution) error
	RecordRun(ctx context.Context, r *models.AgentRun) error
}

// Config controls the resolution rule and retry behaviour.
type Config struct {
	// Sources is how many independent sources must agree before an event resolves.
	Sources int
	// RecheckAfter is the minimum time between two checks of an event that stayed open.
	RecheckAfter   time.Duration
	EvidenceWindow int
	MaxAttempts    int
	RetryBackoff   time.Duration
	Timeout        time.Duration
}

// Resolver locks due events and records resolution checks for locked ones.
type Resolver struct {
	oracle oracle.Oracle
	store  Store
	cfg    Config
	now    func() time.Time
}

// New creates a resolver. Sources defaults to 3 and EvidenceWindow to 10.
func New(o oracle.Oracle, store Store, cfg Config) *Resolver {
	if cfg.Sources < 1 {
		cfg.Sources = 3
	}
	if cfg.EvidenceWindow <= 0 {
		cfg.EvidenceWindow = 10
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Resolver{oracle: o, store: store, cfg: cfg, now: time.Now}
}

// Resolve checks a locked event against its evidence and records the result.
// A resolved check moves the event to the resolved state.
func (r *Resolver) Resolve(ctx context.Context, eventID string) (*models.Resolution, error) {
	e, err := r.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if e.State != models.EventLocked {
		return nil, fmt.Errorf("event %s is %s: %w", e.ID, e.State, ErrEventNotLocked)
	}

	evidence, err := r.store.ProposalEvidence(ctx, e.ProposalID)
	if err != nil {
		return nil, err
	}
	window := assessor.Window(*e, evidence, r.cfg.EvidenceWindow)

	var (
		ruling oracle.Ruling
		runID  string
	)
	for attempt := 1; ; attempt++ {
		ruling, runID, err = r.attempt(ctx, *e, window, attempt)
		if err == nil {
			break
		}
		var fe *FailureError
		if !errors.As(err, &fe) {
			return nil, err
		}
		if fe.Kind == models.FailureValidation || attempt >= r.cfg.MaxAttempts || ctx.Err() != nil {
			return nil, err
		}
		logger.Warn("Resolve attempt %d for event %s failed, retrying: %v", attempt, e.ID, fe.Err)
		if err := sleep(ctx, r.cfg.RetryBackoff*time.Duration(attempt)); err != nil {
			return nil, &FailureError{Kind: models.FailureBackend, Attempts: attempt, Err: err}
		}
	}

	res := decide(ruling, window, r.cfg.Sources)
	res.ID = uuid.New().String()
	res.EventID = e.ID
	res.RunID = runID
	res.CreatedAt = r.now()
	if err := r.store.SaveResolution(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to save resolution for event %s: %w", e.ID, err)
	}
	logger.Info("Event %s checked: %s (outcome %q, %d confirming, %d contradicting, confidence %.2f): %s",
		e.ID, res.Status, res.Outcome, res.Confirming, res.Contradicting, res.Confidence, e.Title)
	return res, nil
}

// attempt runs one oracle call and records it, returning the run id on success.
func (r *Resolver) attempt(ctx context.Context, e models.Event, window []models.RawItem, n int) (oracle.Ruling, string, error) {
	callCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	started := r.now()
	ruling, err := r.oracle.Resolve(callCtx, e, window)
	if err == nil {
		err = oracle.CheckRuling(ruling, ruling.Usage.RawResponse)
	}
	ended := r.now()

	run := &models.AgentRun{
		ID:          uuid.New().String(),
		Kind:        models.RunResolver,
		SubjectID:   e.ID,
		Attempt:     n,
		Status:      models.RunSucceeded,
		Model:       ruling.Usage.Model,
		Input:       ruling.Usage.Prompt,
		RawResponse: ruling.Usage.RawResponse,
		TokensIn:    ruling.Usage.TokensIn,
		TokensOut:   ruling.Usage.TokensOut,
		CostUSD:     ruling.Usage.CostUSD,
		LatencyMS:   ended.Sub(started).Milliseconds(),
		StartedAt:   started,
		EndedAt:     ended,
	}
	if run.Model == "" {
		run.Model = r.oracle.Name()
	}
	if run.Input == "" {
		ids := make([]string, len(window))
		for i, it := range window {
			ids[i] = it.ID
		}
		if b, mErr := json.Marshal(map[string]any{"event_id": e.ID, "title": e.Title, "evidence": ids}); mErr == nil {
			run.Input = string(b)
		}
	}

	var failure *FailureError
	if err != nil {
		kind := models.FailureBackend
		var ve *oracle.ValidationError
		if errors.As(err, &ve) {
			kind = models.FailureValidation
			if run.RawResponse == "" {
				run.RawResponse = ve.Raw
			}
		}
		run.Status = models.RunFailed
		run.FailureKind = kind
		run.Error = err.Error()
		failure = &FailureError{Kind: kind, Attempts: n, Err: err}
	} else if b, mErr := json.Marshal(map[string]any{
		"confirming_ids": ruling.ConfirmingIDs, "contradicting_ids": ruling.ContradictingIDs,
		"confidence": ruling.Confidence,
	}); mErr == nil {
		run.Output = string(b)
	}

	if recErr := r.store.RecordRun(ctx, run); recErr != nil {
		return oracle.Ruling{}, "", fmt.Errorf("failed to record resolver run: %w", recErr)
	}
	if failure != nil {
		return oracle.Ruling{}, "", failure
	}
	return ruling, run.ID, nil
}

func (r *Resolver) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.cfg.Timeout)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
