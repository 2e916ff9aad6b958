// Package assessor produces probability estimates for active events and
// records which evidence each estimate relied on.
package assessor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/eventoracle/internal/logger"
	"github.com/rewired-gh/eventoracle/internal/models"
	"github.com/rewired-gh/eventoracle/internal/oracle"
	"github.com/rewired-gh/eventoracle/internal/storage"
)

const lowConfidenceNote = "Low confidence: no supporting evidence was available. "

var (
	// ErrEventNotActive is returned when assessing an event outside the active state.
	ErrEventNotActive = errors.New("event is not active")
	// ErrAlreadyPredicted is returned by Assess when the event has a live prediction.
	// Use Reassess to replace it.
	ErrAlreadyPredicted = errors.New("event already has a live prediction")
)

// FailureError is an oracle failure that left the event without a new prediction.
type FailureError struct {
	Kind     models.FailureKind
	Attempts int
	Err      error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("%s failure after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *FailureError) Unwrap() error { return e.Err }

// Store is the persistence the assessor needs.
type Store interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	ListEvents(ctx context.Context, f storage.EventFilter) ([]models.Event, error)
	ProposalEvidence(ctx context.Context, proposalID string) ([]models.RawItem, error)
	LivePrediction(ctx context.Context, eventID string) (*models.Prediction, error)
	SavePrediction(ctx context.Context, p *models.Prediction, attrs []models.Attribution, supersede bool) error
	RecordRun(ctx context.Context, r *models.AgentRun) error
}

// Config controls evidence selection and retry behaviour.
type Config struct {
	EvidenceWindow int
	MaxAttempts    int
	RetryBackoff   time.Duration
	Timeout        time.Duration
}

// Outcome is the prediction written for one event.
type Outcome struct {
	EventID      string
	PredictionID string
	P            float64
	TTCHours     float64
	Attributed   []string
}

// Assessor writes predictions for active events through an oracle.
type Assessor struct {
	oracle oracle.Oracle
	store  Store
	cfg    Config
	now    func() time.Time
}

// New creates an assessor. EvidenceWindow defaults to 10 and MaxAttempts to 1.
func New(o oracle.Oracle, store Store, cfg Config) *Assessor {
	if cfg.EvidenceWindow <= 0 {
		cfg.EvidenceWindow = 10
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Assessor{oracle: o, store: store, cfg: cfg, now: time.Now}
}

// Assess predicts an active event that has no live prediction yet.
func (a *Assessor) Assess(ctx context.Context, eventID string) (Outcome, error) {
	e, err := a.activeEvent(ctx, eventID)
	if err != nil {
		return Outcome{}, err
	}
	_, err = a.store.LivePrediction(ctx, e.ID)
	switch {
	case err == nil:
		return Outcome{}, fmt.Errorf("event %s: %w", e.ID, ErrAlreadyPredicted)
	case !errors.Is(err, storage.ErrNotFound):
		return Outcome{}, err
	}
	return a.predict(ctx, e, false)
}

// Reassess predicts an active event again. The new prediction supersedes the live one.
func (a *Assessor) Reassess(ctx context.Context, eventID string) (Outcome, error) {
	e, err := a.activeEvent(ctx, eventID)
	if err != nil {
		return Outcome{}, err
	}
	return a.predict(ctx, e, true)
}

func (a *Assessor) activeEvent(ctx context.Context, eventID string) (*models.Event, error) {
	e, err := a.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if e.State != models.EventActive {
		return nil, fmt.Errorf("event %s is %s: %w", e.ID, e.State, ErrEventNotActive)
	}
	return e, nil
}

func (a *Assessor) predict(ctx context.Context, e *models.Event, supersede bool) (Outcome, error) {
	evidence, err := a.store.ProposalEvidence(ctx, e.ProposalID)
	if err != nil {
		return Outcome{}, err
	}
	window := Window(*e, evidence, a.cfg.EvidenceWindow)

	var (
		forecast oracle.Forecast
		runID    string
	)
	for attempt := 1; ; attempt++ {
		forecast, runID, err = a.attempt(ctx, *e, window, attempt)
		if err == nil {
			break
		}
		var fe *FailureError
		if !errors.As(err, &fe) {
			return Outcome{}, err
		}
		if fe.Kind == models.FailureValidation || attempt >= a.cfg.MaxAttempts || ctx.Err() != nil {
			return Outcome{}, err
		}
		logger.Warn("Assess attempt %d for event %s failed, retrying: %v", attempt, e.ID, fe.Err)
		if err := sleep(ctx, a.cfg.RetryBackoff*time.Duration(attempt)); err != nil {
			return Outcome{}, &FailureError{Kind: models.FailureBackend, Attempts: attempt, Err: err}
		}
	}

	used := resolveUsed(forecast.UsedEvidenceIDs, window)
	rationale := forecast.Rationale
	if len(window) == 0 {
		rationale = lowConfidenceNote + rationale
	}
	p := &models.Prediction{
		ID:        uuid.New().String(),
		EventID:   e.ID,
		RunID:     runID,
		P:         forecast.P,
		TTCHours:  forecast.TTCHours,
		Rationale: rationale,
		CreatedAt: a.now(),
	}
	if err := a.store.SavePrediction(ctx, p, attributions(p.ID, used), supersede); err != nil {
		return Outcome{}, fmt.Errorf("failed to save prediction for event %s: %w", e.ID, err)
	}
	logger.Info("Event %s predicted p=%.2f ttc=%.0fh with %d evidence item(s): %s",
		e.ID, p.P, p.TTCHours, len(used), e.Title)

	return Outcome{EventID: e.ID, PredictionID: p.ID, P: p.P, TTCHours: p.TTCHours, Attributed: used}, nil
}

// attempt runs one oracle call and records it, returning the run id on success.
func (a *Assessor) attempt(ctx context.Context, e models.Event, window []models.RawItem, n int) (oracle.Forecast, string, error) {
	callCtx, cancel := a.withTimeout(ctx)
	defer cancel()

	started := a.now()
	f, err := a.oracle.Assess(callCtx, e, window)
	if err == nil {
		err = oracle.CheckForecast(f, f.Usage.RawResponse)
	}
	ended := a.now()

	run := &models.AgentRun{
		ID:          uuid.New().String(),
		Kind:        models.RunAssessor,
		SubjectID:   e.ID,
		Attempt:     n,
		Status:      models.RunSucceeded,
		Model:       f.Usage.Model,
		Input:       f.Usage.Prompt,
		RawResponse: f.Usage.RawResponse,
		TokensIn:    f.Usage.TokensIn,
		TokensOut:   f.Usage.TokensOut,
		CostUSD:     f.Usage.CostUSD,
		LatencyMS:   ended.Sub(started).Milliseconds(),
		StartedAt:   started,
		EndedAt:     ended,
	}
	if run.Model == "" {
		run.Model = a.oracle.Name()
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
		"p": f.P, "ttc_hours": f.TTCHours, "evidence_ids": f.UsedEvidenceIDs,
	}); mErr == nil {
		run.Output = string(b)
	}

	if recErr := a.store.RecordRun(ctx, run); recErr != nil {
		return oracle.Forecast{}, "", fmt.Errorf("failed to record assessor run: %w", recErr)
	}
	if failure != nil {
		return oracle.Forecast{}, "", failure
	}
	return f, run.ID, nil
}

func (a *Assessor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.cfg.Timeout)
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
