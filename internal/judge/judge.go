// Package judge moves pending event proposals to a terminal status exactly once,
// promoting accepted proposals into events.
package judge

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

// ErrAlreadyJudged is returned for a proposal that is no longer pending.
var ErrAlreadyJudged = errors.New("proposal already judged")

// FailureError is an oracle failure that left the proposal pending.
type FailureError struct {
	Kind     models.FailureKind
	Attempts int
	Err      error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("%s failure after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *FailureError) Unwrap() error { return e.Err }

// Store is the persistence the judge needs.
type Store interface {
	GetProposal(ctx context.Context, id string) (*models.EventProposal, error)
	ListProposals(ctx context.Context, f storage.ProposalFilter) ([]models.EventProposal, error)
	ProposalEvidence(ctx context.Context, proposalID string) ([]models.RawItem, error)
	CommitJudgment(ctx context.Context, proposalID string, j *models.Judgment) error
	CreateEventFromProposal(ctx context.Context, proposalID string) (*models.Event, bool, error)
	TransitionEvent(ctx context.Context, id string, to models.EventState) error
	ListEvents(ctx context.Context, f storage.EventFilter) ([]models.Event, error)
	RecordRun(ctx context.Context, r *models.AgentRun) error
}

// Config controls scoring and retry behaviour.
type Config struct {
	Threshold    float64
	Weights      Weights
	Categories   []string
	MaxAttempts  int
	RetryBackoff time.Duration
	// Timeout bounds each oracle call.
	Timeout time.Duration
	// AutoActivate moves newly created events straight to active.
	AutoActivate bool
}

// Outcome is the result of judging one proposal.
type Outcome struct {
	ProposalID   string
	Decision     models.ProposalStatus
	Aggregate    float64
	EventID      string
	EventCreated bool
}

// Judge evaluates pending proposals with an oracle.
type Judge struct {
	oracle oracle.Oracle
	store  Store
	cfg    Config
	vocab  models.Vocabulary
	now    func() time.Time
}

// New creates a judge. Missing config values fall back to defaults.
func New(o oracle.Oracle, store Store, cfg Config) *Judge {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = models.DefaultCategories
	}
	return &Judge{
		oracle: o,
		store:  store,
		cfg:    cfg,
		vocab:  models.NewVocabulary(cfg.Categories),
		now:    time.Now,
	}
}

// JudgeProposal judges one proposal. It returns ErrAlreadyJudged for a terminal
// proposal without touching it, a *FailureError when the oracle could not produce
// a valid verdict, and any other error for persistence failures.
func (j *Judge) JudgeProposal(ctx context.Context, proposalID string) (Outcome, error) {
	p, err := j.store.GetProposal(ctx, proposalID)
	if err != nil {
		return Outcome{}, err
	}
	if p.Status.IsTerminal() {
		return Outcome{}, fmt.Errorf("proposal %s is %s: %w", p.ID, p.Status, ErrAlreadyJudged)
	}
	evidence, err := j.store.ProposalEvidence(ctx, p.ID)
	if err != nil {
		return Outcome{}, err
	}

	var verdict oracle.Verdict
	for attempt := 1; ; attempt++ {
		verdict, err = j.attempt(ctx, *p, evidence, attempt)
		if err == nil {
			break
		}
		var fe *FailureError
		if !errors.As(err, &fe) {
			return Outcome{}, err
		}
		if fe.Kind == models.FailureValidation || attempt >= j.cfg.MaxAttempts || ctx.Err() != nil {
			return Outcome{}, err
		}
		logger.Warn("Judge attempt %d for proposal %s failed, retrying: %v", attempt, p.ID, fe.Err)
		if err := sleep(ctx, j.cfg.RetryBackoff*time.Duration(attempt)); err != nil {
			return Outcome{}, &FailureError{Kind: models.FailureBackend, Attempts: attempt, Err: err}
		}
	}

	judgment := j.buildJudgment(verdict)
	if err := j.store.CommitJudgment(ctx, p.ID, judgment); err != nil {
		if errors.Is(err, storage.ErrNotPending) {
			return Outcome{}, fmt.Errorf("proposal %s: %w", p.ID, ErrAlreadyJudged)
		}
		return Outcome{}, err
	}
	logger.Info("Proposal %s %s (score %.4f, tag %s): %s",
		p.ID, judgment.Decision, judgment.Aggregate, judgment.PrimaryTag, p.Title)

	out := Outcome{ProposalID: p.ID, Decision: judgment.Decision, Aggregate: judgment.Aggregate}
	if judgment.Decision != models.StatusAccepted {
		return out, nil
	}

	event, created, err := j.promote(ctx, p.ID)
	if event != nil {
		out.EventID = event.ID
		out.EventCreated = created
	}
	return out, err
}

// promote creates the event for an accepted proposal, or returns the existing
// one, and activates it when configured.
func (j *Judge) promote(ctx context.Context, proposalID string) (*models.Event, bool, error) {
	event, created, err := j.store.CreateEventFromProposal(ctx, proposalID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create event for proposal %s: %w", proposalID, err)
	}
	if j.cfg.AutoActivate && event.State == models.EventDraft {
		if err := j.store.TransitionEvent(ctx, event.ID, models.EventActive); err != nil {
			return event, created, fmt.Errorf("failed to activate event %s: %w", event.ID, err)
		}
		event.State = models.EventActive
	}
	return event, created, nil
}

// attempt runs one oracle call and records it. Oracle failures come back as *FailureError.
func (j *Judge) attempt(ctx context.Context, p models.EventProposal, evidence []models.RawItem, n int) (oracle.Verdict, error) {
	callCtx, cancel := j.withTimeout(ctx)
	defer cancel()

	started := j.now()
	verdict, err := j.oracle.Judge(callCtx, p, evidence)
	if err == nil {
		err = oracle.CheckVerdict(verdict, verdict.Usage.RawResponse)
	}
	ended := j.now()

	run := &models.AgentRun{
		ID:          uuid.New().String(),
		Kind:        models.RunJudge,
		SubjectID:   p.ID,
		Attempt:     n,
		Status:      models.RunSucceeded,
		Model:       verdict.Usage.Model,
		Input:       verdict.Usage.Prompt,
		RawResponse: verdict.Usage.RawResponse,
		TokensIn:    verdict.Usage.TokensIn,
		TokensOut:   verdict.Usage.TokensOut,
		CostUSD:     verdict.Usage.CostUSD,
		LatencyMS:   ended.Sub(started).Milliseconds(),
		StartedAt:   started,
		EndedAt:     ended,
	}
	if run.Model == "" {
		run.Model = j.oracle.Name()
	}
	if run.Input == "" {
		run.Input = describeInput(p, evidence)
	}

	var failure *FailureError
	if err != nil {
		kind := models.FailureBackend
		if oracle.IsValidation(err) {
			kind = models.FailureValidation
			var ve *oracle.ValidationError
			if errors.As(err, &ve) && run.RawResponse == "" {
				run.RawResponse = ve.Raw
			}
		}
		run.Status = models.RunFailed
		run.FailureKind = kind
		run.Error = err.Error()
		failure = &FailureError{Kind: kind, Attempts: n, Err: err}
	} else if out, mErr := json.Marshal(verdict.Scores); mErr == nil {
		run.Output = string(out)
	}

	if recErr := j.store.RecordRun(ctx, run); recErr != nil {
		return oracle.Verdict{}, fmt.Errorf("failed to record judge run: %w", recErr)
	}
	if failure != nil {
		return oracle.Verdict{}, failure
	}
	return verdict, nil
}

func (j *Judge) buildJudgment(v oracle.Verdict) *models.Judgment {
	aggregate := Score(v.Scores, j.cfg.Weights)
	primary, secondary := normalizeTags(v.PrimaryTag, v.SecondaryTags, j.vocab)
	return &models.Judgment{
		Scores:        v.Scores,
		Aggregate:     aggregate,
		Threshold:     j.cfg.Threshold,
		Decision:      Decide(aggregate, j.cfg.Threshold),
		PrimaryTag:    primary,
		SecondaryTags: secondary,
		TagConfidence: v.TagConfidence,
		Rationale:     v.Rationale,
		Suggestions:   v.Suggestions,
		JudgedBy:      j.oracle.Name(),
		JudgedAt:      j.now(),
	}
}

func (j *Judge) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if j.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, j.cfg.Timeout)
}

func describeInput(p models.EventProposal, evidence []models.RawItem) string {
	ids := make([]string, len(evidence))
	for i, e := range evidence {
		ids[i] = e.ID
	}
	b, err := json.Marshal(map[string]any{
		"proposal_id": p.ID,
		"title":       p.Title,
		"evidence":    ids,
	})
	if err != nil {
		return p.ID
	}
	return string(b)
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
