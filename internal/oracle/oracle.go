// Package oracle defines the judgment, forecasting and resolution capability and its two
// implementations: a deterministic offline heuristic and a language-model backend.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rewired-gh/eventoracle/internal/models"
)

// Usage records what one oracle call cost and what it saw.
type Usage struct {
	Model       string
	Prompt      string
	RawResponse string
	TokensIn    int
	TokensOut   int
	CostUSD     float64
}

// Verdict is an unaggregated judgment of a proposal.
type Verdict struct {
	Scores        models.Scores
	PrimaryTag    string
	SecondaryTags []string
	TagConfidence float64
	Rationale     string
	Suggestions   []string
	Usage         Usage
}

// Forecast is a probability estimate for an event.
type Forecast struct {
	P               float64
	TTCHours        float64
	Rationale       string
	UsedEvidenceIDs []string
	Usage           Usage
}

// Ruling sorts a locked event's evidence into items confirming that the event
// happened and items stating that it did not. Items in neither list were not
// conclusive.
type Ruling struct {
	ConfirmingIDs    []string
	ContradictingIDs []string
	Confidence       float64
	Rationale        string
	Usage            Usage
}

// Oracle judges proposals, forecasts events and rules on their outcome.
// On a validation failure the returned Verdict, Forecast or Ruling still carries Usage.
type Oracle interface {
	Name() string
	Judge(ctx context.Context, p models.EventProposal, evidence []models.RawItem) (Verdict, error)
	Assess(ctx context.Context, e models.Event, evidence []models.RawItem) (Forecast, error)
	Resolve(ctx context.Context, e models.Event, evidence []models.RawItem) (Ruling, error)
}

// ValidationError reports a response that could not be turned into a Verdict, Forecast or Ruling.
type ValidationError struct {
	Reason string
	Raw    string
}

func (e *ValidationError) Error() string {
	return "invalid oracle response: " + e.Reason
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// CheckVerdict validates score and confidence bounds.
func CheckVerdict(v Verdict, raw string) error {
	if err := v.Scores.Validate(); err != nil {
		return &ValidationError{Reason: err.Error(), Raw: raw}
	}
	if !models.InUnitInterval(v.TagConfidence) {
		return &ValidationError{Reason: fmt.Sprintf("tag confidence %v out of range [0,1]", v.TagConfidence), Raw: raw}
	}
	return nil
}

// CheckForecast validates probability and time-to-close bounds.
func CheckForecast(f Forecast, raw string) error {
	if !models.InUnitInterval(f.P) {
		return &ValidationError{Reason: fmt.Sprintf("probability %v out of range [0,1]", f.P), Raw: raw}
	}
	if math.IsNaN(f.TTCHours) || math.IsInf(f.TTCHours, 0) || f.TTCHours < 0 {
		return &ValidationError{Reason: fmt.Sprintf("ttc_hours %v must be non-negative", f.TTCHours), Raw: raw}
	}
	return nil
}

// CheckRuling validates confidence and that no item both confirms and contradicts.
func CheckRuling(r Ruling, raw string) error {
	if !models.InUnitInterval(r.Confidence) {
		return &ValidationError{Reason: fmt.Sprintf("confidence %v out of range [0,1]", r.Confidence), Raw: raw}
	}
	confirming := make(map[string]bool, len(r.ConfirmingIDs))
	for _, id := range r.ConfirmingIDs {
		confirming[id] = true
	}
	for _, id := range r.ContradictingIDs {
		if confirming[id] {
			return &ValidationError{Reason: fmt.Sprintf("evidence %s both confirms and contradicts", id), Raw: raw}
		}
	}
	return nil
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
