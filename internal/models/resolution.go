package models

import (
	"errors"
	"fmt"
	"time"
)

// ResolutionStatus is the result of checking a locked event against its evidence.
type ResolutionStatus string

const (
	// ResolutionResolved means enough independent sources agree on the outcome.
	ResolutionResolved ResolutionStatus = "resolved"
	// ResolutionOpen means the evidence is not yet sufficient either way.
	ResolutionOpen ResolutionStatus = "open"
	// ResolutionContradicted means sources disagree; a human has to decide.
	ResolutionContradicted ResolutionStatus = "contradicted"
)

// ParseResolutionStatus validates a resolution status string.
func ParseResolutionStatus(s string) (ResolutionStatus, error) {
	switch st := ResolutionStatus(s); st {
	case ResolutionResolved, ResolutionOpen, ResolutionContradicted:
		return st, nil
	}
	return "", fmt.Errorf("unknown resolution status %q", s)
}

// Outcome is the side an event resolved to.
type Outcome string

const (
	OutcomeNone Outcome = ""
	OutcomeYes  Outcome = "yes"
	OutcomeNo   Outcome = "no"
)

// Resolution is one append-only resolution check of an event.
// Only a resolved check carries an outcome and moves the event to the resolved state.
type Resolution struct {
	ID               string           `json:"id"`
	EventID          string           `json:"event_id"`
	RunID            string           `json:"run_id"`
	Status           ResolutionStatus `json:"status"`
	Outcome          Outcome          `json:"outcome,omitempty"`
	Confidence       float64          `json:"confidence"`
	Confirming       int              `json:"confirming_sources"`
	Contradicting    int              `json:"contradicting_sources"`
	SourcesChecked   int              `json:"sources_checked"`
	Summary          string           `json:"summary"`
	ConfirmingIDs    []string         `json:"confirming_ids,omitempty"`
	ContradictingIDs []string         `json:"contradicting_ids,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Validate checks resolution field constraints.
func (r *Resolution) Validate() error {
	if r.ID == "" {
		return errors.New("resolution ID must not be empty")
	}
	if r.EventID == "" {
		return errors.New("resolution event ID must not be empty")
	}
	if _, err := ParseResolutionStatus(string(r.Status)); err != nil {
		return err
	}
	if (r.Status == ResolutionResolved) != (r.Outcome != OutcomeNone) {
		return fmt.Errorf("resolution %s with outcome %q", r.Status, r.Outcome)
	}
	if r.Outcome != OutcomeNone && r.Outcome != OutcomeYes && r.Outcome != OutcomeNo {
		return fmt.Errorf("unknown outcome %q", r.Outcome)
	}
	if !InUnitInterval(r.Confidence) {
		return fmt.Errorf("confidence %v out of range [0,1]", r.Confidence)
	}
	if r.Confirming < 0 || r.Contradicting < 0 || r.Confirming > r.SourcesChecked || r.Contradicting > r.SourcesChecked {
		return fmt.Errorf("source counts %d/%d exceed %d checked", r.Confirming, r.Contradicting, r.SourcesChecked)
	}
	return nil
}
