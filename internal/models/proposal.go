package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ProposalStatus is the judgment state of an event proposal.
// The only legal transitions are pending -> accepted and pending -> rejected.
type ProposalStatus string

const (
	StatusPending  ProposalStatus = "pending"
	StatusAccepted ProposalStatus = "accepted"
	StatusRejected ProposalStatus = "rejected"
)

// ParseProposalStatus validates a status string read from storage or configuration.
func ParseProposalStatus(s string) (ProposalStatus, error) {
	switch st := ProposalStatus(s); st {
	case StatusPending, StatusAccepted, StatusRejected:
		return st, nil
	}
	return "", fmt.Errorf("unknown proposal status %q", s)
}

// IsTerminal reports whether no further transition is possible.
func (s ProposalStatus) IsTerminal() bool {
	switch s {
	case StatusAccepted, StatusRejected:
		return true
	case StatusPending:
		return false
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s ProposalStatus) CanTransitionTo(next ProposalStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusAccepted || next == StatusRejected
	case StatusAccepted, StatusRejected:
		return false
	}
	return false
}

// Scores holds the four judgment criteria, each in [0,1].
// Frequency is "lower is better": a high value means the event type recurs often.
type Scores struct {
	Answerability float64 `json:"answerability"`
	Significance  float64 `json:"significance"`
	Frequency     float64 `json:"frequency"`
	Temporal      float64 `json:"temporal"`
}

// Validate checks that every score lies in [0,1].
func (s Scores) Validate() error {
	named := []struct {
		name string
		v    float64
	}{
		{"answerability", s.Answerability},
		{"significance", s.Significance},
		{"frequency", s.Frequency},
		{"temporal", s.Temporal},
	}
	for _, n := range named {
		if !InUnitInterval(n.v) {
			return fmt.Errorf("%s score %v out of range [0,1]", n.name, n.v)
		}
	}
	return nil
}

// Judgment is the metadata committed together with a terminal proposal status.
type Judgment struct {
	Scores        Scores         `json:"scores"`
	Aggregate     float64        `json:"aggregate"`
	Threshold     float64        `json:"threshold"`
	Decision      ProposalStatus `json:"decision"`
	PrimaryTag    string         `json:"primary_tag"`
	SecondaryTags []string       `json:"secondary_tags,omitempty"`
	TagConfidence float64        `json:"tag_confidence"`
	Rationale     string         `json:"rationale"`
	Suggestions   []string       `json:"suggestions,omitempty"`
	JudgedBy      string         `json:"judged_by"`
	JudgedAt      time.Time      `json:"judged_at"`
}

// Validate checks judgment field constraints.
func (j *Judgment) Validate() error {
	if err := j.Scores.Validate(); err != nil {
		return err
	}
	if !InUnitInterval(j.Aggregate) {
		return fmt.Errorf("aggregate score %v out of range [0,1]", j.Aggregate)
	}
	if !InUnitInterval(j.TagConfidence) {
		return fmt.Errorf("tag confidence %v out of range [0,1]", j.TagConfidence)
	}
	if !j.Decision.IsTerminal() {
		return fmt.Errorf("judgment decision must be terminal, got %q", j.Decision)
	}
	if j.PrimaryTag == "" {
		return errors.New("judgment primary tag must not be empty")
	}
	return nil
}

// EventProposal is a candidate event grouped from one or more raw items sharing a canonical key.
type EventProposal struct {
	ID           string         `json:"id"`
	CanonicalKey string         `json:"canonical_key"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	ProposedBy   string         `json:"proposed_by"`
	Status       ProposalStatus `json:"status"`
	Judgment     *Judgment      `json:"judgment,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Validate checks proposal field constraints, including that judgment metadata
// is present exactly when the status is terminal.
func (p *EventProposal) Validate() error {
	if p.ID == "" {
		return errors.New("proposal ID must not be empty")
	}
	if p.CanonicalKey == "" {
		return errors.New("proposal canonical key must not be empty")
	}
	if p.Title == "" {
		return errors.New("proposal title must not be empty")
	}
	if _, err := ParseProposalStatus(string(p.Status)); err != nil {
		return err
	}
	if p.Status.IsTerminal() && p.Judgment == nil {
		return fmt.Errorf("proposal %s is %s without judgment", p.ID, p.Status)
	}
	if !p.Status.IsTerminal() && p.Judgment != nil {
		return fmt.Errorf("proposal %s is pending with judgment", p.ID)
	}
	if p.Judgment != nil {
		if p.Judgment.Decision != p.Status {
			return fmt.Errorf("proposal %s status %s disagrees with decision %s", p.ID, p.Status, p.Judgment.Decision)
		}
		if err := p.Judgment.Validate(); err != nil {
			return fmt.Errorf("invalid judgment: %w", err)
		}
	}
	return nil
}

// ProposalEvidence links a proposal to one of its supporting raw items.
type ProposalEvidence struct {
	ProposalID string    `json:"proposal_id"`
	RawItemID  string    `json:"raw_item_id"`
	AddedAt    time.Time `json:"added_at"`
}

// InUnitInterval reports whether v is a finite number in [0,1].
func InUnitInterval(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
