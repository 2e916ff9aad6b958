package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Event is a judged-and-accepted proposal promoted into the tracked set.
// Exactly one event exists per accepted proposal.
type Event struct {
	ID          string     `json:"id"`
	ProposalID  string     `json:"proposal_id"`
	Key         string     `json:"key"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	State       EventState `json:"state"`
	PrimaryTag  string     `json:"primary_tag"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Validate checks event field constraints.
func (e *Event) Validate() error {
	if e.ID == "" {
		return errors.New("event ID must not be empty")
	}
	if e.ProposalID == "" {
		return errors.New("event proposal ID must not be empty")
	}
	if e.Title == "" {
		return errors.New("event title must not be empty")
	}
	if _, err := ParseEventState(string(e.State)); err != nil {
		return err
	}
	if e.CreatedAt.After(e.UpdatedAt) {
		return errors.New("created at must be <= updated at")
	}
	return nil
}

// Prediction is one probability estimate for an event.
// SupersededBy is set only when an explicit re-assessment replaces it.
type Prediction struct {
	ID           string    `json:"id"`
	EventID      string    `json:"event_id"`
	RunID        string    `json:"run_id"`
	P            float64   `json:"p"`
	TTCHours     float64   `json:"ttc_hours"`
	Rationale    string    `json:"rationale"`
	SupersededBy string    `json:"superseded_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate checks prediction field constraints.
func (p *Prediction) Validate() error {
	if p.ID == "" {
		return errors.New("prediction ID must not be empty")
	}
	if p.EventID == "" {
		return errors.New("prediction event ID must not be empty")
	}
	if !InUnitInterval(p.P) {
		return fmt.Errorf("probability %v out of range [0,1]", p.P)
	}
	if p.TTCHours < 0 || math.IsNaN(p.TTCHours) {
		return fmt.Errorf("time to close %v must be non-negative", p.TTCHours)
	}
	return nil
}

// Attribution is one ranked evidence reference of a prediction. Rank 1 is most relevant.
type Attribution struct {
	PredictionID string `json:"prediction_id"`
	RawItemID    string `json:"raw_item_id"`
	Rank         int    `json:"rank"`
}
