package models

import "time"

// RunKind identifies which stage produced an agent run.
type RunKind string

const (
	RunJudge    RunKind = "judge"
	RunAssessor RunKind = "assessor"
	RunResolver RunKind = "resolver"
)

// RunStatus is the outcome of a single agent attempt.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// FailureKind classifies failed attempts.
type FailureKind string

const (
	FailureNone       FailureKind = ""
	FailureValidation FailureKind = "validation"
	FailureBackend    FailureKind = "backend"
)

// AgentRun is the append-only audit record of one judge, assessor or resolver attempt.
type AgentRun struct {
	ID          string
	Kind        RunKind
	SubjectID   string
	Attempt     int
	Status      RunStatus
	FailureKind FailureKind
	Model       string
	Input       string
	Output      string
	RawResponse string
	Error       string
	TokensIn    int
	TokensOut   int
	CostUSD     float64
	LatencyMS   int64
	StartedAt   time.Time
	EndedAt     time.Time
}
