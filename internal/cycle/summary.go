package cycle

import (
	"fmt"
	"strings"
	"time"
)

// FailureCounts splits oracle failures by kind.
type FailureCounts struct {
	Validation int
	Backend    int
}

func (f FailureCounts) Total() int { return f.Validation + f.Backend }

// Summary is the observable result of one cycle.
type Summary struct {
	ItemsFetched   int
	ItemsIngested  int
	ItemsDuplicate int
	ItemsSkipped   int
	SourceFailures int
	FailedSources  []string

	ProposalsCreated int
	EvidenceLinked   int
	EvidenceOnClosed int

	ProposalsJudged  int
	Accepted         int
	Rejected         int
	JudgeFailures    FailureCounts
	PendingRemaining int
	EventsCreated    int
	// EventsPromoted counts events created or activated for proposals accepted in an earlier cycle.
	EventsPromoted int

	EventsAssessed     int
	PredictionsEmitted int
	AssessFailures     FailureCounts

	EventsLocked   int
	EventsResolved int
	// ResolutionsOpen counts locked events checked without enough evidence either way.
	ResolutionsOpen int
	// ResolutionsContradicted counts locked events whose sources disagree and need review.
	ResolutionsContradicted int
	ResolveFailures         FailureCounts

	Duration time.Duration
}

// Failures is the number of failed sources and skipped items plus failed oracle calls.
func (s Summary) Failures() int {
	return s.SourceFailures + s.ItemsSkipped + s.JudgeFailures.Total() + s.AssessFailures.Total() +
		s.ResolveFailures.Total()
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "items: fetched=%d ingested=%d duplicate=%d skipped=%d source_failures=%d\n",
		s.ItemsFetched, s.ItemsIngested, s.ItemsDuplicate, s.ItemsSkipped, s.SourceFailures)
	fmt.Fprintf(&b, "proposals: created=%d evidence_linked=%d evidence_on_closed=%d\n",
		s.ProposalsCreated, s.EvidenceLinked, s.EvidenceOnClosed)
	fmt.Fprintf(&b, "judge: judged=%d accepted=%d rejected=%d failed_validation=%d failed_backend=%d pending=%d events_created=%d events_promoted=%d\n",
		s.ProposalsJudged, s.Accepted, s.Rejected, s.JudgeFailures.Validation, s.JudgeFailures.Backend,
		s.PendingRemaining, s.EventsCreated, s.EventsPromoted)
	fmt.Fprintf(&b, "assess: events=%d predictions=%d failed_validation=%d failed_backend=%d\n",
		s.EventsAssessed, s.PredictionsEmitted, s.AssessFailures.Validation, s.AssessFailures.Backend)
	fmt.Fprintf(&b, "resolve: locked=%d resolved=%d open=%d contradicted=%d failed_validation=%d failed_backend=%d\n",
		s.EventsLocked, s.EventsResolved, s.ResolutionsOpen, s.ResolutionsContradicted,
		s.ResolveFailures.Validation, s.ResolveFailures.Backend)
	fmt.Fprintf(&b, "duration: %s", s.Duration.Round(time.Millisecond))
	return b.String()
}
