package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/rewired-gh/eventoracle/internal/models"
	"github.com/rewired-gh/eventoracle/internal/oracle"
	"github.com/rewired-gh/eventoracle/internal/storage"
)

func newTestStorage(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(":memory:", 5*time.Second)
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type story struct {
	url   string
	title string
}

// seedEvent stores one raw item per story under key, accepts the proposal and
// walks its event forward to state.
func seedEvent(t *testing.T, s *storage.Storage, key string, state models.EventState, stories ...story) (string, []string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	var itemIDs []string
	for i, st := range stories {
		id, _, err := s.InsertRawItem(ctx, &models.RawItem{
			ID:           uuid.New().String(),
			SourceType:   models.SourceRSS,
			SourceName:   "wire",
			URL:          st.url,
			Title:        st.title,
			Fingerprint:  fmt.Sprintf("fp-%s-%d", key, i),
			CanonicalKey: key,
			PublishedAt:  now.Add(-time.Duration(i) * time.Hour),
			FirstSeenAt:  now,
			FetchedAt:    now,
		})
		if err != nil {
			t.Fatalf("InsertRawItem: %v", err)
		}
		itemIDs = append(itemIDs, id)
	}

	res, err := s.AttachEvidence(ctx, &models.EventProposal{
		ID:           uuid.New().String(),
		CanonicalKey: key,
		Title:        "Will the Senate pass the 2027 budget?",
		ProposedBy:   "dedup:rss",
		Status:       models.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, itemIDs, false)
	if err != nil {
		t.Fatalf("AttachEvidence: %v", err)
	}
	if err := s.CommitJudgment(ctx, res.ProposalID, &models.Judgment{
		Scores:        models.Scores{Answerability: 0.9, Significance: 0.9, Frequency: 0.1, Temporal: 1},
		Aggregate:     0.92,
		Threshold:     0.7,
		Decision:      models.StatusAccepted,
		PrimaryTag:    "politics",
		TagConfidence: 0.8,
		JudgedBy:      "test",
		JudgedAt:      now,
	}); err != nil {
		t.Fatalf("CommitJudgment: %v", err)
	}
	e, _, err := s.CreateEventFromProposal(ctx, res.ProposalID)
	if err != nil {
		t.Fatalf("CreateEventFromProposal: %v", err)
	}
	for _, next := range []models.EventState{models.EventActive, models.EventLocked} {
		if e.State == state {
			break
		}
		if err := s.TransitionEvent(ctx, e.ID, next); err != nil {
			t.Fatalf("TransitionEvent %s: %v", next, err)
		}
		e.State = next
	}
	return e.ID, itemIDs
}

var threeOutlets = []story{
	{"https://www.apnews.com/budget", "Senate passed the 2027 budget"},
	{"https://reuters.com/budget", "Budget approved by the Senate"},
	{"https://npr.org/budget", "Senate vote confirmed the budget"},
}

type stubOracle struct {
	ruling oracle.Ruling
	errs   []error
	calls  int
}

func (o *stubOracle) Name() string { return "stub" }

func (o *stubOracle) Judge(context.Context, models.EventProposal, []models.RawItem) (oracle.Verdict, error) {
	return oracle.Verdict{}, errors.New("not used")
}

func (o *stubOracle) Assess(context.Context, models.Event, []models.RawItem) (oracle.Forecast, error) {
	return oracle.Forecast{}, errors.New("not used")
}

func (o *stubOracle) Resolve(context.Context, models.Event, []models.RawItem) (oracle.Ruling, error) {
	n := o.calls
	o.calls++
	if n < len(o.errs) && o.errs[n] != nil {
		return oracle.Ruling{Usage: oracle.Usage{RawResponse: "garbled"}}, o.errs[n]
	}
	return o.ruling, nil
}

func TestDecide(t *testing.T) {
	window := []models.RawItem{
		{ID: "ap", URL: "https://www.apnews.com/a"},
		{ID: "ap2", URL: "https://apnews.com/b"},
		{ID: "rt", URL: "https://reuters.com/a"},
		{ID: "npr", URL: "https://npr.org/a"},
		{ID: "bbc", URL: "https://bbc.co.uk/a"},
		{ID: "feed", SourceName: "Wire"},
	}

	tests := []struct {
		name          string
		confirming    []string
		contradicting []string
		wantStatus    models.ResolutionStatus
		wantOutcome   models.Outcome
		wantCounts    [2]int
	}{
		{"three outlets confirm", []string{"ap", "rt", "npr"}, nil, models.ResolutionResolved, models.OutcomeYes, [2]int{3, 0}},
		{"same outlet counts once", []string{"ap", "ap2", "rt"}, nil, models.ResolutionOpen, models.OutcomeNone, [2]int{2, 0}},
		{"three outlets deny", nil, []string{"rt", "npr", "feed"}, models.ResolutionResolved, models.OutcomeNo, [2]int{0, 3}},
		{"dissent needs review", []string{"ap", "rt", "npr"}, []string{"bbc"}, models.ResolutionContradicted, models.OutcomeNone, [2]int{3, 1}},
		{"unknown ids ignored", []string{"ap", "rt", "ghost", "ghost2"}, nil, models.ResolutionOpen, models.OutcomeNone, [2]int{2, 0}},
		{"nothing conclusive", nil, nil, models.ResolutionOpen, models.OutcomeNone, [2]int{0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := decide(oracle.Ruling{
				ConfirmingIDs:    tt.confirming,
				ContradictingIDs: tt.contradicting,
				Confidence:       0.8,
			}, window, 3)
			if res.Status != tt.wantStatus || res.Outcome != tt.wantOutcome {
				t.Errorf("got %s/%q, want %s/%q", res.Status, res.Outcome, tt.wantStatus, tt.wantOutcome)
			}
			if got := [2]int{res.Confirming, res.Contradicting}; got != tt.wantCounts {
				t.Errorf("counts = %v, want %v", got, tt.wantCounts)
			}
			if res.SourcesChecked != 5 {
				t.Errorf("sources checked = %d, want 5", res.SourcesChecked)
			}
			if res.Summary == "" {
				t.Error("empty summary")
			}
		})
	}
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name                      string
		confirming, contradicting int
		want                      float64
	}{
		{"none", 0, 0, 0},
		{"short of threshold", 1, 0, 0.3},
		{"at threshold", 3, 0, 0.9},
		{"beyond threshold is capped", 5, 0, 0.9},
		{"penalised by dissent", 3, 2, 0.7},
		{"penalty is capped", 6, 6, 0.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := confidence(tt.confirming, tt.contradicting, 3, 0.9); got != tt.want {
				t.Errorf("confidence = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolve_OfflineResolvesEvent(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	eventID, itemIDs := seedEvent(t, s, "rss:budget", models.EventLocked, threeOutlets...)
	r := New(oracle.NewOffline(42, 2026), s, Config{Sources: 3})

	res, err := r.Resolve(ctx, eventID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != models.ResolutionResolved || res.Outcome != models.OutcomeYes {
		t.Fatalf("got %s/%q, want resolved/yes: %s", res.Status, res.Outcome, res.Summary)
	}
	sorted := func(ids []string) []string {
		out := append([]string(nil), ids...)
		sort.Strings(out)
		return out
	}
	if diff := cmp.Diff(sorted(itemIDs), sorted(res.ConfirmingIDs)); diff != "" {
		t.Errorf("confirming ids mismatch (-want +got):\n%s", diff)
	}

	e, _ := s.GetEvent(ctx, eventID)
	if e.State != models.EventResolved {
		t.Errorf("state = %s, want resolved", e.State)
	}
	stored, err := s.LatestResolution(ctx, eventID)
	if err != nil {
		t.Fatalf("LatestResolution: %v", err)
	}
	if stored.ID != res.ID || stored.RunID == "" {
		t.Errorf("stored resolution %+v does not match %+v", stored, res)
	}
	runs, _ := s.ListRuns(ctx, storage.RunFilter{Kind: models.RunResolver, SubjectID: eventID})
	if len(runs) != 1 || runs[0].ID != stored.RunID || runs[0].Status != models.RunSucceeded {
		t.Errorf("unexpected runs %+v", runs)
	}

	if _, err := r.Resolve(ctx, eventID); !errors.Is(err, ErrEventNotLocked) {
		t.Errorf("second Resolve: got %v, want ErrEventNotLocked", err)
	}
}

func TestResolve_RequiresLocked(t *testing.T) {
	s := newTestStorage(t)
	eventID, _ := seedEvent(t, s, "rss:budget", models.EventActive, threeOutlets...)
	o := &stubOracle{}
	_, err := New(o, s, Config{}).Resolve(context.Background(), eventID)
	if !errors.Is(err, ErrEventNotLocked) {
		t.Errorf("got %v, want ErrEventNotLocked", err)
	}
	if o.calls != 0 {
		t.Errorf("oracle called %d times for an active event", o.calls)
	}
}

func TestResolve_Failures(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		attempts  int
		wantKind  models.FailureKind
		wantCalls int
	}{
		{"validation is not retried", []error{&oracle.ValidationError{Reason: "bad json", Raw: "garbled"}}, 3, models.FailureValidation, 1},
		{"backend retried until exhausted", []error{errors.New("503"), errors.New("503")}, 2, models.FailureBackend, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStorage(t)
			ctx := context.Background()
			eventID, _ := seedEvent(t, s, "rss:budget", models.EventLocked, threeOutlets...)
			o := &stubOracle{errs: tt.errs}

			_, err := New(o, s, Config{MaxAttempts: tt.attempts}).Resolve(ctx, eventID)
			var fe *FailureError
			if !errors.As(err, &fe) || fe.Kind != tt.wantKind {
				t.Fatalf("got %v, want %s failure", err, tt.wantKind)
			}
			if o.calls != tt.wantCalls {
				t.Errorf("oracle called %d times, want %d", o.calls, tt.wantCalls)
			}
			runs, _ := s.ListRuns(ctx, storage.RunFilter{Kind: models.RunResolver, SubjectID: eventID})
			if len(runs) != tt.wantCalls || runs[0].FailureKind != tt.wantKind || runs[0].RawResponse != "garbled" {
				t.Errorf("unexpected runs %+v", runs)
			}
			if _, err := s.LatestResolution(ctx, eventID); !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("failed check stored a resolution: %v", err)
			}
		})
	}
}

func TestResolvePending(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	due, _ := seedEvent(t, s, "rss:due", models.EventActive, threeOutlets...)
	notDue, _ := seedEvent(t, s, "rss:later", models.EventActive, threeOutlets...)
	for id, ttc := range map[string]float64{due: 24, notDue: 24 * 30} {
		if err := s.SavePrediction(ctx, &models.Prediction{
			ID:        uuid.New().String(),
			EventID:   id,
			P:         0.6,
			TTCHours:  ttc,
			CreatedAt: time.Now().Add(-48 * time.Hour),
		}, nil, false); err != nil {
			t.Fatalf("SavePrediction: %v", err)
		}
	}
	quiet, _ := seedEvent(t, s, "rss:quiet", models.EventLocked,
		story{"https://apnews.com/q", "What to watch in the budget debate"})
	disputed, _ := seedEvent(t, s, "rss:disputed", models.EventLocked,
		story{"https://apnews.com/d", "Senate passed the budget"},
		story{"https://reuters.com/d", "Budget approved"},
		story{"https://npr.org/d", "Vote confirmed"},
		story{"https://bbc.co.uk/d", "Officials say the vote did not happen"})

	r := New(oracle.NewOffline(42, 2026), s, Config{Sources: 3, RecheckAfter: time.Hour})
	sum, err := r.ResolvePending(ctx, 10)
	if err != nil {
		t.Fatalf("ResolvePending: %v", err)
	}
	want := Summary{Locked: 1, Resolved: 1, Open: 1, Contradicted: 1}
	if diff := cmp.Diff(want, sum); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}

	states := map[string]models.EventState{
		due: models.EventResolved, notDue: models.EventActive,
		quiet: models.EventLocked, disputed: models.EventLocked,
	}
	for id, st := range states {
		e, _ := s.GetEvent(ctx, id)
		if e.State != st {
			t.Errorf("event %s state = %s, want %s", id, e.State, st)
		}
	}

	// The open event was just checked and the disputed one awaits review.
	again, err := r.ResolvePending(ctx, 10)
	if err != nil {
		t.Fatalf("second ResolvePending: %v", err)
	}
	if diff := cmp.Diff(Summary{}, again); diff != "" {
		t.Errorf("second pass mismatch (-want +got):\n%s", diff)
	}
	for _, id := range []string{quiet, disputed} {
		if n, _ := s.CountResolutions(ctx, id); n != 1 {
			t.Errorf("event %s checked %d times, want 1", id, n)
		}
	}

	r.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	later, err := r.ResolvePending(ctx, 10)
	if err != nil {
		t.Fatalf("later ResolvePending: %v", err)
	}
	if later.Open != 1 || later.Contradicted != 0 {
		t.Errorf("after RecheckAfter got %+v, want only the open event rechecked", later)
	}
}
