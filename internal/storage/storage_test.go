package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/eventoracle/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(":memory:", 5*time.Second)
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testItem(fingerprint, key string) *models.RawItem {
	now := time.Now()
	return &models.RawItem{
		ID:           uuid.New().String(),
		SourceType:   models.SourceRSS,
		SourceName:   "bbc",
		URL:          "https://example.com/" + fingerprint,
		Title:        "Will the Senate pass the budget by 2026?",
		Snippet:      "Lawmakers are negotiating.",
		Fingerprint:  fingerprint,
		CanonicalKey: key,
		PublishedAt:  now.Add(-time.Hour),
		FirstSeenAt:  now,
		FetchedAt:    now,
		Metadata:     map[string]any{"feed": "world"},
	}
}

func testDraft(key string) *models.EventProposal {
	now := time.Now()
	return &models.EventProposal{
		ID:           uuid.New().String(),
		CanonicalKey: key,
		Title:        "Will the Senate pass the budget by 2026?",
		ProposedBy:   "dedup:rss",
		Status:       models.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func testJudgment(decision models.ProposalStatus) *models.Judgment {
	return &models.Judgment{
		Scores:        models.Scores{Answerability: 0.9, Significance: 0.8, Frequency: 0.2, Temporal: 1},
		Aggregate:     0.87,
		Threshold:     0.7,
		Decision:      decision,
		PrimaryTag:    "politics",
		TagConfidence: 0.8,
		JudgedBy:      "test",
		JudgedAt:      time.Now(),
	}
}

func insertItem(t *testing.T, s *Storage, fingerprint, key string) string {
	t.Helper()
	id, _, err := s.InsertRawItem(context.Background(), testItem(fingerprint, key))
	if err != nil {
		t.Fatalf("InsertRawItem: %v", err)
	}
	return id
}

func createProposal(t *testing.T, s *Storage, key string, itemIDs ...string) string {
	t.Helper()
	res, err := s.AttachEvidence(context.Background(), testDraft(key), itemIDs, false)
	if err != nil {
		t.Fatalf("AttachEvidence: %v", err)
	}
	return res.ProposalID
}

func TestStorage_InsertRawItem_Idempotent(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	first := testItem("fp-1", "rss:budget")
	id1, inserted, err := s.InsertRawItem(ctx, first)
	if err != nil {
		t.Fatalf("InsertRawItem: %v", err)
	}
	if !inserted {
		t.Error("first insert should write a row")
	}

	replay := testItem("fp-1", "rss:budget")
	id2, inserted, err := s.InsertRawItem(ctx, replay)
	if err != nil {
		t.Fatalf("InsertRawItem replay: %v", err)
	}
	if inserted {
		t.Error("replay should not write a row")
	}
	if id2 != id1 {
		t.Errorf("replay returned %s, want existing %s", id2, id1)
	}

	n, err := s.CountRawItems(ctx)
	if err != nil {
		t.Fatalf("CountRawItems: %v", err)
	}
	if n != 1 {
		t.Errorf("got %d raw items, want 1", n)
	}

	got, err := s.GetRawItem(ctx, id1)
	if err != nil {
		t.Fatalf("GetRawItem: %v", err)
	}
	if got.Metadata["feed"] != "world" {
		t.Errorf("metadata not round-tripped: %v", got.Metadata)
	}
}

func TestStorage_InsertRawItem_Invalid(t *testing.T) {
	s := newTestStorage(t)
	item := testItem("fp", "k")
	item.Title = ""
	if _, _, err := s.InsertRawItem(context.Background(), item); err == nil {
		t.Error("expected error for item without title")
	}
}

func TestStorage_GetRawItem_NotFound(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.GetRawItem(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestStorage_GetRawItems(t *testing.T) {
	s := newTestStorage(t)
	a := insertItem(t, s, "a", "k")
	b := insertItem(t, s, "b", "k")
	items, err := s.GetRawItems(context.Background(), []string{a, b, "missing"})
	if err != nil {
		t.Fatalf("GetRawItems: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("got %d items, want 2", len(items))
	}
}

func TestStorage_AttachEvidence(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	a := insertItem(t, s, "a", "rss:budget")
	b := insertItem(t, s, "b", "rss:budget")

	res, err := s.AttachEvidence(ctx, testDraft("rss:budget"), []string{a}, false)
	if err != nil {
		t.Fatalf("AttachEvidence: %v", err)
	}
	if res.Outcome != AttachCreated || res.Linked != 1 {
		t.Errorf("got %+v, want created with 1 link", res)
	}

	res2, err := s.AttachEvidence(ctx, testDraft("rss:budget"), []string{a, b}, false)
	if err != nil {
		t.Fatalf("AttachEvidence second: %v", err)
	}
	if res2.Outcome != AttachLinked || res2.ProposalID != res.ProposalID {
		t.Errorf("got %+v, want link into %s", res2, res.ProposalID)
	}
	if res2.Linked != 1 {
		t.Errorf("got %d new links, want 1", res2.Linked)
	}

	evidence, err := s.ProposalEvidence(ctx, res.ProposalID)
	if err != nil {
		t.Fatalf("ProposalEvidence: %v", err)
	}
	if len(evidence) != 2 {
		t.Errorf("got %d evidence items, want 2", len(evidence))
	}

	pending, err := s.ListProposals(ctx, ProposalFilter{Status: models.StatusPending})
	if err != nil {
		t.Fatalf("ListProposals: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("got %d pending proposals, want 1", len(pending))
	}
}

func TestStorage_AttachEvidence_ClosedKey(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	a := insertItem(t, s, "a", "rss:budget")
	id := createProposal(t, s, "rss:budget", a)
	if err := s.CommitJudgment(ctx, id, testJudgment(models.StatusRejected)); err != nil {
		t.Fatalf("CommitJudgment: %v", err)
	}

	b := insertItem(t, s, "b", "rss:budget")
	res, err := s.AttachEvidence(ctx, testDraft("rss:budget"), []string{b}, false)
	if err != nil {
		t.Fatalf("AttachEvidence: %v", err)
	}
	if res.Outcome != AttachClosed || res.Linked != 0 {
		t.Errorf("got %+v, want closed without links", res)
	}

	reopened, err := s.AttachEvidence(ctx, testDraft("rss:budget"), []string{b}, true)
	if err != nil {
		t.Fatalf("AttachEvidence reopen: %v", err)
	}
	if reopened.Outcome != AttachCreated || reopened.ProposalID == id {
		t.Errorf("got %+v, want a fresh pending proposal", reopened)
	}
}

func TestStorage_AttachEvidence_ReopenNeedsUnseenItems(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	a := insertItem(t, s, "a", "rss:budget")
	id := createProposal(t, s, "rss:budget", a)
	if err := s.CommitJudgment(ctx, id, testJudgment(models.StatusRejected)); err != nil {
		t.Fatalf("CommitJudgment: %v", err)
	}

	res, err := s.AttachEvidence(ctx, testDraft("rss:budget"), []string{a}, true)
	if err != nil {
		t.Fatalf("AttachEvidence: %v", err)
	}
	if res.Outcome != AttachClosed {
		t.Errorf("got %+v, want closed for already linked evidence", res)
	}

	b := insertItem(t, s, "b", "rss:budget")
	res, err = s.AttachEvidence(ctx, testDraft("rss:budget"), []string{a, b}, true)
	if err != nil {
		t.Fatalf("AttachEvidence: %v", err)
	}
	if res.Outcome != AttachCreated || res.Linked != 1 {
		t.Fatalf("got %+v, want a new proposal holding only the unseen item", res)
	}
	evidence, err := s.ProposalEvidence(ctx, res.ProposalID)
	if err != nil {
		t.Fatalf("ProposalEvidence: %v", err)
	}
	if len(evidence) != 1 || evidence[0].ID != b {
		t.Errorf("got evidence %v, want only %s", evidence, b)
	}
}

func TestStorage_CommitJudgment(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	id := createProposal(t, s, "rss:budget", insertItem(t, s, "a", "rss:budget"))

	before, err := s.GetProposal(ctx, id)
	if err != nil {
		t.Fatalf("GetProposal: %v", err)
	}
	if before.Judgment != nil {
		t.Error("pending proposal must not carry a judgment")
	}

	if err := s.CommitJudgment(ctx, id, testJudgment(models.StatusAccepted)); err != nil {
		t.Fatalf("CommitJudgment: %v", err)
	}
	after, err := s.GetProposal(ctx, id)
	if err != nil {
		t.Fatalf("GetProposal: %v", err)
	}
	if after.Status != models.StatusAccepted {
		t.Errorf("got status %s, want accepted", after.Status)
	}
	if after.Judgment == nil || after.Judgment.PrimaryTag != "politics" {
		t.Errorf("judgment not stored: %+v", after.Judgment)
	}
	if err := after.Validate(); err != nil {
		t.Errorf("stored proposal invalid: %v", err)
	}

	err = s.CommitJudgment(ctx, id, testJudgment(models.StatusRejected))
	if !errors.Is(err, ErrNotPending) {
		t.Errorf("second commit got %v, want ErrNotPending", err)
	}
	again, _ := s.GetProposal(ctx, id)
	if again.Status != models.StatusAccepted {
		t.Errorf("terminal status changed to %s", again.Status)
	}

	if err := s.CommitJudgment(ctx, "missing", testJudgment(models.StatusAccepted)); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestStorage_CommitJudgment_InvalidLeavesPending(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	id := createProposal(t, s, "rss:budget", insertItem(t, s, "a", "rss:budget"))

	bad := testJudgment(models.StatusAccepted)
	bad.Scores.Significance = 1.5
	if err := s.CommitJudgment(ctx, id, bad); err == nil {
		t.Fatal("expected error for out-of-range score")
	}
	p, _ := s.GetProposal(ctx, id)
	if p.Status != models.StatusPending || p.Judgment != nil {
		t.Errorf("proposal changed after rejected commit: %+v", p)
	}
}

func TestStorage_MetadataPresentIffTerminal(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		key := fmt.Sprintf("rss:k%d", i)
		id := createProposal(t, s, key, insertItem(t, s, fmt.Sprintf("fp-%d", i), key))
		switch i % 3 {
		case 0:
			_ = s.CommitJudgment(ctx, id, testJudgment(models.StatusAccepted))
		case 1:
			_ = s.CommitJudgment(ctx, id, testJudgment(models.StatusRejected))
		}
	}
	all, err := s.ListProposals(ctx, ProposalFilter{})
	if err != nil {
		t.Fatalf("ListProposals: %v", err)
	}
	for _, p := range all {
		if (p.Judgment != nil) != p.Status.IsTerminal() {
			t.Errorf("proposal %s status %s judgment present %v", p.ID, p.Status, p.Judgment != nil)
		}
	}
	if n, _ := s.CountProposals(ctx, models.StatusPending); n != 2 {
		t.Errorf("got %d pending, want 2", n)
	}
}

func TestStorage_CreateEventFromProposal(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	id := createProposal(t, s, "rss:budget", insertItem(t, s, "a", "rss:budget"))

	if _, _, err := s.CreateEventFromProposal(ctx, id); !errors.Is(err, ErrProposalNotAccepted) {
		t.Errorf("pending proposal: got %v, want ErrProposalNotAccepted", err)
	}

	if err := s.CommitJudgment(ctx, id, testJudgment(models.StatusAccepted)); err != nil {
		t.Fatalf("CommitJudgment: %v", err)
	}
	e, created, err := s.CreateEventFromProposal(ctx, id)
	if err != nil {
		t.Fatalf("CreateEventFromProposal: %v", err)
	}
	if !created || e.State != models.EventDraft || e.PrimaryTag != "politics" {
		t.Errorf("unexpected event %+v created=%v", e, created)
	}

	again, created, err := s.CreateEventFromProposal(ctx, id)
	if err != nil {
		t.Fatalf("CreateEventFromProposal again: %v", err)
	}
	if created || again.ID != e.ID {
		t.Errorf("second call should return existing event %s, got %s created=%v", e.ID, again.ID, created)
	}
}

func TestStorage_TransitionEvent(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	e := acceptedEvent(t, s, "rss:budget")

	if err := s.TransitionEvent(ctx, e.ID, models.EventResolved); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("draft -> resolved: got %v, want ErrInvalidTransition", err)
	}
	if err := s.TransitionEvent(ctx, e.ID, models.EventActive); err != nil {
		t.Fatalf("draft -> active: %v", err)
	}
	got, _ := s.GetEvent(ctx, e.ID)
	if got.State != models.EventActive {
		t.Errorf("got state %s, want active", got.State)
	}
}

func acceptedEvent(t *testing.T, s *Storage, key string) *models.Event {
	t.Helper()
	ctx := context.Background()
	id := createProposal(t, s, key, insertItem(t, s, key+"-fp", key))
	if err := s.CommitJudgment(ctx, id, testJudgment(models.StatusAccepted)); err != nil {
		t.Fatalf("CommitJudgment: %v", err)
	}
	e, _, err := s.CreateEventFromProposal(ctx, id)
	if err != nil {
		t.Fatalf("CreateEventFromProposal: %v", err)
	}
	return e
}

func testPrediction(eventID string, p float64) *models.Prediction {
	return &models.Prediction{
		ID:        uuid.New().String(),
		EventID:   eventID,
		RunID:     uuid.New().String(),
		P:         p,
		TTCHours:  24,
		Rationale: "test",
		CreatedAt: time.Now(),
	}
}

func TestStorage_SavePrediction(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	e := acceptedEvent(t, s, "rss:budget")
	a := insertItem(t, s, "a", "rss:budget")
	b := insertItem(t, s, "b", "rss:budget")

	p := testPrediction(e.ID, 0.6)
	attrs := []models.Attribution{
		{PredictionID: p.ID, RawItemID: b, Rank: 2},
		{PredictionID: p.ID, RawItemID: a, Rank: 1},
	}
	if err := s.SavePrediction(ctx, p, attrs, false); err != nil {
		t.Fatalf("SavePrediction: %v", err)
	}

	got, err := s.Attributions(ctx, p.ID)
	if err != nil {
		t.Fatalf("Attributions: %v", err)
	}
	if len(got) != 2 || got[0].RawItemID != a || got[0].Rank != 1 || got[1].Rank != 2 {
		t.Errorf("unexpected attributions %+v", got)
	}
	for _, attr := range got {
		if _, err := s.GetRawItem(ctx, attr.RawItemID); err != nil {
			t.Errorf("attributed raw item %s not resolvable: %v", attr.RawItemID, err)
		}
	}

	live, err := s.LivePrediction(ctx, e.ID)
	if err != nil {
		t.Fatalf("LivePrediction: %v", err)
	}
	if live.ID != p.ID {
		t.Errorf("live prediction %s, want %s", live.ID, p.ID)
	}
}

func TestStorage_SavePrediction_Rejects(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	e := acceptedEvent(t, s, "rss:budget")
	a := insertItem(t, s, "a", "rss:budget")

	tests := []struct {
		name    string
		p       *models.Prediction
		attrs   func(id string) []models.Attribution
		wantErr error
	}{
		{
			name: "missing raw item",
			p:    testPrediction(e.ID, 0.5),
			attrs: func(id string) []models.Attribution {
				return []models.Attribution{{PredictionID: id, RawItemID: "ghost", Rank: 1}}
			},
			wantErr: ErrMissingEvidence,
		},
		{
			name: "rank gap",
			p:    testPrediction(e.ID, 0.5),
			attrs: func(id string) []models.Attribution {
				return []models.Attribution{{PredictionID: id, RawItemID: a, Rank: 2}}
			},
			wantErr: ErrInvalidRanks,
		},
		{
			name: "unknown event",
			p:    testPrediction("ghost-event", 0.5),
			attrs: func(id string) []models.Attribution {
				return nil
			},
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.SavePrediction(ctx, tt.p, tt.attrs(tt.p.ID), false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}

	preds, _ := s.ListPredictions(ctx, e.ID)
	if len(preds) != 0 {
		t.Errorf("rejected predictions were written: %d", len(preds))
	}

	if err := s.SavePrediction(ctx, testPrediction(e.ID, 1.5), nil, false); err == nil {
		t.Error("expected error for p out of range")
	}
}

func TestStorage_SavePrediction_Supersede(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	e := acceptedEvent(t, s, "rss:budget")

	first := testPrediction(e.ID, 0.4)
	if err := s.SavePrediction(ctx, first, nil, false); err != nil {
		t.Fatalf("SavePrediction: %v", err)
	}
	second := testPrediction(e.ID, 0.7)
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	if err := s.SavePrediction(ctx, second, nil, true); err != nil {
		t.Fatalf("SavePrediction supersede: %v", err)
	}

	preds, err := s.ListPredictions(ctx, e.ID)
	if err != nil {
		t.Fatalf("ListPredictions: %v", err)
	}
	if len(preds) != 2 {
		t.Fatalf("got %d predictions, want 2", len(preds))
	}
	if preds[0].SupersededBy != second.ID {
		t.Errorf("first prediction superseded_by = %q, want %s", preds[0].SupersededBy, second.ID)
	}
	if preds[1].SupersededBy != "" {
		t.Errorf("new prediction must be live, superseded_by = %q", preds[1].SupersededBy)
	}
}

func TestStorage_ListEvents_Unpredicted(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	e1 := acceptedEvent(t, s, "rss:one")
	e2 := acceptedEvent(t, s, "rss:two")
	for _, e := range []*models.Event{e1, e2} {
		if err := s.TransitionEvent(ctx, e.ID, models.EventActive); err != nil {
			t.Fatalf("TransitionEvent: %v", err)
		}
	}
	if err := s.SavePrediction(ctx, testPrediction(e1.ID, 0.5), nil, false); err != nil {
		t.Fatalf("SavePrediction: %v", err)
	}

	events, err := s.ListEvents(ctx, EventFilter{State: models.EventActive, Unpredicted: true})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 || events[0].ID != e2.ID {
		t.Errorf("got %+v, want only %s", events, e2.ID)
	}
}

func TestStorage_RecordRun(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Now()
	runs := []*models.AgentRun{
		{ID: "r1", Kind: models.RunJudge, SubjectID: "p1", Attempt: 1, Status: models.RunFailed,
			FailureKind: models.FailureValidation, RawResponse: "not json", Error: "bad", StartedAt: now, EndedAt: now},
		{ID: "r2", Kind: models.RunJudge, SubjectID: "p1", Attempt: 2, Status: models.RunSucceeded,
			TokensIn: 120, TokensOut: 80, CostUSD: 0.0001, StartedAt: now.Add(time.Millisecond), EndedAt: now},
		{ID: "r3", Kind: models.RunAssessor, SubjectID: "e1", Attempt: 1, Status: models.RunSucceeded, StartedAt: now, EndedAt: now},
	}
	for _, r := range runs {
		if err := s.RecordRun(ctx, r); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}

	got, err := s.ListRuns(ctx, RunFilter{Kind: models.RunJudge, SubjectID: "p1"})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d runs, want 2", len(got))
	}
	if got[0].FailureKind != models.FailureValidation || got[0].RawResponse != "not json" {
		t.Errorf("failed run not stored faithfully: %+v", got[0])
	}
	if got[1].TokensIn != 120 {
		t.Errorf("tokens not stored: %+v", got[1])
	}

	if err := s.RecordRun(ctx, &models.AgentRun{ID: "r1", SubjectID: "p1"}); err == nil {
		t.Error("expected error on duplicate run ID")
	}
}

func lockedEvent(t *testing.T, s *Storage, key string) *models.Event {
	t.Helper()
	ctx := context.Background()
	e := acceptedEvent(t, s, key)
	for _, st := range []models.EventState{models.EventActive, models.EventLocked} {
		if err := s.TransitionEvent(ctx, e.ID, st); err != nil {
			t.Fatalf("TransitionEvent %s: %v", st, err)
		}
	}
	e.State = models.EventLocked
	return e
}

func testResolution(eventID string, status models.ResolutionStatus) *models.Resolution {
	r := &models.Resolution{
		ID:             uuid.New().String(),
		EventID:        eventID,
		RunID:          uuid.New().String(),
		Status:         status,
		Confidence:     0.5,
		SourcesChecked: 3,
		Summary:        "test",
		CreatedAt:      time.Now(),
	}
	if status == models.ResolutionResolved {
		r.Outcome = models.OutcomeYes
		r.Confirming = 3
		r.ConfirmingIDs = []string{"a", "b", "c"}
	}
	return r
}

func TestStorage_SaveResolution(t *testing.T) {
	tests := []struct {
		name      string
		status    models.ResolutionStatus
		wantState models.EventState
	}{
		{"resolved moves event", models.ResolutionResolved, models.EventResolved},
		{"open keeps event locked", models.ResolutionOpen, models.EventLocked},
		{"contradicted keeps event locked", models.ResolutionContradicted, models.EventLocked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStorage(t)
			ctx := context.Background()
			e := lockedEvent(t, s, "rss:vote")

			r := testResolution(e.ID, tt.status)
			if err := s.SaveResolution(ctx, r); err != nil {
				t.Fatalf("SaveResolution: %v", err)
			}
			got, _ := s.GetEvent(ctx, e.ID)
			if got.State != tt.wantState {
				t.Errorf("state = %s, want %s", got.State, tt.wantState)
			}
			latest, err := s.LatestResolution(ctx, e.ID)
			if err != nil {
				t.Fatalf("LatestResolution: %v", err)
			}
			if latest.ID != r.ID || latest.Status != tt.status || latest.Outcome != r.Outcome {
				t.Errorf("got %+v, want %+v", latest, r)
			}
			if len(latest.ConfirmingIDs) != len(r.ConfirmingIDs) {
				t.Errorf("confirming ids = %v, want %v", latest.ConfirmingIDs, r.ConfirmingIDs)
			}
		})
	}
}

func TestStorage_SaveResolution_RequiresLocked(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	e := acceptedEvent(t, s, "rss:draft")

	if err := s.SaveResolution(ctx, testResolution(e.ID, models.ResolutionResolved)); !errors.Is(err, ErrEventNotLocked) {
		t.Errorf("draft event: got %v, want ErrEventNotLocked", err)
	}
	if err := s.SaveResolution(ctx, testResolution("missing", models.ResolutionOpen)); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing event: got %v, want ErrNotFound", err)
	}

	locked := lockedEvent(t, s, "rss:locked")
	if err := s.SaveResolution(ctx, testResolution(locked.ID, models.ResolutionResolved)); err != nil {
		t.Fatalf("SaveResolution: %v", err)
	}
	if err := s.SaveResolution(ctx, testResolution(locked.ID, models.ResolutionResolved)); !errors.Is(err, ErrEventNotLocked) {
		t.Errorf("resolved event resolved twice: got %v, want ErrEventNotLocked", err)
	}
	if n, _ := s.CountResolutions(ctx, locked.ID); n != 1 {
		t.Errorf("got %d resolutions, want 1", n)
	}
	if _, err := s.LatestResolution(ctx, e.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestStorage_ListEvents_ClosedBefore(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	due := acceptedEvent(t, s, "rss:due")
	later := acceptedEvent(t, s, "rss:later")
	bare := acceptedEvent(t, s, "rss:bare")
	for _, e := range []*models.Event{due, later, bare} {
		if err := s.TransitionEvent(ctx, e.ID, models.EventActive); err != nil {
			t.Fatalf("TransitionEvent: %v", err)
		}
	}
	start := time.Now().Add(-48 * time.Hour)
	p1 := testPrediction(due.ID, 0.5)
	p1.CreatedAt, p1.TTCHours = start, 24
	p2 := testPrediction(later.ID, 0.5)
	p2.CreatedAt, p2.TTCHours = start, 72
	for _, p := range []*models.Prediction{p1, p2} {
		if err := s.SavePrediction(ctx, p, nil, false); err != nil {
			t.Fatalf("SavePrediction: %v", err)
		}
	}

	events, err := s.ListEvents(ctx, EventFilter{State: models.EventActive, ClosedBefore: time.Now()})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 || events[0].ID != due.ID {
		t.Errorf("got %+v, want only %s", events, due.ID)
	}
}

func TestStorage_ListEvents_Unreviewed(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	disputed := lockedEvent(t, s, "rss:disputed")
	open := lockedEvent(t, s, "rss:open")
	if err := s.SaveResolution(ctx, testResolution(disputed.ID, models.ResolutionContradicted)); err != nil {
		t.Fatalf("SaveResolution: %v", err)
	}
	if err := s.SaveResolution(ctx, testResolution(open.ID, models.ResolutionOpen)); err != nil {
		t.Fatalf("SaveResolution: %v", err)
	}

	events, err := s.ListEvents(ctx, EventFilter{State: models.EventLocked, Unreviewed: true})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 || events[0].ID != open.ID {
		t.Errorf("got %+v, want only %s", events, open.ID)
	}
}
