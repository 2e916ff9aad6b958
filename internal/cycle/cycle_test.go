package cycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/eventoracle/internal/assessor"
	"github.com/rewired-gh/eventoracle/internal/dedup"
	"github.com/rewired-gh/eventoracle/internal/judge"
	"github.com/rewired-gh/eventoracle/internal/models"
	"github.com/rewired-gh/eventoracle/internal/oracle"
	"github.com/rewired-gh/eventoracle/internal/proposal"
	"github.com/rewired-gh/eventoracle/internal/resolver"
	"github.com/rewired-gh/eventoracle/internal/source"
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

const fixtureItems = `
items:
  - source_type: rss
    source_name: wire
    title: "Will the Senate pass the 2027 budget before the deadline?"
    snippet: "Lawmakers negotiate ahead of the vote."
    url: https://news.example.com/budget
  - source_type: kalshi
    source_name: kalshi
    title: "Will the Fed cut interest rates in 2027?"
    url: https://kalshi.com/markets/fed
    metadata:
      ticker: FED-27
  - source_type: rss
    source_name: wire
    title: "Daily weather report for Tuesday"
    url: https://news.example.com/weather
`

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "items.yaml")
	if err := os.WriteFile(path, []byte(fixtureItems), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newRunner(s *storage.Storage, sources []source.Source, cfg Config) *Runner {
	o := oracle.NewOffline(42, 2026)
	return NewRunner(
		sources,
		dedup.New(s),
		proposal.NewBuilder(s, false),
		judge.New(o, s, judge.Config{Threshold: 0.7, AutoActivate: true}),
		assessor.New(o, s, assessor.Config{EvidenceWindow: 10}),
		resolver.New(o, s, resolver.Config{Sources: 3}),
		s,
		cfg,
	)
}

type stubSource struct {
	name  string
	items []models.SourceItem
	err   error
}

func (s *stubSource) Name() string            { return s.name }
func (s *stubSource) Type() models.SourceType { return models.SourceCustom }

func (s *stubSource) Fetch(_ context.Context, limit int) ([]models.SourceItem, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.items, nil
}

func rssItems(n int, prefix string) []models.SourceItem {
	items := make([]models.SourceItem, n)
	for i := range items {
		items[i] = models.SourceItem{
			SourceType:  models.SourceRSS,
			SourceName:  prefix,
			URL:         fmt.Sprintf("https://example.com/%s/%d", prefix, i),
			Title:       fmt.Sprintf("%s story number %d", prefix, i),
			PublishedAt: time.Now(),
		}
	}
	return items
}

func TestRun_FixtureBatch(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	fixture := source.NewFixture("local", writeFixture(t))
	r := newRunner(s, []source.Source{fixture}, Config{MaxItemsPerSource: 10, MaxProposals: 2, MaxEvents: 10})

	sum, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.ItemsFetched != 3 || sum.ItemsIngested != 3 || sum.ProposalsCreated != 3 {
		t.Errorf("unexpected ingest counts:\n%s", sum)
	}
	if sum.ProposalsJudged > 2 {
		t.Errorf("judged %d proposals, limit is 2", sum.ProposalsJudged)
	}
	if sum.ItemsIngested != sum.Accepted+sum.Rejected+sum.PendingRemaining {
		t.Errorf("ingested %d != accepted %d + rejected %d + pending %d",
			sum.ItemsIngested, sum.Accepted, sum.Rejected, sum.PendingRemaining)
	}
	if sum.PredictionsEmitted != sum.EventsCreated {
		t.Errorf("predictions %d, events created %d", sum.PredictionsEmitted, sum.EventsCreated)
	}
	if sum.Failures() != 0 {
		t.Errorf("unexpected failures:\n%s", sum)
	}

	judgedBefore, err := s.ListProposals(ctx, storage.ProposalFilter{})
	if err != nil {
		t.Fatalf("ListProposals: %v", err)
	}

	// A rerun over the same window adds nothing and leaves judged proposals alone.
	again, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if again.ItemsIngested != 0 || again.ItemsDuplicate != 3 || again.ProposalsCreated != 0 {
		t.Errorf("rerun created records:\n%s", again)
	}
	if again.ProposalsJudged != sum.PendingRemaining {
		t.Errorf("rerun judged %d, want the %d left pending", again.ProposalsJudged, sum.PendingRemaining)
	}
	n, _ := s.CountRawItems(ctx)
	if n != 3 {
		t.Errorf("got %d raw items after rerun, want 3", n)
	}
	for _, before := range judgedBefore {
		if before.Status == models.StatusPending {
			continue
		}
		after, err := s.GetProposal(ctx, before.ID)
		if err != nil {
			t.Fatalf("GetProposal: %v", err)
		}
		if after.Status != before.Status || !after.Judgment.JudgedAt.Equal(before.Judgment.JudgedAt) {
			t.Errorf("proposal %s re-judged", before.ID)
		}
	}
}

func TestRun_SourceFailureIsCounted(t *testing.T) {
	s := newTestStorage(t)
	sources := []source.Source{
		&stubSource{name: "down", err: errors.New("connection refused")},
		&stubSource{name: "up", items: rssItems(2, "up")},
	}
	sum, err := newRunner(s, sources, Config{MaxItemsPerSource: 10, FetchConcurrency: 2}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.SourceFailures != 1 || len(sum.FailedSources) != 1 || sum.FailedSources[0] != "down" {
		t.Errorf("unexpected source failures: %d %v", sum.SourceFailures, sum.FailedSources)
	}
	if sum.ItemsIngested != 2 {
		t.Errorf("ingested %d, want 2", sum.ItemsIngested)
	}
}

func TestRun_PerSourceLimits(t *testing.T) {
	s := newTestStorage(t)
	sources := []source.Source{
		&stubSource{name: "a", items: rssItems(5, "a")},
		&stubSource{name: "b", items: rssItems(5, "b")},
	}
	cfg := Config{MaxItemsPerSource: 4, SourceLimits: map[string]int{"b": 1}, MaxProposals: 1}
	sum, err := newRunner(s, sources, cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.ItemsFetched != 5 {
		t.Errorf("fetched %d, want 4 + 1", sum.ItemsFetched)
	}
	if sum.ProposalsJudged != 1 || sum.PendingRemaining != 4 {
		t.Errorf("unexpected judge counts:\n%s", sum)
	}
}

func TestRun_MalformedItemsSkipped(t *testing.T) {
	s := newTestStorage(t)
	items := append(rssItems(1, "ok"),
		models.SourceItem{SourceType: models.SourceRSS, SourceName: "bad"},
		models.SourceItem{SourceType: "carrier-pigeon", Title: "Unknown origin"},
	)
	sum, err := newRunner(s, []source.Source{&stubSource{name: "mixed", items: items}}, Config{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.ItemsSkipped != 2 || sum.ItemsIngested != 1 {
		t.Errorf("unexpected counts:\n%s", sum)
	}
}

func TestRun_StorageFailureAborts(t *testing.T) {
	s, err := storage.New(":memory:", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	r := newRunner(s, []source.Source{&stubSource{name: "a", items: rssItems(1, "a")}}, Config{})
	_ = s.Close()

	sum, err := r.Run(context.Background())
	if err == nil {
		t.Fatal("expected error after storage is closed")
	}
	if !strings.Contains(err.Error(), "ingest") {
		t.Errorf("error = %v, want ingest failure", err)
	}
	if sum.ItemsFetched != 1 {
		t.Errorf("partial summary lost: %+v", sum)
	}
}

// lockedEvent stores one item per url under a single key and walks the
// accepted proposal's event to the locked state.
func lockedEvent(t *testing.T, s *storage.Storage, title string, urls ...string) string {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	var ids []string
	for i, u := range urls {
		id, _, err := s.InsertRawItem(ctx, &models.RawItem{
			ID:           fmt.Sprintf("item-%d", i),
			SourceType:   models.SourceRSS,
			SourceName:   "wire",
			URL:          u,
			Title:        title,
			Fingerprint:  fmt.Sprintf("fp-%d", i),
			CanonicalKey: "rss:locked",
			PublishedAt:  now,
			FirstSeenAt:  now,
			FetchedAt:    now,
		})
		if err != nil {
			t.Fatalf("InsertRawItem: %v", err)
		}
		ids = append(ids, id)
	}
	res, err := s.AttachEvidence(ctx, &models.EventProposal{
		ID: "p-locked", CanonicalKey: "rss:locked", Title: "Will the Senate pass the budget?",
		ProposedBy: "dedup:rss", Status: models.StatusPending, CreatedAt: now, UpdatedAt: now,
	}, ids, false)
	if err != nil {
		t.Fatalf("AttachEvidence: %v", err)
	}
	if err := s.CommitJudgment(ctx, res.ProposalID, &models.Judgment{
		Scores:    models.Scores{Answerability: 1, Significance: 1, Frequency: 0, Temporal: 1},
		Aggregate: 0.9, Threshold: 0.7, Decision: models.StatusAccepted,
		PrimaryTag: "politics", TagConfidence: 0.9, JudgedBy: "test", JudgedAt: now,
	}); err != nil {
		t.Fatalf("CommitJudgment: %v", err)
	}
	e, _, err := s.CreateEventFromProposal(ctx, res.ProposalID)
	if err != nil {
		t.Fatalf("CreateEventFromProposal: %v", err)
	}
	for _, st := range []models.EventState{models.EventActive, models.EventLocked} {
		if err := s.TransitionEvent(ctx, e.ID, st); err != nil {
			t.Fatalf("TransitionEvent: %v", err)
		}
	}
	return e.ID
}

func TestRun_ResolvesLockedEvents(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	eventID := lockedEvent(t, s, "Senate passed the budget",
		"https://apnews.com/budget", "https://reuters.com/budget", "https://npr.org/budget")

	sum, err := newRunner(s, nil, Config{MaxEvents: 5}).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.EventsResolved != 1 || sum.ResolutionsOpen != 0 || sum.ResolveFailures.Total() != 0 {
		t.Errorf("unexpected resolve counts:\n%s", sum)
	}
	if !strings.Contains(sum.String(), "resolve: locked=0 resolved=1") {
		t.Errorf("summary missing resolve line:\n%s", sum)
	}
	e, err := s.GetEvent(ctx, eventID)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if e.State != models.EventResolved {
		t.Errorf("state = %s, want resolved", e.State)
	}
}
