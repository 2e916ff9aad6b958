// Package cycle runs one bounded pass of the pipeline:
// fetch, deduplicate, build proposals, judge, assess, resolve.
package cycle

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/eventoracle/internal/assessor"
	"github.com/rewired-gh/eventoracle/internal/dedup"
	"github.com/rewired-gh/eventoracle/internal/judge"
	"github.com/rewired-gh/eventoracle/internal/logger"
	"github.com/rewired-gh/eventoracle/internal/models"
	"github.com/rewired-gh/eventoracle/internal/proposal"
	"github.com/rewired-gh/eventoracle/internal/resolver"
	"github.com/rewired-gh/eventoracle/internal/source"
)

// Store reports the backlog left after a cycle.
type Store interface {
	CountProposals(ctx context.Context, status models.ProposalStatus) (int, error)
}

// Config holds the per-stage limits. Zero MaxProposals or MaxEvents means no limit.
// MaxEvents bounds both the assess and the resolve stage.
type Config struct {
	MaxItemsPerSource int
	// SourceLimits overrides MaxItemsPerSource by source name when lower.
	SourceLimits     map[string]int
	MaxProposals     int
	MaxEvents        int
	FetchConcurrency int
	FetchTimeout     time.Duration
}

// Runner wires the pipeline stages together.
type Runner struct {
	sources  []source.Source
	dedup    *dedup.Deduplicator
	builder  *proposal.Builder
	judge    *judge.Judge
	assessor *assessor.Assessor
	resolver *resolver.Resolver
	store    Store
	cfg      Config
}

// NewRunner creates a runner over the given stages. FetchConcurrency below one means sequential fetches.
func NewRunner(
	sources []source.Source,
	d *dedup.Deduplicator,
	b *proposal.Builder,
	j *judge.Judge,
	a *assessor.Assessor,
	res *resolver.Resolver,
	store Store,
	cfg Config,
) *Runner {
	if cfg.FetchConcurrency < 1 {
		cfg.FetchConcurrency = 1
	}
	return &Runner{sources: sources, dedup: d, builder: b, judge: j, assessor: a, resolver: res, store: store, cfg: cfg}
}

// Run executes one cycle. Per-item and per-source failures are counted in the
// summary; a persistence failure stops the cycle and is returned together with
// the counts gathered so far.
func (r *Runner) Run(ctx context.Context) (sum Summary, err error) {
	start := time.Now()
	defer func() { sum.Duration = time.Since(start) }()

	items := r.fetchAll(ctx, &sum)
	sum.ItemsFetched = len(items)
	if err = ctx.Err(); err != nil {
		return sum, err
	}

	ingest, err := r.dedup.Ingest(ctx, items)
	sum.ItemsIngested = ingest.New
	sum.ItemsDuplicate = ingest.Duplicates
	sum.ItemsSkipped = ingest.Skipped
	if err != nil {
		return sum, fmt.Errorf("ingest: %w", err)
	}

	built, err := r.builder.Build(ctx, ingest.Items)
	sum.ProposalsCreated = built.Created
	sum.EvidenceLinked = built.EvidenceLinked
	sum.EvidenceOnClosed = built.OnClosed
	if err != nil {
		return sum, fmt.Errorf("build proposals: %w", err)
	}

	judged, err := r.judge.JudgePending(ctx, r.cfg.MaxProposals)
	sum.ProposalsJudged = judged.Judged
	sum.Accepted = judged.Accepted
	sum.Rejected = judged.Rejected
	sum.JudgeFailures = FailureCounts{Validation: judged.ValidationFailures, Backend: judged.BackendFailures}
	sum.EventsCreated = judged.EventsCreated
	sum.EventsPromoted = judged.Promoted
	if err != nil {
		return sum, fmt.Errorf("judge: %w", err)
	}

	assessed, err := r.assessor.AssessPending(ctx, r.cfg.MaxEvents)
	sum.EventsAssessed = assessed.Assessed + assessed.Failures()
	sum.PredictionsEmitted = assessed.Assessed
	sum.AssessFailures = FailureCounts{Validation: assessed.ValidationFailures, Backend: assessed.BackendFailures}
	if err != nil {
		return sum, fmt.Errorf("assess: %w", err)
	}

	resolved, err := r.resolver.ResolvePending(ctx, r.cfg.MaxEvents)
	sum.EventsLocked = resolved.Locked
	sum.EventsResolved = resolved.Resolved
	sum.ResolutionsOpen = resolved.Open
	sum.ResolutionsContradicted = resolved.Contradicted
	sum.ResolveFailures = FailureCounts{Validation: resolved.ValidationFailures, Backend: resolved.BackendFailures}
	if err != nil {
		return sum, fmt.Errorf("resolve: %w", err)
	}

	pending, err := r.store.CountProposals(ctx, models.StatusPending)
	if err != nil {
		return sum, fmt.Errorf("count pending proposals: %w", err)
	}
	sum.PendingRemaining = pending

	return sum, nil
}

// fetchAll fetches every source concurrently and merges the results in source order.
func (r *Runner) fetchAll(ctx context.Context, sum *Summary) []models.SourceItem {
	results := make([][]models.SourceItem, len(r.sources))
	errs := make([]error, len(r.sources))

	var g errgroup.Group
	g.SetLimit(r.cfg.FetchConcurrency)
	for i, src := range r.sources {
		g.Go(func() error {
			fetchCtx, cancel := r.fetchContext(ctx)
			defer cancel()
			limit := r.limitFor(src.Name())
			items, err := src.Fetch(fetchCtx, limit)
			if err != nil {
				errs[i] = err
				return nil
			}
			if limit > 0 && len(items) > limit {
				items = items[:limit]
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()

	var merged []models.SourceItem
	for i, src := range r.sources {
		if errs[i] != nil {
			logger.Warn("Source %s failed: %v", src.Name(), errs[i])
			sum.SourceFailures++
			sum.FailedSources = append(sum.FailedSources, src.Name())
			continue
		}
		logger.Debug("Source %s returned %d items", src.Name(), len(results[i]))
		merged = append(merged, results[i]...)
	}
	return merged
}

func (r *Runner) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.FetchTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.cfg.FetchTimeout)
}

func (r *Runner) limitFor(name string) int {
	limit := r.cfg.MaxItemsPerSource
	if l, ok := r.cfg.SourceLimits[name]; ok && l > 0 && (limit <= 0 || l < limit) {
		limit = l
	}
	return limit
}
