// Package metrics turns cycle summaries into Prometheus metrics and writes
// them in the node_exporter textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rewired-gh/eventoracle/internal/cycle"
)

const namespace = "eventoracle"

// Recorder holds the pipeline metrics on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	items          *prometheus.CounterVec
	sourceFailures *prometheus.CounterVec
	proposals      *prometheus.CounterVec
	oracleFailures *prometheus.CounterVec
	events         prometheus.Counter
	predictions    prometheus.Counter
	locked         prometheus.Counter
	resolutions    *prometheus.CounterVec
	pending        prometheus.Gauge
	cycleDur       prometheus.Summary
	cycles         *prometheus.CounterVec
	lastSuccessTS  prometheus.Gauge

	now func() time.Time
}

// NewRecorder creates a recorder with every metric registered.
func NewRecorder() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry(), now: time.Now}

	r.items = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "items_total",
		Help:      "Fetched items by ingest outcome",
	}, []string{"outcome"})
	r.sourceFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_failures_total",
		Help:      "Failed source fetches by source name",
	}, []string{"source"})
	r.proposals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proposals_total",
		Help:      "Proposals created and judged by decision",
	}, []string{"status"})
	r.oracleFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "oracle_failures_total",
		Help:      "Failed oracle calls by stage and failure kind",
	}, []string{"stage", "kind"})
	r.events = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_created_total",
		Help:      "Events created from accepted proposals",
	})
	r.predictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "predictions_total",
		Help:      "Predictions emitted",
	})
	r.locked = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_locked_total",
		Help:      "Active events locked after their expected close time",
	})
	r.resolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolutions_total",
		Help:      "Resolution checks of locked events by status",
	}, []string{"status"})
	r.pending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_proposals",
		Help:      "Proposals still pending after the last cycle",
	})
	r.cycleDur = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Time spent running a cycle",
	})
	r.cycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Completed cycles by status",
	}, []string{"status"})
	r.lastSuccessTS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last cycle that finished without a persistence error",
	})

	r.registry.MustRegister(
		r.items, r.sourceFailures, r.proposals, r.oracleFailures,
		r.events, r.predictions, r.locked, r.resolutions, r.pending, r.cycleDur, r.cycles, r.lastSuccessTS,
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Observe records a cycle. A non-nil err marks the cycle failed; the partial
// counts in sum are still recorded.
func (r *Recorder) Observe(sum cycle.Summary, err error) {
	r.items.WithLabelValues("ingested").Add(float64(sum.ItemsIngested))
	r.items.WithLabelValues("duplicate").Add(float64(sum.ItemsDuplicate))
	r.items.WithLabelValues("skipped").Add(float64(sum.ItemsSkipped))
	for _, name := range sum.FailedSources {
		r.sourceFailures.WithLabelValues(name).Inc()
	}

	r.proposals.WithLabelValues("created").Add(float64(sum.ProposalsCreated))
	r.proposals.WithLabelValues("accepted").Add(float64(sum.Accepted))
	r.proposals.WithLabelValues("rejected").Add(float64(sum.Rejected))

	r.oracleFailures.WithLabelValues("judge", "validation").Add(float64(sum.JudgeFailures.Validation))
	r.oracleFailures.WithLabelValues("judge", "backend").Add(float64(sum.JudgeFailures.Backend))
	r.oracleFailures.WithLabelValues("assess", "validation").Add(float64(sum.AssessFailures.Validation))
	r.oracleFailures.WithLabelValues("assess", "backend").Add(float64(sum.AssessFailures.Backend))
	r.oracleFailures.WithLabelValues("resolve", "validation").Add(float64(sum.ResolveFailures.Validation))
	r.oracleFailures.WithLabelValues("resolve", "backend").Add(float64(sum.ResolveFailures.Backend))

	r.events.Add(float64(sum.EventsCreated))
	r.predictions.Add(float64(sum.PredictionsEmitted))
	r.locked.Add(float64(sum.EventsLocked))
	r.resolutions.WithLabelValues("resolved").Add(float64(sum.EventsResolved))
	r.resolutions.WithLabelValues("open").Add(float64(sum.ResolutionsOpen))
	r.resolutions.WithLabelValues("contradicted").Add(float64(sum.ResolutionsContradicted))
	r.cycleDur.Observe(sum.Duration.Seconds())

	if err != nil {
		r.cycles.WithLabelValues("error").Inc()
		return
	}
	r.pending.Set(float64(sum.PendingRemaining))
	r.cycles.WithLabelValues("ok").Inc()
	r.lastSuccessTS.Set(float64(r.now().Unix()))
}

// WriteTextfile writes the current metrics to path. An empty path is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
