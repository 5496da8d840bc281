package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the service's prometheus collectors. Constructed once in
// main and injected; each instance carries its own registry so tests can
// create throwaway instances freely.
type Metrics struct {
	Registry *prometheus.Registry

	ScorerOutcomes       *prometheus.CounterVec
	RecordsStored        prometheus.Counter
	ThresholdCacheHits   prometheus.Counter
	ThresholdCacheMisses prometheus.Counter
	JobsEnqueued         prometheus.Counter
	JobsDropped          prometheus.Counter
	JobsFailed           prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		Registry: registry,
		ScorerOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "revscore_scorer_outcomes_total",
			Help: "Per-item scorer outcomes by kind.",
		}, []string{"kind"}),
		RecordsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "revscore_records_stored_total",
			Help: "Classification records written to the store.",
		}),
		ThresholdCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "revscore_threshold_cache_hits_total",
			Help: "Threshold bound-set cache hits.",
		}),
		ThresholdCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "revscore_threshold_cache_misses_total",
			Help: "Threshold bound-set cache misses.",
		}),
		JobsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "revscore_fetch_jobs_enqueued_total",
			Help: "Background fetch jobs accepted by the queue.",
		}),
		JobsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "revscore_fetch_jobs_dropped_total",
			Help: "Background fetch jobs dropped because the queue was full or the per-request cap was hit.",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "revscore_fetch_jobs_failed_total",
			Help: "Background fetch jobs that ended with a hard failure.",
		}),
	}
}
