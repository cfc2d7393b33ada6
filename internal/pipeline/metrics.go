package pipeline

import "github.com/prometheus/client_golang/prometheus"

var (
	pipelineBatches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netpulse",
		Name:      "pipeline_batches_total",
		Help:      "Total number of committed silver promotion batches.",
	})
	pipelineBatchFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netpulse",
		Name:      "pipeline_batch_failures_total",
		Help:      "Total number of batches that failed after exhausting retries.",
	})
	silverPromoted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netpulse",
		Name:      "silver_promoted_total",
		Help:      "Total number of bronze records promoted to silver.",
	})
	silverQuarantined = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netpulse",
		Name:      "silver_quarantined_total",
		Help:      "Total number of bronze records quarantined by validation.",
	})
	silverDuplicates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netpulse",
		Name:      "silver_duplicates_total",
		Help:      "Total number of bronze records skipped as already promoted.",
	})
	goldDeltasApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netpulse",
		Name:      "gold_deltas_total",
		Help:      "Total number of silver records folded into gold facts.",
	})
	goldDriftDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netpulse",
		Name:      "gold_drift_total",
		Help:      "Total number of gold fact rows found drifted by an audit.",
	})
	dimensionVersionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netpulse",
		Name:      "dimension_versions_total",
		Help:      "Total number of domain dimension versions created.",
	})
	sweeperEvicted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netpulse",
		Name:      "sweeper_evicted_total",
		Help:      "Total number of entries evicted by the retention sweeper.",
	}, []string{"tier"})
)

// InitMetrics registers the pipeline metrics with the default registry.
// The counters work unregistered, so tests can exercise the pipeline
// without calling this.
func InitMetrics() {
	prometheus.MustRegister(
		pipelineBatches,
		pipelineBatchFailures,
		silverPromoted,
		silverQuarantined,
		silverDuplicates,
		goldDeltasApplied,
		goldDriftDetected,
		dimensionVersionsCreated,
		sweeperEvicted,
	)
}
