package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsEnqueued     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "enforcement_jobs_enqueued_total", Help: "Jobs enqueued by kind"}, []string{"kind"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "enforcement_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	StageTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "enforcement_stage_transitions_total", Help: "Accepted stage transitions by target stage"}, []string{"stage"})
	TasksGenerated   = prometheus.NewCounter(prometheus.CounterOpts{Name: "enforcement_tasks_generated_total", Help: "Tasks created by the rule engine"})
	CallsLogged      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "enforcement_calls_logged_total", Help: "Call attempts logged by outcome"}, []string{"outcome"})
	WorkerSuccess    = prometheus.NewCounter(prometheus.CounterOpts{Name: "enforcement_jobs_completed_total", Help: "Jobs completed successfully"})
	WorkerFailures   = prometheus.NewCounter(prometheus.CounterOpts{Name: "enforcement_jobs_failed_total", Help: "Jobs that failed and will retry"})
	WorkerDeadLetter = prometheus.NewCounter(prometheus.CounterOpts{Name: "enforcement_jobs_dead_letter_total", Help: "Jobs moved to the DLQ"})
	LeasesReclaimed  = prometheus.NewCounter(prometheus.CounterOpts{Name: "enforcement_leases_reclaimed_total", Help: "Expired leases requeued for redelivery"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "enforcement_queue_depth", Help: "Ready queue depth across kinds"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "enforcement_jobs_inflight", Help: "Jobs currently leased"})
	SnapshotUploads  = prometheus.NewCounter(prometheus.CounterOpts{Name: "enforcement_snapshot_uploads_total", Help: "Pipeline snapshots archived"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsEnqueued,
			RateLimitRejects,
			StageTransitions,
			TasksGenerated,
			CallsLogged,
			WorkerSuccess,
			WorkerFailures,
			WorkerDeadLetter,
			LeasesReclaimed,
			QueueDepthGauge,
			InFlightGauge,
			SnapshotUploads,
		)
	})
	return promhttp.Handler()
}
