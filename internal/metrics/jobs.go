package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		jobsSubmittedTotal,
		jobsFinishedTotal,
		jobDurationSeconds,
		jobsReapedTotal,
		jobsInFlight,
	)
}

var (
	jobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wordai_jobs_submitted_total",
			Help: "Jobs accepted into the queue by type and billing.",
		},
		[]string{"job_type", "billing"},
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wordai_jobs_finished_total",
			Help: "Jobs reaching a terminal status by type, status and error kind.",
		},
		[]string{"job_type", "status", "error_kind"},
	)

	jobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wordai_job_duration_seconds",
			Help:    "Handler wall time from claim to terminal update.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 240, 600},
		},
		[]string{"job_type", "status"},
	)

	jobsReapedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wordai_jobs_reaped_total",
			Help: "Stale processing jobs recovered by the reaper (requeued/failed).",
		},
		[]string{"outcome"},
	)

	jobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wordai_jobs_in_flight",
			Help: "Jobs currently executing in this process.",
		},
	)
)

func IncJobSubmitted(jobType, billing string) {
	jobsSubmittedTotal.WithLabelValues(norm(jobType), norm(billing)).Inc()
}

func ObserveJobFinished(jobType, status, errorKind string, took time.Duration) {
	jobsFinishedTotal.WithLabelValues(norm(jobType), norm(status), norm(errorKind)).Inc()
	jobDurationSeconds.WithLabelValues(norm(jobType), norm(status)).Observe(took.Seconds())
}

func AddJobsReaped(outcome string, n int) {
	if n <= 0 {
		return
	}
	jobsReapedTotal.WithLabelValues(norm(outcome)).Add(float64(n))
}

func JobStarted()  { jobsInFlight.Inc() }
func JobFinished() { jobsInFlight.Dec() }
