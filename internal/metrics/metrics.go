package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Group command pipeline
	CommandsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secure_groups_commands_applied_total",
			Help: "Group control commands applied, by kind",
		},
		[]string{"kind"},
	)

	CommandsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secure_groups_commands_rejected_total",
			Help: "Group control commands dropped as invalid, by kind",
		},
		[]string{"kind"},
	)

	// Recovery log
	RecoveryEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secure_groups_recovery_entries_total",
			Help: "Recovery log entries by outcome (appended, replayed, failed, skipped, dropped)",
		},
		[]string{"outcome"},
	)

	// Job queue
	JobsRun = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secure_groups_jobs_total",
			Help: "Jobs run by variant and outcome",
		},
		[]string{"variant", "outcome"},
	)

	SwarmRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "secure_groups_swarm_request_duration_seconds",
			Help:    "Swarm request latency by method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(CommandsApplied)
	prometheus.MustRegister(CommandsRejected)
	prometheus.MustRegister(RecoveryEntries)
	prometheus.MustRegister(JobsRun)
	prometheus.MustRegister(SwarmRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation for a histogram
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed seconds on o
func (t *Timer) ObserveDuration(o prometheus.Observer) {
	o.Observe(t.Duration().Seconds())
}
