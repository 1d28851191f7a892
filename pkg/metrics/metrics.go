// Package metrics provides a Prometheus-backed implementation of the
// queue.MetricsRecorder interface for tracking job lifecycle events.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/queueworks/jobq/pkg/queue"
)

// Compile-time interface check.
var _ queue.MetricsRecorder = (*Recorder)(nil)

// Recorder tracks claim rates, in-flight executions, and terminal transitions
// by status.
type Recorder struct {
	claimed   prometheus.Counter
	inFlight  prometheus.Gauge
	finalized *prometheus.CounterVec
}

// NewRecorder creates a Recorder and registers its collectors with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		claimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jobq",
			Name:      "jobs_claimed_total",
			Help:      "Number of jobs claimed from the queue store.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jobq",
			Name:      "jobs_in_flight",
			Help:      "Number of handler executions currently in flight.",
		}),
		finalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobq",
			Name:      "jobs_finalized_total",
			Help:      "Number of jobs finalized, by terminal status.",
		}, []string{"status"}),
	}
	reg.MustRegister(r.claimed, r.inFlight, r.finalized)
	return r
}

func (r *Recorder) JobsClaimed(n int) {
	r.claimed.Add(float64(n))
}

func (r *Recorder) JobStarted() {
	r.inFlight.Inc()
}

func (r *Recorder) JobFinished() {
	r.inFlight.Dec()
}

func (r *Recorder) JobFinalized(status queue.JobStatus) {
	r.finalized.WithLabelValues(string(status)).Inc()
}
