// Package metrics provides Prometheus metrics for moderation jobs.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ModerationMetrics contains all Prometheus metrics related to moderation jobs.
// A nil *ModerationMetrics is valid and records nothing.
type ModerationMetrics struct {
	JobsSubmitted   *prometheus.CounterVec
	Verdicts        *prometheus.CounterVec
	JobErrors       *prometheus.CounterVec
	Polls           *prometheus.CounterVec
	BudgetExhausted prometheus.Counter
	JobsInFlight    prometheus.Gauge
	JobDuration     *prometheus.HistogramVec
}

// NewModerationMetrics creates and registers the metrics on registry.
func NewModerationMetrics(registry prometheus.Registerer) (*ModerationMetrics, error) {
	m := &ModerationMetrics{
		JobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_jobs_submitted_total",
			Help: "Total number of moderation jobs dispatched, by media type",
		}, []string{"media"}),
		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_verdicts_total",
			Help: "Total number of terminal moderation records written, by media type and status",
		}, []string{"media", "status"}),
		JobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_job_errors_total",
			Help: "Total number of moderation jobs that ended with an error, by kind",
		}, []string{"kind"}),
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_polls_total",
			Help: "Total number of async job polls, by returned job status",
		}, []string{"status"}),
		BudgetExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moderation_poll_budget_exhausted_total",
			Help: "Total number of video jobs left IN_PROGRESS because the poll budget ran out",
		}),
		JobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "moderation_jobs_in_flight",
			Help: "Number of video jobs currently being polled",
		}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "moderation_job_duration_seconds",
			Help:    "Time from dispatch to terminal write",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 13),
		}, []string{"media"}),
	}

	for _, c := range []prometheus.Collector{
		m.JobsSubmitted, m.Verdicts, m.JobErrors, m.Polls,
		m.BudgetExhausted, m.JobsInFlight, m.JobDuration,
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register moderation metrics: %w", err)
		}
	}
	return m, nil
}

func (m *ModerationMetrics) Submitted(media string) {
	if m == nil {
		return
	}
	m.JobsSubmitted.WithLabelValues(media).Inc()
}

func (m *ModerationMetrics) Verdict(media, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Verdicts.WithLabelValues(media, status).Inc()
	m.JobDuration.WithLabelValues(media).Observe(elapsed.Seconds())
}

func (m *ModerationMetrics) Error(kind string) {
	if m == nil {
		return
	}
	m.JobErrors.WithLabelValues(kind).Inc()
}

func (m *ModerationMetrics) Poll(status string) {
	if m == nil {
		return
	}
	m.Polls.WithLabelValues(status).Inc()
}

func (m *ModerationMetrics) Exhausted() {
	if m == nil {
		return
	}
	m.BudgetExhausted.Inc()
}

// PollerStarted increments the in-flight gauge and returns the matching decrement.
func (m *ModerationMetrics) PollerStarted() func() {
	if m == nil {
		return func() {}
	}
	m.JobsInFlight.Inc()
	return m.JobsInFlight.Dec
}
