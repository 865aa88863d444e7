package jobs

import (
	"github.com/cuongbtq/plugin-quickstart/internal/jobs/domain"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "quickstart"

// Metrics holds the job collectors. A nil *Metrics records nothing.
type Metrics struct {
	submitted prometheus.Counter
	rejected  prometheus.Counter
	completed *prometheus.CounterVec
	inFlight  prometheus.Gauge
	duration  prometheus.Histogram
	cleaned   prometheus.Counter
}

// NewMetrics creates the job collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_submitted_total",
			Help:      "Jobs accepted for generation.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_rejected_total",
			Help:      "Jobs refused because the manager was shut down.",
		}),
		completed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "jobs_completed_total",
				Help:      "Completed jobs by completion status (OK/ERROR).",
			},
			[]string{"status"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_in_flight",
			Help:      "Jobs submitted whose outcome has not been published yet.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "job_duration_seconds",
			Help:      "Time from job start to completion.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		cleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_cleaned_total",
			Help:      "Job runs removed from the registry by the cleanup timer.",
		}),
	}

	reg.MustRegister(m.submitted, m.rejected, m.completed, m.inFlight, m.duration, m.cleaned)

	return m
}

func (m *Metrics) jobSubmitted() {
	if m == nil {
		return
	}
	m.submitted.Inc()
	m.inFlight.Inc()
}

func (m *Metrics) jobRejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

func (m *Metrics) jobCompleted(run domain.JobRun) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.completed.WithLabelValues(run.CompletionStatus()).Inc()
	if run.StartedTime > 0 {
		m.duration.Observe(float64(run.LastUpdatedTime-run.StartedTime) / 1000)
	}
}

// jobDiscarded records an outcome dropped because the manager was destroyed
func (m *Metrics) jobDiscarded() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}

func (m *Metrics) jobCleaned() {
	if m == nil {
		return
	}
	m.cleaned.Inc()
}
