package observe

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts lifecycle events into prometheus collectors.
type Metrics struct {
	events          *prometheus.CounterVec
	steps           *prometheus.CounterVec
	stepAttempts    *prometheus.HistogramVec
	subPlans        *prometheus.CounterVec
	subPlanDuration prometheus.Histogram
}

// NewMetrics registers the collectors on reg. A nil reg uses the default
// registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Lifecycle events emitted by the executor",
		}, []string{"kind"}),
		steps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Executed steps by action type and result",
		}, []string{"type", "result"}),
		stepAttempts: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_attempts",
			Help:      "Attempts used per executed step",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}, []string{"type"}),
		subPlans: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sub_plans_total",
			Help:      "Finished sub-plans by result",
		}, []string{"result"}),
		subPlanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sub_plan_duration_seconds",
			Help:      "Wall time of sub-plan execution",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
}

func (m *Metrics) Observe(e Event) {
	m.events.WithLabelValues(string(e.Kind)).Inc()
	switch e.Kind {
	case StepComplete, StepError:
		m.steps.WithLabelValues(e.StepType.String(), result(e.Success)).Inc()
		if e.Attempts > 0 {
			m.stepAttempts.WithLabelValues(e.StepType.String()).Observe(float64(e.Attempts))
		}
	case SubPlanComplete:
		m.subPlans.WithLabelValues(result(e.Success)).Inc()
		m.subPlanDuration.Observe(e.Duration.Seconds())
	}
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
