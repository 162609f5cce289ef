package review

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus instruments for the review queue.
type Metrics struct {
	EnqueuedTotal    *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec
	EscalationsTotal prometheus.Counter
	ActionsTotal     *prometheus.CounterVec
}

// NewMetrics creates and registers the review metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EnqueuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "i4g_review_enqueued_total",
			Help: "Cases enqueued for analyst review, by priority.",
		}, []string{"priority"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "i4g_review_transitions_total",
			Help: "Review status transitions, by resulting status.",
		}, []string{"status"}),
		EscalationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "i4g_review_escalations_total",
			Help: "Reviews escalated to a supervisor.",
		}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "i4g_review_actions_total",
			Help: "Audit-trail actions recorded, by action name.",
		}, []string{"action"}),
	}
	reg.MustRegister(m.EnqueuedTotal, m.TransitionsTotal, m.EscalationsTotal, m.ActionsTotal)
	return m
}
