package dossier

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus instruments for dossier generation.
type Metrics struct {
	GeneratedTotal     prometheus.Counter
	FailedTotal        prometheus.Counter
	GenerateDuration   prometheus.Histogram
	VerificationsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the dossier metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		GeneratedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "i4g_dossier_generated_total",
			Help: "Dossier plans generated successfully.",
		}),
		FailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "i4g_dossier_failed_total",
			Help: "Dossier plans that failed generation.",
		}),
		GenerateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "i4g_dossier_generate_duration_seconds",
			Help:    "Wall-clock duration of dossier generation.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		VerificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "i4g_dossier_verifications_total",
			Help: "Manifest verification passes, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.GeneratedTotal, m.FailedTotal, m.GenerateDuration, m.VerificationsTotal)
	return m
}
