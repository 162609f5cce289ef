package pii

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the PII vault.
type Metrics struct {
	TokenizationsTotal *prometheus.CounterVec
	TokenizedBytes     *prometheus.CounterVec
	TokenCollisions    prometheus.Counter
	DetokAttemptsTotal *prometheus.CounterVec
	DetokAlertsTotal   *prometheus.CounterVec
	RequestsTotal      *prometheus.CounterVec
}

// NewMetrics registers and returns vault metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TokenizationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "i4g_pii_tokenizations_total",
			Help: "Total tokenized values by prefix and detector.",
		}, []string{"prefix", "detector"}),
		TokenizedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "i4g_pii_tokenized_bytes_total",
			Help: "Raw bytes examined during tokenization.",
		}, []string{"prefix"}),
		TokenCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "i4g_pii_token_collisions_total",
			Help: "Digest-prefix collisions resolved by disambiguation.",
		}),
		DetokAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "i4g_pii_detokenization_attempts_total",
			Help: "Detokenization attempts by actor outcome.",
		}, []string{"outcome"}),
		DetokAlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "i4g_pii_detokenization_alerts_total",
			Help: "Unusual detokenization access alerts by severity.",
		}, []string{"severity"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "i4g_pii_detok_requests_total",
			Help: "Detokenization requests by resulting status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.TokenizationsTotal,
		m.TokenizedBytes,
		m.TokenCollisions,
		m.DetokAttemptsTotal,
		m.DetokAlertsTotal,
		m.RequestsTotal,
	)

	return m
}
