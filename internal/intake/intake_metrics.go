package intake

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus instruments for ingestion.
type Metrics struct {
	IngestedTotal   *prometheus.CounterVec
	DuplicatesTotal *prometheus.CounterVec
	FailuresTotal   *prometheus.CounterVec
	ConfidenceTotal *prometheus.CounterVec
	RetriesTotal    prometheus.Counter
	RunDuration     prometheus.Histogram
}

// NewMetrics creates and registers the ingestion metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IngestedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "i4g_intake_ingested_total",
			Help: "Cases ingested, by dataset.",
		}, []string{"dataset"}),
		DuplicatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "i4g_intake_duplicates_total",
			Help: "Submissions rejected as duplicates, by dataset.",
		}, []string{"dataset"}),
		FailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "i4g_intake_failures_total",
			Help: "Submissions that failed ingestion, by dataset.",
		}, []string{"dataset"}),
		ConfidenceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "i4g_intake_fraud_confidence_total",
			Help: "Ingested cases by dataset and fraud confidence bucket.",
		}, []string{"dataset", "bucket"}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "i4g_intake_retries_total",
			Help: "Failed submissions replayed from the retry queue.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "i4g_intake_run_duration_seconds",
			Help:    "Wall-clock duration of ingestion runs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	reg.MustRegister(m.IngestedTotal, m.DuplicatesTotal, m.FailuresTotal, m.ConfidenceTotal, m.RetriesTotal, m.RunDuration)
	return m
}

// ConfidenceBucket maps a fraud confidence score to a review bucket.
func ConfidenceBucket(confidence float64) string {
	switch {
	case confidence < 0.4:
		return "very_low"
	case confidence < 0.6:
		return "low"
	case confidence < 0.8:
		return "medium"
	case confidence < 0.9:
		return "high"
	default:
		return "very_high"
	}
}
