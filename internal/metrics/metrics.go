package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the donation lifecycle, the intake
// pipeline and the expiry sweeper. A nil *Metrics records nothing.
type Metrics struct {
	// Lifecycle operation outcomes by operation and result code ("ok" on success).
	DonationOps *prometheus.CounterVec

	// Storage conflicts seen by the lifecycle manager, by operation.
	Conflicts *prometheus.CounterVec

	// Extraction results by producing stage and source.
	Extractions *prometheus.CounterVec

	// Vision model call latency by stage and result.
	ModelLatency *prometheus.HistogramVec

	// Medicines flipped to EXPIRED by the sweeper.
	ExpiredMedicines prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DonationOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "healthsync_donation_operations_total",
			Help: "Donation lifecycle operations by operation and result code",
		}, []string{"operation", "code"}),

		Conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "healthsync_donation_conflicts_total",
			Help: "Optimistic concurrency conflicts by operation",
		}, []string{"operation"}),

		Extractions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "healthsync_intake_extractions_total",
			Help: "Image extractions by producing stage and source",
		}, []string{"stage", "source"}), // source: "model", "fallback"

		ModelLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "healthsync_intake_model_duration_seconds",
			Help:    "Duration of vision model calls by stage and result",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"stage", "result"}), // result: "ok", "error", "unparseable"

		ExpiredMedicines: f.NewCounter(prometheus.CounterOpts{
			Name: "healthsync_medicines_expired_total",
			Help: "Medicines marked EXPIRED by the expiry sweeper",
		}),
	}
}

// IncrementDonationOp records the outcome of a lifecycle operation.
func (m *Metrics) IncrementDonationOp(operation, code string) {
	if m != nil {
		m.DonationOps.WithLabelValues(operation, code).Inc()
	}
}

// IncrementConflict records a storage conflict.
func (m *Metrics) IncrementConflict(operation string) {
	if m != nil {
		m.Conflicts.WithLabelValues(operation).Inc()
	}
}

// IncrementExtraction records a finished extraction.
func (m *Metrics) IncrementExtraction(stage, source string) {
	if m != nil {
		m.Extractions.WithLabelValues(stage, source).Inc()
	}
}

// ObserveModelLatency records the duration of one model call.
func (m *Metrics) ObserveModelLatency(stage, result string, d time.Duration) {
	if m != nil {
		m.ModelLatency.WithLabelValues(stage, result).Observe(d.Seconds())
	}
}

// AddExpired records medicines flipped to EXPIRED.
func (m *Metrics) AddExpired(n int64) {
	if m != nil && n > 0 {
		m.ExpiredMedicines.Add(float64(n))
	}
}
