package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IncrementDonationOp("convert", "ok")
	m.IncrementConflict("convert")
	m.IncrementExtraction("lenient", "model")
	m.ObserveModelLatency("lenient", "ok", time.Second)
	m.AddExpired(3)
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncrementDonationOp("convert", "ok")
	m.IncrementDonationOp("convert", "ok")
	m.IncrementDonationOp("convert", "EXPIRED")
	m.AddExpired(4)
	m.AddExpired(0)

	if got := testutil.ToFloat64(m.DonationOps.WithLabelValues("convert", "ok")); got != 2 {
		t.Errorf("expected 2 ok conversions, got %v", got)
	}
	if got := testutil.ToFloat64(m.ExpiredMedicines); got != 4 {
		t.Errorf("expected 4 expired, got %v", got)
	}

	// Registering twice on the same registry must fail loudly.
	defer func() {
		if recover() == nil {
			t.Error("expected duplicate registration to panic")
		}
	}()
	New(reg)
}
