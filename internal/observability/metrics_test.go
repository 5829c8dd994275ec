package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func testCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	return testutil.ToFloat64(c)
}

func TestNewMetricsRegistersWithoutPanic(t *testing.T) {
	require.NotPanics(t, func() {
		m := NewMetrics()
		m.ObserveSnapshot(0.42, 0.7, 55.5, false)
		m.ObserveSnapshot(0.1, 0.2, 10, true)
	})
}

func TestTicketsIssuedTotalLabelsIndependently(t *testing.T) {
	m := NewMetrics()
	m.TicketsIssuedTotal.WithLabelValues("true").Inc()
	m.TicketsIssuedTotal.WithLabelValues("false").Inc()
	m.TicketsIssuedTotal.WithLabelValues("false").Inc()

	require.Equal(t, float64(1), testCounterValue(t, m.TicketsIssuedTotal.WithLabelValues("true")))
	require.Equal(t, float64(2), testCounterValue(t, m.TicketsIssuedTotal.WithLabelValues("false")))
}
