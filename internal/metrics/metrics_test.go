package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestCounter() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter"})
}

func newTestGauge() prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge"})
}

func TestCoordinatorCycleIncrementsCounter(t *testing.T) {
	c := &Collectors{coordinatorCycles: newTestCounter()}
	c.CoordinatorCycle()
	assert.Equal(t, float64(1), testutil.ToFloat64(c.coordinatorCycles))
}

func TestClaimableDepthGaugeReportsLastValue(t *testing.T) {
	c := &Collectors{claimableDepth: newTestGauge()}
	c.SetClaimableDepth(42)
	assert.Equal(t, float64(42), testutil.ToFloat64(c.claimableDepth))
}
