// Package metrics collects the domain-level Prometheus series that are not
// already registered next to the component that owns them (breaker trips
// live in internal/breaker, completion retries in internal/settlementworker,
// reconciliation outcomes in internal/reconcile). This package covers the
// cross-cutting counts: coordinator cycles, bet worker throughput, and
// queue depth gauges set through SetClaimableDepth/SetProcessingDepth
// (main does not sample the queue, so nothing in the program sets them
// today), following the
// teacher's internal/metrics/websocket_metrics.go shape of one struct per
// concern with its own Record* methods.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors bundles the registered series and is threaded into the
// coordinator and bet worker pool constructors.
type Collectors struct {
	coordinatorCycles    prometheus.Counter
	coordinatorBatches   *prometheus.CounterVec
	betChunksSubmitted   prometheus.Counter
	betChunksFailed      prometheus.Counter
	claimableDepth       prometheus.Gauge
	processingDepth      prometheus.Gauge
}

// New builds and registers every series against the default registry.
func New() *Collectors {
	c := &Collectors{
		coordinatorCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coordinator_cycles_total",
			Help: "Number of settlement fetch/pack/fan-out cycles completed.",
		}),
		coordinatorBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_batches_total",
			Help: "Settlement batches packed, by type.",
		}, []string{"type"}),
		betChunksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bet_chunks_submitted_total",
			Help: "Bet chunks successfully submitted to the chain gateway.",
		}),
		betChunksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bet_chunks_failed_total",
			Help: "Bet chunks that failed submission.",
		}),
		claimableDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queue_claimable_depth",
			Help: "Most recently sampled size of the claimable bet index.",
		}),
		processingDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queue_processing_depth",
			Help: "Most recently sampled size of the processing bet index.",
		}),
	}

	prometheus.MustRegister(
		c.coordinatorCycles,
		c.coordinatorBatches,
		c.betChunksSubmitted,
		c.betChunksFailed,
		c.claimableDepth,
		c.processingDepth,
	)
	return c
}

func (c *Collectors) CoordinatorCycle() { c.coordinatorCycles.Inc() }

func (c *Collectors) CoordinatorBatch(batchType string) {
	c.coordinatorBatches.WithLabelValues(batchType).Inc()
}

func (c *Collectors) BetChunkSubmitted() { c.betChunksSubmitted.Inc() }

func (c *Collectors) BetChunkFailed() { c.betChunksFailed.Inc() }

func (c *Collectors) SetClaimableDepth(n float64) { c.claimableDepth.Set(n) }

func (c *Collectors) SetProcessingDepth(n float64) { c.processingDepth.Set(n) }
