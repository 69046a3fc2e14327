// Package coordinator implements C6: it periodically fetches pending
// settlements from the external settlements service, partitions them by
// outcome, packs size-bounded batches, and fans them out round-robin over
// per-worker channels. Ported from the original processor's coordinator,
// traded for a context/WaitGroup goroutine in the teacher's batch-processor
// idiom instead of tokio tasks.
package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/reecen9696/atomiq-bet-settlement/internal/metrics"
	"github.com/reecen9696/atomiq-bet-settlement/internal/settlement"
	"github.com/reecen9696/atomiq-bet-settlement/internal/settlementsclient"
)

// Config matches §9's COORDINATOR_* knobs.
type Config struct {
	PollInterval       time.Duration
	SettlementPageSize int
	BatchMinSize       int
	BatchMaxSize       int
	ChannelBufferSize  int
}

// Coordinator owns the fetch-partition-pack-distribute cycle.
type Coordinator struct {
	client  *settlementsclient.Client
	cfg     Config
	logger  *zap.Logger
	workers []chan *settlement.Batch
	metrics *metrics.Collectors

	nextWorker atomic.Uint64
}

// New builds a coordinator fanning out to workerCount channels, each
// buffered to cfg.ChannelBufferSize. collectors may be nil, in which case
// cycle/batch counts are simply not recorded.
func New(logger *zap.Logger, client *settlementsclient.Client, cfg Config, workerCount int, collectors *metrics.Collectors) *Coordinator {
	workers := make([]chan *settlement.Batch, workerCount)
	for i := range workers {
		workers[i] = make(chan *settlement.Batch, cfg.ChannelBufferSize)
	}
	return &Coordinator{client: client, cfg: cfg, logger: logger, workers: workers, metrics: collectors}
}

// WorkChannel returns the channel a settlement worker with the given index
// should read batches from.
func (c *Coordinator) WorkChannel(workerIndex int) <-chan *settlement.Batch {
	return c.workers[workerIndex]
}

// Run polls on cfg.PollInterval until ctx is canceled, then closes every
// worker channel so workers can drain and exit.
func (c *Coordinator) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer c.closeChannels()

	c.logger.Info("coordinator starting",
		zap.Duration("poll_interval", c.cfg.PollInterval),
		zap.Int("worker_count", len(c.workers)),
		zap.Int("batch_min", c.cfg.BatchMinSize),
		zap.Int("batch_max", c.cfg.BatchMaxSize),
	)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("coordinator stopping")
			return
		case <-ticker.C:
			start := time.Now()
			if err := c.processCycle(ctx); err != nil {
				c.logger.Error("coordinator cycle failed", zap.Error(err))
			}
			c.logger.Info("coordinator cycle completed", zap.Duration("elapsed", time.Since(start)))
		}
	}
}

func (c *Coordinator) closeChannels() {
	for _, ch := range c.workers {
		close(ch)
	}
}

func (c *Coordinator) processCycle(ctx context.Context) error {
	if c.metrics != nil {
		c.metrics.CoordinatorCycle()
	}

	settlements, err := c.client.FetchPending(ctx, c.cfg.SettlementPageSize)
	if err != nil {
		return err
	}
	if len(settlements) == 0 {
		c.logger.Debug("no pending settlements found")
		return nil
	}
	c.logger.Info("fetched pending settlements", zap.Int("count", len(settlements)))

	wins, losses := groupByOutcome(c.logger, settlements)
	c.logger.Info("grouped settlements by outcome", zap.Int("wins", len(wins)), zap.Int("losses", len(losses)))

	batches := make([]*settlement.Batch, 0, len(wins)/c.cfg.BatchMaxSize+len(losses)/c.cfg.BatchMaxSize+2)
	batches = append(batches, c.pack(wins, settlement.BatchTypePayout)...)
	batches = append(batches, c.pack(losses, settlement.BatchTypeSpend)...)

	c.logger.Info("created settlement batches", zap.Int("total_batches", len(batches)))

	distributed := 0
	for _, b := range batches {
		if c.sendToWorker(ctx, b) {
			distributed++
			if c.metrics != nil {
				c.metrics.CoordinatorBatch(string(b.Type))
			}
		}
	}
	c.logger.Info("work distribution completed", zap.Int("distributed_batches", distributed))
	return nil
}

func groupByOutcome(logger *zap.Logger, settlements []settlement.Settlement) (wins, losses []settlement.Settlement) {
	for _, s := range settlements {
		switch s.Outcome {
		case settlement.OutcomeWin:
			wins = append(wins, s)
		case settlement.OutcomeLoss:
			losses = append(losses, s)
		default:
			logger.Warn("unknown outcome type, skipping", zap.Uint64("transaction_id", s.TransactionID), zap.String("outcome", string(s.Outcome)))
		}
	}
	return wins, losses
}

// pack greedily fills batches up to BatchMaxSize; a remainder shorter than
// BatchMinSize merges into the last full batch instead of standing alone,
// unless it is the only batch produced this cycle.
func (c *Coordinator) pack(settlements []settlement.Settlement, batchType settlement.BatchType) []*settlement.Batch {
	if len(settlements) == 0 {
		return nil
	}

	var batches []*settlement.Batch
	var current []settlement.Settlement

	for _, s := range settlements {
		current = append(current, s)
		if len(current) >= c.cfg.BatchMaxSize {
			batches = append(batches, newBatch(current, batchType))
			current = nil
		}
	}

	if len(current) > 0 {
		if len(current) >= c.cfg.BatchMinSize || len(batches) == 0 {
			batches = append(batches, newBatch(current, batchType))
		} else {
			last := batches[len(batches)-1]
			last.Settlements = append(last.Settlements, current...)
		}
	}

	return batches
}

func newBatch(settlements []settlement.Settlement, batchType settlement.BatchType) *settlement.Batch {
	cp := make([]settlement.Settlement, len(settlements))
	copy(cp, settlements)
	return &settlement.Batch{ID: ksuid.New().String(), Type: batchType, Settlements: cp}
}

// sendToWorker round-robins across worker channels. A blocked worker (full
// channel) is not waited on indefinitely: the send respects ctx so a
// shutdown in progress does not hang the coordinator.
func (c *Coordinator) sendToWorker(ctx context.Context, batch *settlement.Batch) bool {
	idx := int(c.nextWorker.Add(1)-1) % len(c.workers)
	select {
	case c.workers[idx] <- batch:
		c.logger.Debug("batch sent to worker",
			zap.Int("worker_index", idx),
			zap.String("batch_id", batch.ID),
			zap.Int("settlement_count", len(batch.Settlements)),
		)
		return true
	case <-ctx.Done():
		return false
	}
}
