// Package betworker implements C8: a pool of workers that independently
// drain the claimable queue (C3), pack claimed bets into transaction-sized
// chunks, submit each chunk via the chain gateway (C1) behind a
// per-worker circuit breaker (C5), and report outcomes back to C3.
package betworker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/reecen9696/atomiq-bet-settlement/internal/bet"
	"github.com/reecen9696/atomiq-bet-settlement/internal/breaker"
	"github.com/reecen9696/atomiq-bet-settlement/internal/chain"
	"github.com/reecen9696/atomiq-bet-settlement/internal/metrics"
	"github.com/reecen9696/atomiq-bet-settlement/internal/queue"
)

// Config carries the per-tick knobs from §4.4.
type Config struct {
	BatchInterval time.Duration
	BatchSize     int
	MaxBetsPerTx  int
}

// Worker claims, chunks, submits, and reports for one slot in the pool.
type Worker struct {
	ID       string
	Store    queue.Store
	Chain    *chain.Gateway
	Breakers *breaker.Factory
	Cfg      Config
	Retry    RetryPolicy
	Logger   *zap.Logger
	Metrics  *metrics.Collectors
}

// RetryPolicy is the minimal surface betworker needs from retry.Policy,
// kept narrow so this package does not need to know about bet-side backoff
// internals beyond the values the store's script already consumes.
type RetryPolicy struct {
	MaxRetries int
	BackoffMs  int64
	BackoffMax int64
}

// Run ticks every Cfg.BatchInterval until ctx is canceled.
func (w *Worker) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	w.Logger.Info("bet worker starting", zap.String("worker_id", w.ID), zap.Duration("batch_interval", w.Cfg.BatchInterval))

	ticker := time.NewTicker(w.Cfg.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Logger.Info("bet worker stopping", zap.String("worker_id", w.ID))
			return
		case <-ticker.C:
			w.tick(ctx)
			w.Chain.HealthCheckAll(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	breakerName := "bet-worker:" + w.ID
	if w.Breakers.State(breakerName) == gobreaker.StateOpen {
		w.Logger.Debug("circuit breaker open, skipping tick", zap.String("worker_id", w.ID))
		return
	}

	_, bets, err := w.Store.ClaimPending(ctx, w.Cfg.BatchSize, w.ID)
	if err != nil {
		w.Logger.Error("claim pending failed", zap.String("worker_id", w.ID), zap.Error(err))
		return
	}
	if len(bets) == 0 {
		return
	}

	chunks := chunk(bets, w.Cfg.MaxBetsPerTx)
	for _, c := range chunks {
		if err := w.submitChunk(ctx, breakerName, c); err != nil {
			w.Logger.Warn("chunk submission aborted; leftover chunks remain in processing",
				zap.String("worker_id", w.ID), zap.Error(err))
			break
		}
	}
}

// submitChunk validates wallets, submits via the circuit breaker, and
// reports per-bet outcomes.
func (w *Worker) submitChunk(ctx context.Context, breakerName string, chunk []*bet.Bet) error {
	for _, b := range chunk {
		if b.VaultAddress == "" || b.UserWallet == "" {
			return fmt.Errorf("%w: malformed wallet identifier for bet %s", bet.ErrValidation, b.ID)
		}
	}

	var signature string
	var results []chain.BetResult
	err := w.Breakers.Execute(ctx, breakerName, func(ctx context.Context) error {
		var submitErr error
		signature, results, submitErr = w.Chain.SubmitBetBatch(ctx, chunk)
		return submitErr
	})

	if err != nil {
		if w.Metrics != nil {
			w.Metrics.BetChunkFailed()
		}
		w.reportChunkFailure(ctx, chunk, err)
		return err
	}

	if w.Metrics != nil {
		w.Metrics.BetChunkSubmitted()
	}
	w.reportChunkSuccess(ctx, signature, results)
	return nil
}

func (w *Worker) reportChunkSuccess(ctx context.Context, signature string, results []chain.BetResult) {
	for _, r := range results {
		won := r.Won
		payout := r.PayoutAmount
		if err := w.Store.UpdateStatus(ctx, r.BetID, bet.StatusSubmittedToSolana, &signature); err != nil {
			w.Logger.Error("failed to record submitted status", zap.String("bet_id", r.BetID.String()), zap.Error(err))
			continue
		}
		if err := w.Store.CompleteBet(ctx, r.BetID, signature, &won, &payout); err != nil {
			w.Logger.Error("failed to record completed status", zap.String("bet_id", r.BetID.String()), zap.Error(err))
			continue
		}
		w.Logger.Info("bet completed", zap.String("bet_id", r.BetID.String()), zap.Bool("won", won), zap.Int64("payout_amount", payout))
	}
}

func (w *Worker) reportChunkFailure(ctx context.Context, chunk []*bet.Bet, submitErr error) {
	errMsg := submitErr.Error()
	policy := queue.RetryPolicy{MaxRetries: w.Retry.MaxRetries, BackoffMs: w.Retry.BackoffMs, BackoffMax: w.Retry.BackoffMax}
	for _, b := range chunk {
		status, retryCount, err := w.Store.ApplyFailedRetryable(ctx, b.ID, errMsg, policy)
		if err != nil {
			w.Logger.Error("failed to record retryable failure", zap.String("bet_id", b.ID.String()), zap.Error(err))
			continue
		}
		w.Logger.Warn("bet submission failed", zap.String("bet_id", b.ID.String()), zap.String("status", string(status)), zap.Int("retry_count", retryCount))
	}
}

// chunk splits bets into groups of at most size, preserving order.
func chunk(bets []*bet.Bet, size int) [][]*bet.Bet {
	if size <= 0 {
		size = len(bets)
	}
	var out [][]*bet.Bet
	for i := 0; i < len(bets); i += size {
		end := i + size
		if end > len(bets) {
			end = len(bets)
		}
		out = append(out, bets[i:end])
	}
	return out
}
