// Package reconcile implements the opt-in reconciliation sweep: bets left in
// the processing index past a staleness threshold are checked against the
// chain gateway's signature status. A confirmed signature moves the bet to
// confirmed_on_solana; a failed or unknown one sends it through the
// retryable-failure path. Bets without a signature are left as they are,
// and bets already moved to submitted_to_solana are not in the processing
// index, so the sweep does not see them. Ported from the original processor's
// reconcile_stuck_transactions, traded for the queue.Store/chain.Gateway
// interfaces instead of direct Postgres/Solana SDK calls.
package reconcile

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/reecen9696/atomiq-bet-settlement/internal/bet"
	"github.com/reecen9696/atomiq-bet-settlement/internal/chain"
	"github.com/reecen9696/atomiq-bet-settlement/internal/queue"
)

var (
	confirmedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconciliation_confirmed_total",
		Help: "Stuck bets reconciliation confirmed on-chain.",
	})
	failedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconciliation_failed_total",
		Help: "Stuck bets reconciliation found failed on-chain.",
	})
	notFoundTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconciliation_not_found_total",
		Help: "Stuck bets reconciliation could not locate a signature for.",
	})
)

func init() {
	prometheus.MustRegister(confirmedTotal, failedTotal, notFoundTotal)
}

// StatusChecker is the narrow slice of the chain gateway reconcile needs.
type StatusChecker interface {
	GetSignatureStatus(ctx context.Context, signature string) (chain.SignatureStatus, error)
}

// Config matches the original's max_stuck_time_seconds knob.
type Config struct {
	Enabled       bool
	SweepInterval time.Duration
	MaxStuckTime  time.Duration
	MaxRetries    int
	PageSize      int
}

// Sweeper periodically resolves stuck bets.
type Sweeper struct {
	store  queue.Store
	chain  StatusChecker
	cfg    Config
	logger *zap.Logger
}

// New builds a sweeper; callers should check cfg.Enabled before starting it
// (it is also safe to call Run on a disabled sweeper, which becomes a no-op).
func New(logger *zap.Logger, store queue.Store, chainClient StatusChecker, cfg Config) *Sweeper {
	return &Sweeper{store: store, chain: chainClient, cfg: cfg, logger: logger}
}

// Run ticks every cfg.SweepInterval until ctx is canceled. A disabled
// sweeper logs once and returns immediately.
func (s *Sweeper) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info("reconciliation sweep disabled")
		return
	}

	s.logger.Info("reconciliation sweep starting", zap.Duration("interval", s.cfg.SweepInterval), zap.Duration("max_stuck_time", s.cfg.MaxStuckTime))
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sweepOnce(ctx); err != nil {
				s.logger.Error("reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) error {
	stuck, err := s.store.StuckProcessing(ctx, s.cfg.MaxStuckTime, s.cfg.PageSize)
	if err != nil {
		return err
	}
	if len(stuck) == 0 {
		return nil
	}
	s.logger.Info("found stuck bets to reconcile", zap.Int("count", len(stuck)))

	for _, b := range stuck {
		s.reconcileOne(ctx, b)
	}
	return nil
}

func (s *Sweeper) reconcileOne(ctx context.Context, b *bet.Bet) {
	logger := s.logger.With(zap.String("bet_id", b.ID.String()))

	if b.SolanaTxID == nil || *b.SolanaTxID == "" {
		logger.Debug("stuck bet has no signature yet, leaving for next sweep")
		return
	}

	status, err := s.chain.GetSignatureStatus(ctx, *b.SolanaTxID)
	if err != nil {
		logger.Warn("signature status lookup failed", zap.Error(err))
		return
	}

	switch status {
	case chain.StatusConfirmed:
		if err := s.store.UpdateStatus(ctx, b.ID, bet.StatusConfirmedOnSolana, b.SolanaTxID); err != nil {
			logger.Error("failed to record confirmed status", zap.Error(err))
			return
		}
		logger.Info("reconciled: confirmed")
		confirmedTotal.Inc()
	case chain.StatusFailed:
		if _, _, err := s.store.ApplyFailedRetryable(ctx, b.ID, "tx failed on-chain", queue.RetryPolicy{MaxRetries: s.cfg.MaxRetries, BackoffMs: 0}); err != nil {
			logger.Error("failed to record on-chain failure", zap.Error(err))
			return
		}
		logger.Warn("reconciled: failed on-chain")
		failedTotal.Inc()
	case chain.StatusUnknown:
		logger.Warn("signature not found", zap.String("signature", *b.SolanaTxID))
		if _, _, err := s.store.ApplyFailedRetryable(ctx, b.ID, "tx not found", queue.RetryPolicy{MaxRetries: s.cfg.MaxRetries, BackoffMs: 0}); err != nil {
			logger.Error("failed to record not-found outcome", zap.Error(err))
			return
		}
		notFoundTotal.Inc()
	}
}
