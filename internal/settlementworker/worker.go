// Package settlementworker implements C7: the per-settlement state machine
// (Pending → SubmittedToSolana → SettlementComplete/Failed/FailedPermanent)
// driven off batches supplied by the coordinator, or, in legacy mode,
// fetched directly by each worker. Ported from the original processor's
// worker loop, trading tokio tasks for a goroutine-per-worker model.
package settlementworker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/reecen9696/atomiq-bet-settlement/internal/chain"
	"github.com/reecen9696/atomiq-bet-settlement/internal/retry"
	"github.com/reecen9696/atomiq-bet-settlement/internal/settlement"
	"github.com/reecen9696/atomiq-bet-settlement/internal/settlementsclient"
)

var completionRetries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "settlement_completion_retries_total",
		Help: "Unbounded completion-path retries against the settlements service, per worker.",
	},
	[]string{"worker"},
)

var completionAlreadyRecorded = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "settlement_completion_already_recorded_total",
		Help: "Completion updates that raced another worker and were resolved as a version-conflict success, per worker.",
	},
	[]string{"worker"},
)

func init() {
	prometheus.MustRegister(completionRetries)
	prometheus.MustRegister(completionAlreadyRecorded)
}

// Source abstracts how a worker receives work: a coordinator channel in
// coordinator mode, or a direct poll in legacy mode.
type Source interface {
	Next(ctx context.Context) (*settlement.Batch, bool)
}

// ChannelSource adapts a coordinator's worker channel to Source.
type ChannelSource struct {
	Ch <-chan *settlement.Batch
}

func (s ChannelSource) Next(ctx context.Context) (*settlement.Batch, bool) {
	select {
	case b, ok := <-s.Ch:
		return b, ok
	case <-ctx.Done():
		return nil, false
	}
}

// PollSource implements legacy mode: each worker independently polls C2 for
// its own share of pending settlements (§4.3, documented as racy — the
// external service's CAS resolves overlapping claims).
type PollSource struct {
	Client       *settlementsclient.Client
	PerWorker    int
	PollInterval time.Duration
}

func (s PollSource) Next(ctx context.Context) (*settlement.Batch, bool) {
	select {
	case <-time.After(s.PollInterval):
	case <-ctx.Done():
		return nil, false
	}
	settlements, err := s.Client.FetchPending(ctx, s.PerWorker)
	if err != nil || len(settlements) == 0 {
		return nil, true
	}
	return &settlement.Batch{ID: "legacy-poll", Type: settlement.BatchTypePayout, Settlements: settlements}, true
}

// Worker drives one settlement source through the per-settlement state
// machine, submitting via the chain gateway.
type Worker struct {
	ID             string
	Chain          *chain.Gateway
	Client         *settlementsclient.Client
	Policy         retry.SettlementPolicy
	Logger         *zap.Logger
	ShutdownBudget time.Duration
}

// Run consumes batches from src until ctx is canceled and src stops
// yielding work. Completion-path retries (step 5) are not interruptible by
// ctx once submission has succeeded; they observe ShutdownBudget instead,
// after which the signature is logged for manual recovery (§4.3
// Cancellation).
func (w *Worker) Run(ctx context.Context, wg *sync.WaitGroup, src Source) {
	defer wg.Done()
	w.Logger.Info("settlement worker starting", zap.String("worker_id", w.ID))

	for {
		batch, ok := src.Next(ctx)
		if !ok {
			w.Logger.Info("settlement worker stopping", zap.String("worker_id", w.ID))
			return
		}
		if batch == nil {
			continue
		}
		for i := range batch.Settlements {
			w.processOne(ctx, batch.Type, &batch.Settlements[i])
		}
	}
}

func (w *Worker) processOne(ctx context.Context, batchType settlement.BatchType, s *settlement.Settlement) {
	logger := w.Logger.With(zap.Uint64("transaction_id", s.TransactionID), zap.String("worker_id", w.ID))

	// Step 1: idempotency check.
	if s.AlreadySettled() {
		logger.Debug("settlement already has a signature, skipping submission")
		w.completeCritically(ctx, s, *s.SolanaTxID, logger)
		return
	}

	// Step 2: advance to SubmittedToSolana.
	_, err := w.Client.UpdateStatus(ctx, s.TransactionID, settlementsclient.UpdateRequest{
		Status:          string(settlement.StatusSubmittedToSolana),
		ExpectedVersion: s.Version,
	})
	if err != nil {
		if isVersionConflict(err) {
			logger.Debug("settlement already claimed by another worker, abandoning silently")
			return
		}
		logger.Error("failed to advance settlement to submitted", zap.Error(err))
		return
	}
	s.Version++

	// Step 3: submit on chain.
	sig, submitErr := w.submit(ctx, batchType, s)
	if submitErr != nil {
		w.failRetryable(ctx, s, submitErr, logger)
		return
	}

	// Step 5: critical completion path.
	w.completeCritically(ctx, s, sig, logger)
}

func (w *Worker) submit(ctx context.Context, batchType settlement.BatchType, s *settlement.Settlement) (string, error) {
	batch := &settlement.Batch{Type: batchType, Settlements: []settlement.Settlement{*s}}
	return w.Chain.SubmitSettlementBatch(ctx, batch)
}

// failRetryable implements step 4: classify, report, and — on a failed
// report — log and bail without touching the critical path.
func (w *Worker) failRetryable(ctx context.Context, s *settlement.Settlement, submitErr error, logger *zap.Logger) {
	newRetry := s.RetryCount + 1
	status := settlement.StatusSettlementFailed
	var nextRetryAfter *int64
	if w.Policy.Permanent(int(newRetry)) {
		status = settlement.StatusSettlementFailedPermanent
	} else {
		at := time.Now().Add(w.Policy.Backoff(int(newRetry))).UnixMilli()
		nextRetryAfter = &at
	}

	errMsg := submitErr.Error()
	_, err := w.Client.UpdateStatus(ctx, s.TransactionID, settlementsclient.UpdateRequest{
		Status:          string(status),
		ErrorMessage:    &errMsg,
		ExpectedVersion: s.Version,
		RetryCount:      &newRetry,
		NextRetryAfter:  nextRetryAfter,
	})
	if err != nil {
		logger.Error("failed to record settlement failure; on-chain state unchanged", zap.Error(err), zap.Error(submitErr))
		return
	}
	logger.Warn("settlement submission failed", zap.String("status", string(status)), zap.Error(submitErr))
}

// completeCritically implements step 5: unbounded retry, bounded only by
// ShutdownBudget once ctx is already canceled.
func (w *Worker) completeCritically(ctx context.Context, s *settlement.Settlement, signature string, logger *zap.Logger) {
	// The update itself runs on a context that ctx's cancellation does not
	// reach, so a shutdown does not abort the in-flight completion calls.
	updateCtx := context.WithoutCancel(ctx)
	deadline := time.Now().Add(w.ShutdownBudget)
	for attempt := 1; ; attempt++ {
		_, err := w.Client.UpdateStatus(updateCtx, s.TransactionID, settlementsclient.UpdateRequest{
			Status:          string(settlement.StatusSettlementComplete),
			SolanaTxID:      &signature,
			ExpectedVersion: s.Version,
		})
		if err == nil {
			logger.Info("settlement complete", zap.String("solana_tx_id", signature))
			return
		}
		if isVersionConflict(err) {
			completionAlreadyRecorded.WithLabelValues(w.ID).Inc()
			logger.Debug("completion already recorded by another worker, treating as success")
			return
		}

		completionRetries.WithLabelValues(w.ID).Inc()
		logger.Error("completion update failed, retrying", zap.Int("attempt", attempt), zap.Error(err))

		if ctx.Err() != nil && time.Now().After(deadline) {
			logger.Error("shutdown budget exhausted before completion recorded; persisting signature for recovery",
				zap.String("solana_tx_id", signature), zap.Uint64("transaction_id", s.TransactionID))
			return
		}

		select {
		case <-time.After(retry.CompletionBackoff(attempt)):
		case <-ctx.Done():
		}
	}
}

func isVersionConflict(err error) bool {
	return errors.Is(err, settlement.ErrVersionConflict)
}
