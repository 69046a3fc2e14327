package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reecen9696/atomiq-bet-settlement/internal/bet"
	"github.com/reecen9696/atomiq-bet-settlement/internal/chain"
	"github.com/reecen9696/atomiq-bet-settlement/internal/queue"
)

type stubStatusChecker struct {
	status chain.SignatureStatus
	err    error
}

func (s stubStatusChecker) GetSignatureStatus(ctx context.Context, signature string) (chain.SignatureStatus, error) {
	return s.status, s.err
}

func makeStuckBet(t *testing.T, store *queue.FakeStore, sig string) *bet.Bet {
	t.Helper()
	created, err := store.Create(context.Background(), "wallet-1", bet.CreateRequest{
		VaultAddress: "vault-1", GameType: "coinflip", StakeAmount: 100, StakeToken: "USDC", Choice: "heads",
	})
	require.NoError(t, err)
	require.NoError(t, store.UpdateStatus(context.Background(), created.ID, bet.StatusBatched, nil))
	if sig != "" {
		require.NoError(t, store.UpdateStatus(context.Background(), created.ID, bet.StatusBatched, &sig))
	}
	return created
}

func TestSweepConfirmsOnChainSuccess(t *testing.T) {
	store := queue.NewFakeStore()
	created := makeStuckBet(t, store, "sig-1")

	s := New(zap.NewNop(), store, stubStatusChecker{status: chain.StatusConfirmed}, Config{
		Enabled: true, MaxStuckTime: -time.Hour, MaxRetries: 5, PageSize: 10,
	})
	require.NoError(t, s.sweepOnce(context.Background()))

	got, err := store.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, bet.StatusConfirmedOnSolana, got.Status)
}

func TestSweepMarksFailedRetryableOnChainFailure(t *testing.T) {
	store := queue.NewFakeStore()
	created := makeStuckBet(t, store, "sig-2")

	s := New(zap.NewNop(), store, stubStatusChecker{status: chain.StatusFailed}, Config{
		Enabled: true, MaxStuckTime: -time.Hour, MaxRetries: 5, PageSize: 10,
	})
	require.NoError(t, s.sweepOnce(context.Background()))

	got, err := store.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, bet.StatusFailedRetryable, got.Status)
}

func TestSweepSkipsBetsWithoutSignature(t *testing.T) {
	store := queue.NewFakeStore()
	created := makeStuckBet(t, store, "")

	s := New(zap.NewNop(), store, stubStatusChecker{status: chain.StatusConfirmed}, Config{
		Enabled: true, MaxStuckTime: -time.Hour, MaxRetries: 5, PageSize: 10,
	})
	require.NoError(t, s.sweepOnce(context.Background()))

	got, err := store.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, bet.StatusBatched, got.Status, "no signature yet means nothing to reconcile this round")
}

func TestDisabledSweeperRunIsNoop(t *testing.T) {
	store := queue.NewFakeStore()
	s := New(zap.NewNop(), store, stubStatusChecker{}, Config{Enabled: false})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	s.Run(ctx)
}
