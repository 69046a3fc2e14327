package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reecen9696/atomiq-bet-settlement/internal/bet"
)

func validReq() bet.CreateRequest {
	return bet.CreateRequest{
		VaultAddress: "vault-1",
		GameType:     "coinflip",
		StakeAmount:  1000,
		StakeToken:   "USDC",
		Choice:       "heads",
	}
}

func TestFieldRoundTrip(t *testing.T) {
	payout := int64(2000)
	won := true
	sig := "sig-abc"
	allowance := "allow-1"

	b := &bet.Bet{
		ID:           uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		UserWallet:   "wallet-1",
		VaultAddress: "vault-1",
		AllowanceRef: &allowance,
		GameType:     "coinflip",
		StakeAmount:  1000,
		StakeToken:   "USDC",
		Choice:       "heads",
		Status:       bet.StatusCompleted,
		SolanaTxID:   &sig,
		RetryCount:   2,
		PayoutAmount: &payout,
		Won:          &won,
		Version:      3,
	}
	b.CreatedAt = b.CreatedAt.UTC()

	raw := toFields(b)
	strFields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch vv := v.(type) {
		case string:
			strFields[k] = vv
		default:
			strFields[k] = v.(string)
		}
	}

	got, err := fromFields(b.ID, strFields)
	require.NoError(t, err)
	assert.Equal(t, b.UserWallet, got.UserWallet)
	assert.Equal(t, b.Status, got.Status)
	assert.Equal(t, *b.SolanaTxID, *got.SolanaTxID)
	assert.Equal(t, *b.PayoutAmount, *got.PayoutAmount)
	assert.Equal(t, *b.Won, *got.Won)
	assert.Equal(t, b.Version, got.Version)
	assert.Equal(t, b.RetryCount, got.RetryCount)
}

func TestFakeStoreCreateAndClaim(t *testing.T) {
	ctx := context.Background()
	s := NewFakeStore()

	created, err := s.Create(ctx, "wallet-1", validReq())
	require.NoError(t, err)
	assert.Equal(t, bet.StatusPending, created.Status)

	batchID, claimed, err := s.ClaimPending(ctx, 10, "worker-a")
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, created.ID, claimed[0].ID)
	assert.Equal(t, bet.StatusBatched, claimed[0].Status)
	assert.Equal(t, batchID, *claimed[0].BatchID)

	_, claimedAgain, err := s.ClaimPending(ctx, 10, "worker-a")
	require.NoError(t, err)
	assert.Empty(t, claimedAgain, "batched bets must not be claimable again")
}

func TestFakeStoreCreateValidation(t *testing.T) {
	s := NewFakeStore()
	req := validReq()
	req.VaultAddress = ""
	_, err := s.Create(context.Background(), "wallet-1", req)
	require.Error(t, err)
	assert.ErrorIs(t, err, bet.ErrValidation)
}

func TestFakeStoreApplyFailedRetryableEscalates(t *testing.T) {
	ctx := context.Background()
	s := NewFakeStore()
	created, err := s.Create(ctx, "wallet-1", validReq())
	require.NoError(t, err)

	policy := RetryPolicy{MaxRetries: 2, BackoffMs: 100}

	status, retries, err := s.ApplyFailedRetryable(ctx, created.ID, "rpc timeout", policy)
	require.NoError(t, err)
	assert.Equal(t, bet.StatusFailedRetryable, status)
	assert.Equal(t, 1, retries)

	status, retries, err = s.ApplyFailedRetryable(ctx, created.ID, "rpc timeout", policy)
	require.NoError(t, err)
	assert.Equal(t, bet.StatusFailedRetryable, status)
	assert.Equal(t, 2, retries)

	status, retries, err = s.ApplyFailedRetryable(ctx, created.ID, "rpc timeout", policy)
	require.NoError(t, err)
	assert.Equal(t, bet.StatusFailedManualReview, status)
	assert.Equal(t, 3, retries)
}

func TestFakeStoreApplyFailedRetryableBackoffIsExponentialAndCapped(t *testing.T) {
	ctx := context.Background()
	s := NewFakeStore()
	fixedNow := s.now()
	s.now = func() time.Time { return fixedNow }
	created, err := s.Create(ctx, "wallet-1", validReq())
	require.NoError(t, err)

	policy := RetryPolicy{MaxRetries: 5, BackoffMs: 2000, BackoffMax: 20000}

	var lastDelay int64
	for i := 0; i < 4; i++ {
		_, _, err := s.ApplyFailedRetryable(ctx, created.ID, "rpc timeout", policy)
		require.NoError(t, err)
		delay := s.NextAttemptAt(created.ID) - fixedNow.UnixMilli()
		assert.Greater(t, delay, lastDelay, "each retry must back off further than the last")
		lastDelay = delay
	}

	// retry_count reaches 5 on this call: base*2^4 = 32000ms, capped at 20000ms.
	status, retries, err := s.ApplyFailedRetryable(ctx, created.ID, "rpc timeout", policy)
	require.NoError(t, err)
	assert.Equal(t, bet.StatusFailedRetryable, status)
	assert.Equal(t, 5, retries)
	assert.Equal(t, int64(20000), s.NextAttemptAt(created.ID)-fixedNow.UnixMilli())
}

func TestFakeStoreUpdateStatusCAS(t *testing.T) {
	ctx := context.Background()
	s := NewFakeStore()
	created, err := s.Create(ctx, "wallet-1", validReq())
	require.NoError(t, err)

	ok, err := s.UpdateStatusCAS(ctx, created.ID, 5, bet.StatusCompleted)
	require.NoError(t, err)
	assert.False(t, ok, "stale version must be rejected")

	ok, err = s.UpdateStatusCAS(ctx, created.ID, created.Version, bet.StatusCompleted)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, bet.StatusCompleted, got.Status)
	assert.Equal(t, created.Version+1, got.Version)
}
