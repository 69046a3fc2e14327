package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reecen9696/atomiq-bet-settlement/internal/bet"
)

func testConfig() Config {
	return Config{HealthCheckPeriod: time.Minute, RequestsPerSecond: 1000, Burst: 1000}
}

func TestGetClientRoundRobins(t *testing.T) {
	a, b := NewFakeRPC(), NewFakeRPC()
	g, err := NewGateway(zap.NewNop(), testConfig(), []string{"a", "b"}, []RPC{a, b})
	require.NoError(t, err)
	defer g.Close()

	first := g.GetClient()
	second := g.GetClient()
	third := g.GetClient()
	assert.Same(t, RPC(a), first)
	assert.Same(t, RPC(b), second)
	assert.Same(t, RPC(a), third)
}

func TestHealthCheckAllMarksUnhealthy(t *testing.T) {
	healthy, unhealthy := NewFakeRPC(), NewFakeRPC()
	unhealthy.HealthErr = errors.New("connection refused")
	g, err := NewGateway(zap.NewNop(), testConfig(), []string{"good", "bad"}, []RPC{healthy, unhealthy})
	require.NoError(t, err)
	defer g.Close()

	g.HealthCheckAll(context.Background())

	client := g.GetHealthyClient()
	require.NotNil(t, client)
	assert.Same(t, RPC(healthy), client)
}

func TestGetHealthyClientReturnsNilWhenAllDown(t *testing.T) {
	down := NewFakeRPC()
	down.HealthErr = errors.New("down")
	g, err := NewGateway(zap.NewNop(), testConfig(), []string{"only"}, []RPC{down})
	require.NoError(t, err)
	defer g.Close()

	g.HealthCheckAll(context.Background())
	assert.Nil(t, g.GetHealthyClient())
}

func TestSubmitBetBatchMarksUnhealthyOnFailure(t *testing.T) {
	rpc := NewFakeRPC()
	rpc.SubmitBetErr = errors.New("rpc timeout")
	g, err := NewGateway(zap.NewNop(), testConfig(), []string{"a"}, []RPC{rpc})
	require.NoError(t, err)
	defer g.Close()

	bets := []*bet.Bet{{ID: uuid.New(), StakeAmount: 100}}
	_, _, err = g.SubmitBetBatch(context.Background(), bets)
	require.Error(t, err)
	assert.Nil(t, g.GetHealthyClient(), "a failed submission must mark the endpoint unhealthy")
}

func TestSubmitBetBatchReturnsPerBetResults(t *testing.T) {
	rpc := NewFakeRPC()
	rpc.AllWin = true
	g, err := NewGateway(zap.NewNop(), testConfig(), []string{"a"}, []RPC{rpc})
	require.NoError(t, err)
	defer g.Close()

	bets := []*bet.Bet{{ID: uuid.New(), StakeAmount: 500}}
	sig, results, err := g.SubmitBetBatch(context.Background(), bets)
	require.NoError(t, err)
	assert.NotEmpty(t, sig)
	require.Len(t, results, 1)
	assert.True(t, results[0].Won)
	assert.Equal(t, int64(1000), results[0].PayoutAmount)
}

func TestSubmitBetBatchNoHealthyEndpoint(t *testing.T) {
	rpc := NewFakeRPC()
	rpc.HealthErr = errors.New("down")
	g, err := NewGateway(zap.NewNop(), testConfig(), []string{"a"}, []RPC{rpc})
	require.NoError(t, err)
	defer g.Close()
	g.HealthCheckAll(context.Background())

	_, _, err = g.SubmitBetBatch(context.Background(), []*bet.Bet{{ID: uuid.New()}})
	require.Error(t, err)
	assert.ErrorIs(t, err, bet.ErrInternal)
}
