package breaker

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFactoryTripsAfterConsecutiveFailures(t *testing.T) {
	f := NewFactory(zap.NewNop(), Config{FailureThreshold: 2, ResetTimeout: 0})
	boom := errors.New("rpc unreachable")
	failing := func(ctx context.Context) error { return boom }

	err := f.Execute(context.Background(), "chain", failing)
	require.ErrorIs(t, err, boom)
	err = f.Execute(context.Background(), "chain", failing)
	require.ErrorIs(t, err, boom)

	err = f.Execute(context.Background(), "chain", failing)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, gobreaker.StateOpen, f.State("chain"))
}

func TestFactoryIsolatesByName(t *testing.T) {
	f := NewFactory(zap.NewNop(), Config{FailureThreshold: 1, ResetTimeout: 0})
	boom := errors.New("settlements unreachable")

	err := f.Execute(context.Background(), "settlements", func(ctx context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, gobreaker.StateOpen, f.State("settlements"))
	assert.Equal(t, gobreaker.StateClosed, f.State("chain"), "breakers are isolated per dependency name")
}

func TestFactorySuccessKeepsClosed(t *testing.T) {
	f := NewFactory(zap.NewNop(), DefaultConfig())
	err := f.Execute(context.Background(), "chain", func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, f.State("chain"))
}
