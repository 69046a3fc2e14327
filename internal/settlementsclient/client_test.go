package settlementsclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reecen9696/atomiq-bet-settlement/internal/settlement"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	return New(zap.NewNop(), Config{
		BaseURL:    srv.URL,
		APIKey:     "test-key",
		Timeout:    2 * time.Second,
		RatePerMin: 10000,
	})
}

func TestFetchPendingSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		_ = json.NewEncoder(w).Encode(pendingResponse{
			Games: []gameSettlementInfo{
				{TransactionID: 1, PlayerAddress: "wallet-1", Outcome: "Win", Version: 3},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	out, err := c.FetchPending(context.TODO(), 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, settlement.OutcomeWin, out[0].Outcome)
	assert.EqualValues(t, 3, out[0].Version)
}

func TestFetchPendingRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(pendingResponse{})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.FetchPending(context.TODO(), 10)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetchPendingDoesNotRetryOn4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.FetchPending(context.TODO(), 10)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestUpdateStatusVersionConflictNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.UpdateStatus(context.TODO(), 42, UpdateRequest{Status: "SettlementComplete", ExpectedVersion: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, settlement.ErrVersionConflict)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestUpdateStatusSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req UpdateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, uint64(5), req.ExpectedVersion)
		_ = json.NewEncoder(w).Encode(updateResponse{Success: true, NewVersion: 6})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	newVersion, err := c.UpdateStatus(context.TODO(), 42, UpdateRequest{Status: "SettlementComplete", ExpectedVersion: 5})
	require.NoError(t, err)
	assert.EqualValues(t, 6, newVersion)
}
