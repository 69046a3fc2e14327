package settlementworker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reecen9696/atomiq-bet-settlement/internal/chain"
	"github.com/reecen9696/atomiq-bet-settlement/internal/retry"
	"github.com/reecen9696/atomiq-bet-settlement/internal/settlement"
	"github.com/reecen9696/atomiq-bet-settlement/internal/settlementsclient"
)

type updateCall struct {
	txID uint64
	req  settlementsclient.UpdateRequest
}

func newRecordingServer(t *testing.T, handle func(w http.ResponseWriter, calls *[]updateCall, r *http.Request)) (*httptest.Server, *[]updateCall, *sync.Mutex) {
	t.Helper()
	var mu sync.Mutex
	var calls []updateCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		handle(w, &calls, r)
	}))
	return srv, &calls, &mu
}

func newWorker(t *testing.T, srv *httptest.Server, rpc *chain.FakeRPC) *Worker {
	t.Helper()
	client := settlementsclient.New(zap.NewNop(), settlementsclient.Config{
		BaseURL: srv.URL, APIKey: "k", Timeout: time.Second, RatePerMin: 10000,
	})
	gw, err := chain.NewGateway(zap.NewNop(), chain.Config{HealthCheckPeriod: time.Minute, RequestsPerSecond: 1000, Burst: 1000}, []string{"a"}, []chain.RPC{rpc})
	require.NoError(t, err)
	t.Cleanup(gw.Close)

	return &Worker{
		ID:             "worker-1",
		Chain:          gw,
		Client:         client,
		Policy:         retry.DefaultSettlementPolicy(),
		Logger:         zap.NewNop(),
		ShutdownBudget: 200 * time.Millisecond,
	}
}

func TestProcessOneHappyPath(t *testing.T) {
	srv, calls, mu := newRecordingServer(t, func(w http.ResponseWriter, calls *[]updateCall, r *http.Request) {
		var req settlementsclient.UpdateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		*calls = append(*calls, updateCall{req: req})
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "new_version": req.ExpectedVersion + 1})
	})
	defer srv.Close()

	rpc := chain.NewFakeRPC()
	w := newWorker(t, srv, rpc)

	s := settlement.Settlement{TransactionID: 1, Outcome: settlement.OutcomeWin, Version: 5}
	w.processOne(context.Background(), settlement.BatchTypePayout, &s)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *calls, 2, "expect a SubmittedToSolana update then a SettlementComplete update")
	assert.Equal(t, string(settlement.StatusSubmittedToSolana), (*calls)[0].req.Status)
	assert.Equal(t, string(settlement.StatusSettlementComplete), (*calls)[1].req.Status)
	require.NotNil(t, (*calls)[1].req.SolanaTxID)
	assert.NotEmpty(t, *(*calls)[1].req.SolanaTxID)
}

func TestProcessOneSkipsAlreadySettled(t *testing.T) {
	srv, calls, mu := newRecordingServer(t, func(w http.ResponseWriter, calls *[]updateCall, r *http.Request) {
		var req settlementsclient.UpdateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		*calls = append(*calls, updateCall{req: req})
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "new_version": req.ExpectedVersion + 1})
	})
	defer srv.Close()

	rpc := chain.NewFakeRPC()
	w := newWorker(t, srv, rpc)

	sig := "already-settled-sig"
	s := settlement.Settlement{TransactionID: 2, Outcome: settlement.OutcomeWin, Version: 1, SolanaTxID: &sig}
	w.processOne(context.Background(), settlement.BatchTypePayout, &s)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *calls, 1, "idempotency check must skip straight to the completion update")
	assert.Equal(t, string(settlement.StatusSettlementComplete), (*calls)[0].req.Status)
}

func TestProcessOneAbandonsOnVersionConflict(t *testing.T) {
	srv, calls, mu := newRecordingServer(t, func(w http.ResponseWriter, calls *[]updateCall, r *http.Request) {
		var req settlementsclient.UpdateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		*calls = append(*calls, updateCall{req: req})
		w.WriteHeader(http.StatusConflict)
	})
	defer srv.Close()

	rpc := chain.NewFakeRPC()
	w := newWorker(t, srv, rpc)

	s := settlement.Settlement{TransactionID: 3, Outcome: settlement.OutcomeLoss, Version: 1}
	w.processOne(context.Background(), settlement.BatchTypeSpend, &s)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, *calls, 1, "a 409 on the advance step must abandon without touching the chain")
	assert.Len(t, rpc.SubmittedSettlementBatches(), 0)
}

func TestProcessOneSubmissionFailureRecordsRetryable(t *testing.T) {
	srv, calls, mu := newRecordingServer(t, func(w http.ResponseWriter, calls *[]updateCall, r *http.Request) {
		var req settlementsclient.UpdateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		*calls = append(*calls, updateCall{req: req})
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "new_version": req.ExpectedVersion + 1})
	})
	defer srv.Close()

	rpc := chain.NewFakeRPC()
	rpc.SubmitSetErr = assertErr
	w := newWorker(t, srv, rpc)

	s := settlement.Settlement{TransactionID: 4, Outcome: settlement.OutcomeWin, Version: 1, RetryCount: 0}
	w.processOne(context.Background(), settlement.BatchTypePayout, &s)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *calls, 2)
	assert.Equal(t, string(settlement.StatusSettlementFailed), (*calls)[1].req.Status)
	require.NotNil(t, (*calls)[1].req.RetryCount)
	assert.EqualValues(t, 1, *(*calls)[1].req.RetryCount)
}

func TestProcessOneSubmissionFailureEscalatesToPermanent(t *testing.T) {
	srv, calls, mu := newRecordingServer(t, func(w http.ResponseWriter, calls *[]updateCall, r *http.Request) {
		var req settlementsclient.UpdateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		*calls = append(*calls, updateCall{req: req})
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "new_version": req.ExpectedVersion + 1})
	})
	defer srv.Close()

	rpc := chain.NewFakeRPC()
	rpc.SubmitSetErr = assertErr
	w := newWorker(t, srv, rpc)

	s := settlement.Settlement{TransactionID: 5, Outcome: settlement.OutcomeWin, Version: 1, RetryCount: 2}
	w.processOne(context.Background(), settlement.BatchTypePayout, &s)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *calls, 2)
	assert.Equal(t, string(settlement.StatusSettlementFailedPermanent), (*calls)[1].req.Status)
}

func TestCompleteCriticallyRetriesUntilSuccess(t *testing.T) {
	var attempts int32
	srv, _, _ := newRecordingServer(t, func(w http.ResponseWriter, calls *[]updateCall, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "new_version": 2})
	})
	defer srv.Close()

	rpc := chain.NewFakeRPC()
	wk := newWorker(t, srv, rpc)
	wk.ShutdownBudget = 5 * time.Second

	s := settlement.Settlement{TransactionID: 6, Version: 1}
	wk.completeCritically(context.Background(), &s, "sig-xyz", zap.NewNop())
	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3))
}

var assertErr = &fakeTransportErr{}

type fakeTransportErr struct{}

func (e *fakeTransportErr) Error() string { return "chain submission failed" }
