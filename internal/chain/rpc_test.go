package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reecen9696/atomiq-bet-settlement/internal/bet"
)

func rpcServer(t *testing.T, handle func(method string, params json.RawMessage) (any, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		result, rpcErr := handle(req.Method, req.Params)
		resp := rpcResponse{Error: rpcErr}
		if rpcErr == nil {
			b, err := json.Marshal(result)
			require.NoError(t, err)
			resp.Result = b
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestHealthReturnsNilOnOK(t *testing.T) {
	srv := rpcServer(t, func(method string, params json.RawMessage) (any, *rpcError) {
		assert.Equal(t, "getHealth", method)
		return "ok", nil
	})
	defer srv.Close()

	c := NewHTTPRPC(srv.URL, time.Second)
	assert.NoError(t, c.Health(context.Background()))
}

func TestHealthReturnsErrorOnRPCFault(t *testing.T) {
	srv := rpcServer(t, func(method string, params json.RawMessage) (any, *rpcError) {
		return nil, &rpcError{Code: -32005, Message: "node unhealthy"}
	})
	defer srv.Close()

	c := NewHTTPRPC(srv.URL, time.Second)
	err := c.Health(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, bet.ErrInternal)
}

func TestSubmitBetBatchDecodesOutcomes(t *testing.T) {
	betID := uuid.New()
	srv := rpcServer(t, func(method string, params json.RawMessage) (any, *rpcError) {
		assert.Equal(t, "sendTransaction", method)
		return betBatchResult{
			Signature: "sig123",
			Outcomes: []struct {
				BetID        string `json:"bet_id"`
				Won          bool   `json:"won"`
				PayoutAmount int64  `json:"payout_amount"`
			}{{BetID: betID.String(), Won: true, PayoutAmount: 500}},
		}, nil
	})
	defer srv.Close()

	c := NewHTTPRPC(srv.URL, time.Second)
	sig, results, err := c.SubmitBetBatch(context.Background(), []*bet.Bet{{
		ID: betID, VaultAddress: "vault", UserWallet: "wallet", StakeAmount: 100,
	}})
	require.NoError(t, err)
	assert.Equal(t, "sig123", sig)
	require.Len(t, results, 1)
	assert.Equal(t, betID, results[0].BetID)
	assert.True(t, results[0].Won)
	assert.Equal(t, int64(500), results[0].PayoutAmount)
}

func TestSignatureStatusUnknownWhenNotYetLanded(t *testing.T) {
	srv := rpcServer(t, func(method string, params json.RawMessage) (any, *rpcError) {
		assert.Equal(t, "getSignatureStatuses", method)
		return signatureStatusResult{Value: []*struct {
			ConfirmationStatus string `json:"confirmationStatus"`
			Err                any    `json:"err"`
		}{nil}}, nil
	})
	defer srv.Close()

	c := NewHTTPRPC(srv.URL, time.Second)
	status, err := c.SignatureStatus(context.Background(), "sig")
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, status)
}

func TestSignatureStatusFailedWhenErrPresent(t *testing.T) {
	srv := rpcServer(t, func(method string, params json.RawMessage) (any, *rpcError) {
		return signatureStatusResult{Value: []*struct {
			ConfirmationStatus string `json:"confirmationStatus"`
			Err                any    `json:"err"`
		}{{ConfirmationStatus: "", Err: map[string]any{"InstructionError": []any{0, "Custom"}}}}}, nil
	})
	defer srv.Close()

	c := NewHTTPRPC(srv.URL, time.Second)
	status, err := c.SignatureStatus(context.Background(), "sig")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status)
}

func TestSignatureStatusConfirmed(t *testing.T) {
	srv := rpcServer(t, func(method string, params json.RawMessage) (any, *rpcError) {
		return signatureStatusResult{Value: []*struct {
			ConfirmationStatus string `json:"confirmationStatus"`
			Err                any    `json:"err"`
		}{{ConfirmationStatus: "finalized"}}}, nil
	})
	defer srv.Close()

	c := NewHTTPRPC(srv.URL, time.Second)
	status, err := c.SignatureStatus(context.Background(), "sig")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, status)
}
