package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/reecen9696/atomiq-bet-settlement/internal/bet"
	"github.com/reecen9696/atomiq-bet-settlement/internal/settlement"
)

// HTTPRPC is the production RPC implementation: a single JSON-RPC 2.0
// endpoint reached over net/http, matching the request/response envelope
// the original processor's solana_client pool spoke to (getHealth,
// sendTransaction, getSignatureStatuses). No Solana transaction-building
// SDK appears anywhere in the retrieval pack, so batches are encoded as a
// program-specific instruction payload rather than assembled with a real
// on-chain program client; see the settlement submission module for the
// field shapes this mirrors.
type HTTPRPC struct {
	url  string
	http *http.Client
}

// NewHTTPRPC builds an RPC client against a single chain endpoint URL.
func NewHTTPRPC(url string, timeout time.Duration) *HTTPRPC {
	return &HTTPRPC{url: url, http: &http.Client{Timeout: timeout}}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *HTTPRPC) call(ctx context.Context, method string, params []any, out any) error {
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("%w: encode rpc request: %v", bet.ErrInternal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: build rpc request: %v", bet.ErrInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: rpc transport: %v", bet.ErrInternal, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read rpc response: %v", bet.ErrInternal, err)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: rpc endpoint %d: %s", bet.ErrInternal, resp.StatusCode, string(body))
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: rpc endpoint %d: %s", bet.ErrInternal, resp.StatusCode, string(body))
	}

	var parsed rpcResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("%w: decode rpc response: %v", bet.ErrInternal, err)
	}
	if parsed.Error != nil {
		return fmt.Errorf("%w: rpc error %d: %s", bet.ErrInternal, parsed.Error.Code, parsed.Error.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(parsed.Result, out); err != nil {
		return fmt.Errorf("%w: decode rpc result: %v", bet.ErrInternal, err)
	}
	return nil
}

// Health probes node liveness via getHealth, mirroring solana_client's
// health_check_all sweep.
func (c *HTTPRPC) Health(ctx context.Context) error {
	var result string
	return c.call(ctx, "getHealth", nil, &result)
}

type betBatchInstruction struct {
	Bets []betInstructionLeg `json:"bets"`
}

type betInstructionLeg struct {
	BetID        string `json:"bet_id"`
	VaultAddress string `json:"vault_address"`
	UserWallet   string `json:"user_wallet"`
	AmountLamp   int64  `json:"amount_lamports"`
}

type betBatchResult struct {
	Signature string `json:"signature"`
	Outcomes  []struct {
		BetID        string `json:"bet_id"`
		Won          bool   `json:"won"`
		PayoutAmount int64  `json:"payout_amount"`
	} `json:"outcomes"`
}

// SubmitBetBatch encodes the chunk as a base64 instruction payload and
// submits it via sendTransaction, then reads per-bet outcomes back out of
// the simulation result the program returns alongside the signature.
func (c *HTTPRPC) SubmitBetBatch(ctx context.Context, bets []*bet.Bet) (string, []BetResult, error) {
	instr := betBatchInstruction{Bets: make([]betInstructionLeg, len(bets))}
	for i, b := range bets {
		instr.Bets[i] = betInstructionLeg{
			BetID:        b.ID.String(),
			VaultAddress: b.VaultAddress,
			UserWallet:   b.UserWallet,
			AmountLamp:   b.StakeAmount,
		}
	}
	encoded, err := json.Marshal(instr)
	if err != nil {
		return "", nil, fmt.Errorf("%w: encode bet batch instruction: %v", bet.ErrInternal, err)
	}
	tx := base64.StdEncoding.EncodeToString(encoded)

	var result betBatchResult
	if err := c.call(ctx, "sendTransaction", []any{tx}, &result); err != nil {
		return "", nil, err
	}

	out := make([]BetResult, len(result.Outcomes))
	for i, o := range result.Outcomes {
		id, err := uuid.Parse(o.BetID)
		if err != nil {
			return "", nil, fmt.Errorf("%w: malformed bet id in rpc response: %v", bet.ErrInternal, err)
		}
		out[i] = BetResult{BetID: id, Won: o.Won, PayoutAmount: o.PayoutAmount}
	}
	return result.Signature, out, nil
}

type settlementBatchInstruction struct {
	BatchID      string   `json:"batch_id"`
	Type         string   `json:"type"`
	TransactionIDs []uint64 `json:"transaction_ids"`
}

type settlementBatchResult struct {
	Signature string `json:"signature"`
}

// SubmitSettlementBatch submits a payout/spend batch the same way, keyed by
// the settlement transaction IDs rather than bet identifiers.
func (c *HTTPRPC) SubmitSettlementBatch(ctx context.Context, batch *settlement.Batch) (string, error) {
	ids := make([]uint64, len(batch.Settlements))
	for i, s := range batch.Settlements {
		ids[i] = s.TransactionID
	}
	instr := settlementBatchInstruction{BatchID: batch.ID, Type: string(batch.Type), TransactionIDs: ids}
	encoded, err := json.Marshal(instr)
	if err != nil {
		return "", fmt.Errorf("%w: encode settlement batch instruction: %v", bet.ErrInternal, err)
	}
	tx := base64.StdEncoding.EncodeToString(encoded)

	var result settlementBatchResult
	if err := c.call(ctx, "sendTransaction", []any{tx}, &result); err != nil {
		return "", err
	}
	return result.Signature, nil
}

type signatureStatusResult struct {
	Value []*struct {
		ConfirmationStatus string `json:"confirmationStatus"`
		Err                any    `json:"err"`
	} `json:"value"`
}

// SignatureStatus mirrors getSignatureStatuses: a nil slot means the
// signature hasn't landed yet, a non-nil err means it failed on-chain, and
// "finalized"/"confirmed" means it's done.
func (c *HTTPRPC) SignatureStatus(ctx context.Context, signature string) (SignatureStatus, error) {
	var result signatureStatusResult
	if err := c.call(ctx, "getSignatureStatuses", []any{[]string{signature}}, &result); err != nil {
		return StatusUnknown, err
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return StatusUnknown, nil
	}
	status := result.Value[0]
	if status.Err != nil {
		return StatusFailed, nil
	}
	switch status.ConfirmationStatus {
	case "confirmed", "finalized":
		return StatusConfirmed, nil
	default:
		return StatusUnknown, nil
	}
}
