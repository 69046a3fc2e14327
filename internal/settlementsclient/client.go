// Package settlementsclient implements C2, a typed HTTP client over the
// external settlements service: fetch pending settlements, update a
// settlement's status with an expected-version CAS guard. Ported from the
// original processor's blockchain_client, traded for net/http + a
// client-side rate limiter.
package settlementsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/reecen9696/atomiq-bet-settlement/internal/settlement"
)

const maxRetries = 3

// Config holds the client's connection parameters.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RatePerMin int
}

// Client is the production C2 implementation.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	logger  *zap.Logger
	limiter *limiter.Limiter
}

// New builds a client with a client-side token bucket so a runaway
// coordinator poll loop cannot hammer the external service (§9).
func New(logger *zap.Logger, cfg Config) *Client {
	rate := limiter.Rate{Period: time.Minute, Limit: int64(cfg.RatePerMin)}
	store := memory.NewStore()

	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		logger:  logger,
		limiter: limiter.New(store, rate),
	}
}

type pendingResponse struct {
	Games      []gameSettlementInfo `json:"games"`
	NextCursor *string              `json:"next_cursor"`
}

type gameSettlementInfo struct {
	TransactionID   uint64  `json:"transaction_id"`
	PlayerAddress   string  `json:"player_address"`
	GameType        string  `json:"game_type"`
	BetAmount       int64   `json:"bet_amount"`
	Token           string  `json:"token"`
	Outcome         string  `json:"outcome"`
	Payout          int64   `json:"payout"`
	BlockHeight     uint64  `json:"block_height"`
	Version         uint64  `json:"version"`
	SolanaTxID      *string `json:"solana_tx_id"`
	RetryCount      uint32  `json:"retry_count"`
	NextRetryAfter  *int64  `json:"next_retry_after"`
	AllowancePDA    *string `json:"allowance_pda"`
}

func (g gameSettlementInfo) toDomain() settlement.Settlement {
	return settlement.Settlement{
		TransactionID:  g.TransactionID,
		PlayerAddress:  g.PlayerAddress,
		GameType:       g.GameType,
		BetAmount:      g.BetAmount,
		Token:          g.Token,
		Outcome:        settlement.Outcome(g.Outcome),
		Payout:         g.Payout,
		BlockHeight:    g.BlockHeight,
		Version:        g.Version,
		SolanaTxID:     g.SolanaTxID,
		RetryCount:     g.RetryCount,
		NextRetryAfter: g.NextRetryAfter,
		AllowanceRef:   g.AllowancePDA,
	}
}

// FetchPending retrieves up to limit pending settlements. Retries transport
// and 5xx failures up to maxRetries with exponential backoff; never retries
// a 4xx.
func (c *Client) FetchPending(ctx context.Context, limit int) ([]settlement.Settlement, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/settlement/pending?limit=%d", c.baseURL, limit)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: build request: %v", settlement.ErrTransient, err)
		}
		req.Header.Set("X-API-Key", c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if c.backoffOrBail(ctx, attempt, err) {
				continue
			}
			return nil, fmt.Errorf("%w: fetch pending: %v", settlement.ErrTransient, err)
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("%w: read response: %v", settlement.ErrTransient, readErr)
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("settlements API %d: %s", resp.StatusCode, string(body))
			c.logger.Warn("fetch pending failed, retrying", zap.Int("attempt", attempt), zap.Int("status", resp.StatusCode))
			if attempt == maxRetries {
				break
			}
			sleep(ctx, attempt)
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("settlements API client error %d: %s", resp.StatusCode, string(body))
		}

		var parsed pendingResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("%w: decode pending response: %v", settlement.ErrTransient, err)
		}
		out := make([]settlement.Settlement, 0, len(parsed.Games))
		for _, g := range parsed.Games {
			out = append(out, g.toDomain())
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: fetch pending exhausted retries: %v", settlement.ErrTransient, lastErr)
}

// UpdateRequest is the body of a status update, mirroring
// UpdateSettlementRequest from the original processor.
type UpdateRequest struct {
	Status          string  `json:"status"`
	SolanaTxID      *string `json:"solana_tx_id,omitempty"`
	ErrorMessage    *string `json:"error_message,omitempty"`
	ExpectedVersion uint64  `json:"expected_version"`
	RetryCount      *uint32 `json:"retry_count,omitempty"`
	NextRetryAfter  *int64  `json:"next_retry_after,omitempty"`
}

type updateResponse struct {
	Success    bool   `json:"success"`
	NewVersion uint64 `json:"new_version"`
}

// UpdateStatus pushes a status transition with an expected-version CAS
// guard. A 409 response maps to settlement.ErrVersionConflict and is never
// retried; other client errors (4xx) are returned as-is; 5xx and transport
// failures are retried up to maxRetries.
func (c *Client) UpdateStatus(ctx context.Context, txID uint64, req UpdateRequest) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}

	url := fmt.Sprintf("%s/api/settlement/games/%d", c.baseURL, txID)
	payload, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("%w: encode update request: %v", settlement.ErrTransient, err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return 0, fmt.Errorf("%w: build request: %v", settlement.ErrTransient, err)
		}
		httpReq.Header.Set("X-API-Key", c.apiKey)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			lastErr = err
			if c.backoffOrBail(ctx, attempt, err) {
				continue
			}
			return 0, fmt.Errorf("%w: update status: %v", settlement.ErrTransient, err)
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return 0, fmt.Errorf("%w: read response: %v", settlement.ErrTransient, readErr)
		}

		switch {
		case resp.StatusCode == http.StatusConflict:
			c.logger.Warn("settlement update version conflict",
				zap.Uint64("transaction_id", txID),
				zap.Uint64("expected_version", req.ExpectedVersion))
			return 0, settlement.ErrVersionConflict
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("settlements API %d: %s", resp.StatusCode, string(body))
			c.logger.Warn("update status failed, retrying", zap.Int("attempt", attempt), zap.Int("status", resp.StatusCode))
			if attempt == maxRetries {
				return 0, fmt.Errorf("%w: update status exhausted retries: %v", settlement.ErrTransient, lastErr)
			}
			sleep(ctx, attempt)
			continue
		case resp.StatusCode >= 400:
			return 0, fmt.Errorf("settlements API client error %d: %s", resp.StatusCode, string(body))
		}

		var parsed updateResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return 0, fmt.Errorf("%w: decode update response: %v", settlement.ErrTransient, err)
		}
		return parsed.NewVersion, nil
	}
	return 0, fmt.Errorf("%w: update status exhausted retries: %v", settlement.ErrTransient, lastErr)
}

func (c *Client) wait(ctx context.Context) error {
	limiterCtx, err := c.limiter.Get(ctx, "settlements-client")
	if err != nil {
		return fmt.Errorf("%w: rate limiter: %v", settlement.ErrTransient, err)
	}
	if limiterCtx.Reached {
		return fmt.Errorf("%w: client-side rate limit reached", settlement.ErrTransient)
	}
	return nil
}

// backoffOrBail sleeps with exponential backoff and reports whether the
// caller should retry (false on the final attempt or context cancellation).
func (c *Client) backoffOrBail(ctx context.Context, attempt int, err error) bool {
	if attempt == maxRetries {
		return false
	}
	c.logger.Warn("settlements request transport error, retrying", zap.Int("attempt", attempt), zap.Error(err))
	sleep(ctx, attempt)
	return ctx.Err() == nil
}

func sleep(ctx context.Context, attempt int) {
	d := time.Duration(1<<uint(attempt-1)) * time.Second
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
