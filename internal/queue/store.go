// Package queue implements C3, the bet queue store: a Redis-backed set of
// ordered indexes (claimable, processing, per-user) plus a hash-per-bet
// field map, with atomic claim/retry/CAS operations implemented as
// server-side Lua scripts so that status, indexes, and version always move
// together (§4.1).
package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/reecen9696/atomiq-bet-settlement/internal/bet"
)

// Store is the public contract consumed by the bet worker pool (C8) and the
// internal HTTP API (C3's interface, §4.1).
type Store interface {
	Create(ctx context.Context, wallet string, req bet.CreateRequest) (*bet.Bet, error)
	FindByID(ctx context.Context, id uuid.UUID) (*bet.Bet, error)
	FindByUser(ctx context.Context, wallet string, limit, offset int) ([]*bet.Bet, error)
	ClaimPending(ctx context.Context, limit int, workerID string) (uuid.UUID, []*bet.Bet, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, newStatus bet.Status, signature *string) error
	CompleteBet(ctx context.Context, id uuid.UUID, signature string, won *bool, payoutAmount *int64) error
	UpdateStatusCAS(ctx context.Context, id uuid.UUID, expectedVersion int64, newStatus bet.Status) (bool, error)
	ApplyFailedRetryable(ctx context.Context, id uuid.UUID, errMsg string, policy RetryPolicy) (bet.Status, int, error)
	StuckProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]*bet.Bet, error)
}

// RetryPolicy is the subset of retry.Policy the store's Lua script needs;
// defined here (rather than importing internal/retry) to keep the store
// package's dependency surface to the primitives it actually uses.
type RetryPolicy struct {
	MaxRetries int
	BackoffMs  int64
	BackoffMax int64
}

// backoffDelayMs computes the exponential, capped retry delay for the n-th
// retry attempt, mirroring retry.Policy.Backoff(n). Kept local to this
// package (rather than calling into internal/retry) so FakeStore can
// reproduce RedisStore's Lua-side computation without pulling in a
// time.Duration-based API.
func backoffDelayMs(base, max int64, n int) int64 {
	if n < 1 {
		n = 1
	}
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		d = max
	}
	return d
}

// RedisStore is the production Store implementation.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore wraps an existing *redis.Client. now defaults to time.Now
// and is only overridden in tests.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) nowMs() int64 {
	return s.now().UnixMilli()
}

// Create allocates a fresh id, writes the field map, and inserts the bet
// into the claimable index and the user's index, atomically via a pipeline.
func (s *RedisStore) Create(ctx context.Context, wallet string, req bet.CreateRequest) (*bet.Bet, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	b := &bet.Bet{
		ID:           uuid.New(),
		CreatedAt:    s.now().UTC(),
		UserWallet:   wallet,
		VaultAddress: req.VaultAddress,
		AllowanceRef: req.AllowanceRef,
		GameType:     req.GameType,
		StakeAmount:  req.StakeAmount,
		StakeToken:   req.StakeToken,
		Choice:       req.Choice,
		Status:       bet.StatusPending,
		RetryCount:   0,
		Version:      0,
	}

	fields := toFields(b)
	nowMs := s.nowMs()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, keyBet(b.ID.String()), fields)
	pipe.ZAdd(ctx, keyClaimable, redis.Z{Score: float64(nowMs), Member: b.ID.String()})
	pipe.ZAdd(ctx, keyUser(wallet), redis.Z{Score: float64(nowMs), Member: b.ID.String()})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: create pipeline: %v", bet.ErrInternal, err)
	}

	return b, nil
}

// FindByID returns nil, nil when the bet does not exist.
func (s *RedisStore) FindByID(ctx context.Context, id uuid.UUID) (*bet.Bet, error) {
	fields, err := s.client.HGetAll(ctx, keyBet(id.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: hgetall: %v", bet.ErrInternal, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	b, err := fromFields(id, fields)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed record %s: %v", bet.ErrInternal, id, err)
	}
	return b, nil
}

// FindByUser returns a reverse-chronological window over the user's bets.
func (s *RedisStore) FindByUser(ctx context.Context, wallet string, limit, offset int) ([]*bet.Bet, error) {
	start := int64(offset)
	stop := int64(offset + limit - 1)
	ids, err := s.client.ZRevRange(ctx, keyUser(wallet), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: zrevrange: %v", bet.ErrInternal, err)
	}

	out := make([]*bet.Bet, 0, len(ids))
	for _, idStr := range ids {
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed id in user index: %v", bet.ErrInternal, err)
		}
		b, err := s.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if b != nil {
			out = append(out, b)
		}
	}
	return out, nil
}

// ClaimPending atomically moves up to limit due entries from claimable to
// processing, via the claimPendingScript.
func (s *RedisStore) ClaimPending(ctx context.Context, limit int, workerID string) (uuid.UUID, []*bet.Bet, error) {
	batchID := uuid.New()
	raw, err := claimPendingScript.Run(ctx, s.client,
		[]string{keyClaimable, keyProcessing},
		limit, batchID.String(), workerID, s.nowMs(),
	).Result()
	if err != nil {
		return batchID, nil, fmt.Errorf("%w: claim script: %v", bet.ErrInternal, err)
	}

	ids, ok := raw.([]interface{})
	if !ok {
		return batchID, nil, fmt.Errorf("%w: unexpected claim script result type", bet.ErrInternal)
	}

	out := make([]*bet.Bet, 0, len(ids))
	for _, v := range ids {
		idStr, _ := v.(string)
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		b, err := s.FindByID(ctx, id)
		if err != nil {
			return batchID, nil, err
		}
		if b != nil {
			b.BatchID = &batchID
			out = append(out, b)
		}
	}
	return batchID, out, nil
}

// UpdateStatus implements the non-retryable state-machine table of §4.1.
// FailedRetryable is handled separately by ApplyFailedRetryable because it
// needs the retry policy and returns the escalation decision.
func (s *RedisStore) UpdateStatus(ctx context.Context, id uuid.UUID, newStatus bet.Status, signature *string) error {
	if newStatus == bet.StatusFailedRetryable {
		return fmt.Errorf("%w: use ApplyFailedRetryable for FailedRetryable transitions", bet.ErrInternal)
	}

	key := keyBet(id.String())
	nowMs := s.nowMs()

	pipe := s.client.TxPipeline()
	fields := map[string]interface{}{"status": string(newStatus)}
	if signature != nil {
		fields["solana_tx_id"] = *signature
	}
	switch newStatus {
	case bet.StatusPending:
		fields["last_error_code"] = ""
		fields["last_error_message"] = ""
		pipe.HSet(ctx, key, fields)
		pipe.ZAdd(ctx, keyClaimable, redis.Z{Score: float64(nowMs), Member: id.String()})
		pipe.ZRem(ctx, keyProcessing, id.String())
	case bet.StatusBatched:
		fields["last_error_code"] = ""
		fields["last_error_message"] = ""
		pipe.HSet(ctx, key, fields)
		pipe.ZRem(ctx, keyClaimable, id.String())
		pipe.ZAdd(ctx, keyProcessing, redis.Z{Score: float64(nowMs), Member: id.String()})
	case bet.StatusSubmittedToSolana, bet.StatusConfirmedOnSolana:
		fields["last_error_code"] = ""
		fields["last_error_message"] = ""
		pipe.HSet(ctx, key, fields)
		pipe.ZRem(ctx, keyClaimable, id.String())
		pipe.ZRem(ctx, keyProcessing, id.String())
	case bet.StatusCompleted:
		return fmt.Errorf("%w: use CompleteBet for Completed transitions", bet.ErrInternal)
	case bet.StatusFailedManualReview:
		pipe.HSet(ctx, key, fields)
		pipe.ZRem(ctx, keyClaimable, id.String())
		pipe.ZRem(ctx, keyProcessing, id.String())
	default:
		return fmt.Errorf("%w: unknown status %q", bet.ErrInternal, newStatus)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: update status pipeline: %v", bet.ErrInternal, err)
	}
	return nil
}

// CompleteBet implements the Completed transition of §4.1, persisting the
// terminal won/payout_amount fields alongside the signature so that
// "exactly one of won/payout_amount populated once status reaches
// Completed" (§3.1) actually holds in storage.
func (s *RedisStore) CompleteBet(ctx context.Context, id uuid.UUID, signature string, won *bool, payoutAmount *int64) error {
	key := keyBet(id.String())
	fields := map[string]interface{}{
		"status":             string(bet.StatusCompleted),
		"solana_tx_id":       signature,
		"last_error_code":    "",
		"last_error_message": "",
	}
	if won != nil {
		fields["won"] = strconv.FormatBool(*won)
	}
	if payoutAmount != nil {
		fields["payout_amount"] = strconv.FormatInt(*payoutAmount, 10)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.ZRem(ctx, keyClaimable, id.String())
	pipe.ZRem(ctx, keyProcessing, id.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: complete bet pipeline: %v", bet.ErrInternal, err)
	}
	return nil
}

// ApplyFailedRetryable runs the retryable-failure script (§4.1): increments
// retry_count, then either reschedules into claimable with exponential
// backoff or escalates to FailedManualReview once the budget is exhausted.
func (s *RedisStore) ApplyFailedRetryable(ctx context.Context, id uuid.UUID, errMsg string, policy RetryPolicy) (bet.Status, int, error) {
	key := keyBet(id.String())
	if errMsg != "" {
		if err := s.client.HSet(ctx, key, "last_error_message", errMsg).Err(); err != nil {
			return "", 0, fmt.Errorf("%w: set error message: %v", bet.ErrInternal, err)
		}
	}

	raw, err := failRetryableScript.Run(ctx, s.client,
		[]string{key, keyClaimable, keyProcessing},
		id.String(), s.nowMs(), policy.MaxRetries, policy.BackoffMs, policy.BackoffMax,
	).Result()
	if err != nil {
		return "", 0, fmt.Errorf("%w: fail-retryable script: %v", bet.ErrInternal, err)
	}

	result, ok := raw.([]interface{})
	if !ok || len(result) != 2 {
		return "", 0, fmt.Errorf("%w: unexpected fail-retryable result", bet.ErrInternal)
	}
	statusStr, _ := result[0].(string)
	retryStr, _ := result[1].(string)
	retryCount, _ := strconv.Atoi(retryStr)

	switch statusStr {
	case "failed_manual_review":
		return bet.StatusFailedManualReview, retryCount, nil
	case "failed_retryable":
		return bet.StatusFailedRetryable, retryCount, nil
	default:
		return "", 0, fmt.Errorf("%w: unknown script status %q", bet.ErrInternal, statusStr)
	}
}

// UpdateStatusCAS performs an optimistic-concurrency status update guarded
// by the stored version field, via the casUpdateScript.
func (s *RedisStore) UpdateStatusCAS(ctx context.Context, id uuid.UUID, expectedVersion int64, newStatus bet.Status) (bool, error) {
	raw, err := casUpdateScript.Run(ctx, s.client,
		[]string{keyBet(id.String())},
		expectedVersion, string(newStatus),
	).Result()
	if err != nil {
		return false, fmt.Errorf("%w: cas script: %v", bet.ErrInternal, err)
	}
	n, _ := raw.(int64)
	return n == 1, nil
}

// StuckProcessing returns up to limit entries from the processing index
// whose claim instant is older than olderThan, for the reconciliation
// sweep (§9 Open Question 2) to re-examine.
func (s *RedisStore) StuckProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]*bet.Bet, error) {
	cutoff := s.now().Add(-olderThan).UnixMilli()
	ids, err := s.client.ZRangeByScore(ctx, keyProcessing, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(cutoff, 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: zrangebyscore processing: %v", bet.ErrInternal, err)
	}

	out := make([]*bet.Bet, 0, len(ids))
	for _, idStr := range ids {
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		b, err := s.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if b != nil {
			out = append(out, b)
		}
	}
	return out, nil
}
