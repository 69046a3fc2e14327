package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reecen9696/atomiq-bet-settlement/internal/bet"
)

// FakeStore is a hand-rolled in-memory Store used by package tests and by
// other components' tests that need a queue.Store without a live Redis.
// It keeps the same status transitions as RedisStore in plain Go, but
// without the scored index sets: ClaimPending takes pending and
// failed_retryable bets oldest-created first without consulting their
// backoff schedule, and StuckProcessing ages bets by creation time rather
// than by claim time.
type FakeStore struct {
	mu            sync.Mutex
	bets          map[uuid.UUID]*bet.Bet
	now           func() time.Time
	nextAttemptAt map[uuid.UUID]int64
}

// NewFakeStore returns an empty store.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		bets:          make(map[uuid.UUID]*bet.Bet),
		now:           time.Now,
		nextAttemptAt: make(map[uuid.UUID]int64),
	}
}

// NextAttemptAt exposes the backoff-scheduled reclaim time recorded by the
// last ApplyFailedRetryable call for id, in epoch milliseconds, for tests
// that assert on the retry schedule. Returns 0 if never scheduled.
func (s *FakeStore) NextAttemptAt(id uuid.UUID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextAttemptAt[id]
}

func (s *FakeStore) Create(_ context.Context, wallet string, req bet.CreateRequest) (*bet.Bet, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
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
	}
	s.bets[b.ID] = b
	return cloneBet(b), nil
}

func (s *FakeStore) FindByID(_ context.Context, id uuid.UUID) (*bet.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bets[id]
	if !ok {
		return nil, nil
	}
	return cloneBet(b), nil
}

func (s *FakeStore) FindByUser(_ context.Context, wallet string, limit, offset int) ([]*bet.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*bet.Bet
	for _, b := range s.bets {
		if b.UserWallet == wallet {
			matched = append(matched, b)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	out := make([]*bet.Bet, 0, end-offset)
	for _, b := range matched[offset:end] {
		out = append(out, cloneBet(b))
	}
	return out, nil
}

func (s *FakeStore) ClaimPending(_ context.Context, limit int, workerID string) (uuid.UUID, []*bet.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batchID := uuid.New()
	nowMs := s.now().UnixMilli()

	var candidates []*bet.Bet
	for _, b := range s.bets {
		if !b.Status.InClaimable() {
			continue
		}
		candidates = append(candidates, b)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })

	out := make([]*bet.Bet, 0, limit)
	for _, b := range candidates {
		if len(out) >= limit {
			break
		}
		_ = nowMs
		b.Status = bet.StatusBatched
		b.BatchID = &batchID
		pid := workerID
		b.ProcessorID = &pid
		out = append(out, cloneBet(b))
	}
	return batchID, out, nil
}

func (s *FakeStore) UpdateStatus(_ context.Context, id uuid.UUID, newStatus bet.Status, signature *string) error {
	if newStatus == bet.StatusCompleted {
		return fmt.Errorf("%w: use CompleteBet for Completed transitions", bet.ErrInternal)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bets[id]
	if !ok {
		return bet.ErrNotFound
	}
	b.Status = newStatus
	if signature != nil {
		b.SolanaTxID = signature
	}
	if newStatus != bet.StatusFailedManualReview {
		b.LastErrorCode = nil
		b.LastErrorMessage = nil
	}
	return nil
}

func (s *FakeStore) CompleteBet(_ context.Context, id uuid.UUID, signature string, won *bool, payoutAmount *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bets[id]
	if !ok {
		return bet.ErrNotFound
	}
	b.Status = bet.StatusCompleted
	b.SolanaTxID = &signature
	b.LastErrorCode = nil
	b.LastErrorMessage = nil
	if won != nil {
		b.Won = won
	}
	if payoutAmount != nil {
		b.PayoutAmount = payoutAmount
	}
	return nil
}

func (s *FakeStore) ApplyFailedRetryable(_ context.Context, id uuid.UUID, errMsg string, policy RetryPolicy) (bet.Status, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bets[id]
	if !ok {
		return "", 0, bet.ErrNotFound
	}
	if errMsg != "" {
		b.LastErrorMessage = &errMsg
	}
	b.RetryCount++
	if b.RetryCount > policy.MaxRetries {
		b.Status = bet.StatusFailedManualReview
		delete(s.nextAttemptAt, id)
		return b.Status, b.RetryCount, nil
	}
	b.Status = bet.StatusFailedRetryable
	s.nextAttemptAt[id] = s.now().UnixMilli() + backoffDelayMs(policy.BackoffMs, policy.BackoffMax, b.RetryCount)
	return b.Status, b.RetryCount, nil
}

func (s *FakeStore) StuckProcessing(_ context.Context, olderThan time.Duration, limit int) ([]*bet.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-olderThan)
	var out []*bet.Bet
	for _, b := range s.bets {
		if !b.Status.InProcessing() {
			continue
		}
		if b.CreatedAt.Before(cutoff) {
			out = append(out, cloneBet(b))
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *FakeStore) UpdateStatusCAS(_ context.Context, id uuid.UUID, expectedVersion int64, newStatus bet.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bets[id]
	if !ok {
		return false, bet.ErrNotFound
	}
	if b.Version != expectedVersion {
		return false, nil
	}
	b.Status = newStatus
	b.Version++
	return true, nil
}

func cloneBet(b *bet.Bet) *bet.Bet {
	cp := *b
	return &cp
}
