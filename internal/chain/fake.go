package chain

import (
	"context"
	"sync"

	"github.com/segmentio/ksuid"

	"github.com/reecen9696/atomiq-bet-settlement/internal/bet"
	"github.com/reecen9696/atomiq-bet-settlement/internal/settlement"
)

// FakeRPC is a scriptable RPC used by package tests and by callers'
// tests (settlementworker, betworker) that need a chain.RPC without a live
// cluster.
type FakeRPC struct {
	mu sync.Mutex

	HealthErr    error
	SubmitBetErr error
	SubmitSetErr error
	StatusToRet  SignatureStatus
	StatusErr    error

	// AllWin forces every bet to resolve as a winner; otherwise bets
	// alternate win/loss (even indexes win) so tests can assert mixed
	// outcomes.
	AllWin bool

	submittedBets       [][]*bet.Bet
	submittedSettlement []*settlement.Batch
}

func NewFakeRPC() *FakeRPC {
	return &FakeRPC{StatusToRet: StatusConfirmed}
}

func (f *FakeRPC) Health(ctx context.Context) error {
	return f.HealthErr
}

func (f *FakeRPC) SubmitBetBatch(ctx context.Context, bets []*bet.Bet) (string, []BetResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitBetErr != nil {
		return "", nil, f.SubmitBetErr
	}
	f.submittedBets = append(f.submittedBets, bets)

	results := make([]BetResult, 0, len(bets))
	for i, b := range bets {
		won := f.AllWin || i%2 == 0
		payout := int64(0)
		if won {
			payout = b.StakeAmount * 2
		}
		results = append(results, BetResult{BetID: b.ID, Won: won, PayoutAmount: payout})
	}
	return ksuid.New().String(), results, nil
}

func (f *FakeRPC) SubmitSettlementBatch(ctx context.Context, batch *settlement.Batch) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitSetErr != nil {
		return "", f.SubmitSetErr
	}
	f.submittedSettlement = append(f.submittedSettlement, batch)
	return ksuid.New().String(), nil
}

func (f *FakeRPC) SignatureStatus(ctx context.Context, signature string) (SignatureStatus, error) {
	if f.StatusErr != nil {
		return StatusUnknown, f.StatusErr
	}
	return f.StatusToRet, nil
}

func (f *FakeRPC) SubmittedBetBatches() [][]*bet.Bet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]*bet.Bet(nil), f.submittedBets...)
}

func (f *FakeRPC) SubmittedSettlementBatches() []*settlement.Batch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*settlement.Batch(nil), f.submittedSettlement...)
}
