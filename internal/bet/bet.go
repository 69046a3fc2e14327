// Package bet defines the Bet domain type and its lifecycle.
package bet

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Bet.
type Status string

const (
	StatusPending            Status = "pending"
	StatusBatched            Status = "batched"
	StatusSubmittedToSolana  Status = "submitted_to_solana"
	StatusConfirmedOnSolana  Status = "confirmed_on_solana"
	StatusCompleted          Status = "completed"
	StatusFailedRetryable    Status = "failed_retryable"
	StatusFailedManualReview Status = "failed_manual_review"
)

// Terminal reports whether a bet in this status will never transition again
// without operator intervention.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailedManualReview:
		return true
	default:
		return false
	}
}

// InClaimable reports whether a bet in this status belongs in the claimable index.
func (s Status) InClaimable() bool {
	return s == StatusPending || s == StatusFailedRetryable
}

// InProcessing reports whether a bet in this status belongs in the processing index.
func (s Status) InProcessing() bool {
	return s == StatusBatched
}

// Bet is the persisted record for a single wager, field-for-field matching
// the hash map layout stored under bet:<id> in the queue store.
type Bet struct {
	ID               uuid.UUID  `json:"bet_id"`
	CreatedAt        time.Time  `json:"created_at"`
	UserWallet       string     `json:"user_wallet"`
	VaultAddress     string     `json:"vault_address"`
	AllowanceRef     *string    `json:"allowance_ref,omitempty"`
	GameType         string     `json:"game_type"`
	StakeAmount      int64      `json:"stake_amount"`
	StakeToken       string     `json:"stake_token"`
	Choice           string     `json:"choice"`
	Status           Status     `json:"status"`
	BatchID          *uuid.UUID `json:"batch_id,omitempty"`
	SolanaTxID       *string    `json:"solana_tx_id,omitempty"`
	RetryCount       int        `json:"retry_count"`
	ProcessorID      *string    `json:"processor_id,omitempty"`
	LastErrorCode    *string    `json:"last_error_code,omitempty"`
	LastErrorMessage *string    `json:"last_error_message,omitempty"`
	PayoutAmount     *int64     `json:"payout_amount,omitempty"`
	Won              *bool      `json:"won,omitempty"`
	Version          int64      `json:"version"`
}

// CreateRequest is the input to Store.Create.
type CreateRequest struct {
	VaultAddress string
	AllowanceRef *string
	GameType     string
	StakeAmount  int64
	StakeToken   string
	Choice       string
}

// Bounds on stake amount, in the stake token's smallest unit (e.g. lamports).
const (
	MinStakeAmount int64 = 1
	MaxStakeAmount int64 = 100_000_000_000
)

// Validate enforces the §3.1 invariants that do not require store access.
func (r CreateRequest) Validate() error {
	if r.VaultAddress == "" {
		return fmt.Errorf("%w: vault_address is required", ErrValidation)
	}
	if r.GameType == "" {
		return fmt.Errorf("%w: game_type is required", ErrValidation)
	}
	if r.StakeToken == "" {
		return fmt.Errorf("%w: stake_token is required", ErrValidation)
	}
	if r.Choice == "" {
		return fmt.Errorf("%w: choice is required", ErrValidation)
	}
	if r.StakeAmount < MinStakeAmount || r.StakeAmount > MaxStakeAmount {
		return fmt.Errorf("%w: stake_amount %d out of bounds [%d,%d]", ErrValidation, r.StakeAmount, MinStakeAmount, MaxStakeAmount)
	}
	return nil
}

// Result is what a bet worker reports back per bet after a chunk submission.
type Result struct {
	BetID        uuid.UUID
	Status       Status
	SolanaTxID   *string
	ErrorMessage *string
	Won          *bool
	PayoutAmount *int64
}
