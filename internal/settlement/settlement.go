// Package settlement defines the Settlement domain type fetched from the
// external settlements service (C2) and processed by the settlement
// worker pool (C7).
package settlement

import "errors"

// Outcome is the result of the underlying game round.
type Outcome string

const (
	OutcomeWin  Outcome = "Win"
	OutcomeLoss Outcome = "Loss"
)

// BatchType is the settlement batch classification the coordinator assigns.
type BatchType string

const (
	BatchTypePayout BatchType = "Payout" // Win: casino vault pays the player
	BatchTypeSpend  BatchType = "Spend"  // Loss: player's allowance is spent
)

// Status mirrors the external service's settlement status enum (§6.2).
type Status string

const (
	StatusSubmittedToSolana         Status = "SubmittedToSolana"
	StatusSettlementComplete        Status = "SettlementComplete"
	StatusSettlementFailed          Status = "SettlementFailed"
	StatusSettlementFailedPermanent Status = "SettlementFailedPermanent"
)

// Settlement is a single pending or in-flight settlement as surfaced by the
// external settlements service.
type Settlement struct {
	TransactionID   uint64
	PlayerAddress   string
	GameType        string
	BetAmount       int64
	Token           string
	Outcome         Outcome
	Payout          int64
	BlockHeight     uint64
	Version         uint64
	SolanaTxID      *string // idempotency marker: already settled if present
	RetryCount      uint32
	NextRetryAfter  *int64 // unix millis
	AllowanceRef    *string
}

// AlreadySettled reports whether this settlement already carries a chain
// signature, in which case submission must be skipped (§4.3 step 1).
func (s Settlement) AlreadySettled() bool {
	return s.SolanaTxID != nil && *s.SolanaTxID != ""
}

// Batch is an in-flight, in-memory grouping of settlements created by the
// coordinator and owned by exactly one worker until acknowledged. It is
// never persisted: if the process dies, the underlying settlements remain
// "pending" in the external service and are re-fetched next cycle.
type Batch struct {
	ID          string
	Type        BatchType
	Settlements []Settlement
}

var (
	// ErrVersionConflict signals the external service rejected an update
	// because the caller's expected_version was stale (HTTP 409).
	ErrVersionConflict = errors.New("settlement: version conflict")
	// ErrTransient signals a retryable transport/5xx failure.
	ErrTransient = errors.New("settlement: transient error")
)
