package queue

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/reecen9696/atomiq-bet-settlement/internal/bet"
)

// toFields flattens a Bet into the hash-field map stored under bet:<id>,
// mirroring the column names of the original Rust domain model.
func toFields(b *bet.Bet) map[string]interface{} {
	f := map[string]interface{}{
		"id":            b.ID.String(),
		"created_at_ms": strconv.FormatInt(b.CreatedAt.UnixMilli(), 10),
		"user_wallet":   b.UserWallet,
		"vault_address": b.VaultAddress,
		"game_type":     b.GameType,
		"stake_amount":  strconv.FormatInt(b.StakeAmount, 10),
		"stake_token":   b.StakeToken,
		"choice":        b.Choice,
		"status":        string(b.Status),
		"retry_count":   strconv.Itoa(b.RetryCount),
		"version":       strconv.FormatInt(b.Version, 10),
	}
	if b.AllowanceRef != nil {
		f["allowance_ref"] = *b.AllowanceRef
	}
	if b.BatchID != nil {
		f["external_batch_id"] = b.BatchID.String()
	}
	if b.SolanaTxID != nil {
		f["solana_tx_id"] = *b.SolanaTxID
	}
	if b.ProcessorID != nil {
		f["processor_id"] = *b.ProcessorID
	}
	if b.LastErrorCode != nil {
		f["last_error_code"] = *b.LastErrorCode
	}
	if b.LastErrorMessage != nil {
		f["last_error_message"] = *b.LastErrorMessage
	}
	if b.PayoutAmount != nil {
		f["payout_amount"] = strconv.FormatInt(*b.PayoutAmount, 10)
	}
	if b.Won != nil {
		f["won"] = strconv.FormatBool(*b.Won)
	}
	return f
}

// fromFields reconstructs a Bet from a Redis hash, tolerating absent
// optional fields. id is passed separately since HGETALL does not return
// the key the hash lives under.
func fromFields(id uuid.UUID, f map[string]string) (*bet.Bet, error) {
	b := &bet.Bet{
		ID:           id,
		UserWallet:   f["user_wallet"],
		VaultAddress: f["vault_address"],
		GameType:     f["game_type"],
		StakeToken:   f["stake_token"],
		Choice:       f["choice"],
		Status:       bet.Status(f["status"]),
	}

	if v, ok := f["created_at_ms"]; ok && v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, err
		}
		b.CreatedAt = time.UnixMilli(ms).UTC()
	}
	if v, ok := f["stake_amount"]; ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, err
		}
		b.StakeAmount = n
	}
	if v, ok := f["retry_count"]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}
		b.RetryCount = n
	}
	if v, ok := f["version"]; ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, err
		}
		b.Version = n
	}
	if v, ok := f["allowance_ref"]; ok && v != "" {
		b.AllowanceRef = &v
	}
	if v, ok := f["external_batch_id"]; ok && v != "" {
		batchID, err := uuid.Parse(v)
		if err != nil {
			return nil, err
		}
		b.BatchID = &batchID
	}
	if v, ok := f["solana_tx_id"]; ok && v != "" {
		b.SolanaTxID = &v
	}
	if v, ok := f["processor_id"]; ok && v != "" {
		b.ProcessorID = &v
	}
	if v, ok := f["last_error_code"]; ok && v != "" {
		b.LastErrorCode = &v
	}
	if v, ok := f["last_error_message"]; ok && v != "" {
		b.LastErrorMessage = &v
	}
	if v, ok := f["payout_amount"]; ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, err
		}
		b.PayoutAmount = &n
	}
	if v, ok := f["won"]; ok && v != "" {
		won, err := strconv.ParseBool(v)
		if err != nil {
			return nil, err
		}
		b.Won = &won
	}

	return b, nil
}
