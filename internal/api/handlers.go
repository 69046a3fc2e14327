package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reecen9696/atomiq-bet-settlement/internal/audit"
	"github.com/reecen9696/atomiq-bet-settlement/internal/bet"
	"github.com/reecen9696/atomiq-bet-settlement/internal/queue"
)

type handlers struct {
	store queue.Store
	audit *audit.Log
	logger *zap.Logger
	retry queue.RetryPolicy
}

// createBetRequest mirrors bet.CreateRequest, separated so the validator
// tags live at the HTTP boundary rather than on the domain type.
type createBetRequest struct {
	UserWallet   string  `json:"user_wallet" binding:"required"`
	VaultAddress string  `json:"vault_address" binding:"required"`
	AllowanceRef *string `json:"allowance_ref"`
	GameType     string  `json:"game_type" binding:"required"`
	StakeAmount  int64   `json:"stake_amount" binding:"required,gte=1,lte=100000000000"`
	StakeToken   string  `json:"stake_token" binding:"required"`
	Choice       string  `json:"choice" binding:"required"`
}

func (h *handlers) createBet(c *gin.Context) {
	var req createBetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.store.Create(c.Request.Context(), req.UserWallet, bet.CreateRequest{
		VaultAddress: req.VaultAddress,
		AllowanceRef: req.AllowanceRef,
		GameType:     req.GameType,
		StakeAmount:  req.StakeAmount,
		StakeToken:   req.StakeToken,
		Choice:       req.Choice,
	})
	if err != nil {
		h.logger.Warn("bet creation rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.recordAudit("bet.created", created.ID.String(), req.UserWallet, "", string(created.Status))
	c.JSON(http.StatusCreated, created)
}

func (h *handlers) getBet(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed bet id"})
		return
	}

	b, err := h.store.FindByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("find by id failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if b == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "bet not found"})
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *handlers) listBetsByUser(c *gin.Context) {
	wallet := c.Query("user")
	if wallet == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user query parameter is required"})
		return
	}

	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	bets, err := h.store.FindByUser(c.Request.Context(), wallet, limit, offset)
	if err != nil {
		h.logger.Error("find by user failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if bets == nil {
		bets = []*bet.Bet{}
	}
	c.JSON(http.StatusOK, gin.H{"bets": bets})
}

func (h *handlers) pendingBets(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	processorID := c.Query("processor_id")
	if processorID == "" {
		processorID = c.GetString("processor_id")
	}

	batchID, bets, err := h.store.ClaimPending(c.Request.Context(), limit, processorID)
	if err != nil {
		h.logger.Error("claim pending failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if bets == nil {
		bets = []*bet.Bet{}
	}

	c.JSON(http.StatusOK, gin.H{
		"batch_id":     batchID,
		"processor_id": processorID,
		"bets":         bets,
	})
}

// betResultPayload is one entry in the §6.1 batch-callback bet_results array.
type betResultPayload struct {
	BetID        uuid.UUID `json:"bet_id" binding:"required"`
	Status       string    `json:"status" binding:"required,oneof=created submitted confirmed failed"`
	SolanaTxID   *string   `json:"solana_tx_id"`
	ErrorMessage *string   `json:"error_message"`
	Won          *bool     `json:"won"`
	PayoutAmount *int64    `json:"payout_amount"`
}

type reportBatchRequest struct {
	Status       string             `json:"status" binding:"required"`
	SolanaTxID   *string            `json:"solana_tx_id"`
	ErrorMessage *string            `json:"error_message"`
	BetResults   []betResultPayload `json:"bet_results"`
}

// reportBatch implements the §6.1 batch status callback: one status
// transition per bet result, independent of whether siblings in the same
// batch succeed or fail.
func (h *handlers) reportBatch(c *gin.Context) {
	var req reportBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, failed := 0, 0
	for _, r := range req.BetResults {
		if err := h.applyBetResult(c, r); err != nil {
			h.logger.Error("failed to apply bet result", zap.String("bet_id", r.BetID.String()), zap.Error(err))
			failed++
			continue
		}
		updated++
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       failed == 0,
		"updated_count": updated,
		"error_count":   failed,
	})
}

func (h *handlers) applyBetResult(c *gin.Context, r betResultPayload) error {
	newStatus, retryable := mapBetResultStatus(r.Status)
	if retryable {
		errMsg := ""
		if r.ErrorMessage != nil {
			errMsg = *r.ErrorMessage
		}
		resultStatus, _, err := h.store.ApplyFailedRetryable(c.Request.Context(), r.BetID, errMsg, h.retry)
		if err == nil {
			h.recordAudit("bet.status_changed", r.BetID.String(), "", "", string(resultStatus))
		}
		return err
	}

	if newStatus == bet.StatusCompleted {
		signature := ""
		if r.SolanaTxID != nil {
			signature = *r.SolanaTxID
		}
		err := h.store.CompleteBet(c.Request.Context(), r.BetID, signature, r.Won, r.PayoutAmount)
		if err == nil {
			h.recordAudit("bet.status_changed", r.BetID.String(), "", "", string(newStatus))
		}
		return err
	}

	err := h.store.UpdateStatus(c.Request.Context(), r.BetID, newStatus, r.SolanaTxID)
	if err == nil {
		h.recordAudit("bet.status_changed", r.BetID.String(), "", "", string(newStatus))
	}
	return err
}

// mapBetResultStatus translates the §6.1 wire vocabulary (created|submitted|
// confirmed|failed) into the internal bet.Status lifecycle, plus whether
// the retryable-failure path applies. "confirmed" maps straight to
// Completed: bet workers never produce a bare ConfirmedOnSolana for bets
// (that state exists for the reconciliation sweep's on-chain lookups).
func mapBetResultStatus(wireStatus string) (bet.Status, bool) {
	switch wireStatus {
	case "created":
		return bet.StatusBatched, false
	case "submitted":
		return bet.StatusSubmittedToSolana, false
	case "confirmed":
		return bet.StatusCompleted, false
	case "failed":
		return "", true
	default:
		return "", true
	}
}

func (h *handlers) recordAudit(eventType, aggregateID, actor, before, after string) {
	if h.audit == nil {
		return
	}
	h.audit.Record(audit.Event{
		EventType:   eventType,
		AggregateID: aggregateID,
		Actor:       actor,
		Before:      before,
		After:       after,
	})
}

func queryInt(c *gin.Context, name string, def int) int {
	v := c.Query(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
