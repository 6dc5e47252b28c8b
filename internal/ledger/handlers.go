package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cardlinkhq/settle/internal/validation"
)

// Handler provides HTTP endpoints for ledger operations
type Handler struct {
	ledger *Ledger
	logger *slog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(ledger *Ledger, logger *slog.Logger) *Handler {
	return &Handler{ledger: ledger, logger: logger}
}

// RegisterRoutes sets up ledger routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/accounts/:address/balance", h.GetBalance)
	r.GET("/accounts/:address/ledger", h.GetHistory)
	r.POST("/deposits", h.RecordDeposit)
}

// GetBalance handles GET /accounts/:address/balance
func (h *Handler) GetBalance(c *gin.Context) {
	address := c.Param("address")

	balance, err := h.ledger.GetBalance(c.Request.Context(), address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "balance_error",
			"message": "Failed to retrieve balance",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"balance": balance,
	})
}

// GetHistory handles GET /accounts/:address/ledger
func (h *Handler) GetHistory(c *gin.Context) {
	address := c.Param("address")

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	entries, err := h.ledger.GetHistory(c.Request.Context(), address, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "ledger_error",
			"message": "Failed to retrieve ledger history",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
	})
}

// DepositRequest is the payload for recording a deposit
type DepositRequest struct {
	Address   string `json:"address" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
	Reference string `json:"reference" binding:"required"`
}

// RecordDeposit handles POST /deposits
func (h *Handler) RecordDeposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidAddress("address", req.Address),
		validation.ValidAmount("amount", req.Amount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": errs,
		})
		return
	}

	err := h.ledger.Deposit(c.Request.Context(), req.Address, req.Amount, req.Reference)
	switch {
	case errors.Is(err, ErrDuplicateDeposit):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "duplicate_deposit",
			"message": "This deposit reference has already been processed",
		})
		return
	case errors.Is(err, ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "Amount must be a positive decimal number",
		})
		return
	case err != nil:
		h.logger.Error("deposit failed", "error", err, "address", req.Address)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "deposit_error",
			"message": "Failed to record deposit",
		})
		return
	}

	h.logger.Info("deposit recorded",
		"address", req.Address,
		"amount", req.Amount,
		"reference", req.Reference,
	)

	c.JSON(http.StatusCreated, gin.H{
		"status":    "credited",
		"address":   req.Address,
		"amount":    req.Amount,
		"reference": req.Reference,
	})
}
