package escrow

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cardlinkhq/settle/internal/guard"
	"github.com/cardlinkhq/settle/internal/ledger"
	"github.com/cardlinkhq/settle/internal/signing"
	"github.com/cardlinkhq/settle/internal/validation"
)

// Handler provides HTTP endpoints for escrows
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new escrow handler
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes sets up escrow routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/escrows", h.CreateEscrow)
	r.GET("/escrows/:id", h.GetEscrow)
	r.POST("/escrows/:id/release", h.ReleaseEscrow)
	r.POST("/escrows/:id/refund", h.RefundEscrow)
	r.POST("/escrows/:id/dispute", h.DisputeEscrow)
	r.POST("/escrows/:id/resolve", h.ResolveEscrow)
	r.GET("/accounts/:address/escrows", h.ListEscrows)
}

// CreateEscrowRequest is the payload for POST /escrows
type CreateEscrowRequest struct {
	Payee       string `json:"payee" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	Value       string `json:"value" binding:"required"`
	Terms       string `json:"terms,omitempty"`
	ReleaseTime string `json:"releaseTime,omitempty"` // RFC3339; empty = payer-only release
}

// CreateEscrow handles POST /escrows
func (h *Handler) CreateEscrow(c *gin.Context) {
	var req CreateEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidAddress("payee", req.Payee),
		validation.ValidAmount("amount", req.Amount),
		validation.MaxLength("terms", req.Terms, validation.MaxTermsLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": errs,
		})
		return
	}

	var releaseTime time.Time
	if req.ReleaseTime != "" {
		parsed, err := time.Parse(time.RFC3339, req.ReleaseTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_release_time",
				"message": "releaseTime must be RFC3339",
			})
			return
		}
		releaseTime = parsed
	}

	caller := signing.AuthenticatedCaller(c)
	e, err := h.service.Create(c.Request.Context(), caller, CreateRequest{
		Payee:       req.Payee,
		Amount:      req.Amount,
		Value:       req.Value,
		Terms:       validation.SanitizeString(req.Terms, validation.MaxTermsLength),
		ReleaseTime: releaseTime,
	})
	if err != nil {
		respondEscrowError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"escrow": e})
}

// GetEscrow handles GET /escrows/:id
func (h *Handler) GetEscrow(c *gin.Context) {
	e, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Escrow not found",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "escrow_error",
			"message": "Failed to retrieve escrow",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// ReleaseEscrow handles POST /escrows/:id/release
func (h *Handler) ReleaseEscrow(c *gin.Context) {
	caller := signing.AuthenticatedCaller(c)
	e, err := h.service.Release(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// RefundEscrow handles POST /escrows/:id/refund
func (h *Handler) RefundEscrow(c *gin.Context) {
	caller := signing.AuthenticatedCaller(c)
	e, err := h.service.Refund(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// DisputeEscrow handles POST /escrows/:id/dispute
func (h *Handler) DisputeEscrow(c *gin.Context) {
	caller := signing.AuthenticatedCaller(c)
	e, err := h.service.Dispute(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// ResolveEscrowRequest is the payload for POST /escrows/:id/resolve
type ResolveEscrowRequest struct {
	Outcome string `json:"outcome" binding:"required"` // released_to_payee | refunded_to_payer
}

// ResolveEscrow handles POST /escrows/:id/resolve
func (h *Handler) ResolveEscrow(c *gin.Context) {
	var req ResolveEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	caller := signing.AuthenticatedCaller(c)
	e, err := h.service.Resolve(c.Request.Context(), c.Param("id"), caller, req.Outcome)
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// ListEscrows handles GET /accounts/:address/escrows
func (h *Handler) ListEscrows(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	list, err := h.service.ListByParty(c.Request.Context(), c.Param("address"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "escrow_error",
			"message": "Failed to list escrows",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrows": list})
}

func respondEscrowError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Escrow not found"})
	case errors.Is(err, ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state", "message": err.Error()})
	case errors.Is(err, ErrReleaseTimeNotReached):
		c.JSON(http.StatusConflict, gin.H{"error": "release_time_not_reached", "message": err.Error()})
	case errors.Is(err, ErrInvalidOutcome):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_outcome", "message": err.Error()})
	case errors.Is(err, ErrUnknownParty):
		c.JSON(http.StatusForbidden, gin.H{"error": "unknown_party", "message": err.Error()})
	case errors.Is(err, guard.ErrInvalidAddress):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_address", "message": err.Error()})
	case errors.Is(err, guard.ErrSelfTransfer):
		c.JSON(http.StatusBadRequest, gin.H{"error": "self_transfer", "message": err.Error()})
	case errors.Is(err, guard.ErrZeroAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "zero_amount", "message": err.Error()})
	case errors.Is(err, guard.ErrValueMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": "value_mismatch", "message": err.Error()})
	case errors.Is(err, guard.ErrNotAuthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_authorized", "message": err.Error()})
	case errors.Is(err, guard.ErrReentrancy):
		c.JSON(http.StatusConflict, gin.H{"error": "record_busy", "message": err.Error()})
	case errors.Is(err, ledger.ErrInsufficientBalance):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient_balance", "message": err.Error()})
	case errors.Is(err, ledger.ErrAccountNotFound):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient_balance", "message": "payer has no funded account"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "escrow_error", "message": "Escrow operation failed"})
	}
}
