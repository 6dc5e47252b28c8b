package payment

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cardlinkhq/settle/internal/guard"
	"github.com/cardlinkhq/settle/internal/ledger"
	"github.com/cardlinkhq/settle/internal/signing"
	"github.com/cardlinkhq/settle/internal/validation"
)

// Handler provides HTTP endpoints for payments
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new payment handler
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes sets up payment routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payments", h.CreatePayment)
	r.GET("/payments/:id", h.GetPayment)
	r.GET("/accounts/:address/payments", h.ListPayments)
}

// CreatePaymentRequest is the payload for POST /payments
type CreatePaymentRequest struct {
	Payee  string `json:"payee" binding:"required"`
	Amount string `json:"amount" binding:"required"`
	Value  string `json:"value" binding:"required"`
	Memo   string `json:"memo,omitempty"`
}

// CreatePayment handles POST /payments
func (h *Handler) CreatePayment(c *gin.Context) {
	var req CreatePaymentRequest
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
		validation.MaxLength("memo", req.Memo, validation.MaxTermsLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": errs,
		})
		return
	}

	caller := signing.AuthenticatedCaller(c)
	p, err := h.service.Create(c.Request.Context(), caller, CreateRequest{
		Payee:  req.Payee,
		Amount: req.Amount,
		Value:  req.Value,
		Memo:   validation.SanitizeString(req.Memo, validation.MaxTermsLength),
	})
	if err != nil {
		respondPaymentError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"payment": p})
}

// GetPayment handles GET /payments/:id
func (h *Handler) GetPayment(c *gin.Context) {
	p, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Payment not found",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "payment_error",
			"message": "Failed to retrieve payment",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"payment": p})
}

// ListPayments handles GET /accounts/:address/payments
func (h *Handler) ListPayments(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	list, err := h.service.ListByParty(c.Request.Context(), c.Param("address"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "payment_error",
			"message": "Failed to list payments",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"payments": list})
}

func respondPaymentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, guard.ErrInvalidAddress):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_address", "message": err.Error()})
	case errors.Is(err, guard.ErrSelfTransfer):
		c.JSON(http.StatusBadRequest, gin.H{"error": "self_transfer", "message": err.Error()})
	case errors.Is(err, guard.ErrZeroAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "zero_amount", "message": err.Error()})
	case errors.Is(err, guard.ErrValueMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": "value_mismatch", "message": err.Error()})
	case errors.Is(err, guard.ErrReentrancy):
		c.JSON(http.StatusConflict, gin.H{"error": "record_busy", "message": err.Error()})
	case errors.Is(err, ledger.ErrInsufficientBalance):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient_balance", "message": err.Error()})
	case errors.Is(err, ledger.ErrAccountNotFound):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient_balance", "message": "payer has no funded account"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "payment_error", "message": "Failed to create payment"})
	}
}
