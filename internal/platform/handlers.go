package platform

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cardlinkhq/settle/internal/signing"
)

// Handler provides HTTP endpoints for platform configuration
type Handler struct {
	config *Config
	logger *slog.Logger
}

// NewHandler creates a new platform handler
func NewHandler(config *Config, logger *slog.Logger) *Handler {
	return &Handler{config: config, logger: logger}
}

// RegisterRoutes sets up platform routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/platform", h.GetPlatform)
	r.PUT("/platform/fees", h.SetFees)
}

// GetPlatform handles GET /platform
func (h *Handler) GetPlatform(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"platform": h.config.Snapshot()})
}

// SetFeesRequest is the payload for PUT /platform/fees
type SetFeesRequest struct {
	FeeRateBps   *int64 `json:"feeRateBps" binding:"required"`
	FeeCap       string `json:"feeCap" binding:"required"`
	FeeRecipient string `json:"feeRecipient,omitempty"` // empty keeps current
}

// SetFees handles PUT /platform/fees. Owner only; applies to payments
// created afterwards.
func (h *Handler) SetFees(c *gin.Context) {
	var req SetFeesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	caller := signing.AuthenticatedCaller(c)
	err := h.config.SetFees(caller, *req.FeeRateBps, req.FeeCap, req.FeeRecipient)
	switch {
	case errors.Is(err, ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "not_owner",
			"message": "Only the platform owner may change fee parameters",
		})
		return
	case errors.Is(err, ErrInvalidFeeRate), errors.Is(err, ErrInvalidFeeCap):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_fees",
			"message": err.Error(),
		})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "platform_error",
			"message": "Failed to update fees",
		})
		return
	}

	h.logger.Info("fee parameters updated",
		"by", caller,
		"rateBps", *req.FeeRateBps,
		"cap", req.FeeCap,
	)

	c.JSON(http.StatusOK, gin.H{"platform": h.config.Snapshot()})
}
