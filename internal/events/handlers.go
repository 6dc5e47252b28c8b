package events

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cardlinkhq/settle/internal/validation"
)

// Handler provides HTTP endpoints for querying the event log
type Handler struct {
	log *Log
}

// NewHandler creates a new event log handler
func NewHandler(log *Log) *Handler {
	return &Handler{log: log}
}

// RegisterRoutes sets up event log routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/events", h.ListEvents)
	r.GET("/events/record/:recordId", h.GetByRecord)
}

// ListEvents handles GET /events
// Query params: after (sequence cursor), address, limit
func (h *Handler) ListEvents(c *gin.Context) {
	ctx := c.Request.Context()

	limit := 100
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	if address := c.Query("address"); address != "" {
		if !validation.IsValidAddress(address) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_address",
				"message": "address must be a valid wallet address",
			})
			return
		}
		list, err := h.log.ListByAddress(ctx, address, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "events_error",
				"message": "Failed to query events",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": list})
		return
	}

	var afterSeq int64
	if after := c.Query("after"); after != "" {
		parsed, err := strconv.ParseInt(after, 10, 64)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_cursor",
				"message": "after must be a non-negative sequence number",
			})
			return
		}
		afterSeq = parsed
	}

	list, err := h.log.ListAfter(ctx, afterSeq, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "events_error",
			"message": "Failed to query events",
		})
		return
	}

	next := afterSeq
	if len(list) > 0 {
		next = list[len(list)-1].Seq
	}
	c.JSON(http.StatusOK, gin.H{
		"events": list,
		"next":   next,
	})
}

// GetByRecord handles GET /events/record/:recordId
func (h *Handler) GetByRecord(c *gin.Context) {
	recordID := c.Param("recordId")

	list, err := h.log.GetByRecord(c.Request.Context(), recordID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "events_error",
			"message": "Failed to query events",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": list})
}
