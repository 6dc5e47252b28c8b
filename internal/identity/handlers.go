package identity

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cardlinkhq/settle/internal/signing"
	"github.com/cardlinkhq/settle/internal/validation"
)

const maxNameLength = 200

// Handler provides HTTP endpoints for the participant directory
type Handler struct {
	directory *Directory
}

// NewHandler creates a new identity handler
func NewHandler(directory *Directory) *Handler {
	return &Handler{directory: directory}
}

// RegisterRoutes sets up participant routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/participants", h.Register)
	r.GET("/participants", h.List)
	r.GET("/participants/:address", h.Get)
}

// RegisterRequest is the payload for POST /participants
type RegisterRequest struct {
	Name    string `json:"name" binding:"required"`
	Webhook string `json:"webhook,omitempty"`
}

// Register handles POST /participants. The caller registers themselves;
// the directory entry address is always the authenticated caller.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	caller := signing.AuthenticatedCaller(c)
	p := &Participant{
		Address: caller,
		Name:    validation.SanitizeString(req.Name, maxNameLength),
		Webhook: strings.TrimSpace(req.Webhook),
	}

	err := h.directory.Register(c.Request.Context(), p)
	if errors.Is(err, ErrAlreadyRegistered) {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_registered",
			"message": "This address is already registered",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "registration_error",
			"message": "Failed to register participant",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"participant": p})
}

// Get handles GET /participants/:address
func (h *Handler) Get(c *gin.Context) {
	p, err := h.directory.Get(c.Request.Context(), c.Param("address"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Participant not found",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "directory_error",
			"message": "Failed to look up participant",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"participant": p})
}

// List handles GET /participants
func (h *Handler) List(c *gin.Context) {
	limit := 100
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	list, err := h.directory.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "directory_error",
			"message": "Failed to list participants",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"participants": list})
}
