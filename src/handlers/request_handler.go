package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/blipee/aiqueue/src/models"
)

// RequestHandler exposes the client-facing surface: submit, status, cancel.
type RequestHandler struct {
	orch models.Submitter
}

func NewRequestHandler(orch models.Submitter) *RequestHandler {
	return &RequestHandler{orch: orch}
}

// SubmitPayload is the wire form of a request submission.
type SubmitPayload struct {
	OrgID          string           `json:"org_id" binding:"required"`
	ProviderHint   string           `json:"provider_hint,omitempty"`
	Model          string           `json:"model,omitempty"`
	Messages       []models.Message `json:"messages" binding:"required"`
	Priority       models.Priority  `json:"priority,omitempty"`
	MaxRetries     int              `json:"max_retries,omitempty"`
	TimeoutSeconds int              `json:"timeout_seconds,omitempty"`
}

func (h *RequestHandler) HandleSubmit(c *gin.Context) {
	var payload SubmitPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := &models.Request{
		OrgID:        payload.OrgID,
		ProviderHint: payload.ProviderHint,
		Model:        payload.Model,
		Messages:     payload.Messages,
		Priority:     payload.Priority,
		MaxRetries:   payload.MaxRetries,
		Timeout:      time.Duration(payload.TimeoutSeconds) * time.Second,
	}

	result, err := h.orch.Submit(c.Request.Context(), req)
	if err != nil {
		status, body := errorResponse(err)
		c.JSON(status, body)
		return
	}

	if result.Cached {
		c.JSON(http.StatusOK, result)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

func (h *RequestHandler) HandleStatus(c *gin.Context) {
	entry, err := h.orch.Status(c.Param("id"))
	if err != nil {
		status, body := errorResponse(err)
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *RequestHandler) HandleCancel(c *gin.Context) {
	if err := h.orch.Cancel(c.Param("id")); err != nil {
		status, body := errorResponse(err)
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

func (h *RequestHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

// errorResponse maps the error taxonomy onto HTTP statuses.
func errorResponse(err error) (int, gin.H) {
	switch {
	case models.IsValidation(err):
		return http.StatusBadRequest, gin.H{"error": err.Error()}
	case errors.Is(err, models.ErrBudgetExceeded):
		return http.StatusPaymentRequired, gin.H{"error": err.Error()}
	case errors.Is(err, models.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, gin.H{"error": err.Error()}
	case errors.Is(err, models.ErrTimeout):
		return http.StatusGatewayTimeout, gin.H{"error": err.Error()}
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, gin.H{"error": err.Error()}
	default:
		return http.StatusInternalServerError, gin.H{"error": err.Error()}
	}
}
