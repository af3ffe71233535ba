package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blipee/aiqueue/src/advisor"
	"github.com/blipee/aiqueue/src/budget"
	"github.com/blipee/aiqueue/src/models"
)

// AdminHandler exposes the management plane: budgets, alerts, usage and
// recommendations. Simple synchronous request/response, out of the hot path.
type AdminHandler struct {
	guard   *budget.Guard
	advisor *advisor.Advisor
}

func NewAdminHandler(guard *budget.Guard, adv *advisor.Advisor) *AdminHandler {
	return &AdminHandler{guard: guard, advisor: adv}
}

type BudgetPayload struct {
	Period              models.BudgetPeriod `json:"period" binding:"required"`
	LimitUSD            float64             `json:"limit_usd" binding:"required"`
	WarningThresholdPct int                 `json:"warning_threshold_pct,omitempty"`
	AlertThresholdPct   int                 `json:"alert_threshold_pct,omitempty"`
	Rollover            bool                `json:"rollover,omitempty"`
}

func (h *AdminHandler) HandleSetBudget(c *gin.Context) {
	var payload BudgetPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b := models.Budget{
		OrgID:               c.Param("org_id"),
		Period:              payload.Period,
		LimitUSD:            payload.LimitUSD,
		WarningThresholdPct: payload.WarningThresholdPct,
		AlertThresholdPct:   payload.AlertThresholdPct,
		Rollover:            payload.Rollover,
	}
	if err := h.guard.SetBudget(c.Request.Context(), b); err != nil {
		status, body := errorResponse(err)
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *AdminHandler) HandleGetBudget(c *gin.Context) {
	b, err := h.guard.GetBudget(c.Request.Context(), c.Param("org_id"))
	if err != nil {
		status, body := errorResponse(err)
		c.JSON(status, body)
		return
	}
	if b == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no budget configured"})
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *AdminHandler) HandleListAlerts(c *gin.Context) {
	alerts, err := h.guard.Alerts(c.Request.Context(), c.Param("org_id"))
	if err != nil {
		status, body := errorResponse(err)
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (h *AdminHandler) HandleAcknowledgeAlert(c *gin.Context) {
	if err := h.guard.AcknowledgeAlert(c.Request.Context(), c.Param("alert_id")); err != nil {
		status, body := errorResponse(err)
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, gin.H{"acknowledged": true})
}

func (h *AdminHandler) HandleRecommendations(c *gin.Context) {
	recs, err := h.advisor.ListRecommendations(c.Request.Context(), c.Param("org_id"))
	if err != nil {
		status, body := errorResponse(err)
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recommendations": recs})
}

func (h *AdminHandler) HandleUsage(c *gin.Context) {
	c.JSON(http.StatusOK, h.advisor.Summary(c.Param("org_id")))
}
