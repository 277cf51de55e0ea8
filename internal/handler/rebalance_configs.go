package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"hedgeguard/internal/models"
	"hedgeguard/internal/repository"
	"hedgeguard/internal/service"
)

type AutoRebalanceConfigHandler struct {
	Repo    repository.Repository
	Service *service.AutoRebalanceService
}

func (h *AutoRebalanceConfigHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/auto-rebalance")
	g.GET("", h.list)
	g.GET("/:portfolio_id", h.get)
	g.PUT("", h.save)
	g.POST("/:portfolio_id/enable", h.enable)
	g.POST("/:portfolio_id/disable", h.disable)
	g.DELETE("/:portfolio_id", h.remove)
	g.POST("/:portfolio_id/trigger", h.trigger)
	g.GET("/:portfolio_id/assessments", h.assessments)
}

func (h *AutoRebalanceConfigHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListAutoRebalanceConfigs(c.Request.Context(), repository.ListConfigsParams{
		Limit:       limit,
		Offset:      offset,
		Enabled:     boolQueryPtr(c, "enabled"),
		OwnerWallet: stringQueryPtr(c, "owner_wallet"),
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, int64(len(items))))
}

func (h *AutoRebalanceConfigHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	item, err := h.Repo.GetAutoRebalanceConfig(c.Request.Context(), c.Param("portfolio_id"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "config not found", nil)
		return
	}
	Ok(c, item, nil)
}

type saveAutoRebalanceRequest struct {
	PortfolioID              string                     `json:"portfolio_id"`
	OwnerWallet              string                     `json:"owner_wallet"`
	Enabled                  bool                       `json:"enabled"`
	DriftThresholdPct        decimal.Decimal            `json:"drift_threshold_pct"`
	Frequency                string                     `json:"frequency"`
	AutoApprovalEnabled      bool                       `json:"auto_approval_enabled"`
	AutoApprovalValueCeiling decimal.Decimal            `json:"auto_approval_value_ceiling"`
	TargetAllocations        map[string]decimal.Decimal `json:"target_allocations"`
}

func (h *AutoRebalanceConfigHandler) save(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	var body saveAutoRebalanceRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	body.PortfolioID = strings.TrimSpace(body.PortfolioID)
	if body.PortfolioID == "" {
		Error(c, http.StatusBadRequest, "portfolio_id required", nil)
		return
	}
	if body.DriftThresholdPct.LessThanOrEqual(decimal.Zero) {
		Error(c, http.StatusBadRequest, "drift_threshold_pct must be positive", nil)
		return
	}
	frequency := strings.ToLower(strings.TrimSpace(body.Frequency))
	switch frequency {
	case models.RebalanceFrequencyHourly, models.RebalanceFrequencyDaily,
		models.RebalanceFrequencyWeekly, models.RebalanceFrequencyMonthly:
	default:
		Error(c, http.StatusBadRequest, "frequency must be hourly, daily, weekly or monthly", nil)
		return
	}
	raw, _ := json.Marshal(body.TargetAllocations)
	targets := datatypes.JSON(raw)
	if err := service.ValidateTargets(targets); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	item := &models.AutoRebalanceConfig{
		PortfolioID:              body.PortfolioID,
		OwnerWallet:              strings.TrimSpace(body.OwnerWallet),
		Enabled:                  body.Enabled,
		DriftThresholdPct:        body.DriftThresholdPct,
		Frequency:                frequency,
		AutoApprovalEnabled:      body.AutoApprovalEnabled,
		AutoApprovalValueCeiling: body.AutoApprovalValueCeiling,
		TargetAllocations:        targets,
	}
	if err := h.Repo.UpsertAutoRebalanceConfig(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	saved, err := h.Repo.GetAutoRebalanceConfig(c.Request.Context(), body.PortfolioID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, saved, nil)
}

func (h *AutoRebalanceConfigHandler) enable(c *gin.Context) {
	h.setEnabled(c, true)
}

func (h *AutoRebalanceConfigHandler) disable(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *AutoRebalanceConfigHandler) setEnabled(c *gin.Context, enabled bool) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	portfolioID := strings.TrimSpace(c.Param("portfolio_id"))
	item, err := h.Repo.GetAutoRebalanceConfig(c.Request.Context(), portfolioID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "config not found", nil)
		return
	}
	if err := h.Repo.SetAutoRebalanceEnabled(c.Request.Context(), portfolioID, enabled); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	item.Enabled = enabled
	Ok(c, item, nil)
}

func (h *AutoRebalanceConfigHandler) remove(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	portfolioID := strings.TrimSpace(c.Param("portfolio_id"))
	if err := h.Repo.DeleteAutoRebalanceConfig(c.Request.Context(), portfolioID); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"portfolio_id": portfolioID, "deleted": true}, nil)
}

func (h *AutoRebalanceConfigHandler) trigger(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "auto rebalance service unavailable", nil)
		return
	}
	assessment, err := h.Service.TriggerNow(c.Request.Context(), strings.TrimSpace(c.Param("portfolio_id")))
	if err != nil {
		DomainError(c, err)
		return
	}
	if assessment == nil {
		Error(c, http.StatusNotFound, "config not found or assessment in progress", nil)
		return
	}
	Ok(c, assessment, nil)
}

func (h *AutoRebalanceConfigHandler) assessments(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	portfolioID := strings.TrimSpace(c.Param("portfolio_id"))
	var since *time.Time
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			t := ts.UTC()
			since = &t
		}
	}
	items, err := h.Repo.ListRebalanceAssessments(c.Request.Context(), repository.ListAssessmentsParams{
		Limit:       limit,
		Offset:      offset,
		PortfolioID: &portfolioID,
		Status:      stringQueryPtr(c, "status"),
		Since:       since,
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, int64(len(items))))
}
