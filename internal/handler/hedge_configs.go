package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"hedgeguard/internal/models"
	"hedgeguard/internal/repository"
	"hedgeguard/internal/service"
)

type AutoHedgeConfigHandler struct {
	Repo    repository.Repository
	Service *service.AutoHedgeService
}

func (h *AutoHedgeConfigHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/auto-hedge")
	g.GET("", h.list)
	g.GET("/:portfolio_id", h.get)
	g.PUT("", h.save)
	g.POST("/:portfolio_id/enable", h.enable)
	g.POST("/:portfolio_id/disable", h.disable)
	g.DELETE("/:portfolio_id", h.remove)
	g.POST("/:portfolio_id/trigger", h.trigger)
}

func (h *AutoHedgeConfigHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListAutoHedgeConfigs(c.Request.Context(), repository.ListConfigsParams{
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

func (h *AutoHedgeConfigHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	item, err := h.Repo.GetAutoHedgeConfig(c.Request.Context(), c.Param("portfolio_id"))
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

type saveAutoHedgeRequest struct {
	PortfolioID   string   `json:"portfolio_id"`
	OwnerWallet   string   `json:"owner_wallet"`
	Enabled       bool     `json:"enabled"`
	RiskThreshold int      `json:"risk_threshold"`
	MaxLeverage   int      `json:"max_leverage"`
	HedgeAsset    string   `json:"hedge_asset"`
	AllowedAssets []string `json:"allowed_assets"`
}

// save upserts the per-portfolio policy. Saving an existing portfolio id
// replaces the previous policy; there is never more than one live config per
// portfolio.
func (h *AutoHedgeConfigHandler) save(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	var body saveAutoHedgeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	body.PortfolioID = strings.TrimSpace(body.PortfolioID)
	if body.PortfolioID == "" {
		Error(c, http.StatusBadRequest, "portfolio_id required", nil)
		return
	}
	if body.RiskThreshold < 1 || body.RiskThreshold > 10 {
		Error(c, http.StatusBadRequest, "risk_threshold must be 1-10", nil)
		return
	}
	if body.MaxLeverage < 1 {
		Error(c, http.StatusBadRequest, "max_leverage must be at least 1", nil)
		return
	}
	item := &models.AutoHedgeConfig{
		PortfolioID:   body.PortfolioID,
		OwnerWallet:   strings.TrimSpace(body.OwnerWallet),
		Enabled:       body.Enabled,
		RiskThreshold: body.RiskThreshold,
		MaxLeverage:   body.MaxLeverage,
		HedgeAsset:    strings.ToUpper(strings.TrimSpace(body.HedgeAsset)),
	}
	if len(body.AllowedAssets) > 0 {
		raw, _ := json.Marshal(body.AllowedAssets)
		item.AllowedAssets = datatypes.JSON(raw)
	}
	if err := h.Repo.UpsertAutoHedgeConfig(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	saved, err := h.Repo.GetAutoHedgeConfig(c.Request.Context(), body.PortfolioID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, saved, nil)
}

func (h *AutoHedgeConfigHandler) enable(c *gin.Context) {
	h.setEnabled(c, true)
}

func (h *AutoHedgeConfigHandler) disable(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *AutoHedgeConfigHandler) setEnabled(c *gin.Context, enabled bool) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	portfolioID := strings.TrimSpace(c.Param("portfolio_id"))
	item, err := h.Repo.GetAutoHedgeConfig(c.Request.Context(), portfolioID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "config not found", nil)
		return
	}
	if err := h.Repo.SetAutoHedgeEnabled(c.Request.Context(), portfolioID, enabled); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	item.Enabled = enabled
	Ok(c, item, nil)
}

func (h *AutoHedgeConfigHandler) remove(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	portfolioID := strings.TrimSpace(c.Param("portfolio_id"))
	if err := h.Repo.DeleteAutoHedgeConfig(c.Request.Context(), portfolioID); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"portfolio_id": portfolioID, "deleted": true}, nil)
}

func (h *AutoHedgeConfigHandler) trigger(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "auto hedge service unavailable", nil)
		return
	}
	status, err := h.Service.TriggerNow(c.Request.Context(), strings.TrimSpace(c.Param("portfolio_id")))
	if err != nil {
		DomainError(c, err)
		return
	}
	if status == nil {
		Error(c, http.StatusNotFound, "config not found", nil)
		return
	}
	Ok(c, status, nil)
}
