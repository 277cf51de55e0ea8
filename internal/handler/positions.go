package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"hedgeguard/internal/hedge"
	"hedgeguard/internal/repository"
	"hedgeguard/internal/service"
)

type HedgePositionHandler struct {
	Repo   repository.Repository
	Hedges *service.HedgeService
}

func (h *HedgePositionHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/hedges")
	g.GET("", h.list)
	g.GET("/summary", h.summary)
	g.GET("/:id", h.get)
	g.POST("", h.open)
	g.POST("/:id/close", h.close)
}

func (h *HedgePositionHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	orderBy := parseOrder(strings.TrimSpace(c.Query("order_by")), map[string]string{
		"opened_at":      "opened_at",
		"closed_at":      "closed_at",
		"unrealized_pnl": "unrealized_pnl",
		"notional_value": "notional_value",
		"created_at":     "created_at",
	})
	if orderBy == "" {
		orderBy = "opened_at"
	}
	asc := strings.EqualFold(strings.TrimSpace(c.Query("order")), "asc")

	params := repository.ListHedgePositionsParams{
		Limit:       limit,
		Offset:      offset,
		Status:      stringQueryPtr(c, "status"),
		PortfolioID: stringQueryPtr(c, "portfolio_id"),
		Asset:       stringQueryPtr(c, "asset"),
		OrderBy:     orderBy,
		Asc:         boolPtr(asc),
	}
	items, err := h.Repo.ListHedgePositions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountHedgePositions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *HedgePositionHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Repo.GetHedgePositionByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "hedge not found", nil)
		return
	}
	Ok(c, item, nil)
}

func (h *HedgePositionHandler) summary(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	out, err := h.Repo.HedgePositionsSummary(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, out, nil)
}

type openHedgeRequest struct {
	PortfolioID          string          `json:"portfolio_id"`
	OwnerWallet          string          `json:"owner_wallet"`
	Asset                string          `json:"asset"`
	Side                 string          `json:"side"`
	CollateralAmount     decimal.Decimal `json:"collateral_amount"`
	Leverage             int             `json:"leverage"`
	StopLoss             string          `json:"stop_loss"`
	TakeProfit           string          `json:"take_profit"`
	TrailingStopDistance string          `json:"trailing_stop_distance"`
}

func (h *HedgePositionHandler) open(c *gin.Context) {
	if h.Hedges == nil {
		Error(c, http.StatusInternalServerError, "hedge service unavailable", nil)
		return
	}
	var body openHedgeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	req := hedge.OpenRequest{
		PortfolioID:          strings.TrimSpace(body.PortfolioID),
		OwnerWallet:          strings.TrimSpace(body.OwnerWallet),
		Asset:                strings.TrimSpace(body.Asset),
		Side:                 strings.ToUpper(strings.TrimSpace(body.Side)),
		CollateralAmount:     body.CollateralAmount,
		Leverage:             body.Leverage,
		StopLoss:             decimalPtr(body.StopLoss),
		TakeProfit:           decimalPtr(body.TakeProfit),
		TrailingStopDistance: decimalPtr(body.TrailingStopDistance),
	}
	item, err := h.Hedges.Open(c.Request.Context(), req, hedge.Policy{})
	if err != nil {
		DomainError(c, err)
		return
	}
	Ok(c, item, nil)
}

type closeHedgeRequest struct {
	Reason string `json:"reason"`
}

func (h *HedgePositionHandler) close(c *gin.Context) {
	if h.Hedges == nil {
		Error(c, http.StatusInternalServerError, "hedge service unavailable", nil)
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var body closeHedgeRequest
	_ = c.ShouldBindJSON(&body)
	reason := strings.TrimSpace(body.Reason)
	if reason == "" {
		reason = "manual"
	}
	item, err := h.Hedges.Close(c.Request.Context(), id, reason)
	if err != nil {
		DomainError(c, err)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "hedge not found", nil)
		return
	}
	Ok(c, item, nil)
}
