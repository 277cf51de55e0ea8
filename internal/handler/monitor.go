package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hedgeguard/internal/repository"
	"hedgeguard/internal/service"
)

type MonitorHandler struct {
	Repo    repository.Repository
	Monitor *service.MonitorService
}

func (h *MonitorHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/monitor")
	g.POST("/trigger", h.trigger)
	g.GET("/reports", h.reports)
}

// trigger runs one monitor pass synchronously and returns its report. The
// route sits behind the engine-secret middleware; an unauthenticated caller
// never reaches this handler.
func (h *MonitorHandler) trigger(c *gin.Context) {
	if h.Monitor == nil {
		Error(c, http.StatusInternalServerError, "monitor unavailable", nil)
		return
	}
	report, err := h.Monitor.RunOnce(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if report == nil {
		Error(c, http.StatusConflict, "monitor disabled", nil)
		return
	}
	Ok(c, report, nil)
}

func (h *MonitorHandler) reports(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListMonitorReports(c.Request.Context(), limit, offset)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, int64(len(items))))
}
