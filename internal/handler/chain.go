package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hedgeguard/internal/chain"
)

type ChainHandler struct {
	Accessor *chain.Accessor
}

func (h *ChainHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/chain/stats", h.stats)
}

func (h *ChainHandler) stats(c *gin.Context) {
	if h.Accessor == nil {
		Error(c, http.StatusInternalServerError, "accessor unavailable", nil)
		return
	}
	out := h.Accessor.Stats()
	Ok(c, gin.H{
		"cache_hits":        out.CacheHits,
		"cache_misses":      out.CacheMisses,
		"retries":           out.Retries,
		"retries_exhausted": out.RetriesExhausted,
	}, nil)
}
