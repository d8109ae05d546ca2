package rewrite

import (
	"encoding/json"
	"net/http"

	"github.com/docedit/docedit/pkg/logger"
	"github.com/docedit/docedit/pkg/metrics"
	"github.com/gin-gonic/gin"
)

// Handler serves POST /api/rewrite. A nil Rewriter answers 503.
type Handler struct {
	rw Rewriter
}

func NewHandler(rw Rewriter) *Handler {
	return &Handler{rw: rw}
}

func (h *Handler) Register(rg gin.IRouter, mw ...gin.HandlerFunc) {
	rg.POST("/api/rewrite", append(mw, h.rewrite)...)
}

func (h *Handler) rewrite(c *gin.Context) {
	if h.rw == nil {
		metrics.RewriteRequests.WithLabelValues("unconfigured").Inc()
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "Rewrite assist is not configured"})
		return
	}
	var req Request
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		metrics.RewriteRequests.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"errors": []string{"Invalid request payload"}})
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		metrics.RewriteRequests.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"errors": errs})
		return
	}
	text, err := h.rw.Rewrite(c.Request.Context(), req)
	if err != nil {
		metrics.RewriteRequests.WithLabelValues("error").Inc()
		logger.Warnf("rewrite failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"message": "Failed to rewrite text"})
		return
	}
	metrics.RewriteRequests.WithLabelValues("ok").Inc()
	c.JSON(http.StatusOK, Response{RewrittenText: text})
}
