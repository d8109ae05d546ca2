package search

import (
	"net/http"
	"strconv"

	"github.com/docedit/docedit/pkg/metrics"
	"github.com/gin-gonic/gin"
)

// Handler serves GET /api/search?q=&limit=.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(rg gin.IRouter) {
	rg.GET("/api/search", h.search)
}

func (h *Handler) search(c *gin.Context) {
	q := Query{Text: c.Query("q")}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"errors": []string{"limit must be a positive integer"}})
			return
		}
		q.Limit = n
	}
	resp := h.svc.Search(c.Request.Context(), q)
	metrics.SearchIndexOps.WithLabelValues("query", "ok").Inc()
	c.JSON(http.StatusOK, resp)
}
