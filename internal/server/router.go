// Package server assembles the HTTP router from the configured components.
package server

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/docedit/docedit/handlers"
	"github.com/docedit/docedit/internal/config"
	"github.com/docedit/docedit/internal/document/handler"
	"github.com/docedit/docedit/internal/rewrite"
	"github.com/docedit/docedit/internal/search"
	"github.com/docedit/docedit/pkg/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// Deps are the components the router exposes. Optional ones may be nil.
type Deps struct {
	Config    *config.Config
	Documents handler.Service
	Revisions handler.RevisionLister
	Search    *search.Service
	Rewriter  rewrite.Rewriter
	Redis     *redis.Client
	Gatherer  prometheus.Gatherer
	// Checks back /ready; every one must pass.
	Checks map[string]Check
}

var startTime = time.Now()

func NewRouter(d Deps) *gin.Engine {
	cfg := d.Config
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(), middleware.CORS(cfg.Server.CORSOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", readiness(d.Checks))
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}
	handlers.RegisterSwagger(r)

	api := r.Group("")
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && d.Redis != nil {
			api.Use(middleware.RedisRateLimitMiddleware(d.Redis, "api", cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.Window))
		} else {
			api.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	docs := handler.New(d.Documents)
	if d.Revisions != nil {
		docs.WithRevisions(d.Revisions)
	}
	docs.Register(api)

	if d.Search != nil {
		search.NewHandler(d.Search).Register(api)
	}

	var rewriteMW []gin.HandlerFunc
	if cfg.Rewrite.RPS > 0 {
		// model calls are expensive; hold each client to the upstream budget
		rewriteMW = append(rewriteMW, middleware.RateLimitMiddleware(cfg.Rewrite.RPS, 2))
	}
	rewrite.NewHandler(d.Rewriter).Register(api, rewriteMW...)
	return r
}

func readiness(checks map[string]Check) gin.HandlerFunc {
	names := make([]string, 0, len(checks))
	for n := range checks {
		names = append(names, n)
	}
	sort.Strings(names)
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		ready := true
		deps := map[string]bool{}
		for _, n := range names {
			ok := checks[n](ctx) == nil
			deps[n] = ok
			ready = ready && ok
		}
		uptime := time.Since(startTime).Round(time.Second).String()
		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "deps": deps, "uptime": uptime})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "deps": deps, "uptime": uptime})
	}
}
