// Command document serves the document REST API, search and rewrite assist.
//
// Configuration comes from the environment and an optional .env file; see
// internal/config for the variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docedit/docedit/internal/config"
	"github.com/docedit/docedit/internal/database"
	"github.com/docedit/docedit/internal/document/repository"
	"github.com/docedit/docedit/internal/document/service"
	"github.com/docedit/docedit/internal/rewrite"
	"github.com/docedit/docedit/internal/search"
	"github.com/docedit/docedit/internal/server"
	"github.com/docedit/docedit/internal/storage"
	"github.com/docedit/docedit/pkg/logger"
	"github.com/docedit/docedit/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "document: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.LogLevel)
	logger.Infof("config loaded: store=%s redis=%v meili=%v minio=%v rewrite=%v",
		cfg.Store.Backend, cfg.Redis.Host != "", cfg.Search.MeiliURL != "", cfg.MinIO.Endpoint != "", cfg.Rewrite.APIKey != "")
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	checks := map[string]server.Check{}
	repo, closeRepo, err := openStore(ctx, cfg, checks)
	if err != nil {
		return err
	}
	defer closeRepo()

	var rdb *redis.Client
	if addr := cfg.Redis.Addr(); addr != "" {
		rdb, err = database.ConnectRedis(ctx, addr, cfg.Redis.Password, cfg.Redis.DB, 5*time.Second)
		if err != nil {
			// the cache and shared rate limiter are optional
			logger.Warnf("redis unavailable at %s, continuing without it: %v", addr, err)
			rdb = nil
		} else {
			defer rdb.Close()
			repo = repository.NewCachedRepo(repo, rdb, cfg.Redis.CacheTTL)
			checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
			logger.Infof("redis connected at %s", addr)
		}
	}

	var opts []service.Option
	var meiliIdx *search.Meili
	if cfg.Search.MeiliURL != "" {
		meiliIdx = search.NewMeili(cfg.Search.MeiliURL, cfg.Search.MeiliKey, cfg.Search.Index)
		defer meiliIdx.Close()
		opts = append(opts, service.WithIndexer(meiliIdx))
	}
	searchSvc := search.NewService(meiliIdx, repo)
	if meiliIdx != nil {
		go searchSvc.Reindex(ctx)
	}

	deps := server.Deps{Config: cfg, Redis: rdb, Search: searchSvc, Checks: checks}
	if cfg.MinIO.Endpoint != "" {
		archive, err := storage.NewRevisionArchive(ctx, cfg.MinIO)
		if err != nil {
			logger.Warnf("revision archive disabled: %v", err)
		} else {
			opts = append(opts, service.WithArchiver(archive))
			deps.Revisions = archive
			checks["minio"] = archive.Ping
		}
	}
	svc := service.New(repo, opts...)
	defer svc.Wait()
	deps.Documents = svc

	if gem := rewrite.NewGemini(cfg.Rewrite); gem != nil {
		deps.Rewriter = gem
	} else {
		logger.Warnf("GEMINI_API_KEY not set; /api/rewrite answers 503")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metrics.RegisterCollectors(reg)
	deps.Gatherer = reg

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           server.NewRouter(deps),
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("document service listening on %s", httpServer.Addr)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Infof("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		logger.Infof("server stopped")
	}
	return nil
}

// openStore opens the configured backend and registers its readiness check.
func openStore(ctx context.Context, cfg *config.Config, checks map[string]server.Check) (repository.Repository, func(), error) {
	ok := func(context.Context) error { return nil }
	switch cfg.Store.Backend {
	case "memory":
		logger.Warnf("using memory store; documents are lost on restart")
		checks["store"] = ok
		return repository.NewMemoryRepo(), func() {}, nil

	case "file":
		fr, err := repository.NewFileRepo(cfg.Store.FilePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open file store: %w", err)
		}
		if err := fr.StartWatching(); err != nil {
			logger.Warnf("file store: external changes will not be picked up: %v", err)
		}
		checks["store"] = ok
		logger.Infof("using file store at %s", cfg.Store.FilePath)
		return fr, func() { _ = fr.Close() }, nil

	case "mongo":
		client, err := database.ConnectMongoWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, 5)
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		col := client.Database(cfg.MongoDB.Database).Collection(cfg.MongoDB.Collection)
		mr, err := repository.NewMongoRepo(ctx, col)
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		checks["store"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }
		logger.Infof("using mongo store %s.%s", cfg.MongoDB.Database, cfg.MongoDB.Collection)
		return mr, func() { _ = client.Disconnect(context.Background()) }, nil

	case "postgres":
		db, err := database.OpenPostgres(ctx, cfg.Postgres.URL, cfg.Postgres.Timeout)
		if err != nil {
			return nil, nil, err
		}
		pr, err := repository.NewPostgresRepo(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		checks["store"] = db.PingContext
		logger.Infof("using postgres store")
		return pr, func() { _ = db.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}
