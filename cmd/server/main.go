package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"masterchain.app/orchestrator/common/id"
	"masterchain.app/orchestrator/common/llm"
	"masterchain.app/orchestrator/common/logger"
	"masterchain.app/orchestrator/common/otel"
	"masterchain.app/orchestrator/core/config"
	"masterchain.app/orchestrator/core/db"
	"masterchain.app/orchestrator/internal/engine"
	"masterchain.app/orchestrator/internal/http/middleware"
	httprouter "masterchain.app/orchestrator/internal/http/router"
	"masterchain.app/orchestrator/internal/planner"
	"masterchain.app/orchestrator/internal/progress"
	"masterchain.app/orchestrator/internal/quality"
	"masterchain.app/orchestrator/internal/registry"
	"masterchain.app/orchestrator/internal/storage"
	"masterchain.app/orchestrator/internal/store"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		// Can't use slog yet — OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "orchestrator starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	history := setupHistory(ctx, cfg)
	redisClient := setupRedis(ctx, cfg)

	reg := registry.New(cfg.Engine.ReliabilityAlpha)
	registry.Seed(reg, cfg.Providers)
	slog.InfoContext(ctx, "provider registry seeded", "providers", len(reg.Names()))

	var assist *planner.Assist
	if cfg.PlannerLLM.Enabled() {
		client, err := llm.New(llm.Config{
			Provider: cfg.PlannerLLM.Provider,
			APIKey:   cfg.PlannerLLM.APIKey,
			BaseURL:  cfg.PlannerLLM.BaseURL,
			Model:    cfg.PlannerLLM.Model,
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to initialize planner llm", "error", err)
			os.Exit(1)
		}
		assist = planner.NewAssist(client)
		slog.InfoContext(ctx, "planner llm enabled", "provider", cfg.PlannerLLM.Provider, "model", client.Model())
	}

	blobs := storage.NewMemory()
	jobs := store.NewJobStore()
	publisher := progress.New(redisClient, cfg.Progress.StreamMaxLen, cfg.Progress.BufferSize, slog.Default())
	pl := planner.New(reg, assist, cfg.Tiers)
	assessor := quality.New(cfg.Quality)

	eng := engine.New(cfg, jobs, history, pl, assessor, reg, publisher)

	engineCtx, stopEngine := context.WithCancel(ctx)
	go eng.Run(engineCtx)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, eng, reg, blobs, redisClient)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // SSE streams stay open
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	stopEngine()

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slog.ErrorContext(shutdownCtx, "redis close error", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

// setupHistory connects the Postgres archive, falling back to the in-memory
// store in development when no database is reachable.
func setupHistory(ctx context.Context, cfg config.Config) store.HistoryStore {
	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		if cfg.IsProduction() {
			slog.ErrorContext(ctx, "failed to connect to database", "error", err)
			os.Exit(1)
		}
		slog.WarnContext(ctx, "database unavailable, using in-memory history", "error", err)
		return store.NewMemoryHistory()
	}
	slog.InfoContext(ctx, "database connected")
	return store.NewPostgresHistory(database.Pool())
}

// setupRedis connects the progress mirror. Optional in development.
func setupRedis(ctx context.Context, cfg config.Config) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.Progress.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		if cfg.IsProduction() {
			slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
			os.Exit(1)
		}
		slog.WarnContext(ctx, "redis unavailable, progress streaming is in-process only", "error", err)
		return nil
	}
	slog.InfoContext(ctx, "redis connected")
	return redisClient
}

func setupRouter(cfg config.Config, eng *engine.Engine, reg *registry.Registry, blobs storage.Storage, redisClient *redis.Client) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, eng, reg, blobs, redisClient, httprouter.RouterConfig{
		IsProduction: cfg.IsProduction(),
	})

	return router
}

const banner = `
███╗   ███╗ █████╗ ███████╗████████╗███████╗██████╗  ██████╗██╗  ██╗ █████╗ ██╗███╗   ██╗
████╗ ████║██╔══██╗██╔════╝╚══██╔══╝██╔════╝██╔══██╗██╔════╝██║  ██║██╔══██╗██║████╗  ██║
██╔████╔██║███████║███████╗   ██║   █████╗  ██████╔╝██║     ███████║███████║██║██╔██╗ ██║
██║╚██╔╝██║██╔══██║╚════██║   ██║   ██╔══╝  ██╔══██╗██║     ██╔══██║██╔══██║██║██║╚██╗██║
██║ ╚═╝ ██║██║  ██║███████║   ██║   ███████╗██║  ██║╚██████╗██║  ██║██║  ██║██║██║ ╚████║
╚═╝     ╚═╝╚═╝  ╚═╝╚══════╝   ╚═╝   ╚══════╝╚═╝  ╚═╝ ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝╚═╝╚═╝  ╚═══╝
`
