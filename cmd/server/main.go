package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"mfcsync/internal/api/routes"
	"mfcsync/internal/browserpool"
	"mfcsync/internal/config"
	"mfcsync/internal/extractor"
	"mfcsync/internal/logging"
	"mfcsync/internal/mfc"
	"mfcsync/internal/queue"
	"mfcsync/internal/ratelimit"
	"mfcsync/internal/session"
	"mfcsync/internal/syncsvc"
	"mfcsync/internal/webhook"
)

func main() {
	cfg, err := config.LoadConfig("configs/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logging.InitializeLogging(cfg); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.CloseLogging()

	logger := logging.GetGlobalLogger()
	logger.Info("Starting mfcsync service")

	pool, err := browserpool.New(cfg)
	if err != nil {
		logger.Error("Failed to initialize browser pool", map[string]interface{}{"error": err.Error()})
		return
	}

	var cache session.CacheStore
	if cfg.Redis.Enabled {
		redisCache, err := session.NewRedisCacheStore(cfg, cfg.Session.ValidationCacheTTL)
		if err != nil {
			logger.Error("Failed to connect to redis, falling back to in-memory session cache", map[string]interface{}{"error": err.Error()})
			cache = session.NewMemoryCacheStore(cfg.Session.ValidationCacheTTL)
		} else {
			cache = redisCache
		}
	} else {
		cache = session.NewMemoryCacheStore(cfg.Session.ValidationCacheTTL)
	}

	validator := extractor.NewCredentialValidator(pool, cfg)
	prober := extractor.NewReachabilityProber(pool, cfg)
	sessionManager := session.NewManager(cfg, cache, validator, prober)

	rl := ratelimit.New(cfg)
	pageExtractor := extractor.New(cfg)
	webhookNotifier := webhook.New(cfg)

	q := queue.New(cfg, rl, sessionManager, pool, pageExtractor, webhookNotifier)

	fetcher := mfc.New(pool, cfg)
	store := syncsvc.NewInMemoryStore()
	orchestrator := syncsvc.New(cfg, fetcher, q, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)
	orchestrator.Start(ctx)

	e := echo.New()
	e.HideBanner = true

	routes.SetupRoutes(e, routes.Deps{
		Config:       cfg,
		Pool:         pool,
		Queue:        q,
		Sessions:     sessionManager,
		Orchestrator: orchestrator,
		SyncStore:    store,
	})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down HTTP server", map[string]interface{}{"error": err.Error()})
		}

		orchestrator.Stop()
		q.Stop()

		if err := pool.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down browser pool", map[string]interface{}{"error": err.Error()})
		}

		cancel()
		logger.Info("Server shutdown complete")
	}()

	address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info("Starting HTTP server", map[string]interface{}{"address": address})

	if err := e.Start(address); err != nil && err != http.ErrServerClosed {
		logger.Error("Server failed to start", map[string]interface{}{"error": err.Error()})
	}
}
