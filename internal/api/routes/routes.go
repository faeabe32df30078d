package routes

import (
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"

	"mfcsync/internal/api/handlers"
	"mfcsync/internal/api/middleware"
	"mfcsync/internal/browserpool"
	"mfcsync/internal/config"
	"mfcsync/internal/queue"
	"mfcsync/internal/session"
	"mfcsync/internal/syncsvc"
)

// Deps bundles the core components routes dispatch into.
type Deps struct {
	Config       *config.Config
	Pool         *browserpool.Pool
	Queue        *queue.Queue
	Sessions     *session.Manager
	Orchestrator *syncsvc.Orchestrator
	SyncStore    syncsvc.Store
}

// SetupRoutes configures all API routes.
func SetupRoutes(e *echo.Echo, d Deps) {
	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Use(middleware.CORSConfig())
	e.Use(middleware.RequestValidation())
	e.Use(middleware.TimeoutConfig(d.Config.Server.ReadTimeout))

	health := e.Group("/health")
	health.GET("", handlers.HealthHandler)
	health.GET("/ready", handlers.ReadinessHandler(d.Pool))
	health.GET("/live", handlers.LivenessHandler)

	e.GET("/status", handlers.StatusHandler(d.Pool, d.Queue))
	e.GET("/metrics/browser", handlers.BrowserMetricsHandler(d.Pool))

	v1 := e.Group("/api/v1")
	v1.POST("/scrape", handlers.ScrapeHandler(d.Config, d.Queue))
	v1.POST("/scrape/sync", handlers.ScrapeSyncHandler(d.Config, d.Queue))

	sync := v1.Group("/sync")
	sync.POST("", handlers.SyncHandler(d.Orchestrator))
	sync.GET("/:id", handlers.SyncStatusHandler(d.SyncStore))
	sync.GET("/:id/export", handlers.SyncExportHandler(d.SyncStore))

	sync.GET("/sessions", handlers.SessionsHandler(d.Sessions))
	sync.POST("/sessions/:id/resume", handlers.SessionResumeHandler(d.Sessions, d.Queue))
	sync.POST("/sessions/:id/cancel-failed", handlers.SessionCancelFailedHandler(d.Queue))
	sync.DELETE("/sessions/:id", handlers.SessionDeleteHandler(d.Queue))

	if !d.Config.Admin.Production {
		admin := v1.Group("", middleware.AdminAuth(d.Config.Admin.Token))
		admin.POST("/reset-pool", handlers.ResetPoolHandler(d.Pool))
		admin.POST("/sync/queue/reset", handlers.ResetQueueHandler(d.Queue))
	}

	e.GET("/", func(c echo.Context) error {
		return c.JSON(200, map[string]string{
			"service": "mfcsync",
			"version": "1.0.0",
			"status":  "running",
		})
	})
}
