package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"mfcsync/internal/browserpool"
	"mfcsync/internal/logging"
	"mfcsync/internal/queue"
	"mfcsync/pkg/models"
	"mfcsync/pkg/utils"
)

var startTime = time.Now()

// HealthHandler reports unconditional liveness: if the process can answer,
// it is healthy.
func HealthHandler(c echo.Context) error {
	response := models.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   "1.0.0",
		Uptime:    time.Since(startTime),
		Checks:    map[string]string{"api": "ok"},
	}
	return c.JSON(http.StatusOK, response)
}

// LivenessHandler serves the k8s liveness probe: it always reports status
// "alive" and, unlike HealthHandler, carries no checks.
func LivenessHandler(c echo.Context) error {
	response := models.HealthResponse{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   "1.0.0",
		Uptime:    time.Since(startTime),
	}
	return c.JSON(http.StatusOK, response)
}

// ReadinessHandler reports readiness contingent on the browser pool's
// health, since no request can be served without it.
func ReadinessHandler(pool *browserpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		snapshot := pool.Health()
		checks := map[string]string{"api": "ok"}
		status := "ready"
		httpStatus := http.StatusOK
		if snapshot.Healthy {
			checks["browser_pool"] = "ok"
		} else {
			checks["browser_pool"] = "unhealthy"
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
		}

		return c.JSON(httpStatus, models.HealthResponse{
			Status:    status,
			Timestamp: time.Now(),
			Version:   "1.0.0",
			Uptime:    time.Since(startTime),
			Checks:    checks,
		})
	}
}

// StatusHandler reports detailed queue and browser-pool operational status.
func StatusHandler(pool *browserpool.Pool, q *queue.Queue) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := utils.GenerateRequestID()
		logger := logging.LogWithRequestID(requestID)
		logger.Debug("status check requested")

		snapshot := pool.Health()
		counters := q.Counters()

		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":     "operational",
			"timestamp":  time.Now(),
			"version":    "1.0.0",
			"uptime":     time.Since(startTime),
			"request_id": requestID,
			"browser_pool": map[string]interface{}{
				"healthy":             snapshot.Healthy,
				"active_browsers":     snapshot.Metrics.ActiveBrowsers,
				"available_browsers":  snapshot.Metrics.AvailableBrowsers,
				"warnings":            snapshot.Warnings,
			},
			"queue": map[string]interface{}{
				"completed":    counters.Completed,
				"failed":       counters.Failed,
				"queue_depth":  counters.QueueDepth,
				"in_flight":    counters.InFlight,
			},
		})
	}
}
