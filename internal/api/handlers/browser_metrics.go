package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"mfcsync/internal/browserpool"
	"mfcsync/internal/logging"
	"mfcsync/pkg/utils"
)

// BrowserMetricsResponse represents the browser pool metrics response
type BrowserMetricsResponse struct {
	Status  string                 `json:"status"`
	Metrics map[string]interface{} `json:"metrics"`
}

// BrowserMetricsHandler returns current browser pool metrics and warnings.
func BrowserMetricsHandler(pool *browserpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := utils.GenerateRequestID()
		logger := logging.GetGlobalLogger()

		snapshot := pool.Health()

		status := "ok"
		if !snapshot.Healthy {
			status = "degraded"
		}

		response := BrowserMetricsResponse{
			Status: status,
			Metrics: map[string]interface{}{
				"total_browsers_created":  snapshot.Metrics.TotalCreated,
				"total_browsers_closed":   snapshot.Metrics.TotalClosed,
				"current_active_browsers": snapshot.Metrics.ActiveBrowsers,
				"available_browsers":      snapshot.Metrics.AvailableBrowsers,
				"queued_acquires":         snapshot.Metrics.QueuedAcquires,
				"warnings":                snapshot.Warnings,
			},
		}

		logger.WithField("request_id", requestID).Debug("browser metrics response sent")
		return c.JSON(http.StatusOK, response)
	}
}
