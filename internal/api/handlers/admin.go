package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"mfcsync/internal/browserpool"
	"mfcsync/internal/queue"
	"mfcsync/pkg/utils"
)

// ResetPoolHandler discards every pooled browser instance, forcing fresh
// ones to be created on next acquisition. Intended for recovering from a
// wedged Chromium process without restarting the whole service.
func ResetPoolHandler(pool *browserpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := utils.GenerateRequestID()
		if err := pool.Reset(c.Request().Context()); err != nil {
			return errorResponse(c, requestID, http.StatusInternalServerError, "reset_failed", err.Error())
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success":    true,
			"request_id": requestID,
		})
	}
}

// ResetQueueHandler empties every queue lane, rejecting all pending
// subscribers.
func ResetQueueHandler(q *queue.Queue) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := utils.GenerateRequestID()
		q.Clear()
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success":    true,
			"request_id": requestID,
		})
	}
}
