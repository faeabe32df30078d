package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"mfcsync/internal/syncsvc"
	"mfcsync/pkg/models"
	"mfcsync/pkg/utils"
)

var defaultSyncLists = []string{"owned", "ordered", "wished"}

// SyncHandler starts a background collection sync for a user and returns
// the process id immediately; callers poll SyncStatusHandler for progress.
func SyncHandler(orch *syncsvc.Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := utils.GenerateRequestID()

		var req models.SyncRequest
		if err := c.Bind(&req); err != nil {
			return errorResponse(c, requestID, http.StatusBadRequest, "invalid_request", "invalid request body")
		}
		if err := validate.Struct(&req); err != nil {
			return errorResponse(c, requestID, http.StatusBadRequest, "validation_failed", err.Error())
		}

		lists := req.Lists
		if len(lists) == 0 {
			lists = defaultSyncLists
		}

		processID, err := orch.SubmitSync(c.Request().Context(), req.UserID, lists, req.Cookies, req.SessionID)
		if err != nil {
			return errorResponse(c, requestID, http.StatusServiceUnavailable, "sync_queue_full", err.Error())
		}

		return c.JSON(http.StatusAccepted, map[string]interface{}{
			"success":    true,
			"process_id": processID,
			"request_id": requestID,
		})
	}
}

// SyncStatusHandler reports a sync task's current status.
func SyncStatusHandler(store syncsvc.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := utils.GenerateRequestID()
		processID := c.Param("id")

		result, err := store.Get(c.Request().Context(), processID)
		if err != nil {
			return errorResponse(c, requestID, http.StatusNotFound, "not_found", "sync task not found")
		}

		return c.JSON(http.StatusOK, models.SyncStatusResponse{
			ProcessID:      result.ProcessID,
			UserID:         result.UserID,
			Status:         string(result.Status),
			ItemsTotal:     result.ItemsTotal,
			ItemsCompleted: result.ItemsCompleted,
			ItemsFailed:    result.ItemsFailed,
			CSV:            result.CSV,
			Error:          result.Error,
		})
	}
}

// SyncExportHandler returns a completed sync task's CSV export as a download.
func SyncExportHandler(store syncsvc.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := utils.GenerateRequestID()
		processID := c.Param("id")

		result, err := store.Get(c.Request().Context(), processID)
		if err != nil {
			return errorResponse(c, requestID, http.StatusNotFound, "not_found", "sync task not found")
		}
		if result.Status != syncsvc.StatusSuccess {
			return errorResponse(c, requestID, http.StatusConflict, "not_ready", "sync task has not completed successfully")
		}

		c.Response().Header().Set("Content-Disposition", "attachment; filename=\"collection.csv\"")
		return c.Blob(http.StatusOK, "text/csv", []byte(result.CSV))
	}
}
