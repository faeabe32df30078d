package handlers

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"mfcsync/internal/config"
	"mfcsync/internal/logging"
	"mfcsync/internal/mfc"
	"mfcsync/internal/queue"
	"mfcsync/internal/urlguard"
	"mfcsync/pkg/models"
	"mfcsync/pkg/utils"
)

var validate = validator.New()

// ScrapeHandler accepts a scrape request and enqueues it onto the Scrape
// Queue without waiting for extraction to complete. The response's lane is
// the requested priority, or "auto" when none was given, not the lane the
// queue chose.
func ScrapeHandler(cfg *config.Config, q *queue.Queue) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := utils.GenerateRequestID()
		logger := logging.LogWithRequestID(requestID)

		var req models.ScrapeRequest
		if err := c.Bind(&req); err != nil {
			return errorResponse(c, requestID, http.StatusBadRequest, "invalid_request", "invalid request body")
		}
		if err := validate.Struct(&req); err != nil {
			return errorResponse(c, requestID, http.StatusBadRequest, "validation_failed", err.Error())
		}
		if !urlguard.IsValidTarget(req.Target, cfg.MFC.BaseDomain) {
			return errorResponse(c, requestID, http.StatusBadRequest, "invalid_target", "target is not a recognized MFC item")
		}

		fingerprint, targetURL := mfc.ResolveTarget(req.Target, cfg.MFC.BaseDomain)

		opts := queue.Options{
			Priority:   queue.Lane(req.Priority),
			StatusTag:  req.StatusTag,
			Cookies:    req.Cookies,
			SessionID:  req.SessionID,
			UserID:     req.UserID,
			MaxRetries: req.MaxRetries,
		}
		result := q.Enqueue(fingerprint, targetURL, opts)

		lane := string(opts.Priority)
		if lane == "" {
			lane = "auto"
		}

		logger.WithField("fingerprint", fingerprint).WithField("lane", lane).Info("scrape request enqueued")

		return c.JSON(http.StatusAccepted, models.EnqueueResponse{
			Success:     true,
			Fingerprint: fingerprint,
			Lane:        lane,
			Coalesced:   result.Deduplicated,
			RequestID:   requestID,
		})
	}
}

// ScrapeSyncHandler behaves like ScrapeHandler but blocks until the item
// resolves, returning the extracted record directly. Intended for callers
// that want a single-item fetch rather than a fire-and-forget enqueue.
func ScrapeSyncHandler(cfg *config.Config, q *queue.Queue) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := utils.GenerateRequestID()
		start := time.Now()

		var req models.ScrapeRequest
		if err := c.Bind(&req); err != nil {
			return errorResponse(c, requestID, http.StatusBadRequest, "invalid_request", "invalid request body")
		}
		if err := validate.Struct(&req); err != nil {
			return errorResponse(c, requestID, http.StatusBadRequest, "validation_failed", err.Error())
		}
		if !urlguard.IsValidTarget(req.Target, cfg.MFC.BaseDomain) {
			return errorResponse(c, requestID, http.StatusBadRequest, "invalid_target", "target is not a recognized MFC item")
		}

		fingerprint, targetURL := mfc.ResolveTarget(req.Target, cfg.MFC.BaseDomain)
		result := q.Enqueue(fingerprint, targetURL, queue.Options{
			StatusTag:  req.StatusTag,
			Cookies:    req.Cookies,
			SessionID:  req.SessionID,
			UserID:     req.UserID,
			MaxRetries: req.MaxRetries,
		})

		record, err := result.Future.Wait(c.Request().Context())
		resp := models.RecordResponse{
			ProcessingTime: time.Since(start),
			RequestID:      requestID,
		}
		if err != nil {
			resp.Success = false
			resp.Error = err.Error()
			resp.ErrorKind = string(queue.ClassifyError(err.Error()))
			return c.JSON(http.StatusUnprocessableEntity, resp)
		}

		resp.Success = true
		resp.Record = record
		return c.JSON(http.StatusOK, resp)
	}
}

func errorResponse(c echo.Context, requestID string, status int, code, message string) error {
	return c.JSON(status, models.ErrorResponse{
		Error:     code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now(),
	})
}
