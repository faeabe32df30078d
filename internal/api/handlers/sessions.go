package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"mfcsync/internal/queue"
	"mfcsync/internal/session"
	"mfcsync/pkg/models"
	"mfcsync/pkg/utils"
)

// SessionsHandler lists every session the manager currently tracks failure
// or pause state for, along with its cached validation status.
func SessionsHandler(mgr *session.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		ids := mgr.KnownSessionIDs()
		out := make([]models.SessionStatusResponse, 0, len(ids))
		for _, id := range ids {
			valid, paused, failures, validatedAt, hasCache := mgr.Status(id)
			resp := models.SessionStatusResponse{
				SessionID:           id,
				Valid:               valid,
				Paused:              paused,
				ConsecutiveFailures: failures,
			}
			if hasCache {
				resp.LastValidatedAt = &validatedAt
			}
			out = append(out, resp)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success":  true,
			"sessions": out,
		})
	}
}

// SessionResumeHandler clears a session's pause/cooldown state and releases
// any queue items that were skipped on its account back into circulation.
func SessionResumeHandler(mgr *session.Manager, q *queue.Queue) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := utils.GenerateRequestID()
		sessionID := c.Param("id")
		if sessionID == "" {
			return errorResponse(c, requestID, http.StatusBadRequest, "missing_session_id", "session id is required")
		}
		mgr.Resume(sessionID)
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success":    true,
			"session_id": sessionID,
			"request_id": requestID,
		})
	}
}

// SessionCancelFailedHandler cancels every item in a session's current
// failure streak and resumes the session.
func SessionCancelFailedHandler(q *queue.Queue) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := utils.GenerateRequestID()
		sessionID := c.Param("id")
		if sessionID == "" {
			return errorResponse(c, requestID, http.StatusBadRequest, "missing_session_id", "session id is required")
		}
		cancelled := q.CancelFailedItems(sessionID)
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success":    true,
			"session_id": sessionID,
			"cancelled":  cancelled,
			"request_id": requestID,
		})
	}
}

// SessionDeleteHandler cancels every queued item belonging to a session and
// drops its tracked state.
func SessionDeleteHandler(q *queue.Queue) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := utils.GenerateRequestID()
		sessionID := c.Param("id")
		if sessionID == "" {
			return errorResponse(c, requestID, http.StatusBadRequest, "missing_session_id", "session id is required")
		}
		cancelled := q.CancelAllForSession(sessionID)
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success":    true,
			"session_id": sessionID,
			"cancelled":  cancelled,
			"request_id": requestID,
		})
	}
}
