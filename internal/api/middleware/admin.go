package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"mfcsync/pkg/models"
	"mfcsync/pkg/utils"
)

// AdminAuth rejects any request whose X-Admin-Token header does not match
// token. An empty configured token rejects every request rather than
// silently allowing unauthenticated access.
func AdminAuth(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := utils.GenerateRequestID()
			if token == "" || c.Request().Header.Get("X-Admin-Token") != token {
				return c.JSON(http.StatusForbidden, models.ErrorResponse{
					Error:     "forbidden",
					Message:   "missing or invalid admin token",
					RequestID: requestID,
					Timestamp: time.Now(),
				})
			}
			return next(c)
		}
	}
}
