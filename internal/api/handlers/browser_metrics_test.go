package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestBrowserMetricsHandlerReportsSnapshot(t *testing.T) {
	pool := testPool(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics/browser", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := BrowserMetricsHandler(pool)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
