package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"mfcsync/internal/browserpool"
	"mfcsync/internal/config"
)

func testPool(t *testing.T) *browserpool.Pool {
	t.Helper()
	cfg := &config.Config{}
	cfg.BrowserPool.MaxBrowsers = 0
	cfg.BrowserPool.MinBrowsers = 0
	cfg.BrowserPool.AcquisitionTimeout = 50 * time.Millisecond
	cfg.BrowserPool.CleanupInterval = time.Hour
	pool, err := browserpool.New(cfg)
	if err != nil {
		t.Fatalf("browserpool.New: %v", err)
	}
	return pool
}

func TestResetPoolHandlerSucceeds(t *testing.T) {
	pool := testPool(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reset-pool", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := ResetPoolHandler(pool)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestResetQueueHandlerSucceeds(t *testing.T) {
	cfg := testConfig()
	q := newTestQueue(cfg)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/queue/reset", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := ResetQueueHandler(q)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
