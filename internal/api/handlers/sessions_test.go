package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"mfcsync/internal/session"
)

type allowValidator struct{}

func (allowValidator) Validate(ctx context.Context, sessionID string, cookies map[string]string) error {
	return nil
}

type allowProber struct{}

func (allowProber) Probe(ctx context.Context) error { return nil }

func TestSessionsHandlerListsKnownSessions(t *testing.T) {
	cfg := testConfig()
	cfg.Session.ValidationCacheTTL = time.Minute
	mgr := session.NewManager(cfg, session.NewMemoryCacheStore(time.Minute), allowValidator{}, allowProber{})
	mgr.Resume("session-a") // touches the state map so the session becomes known

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/sessions", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := SessionsHandler(mgr)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Sessions []struct {
			SessionID string `json:"session_id"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Sessions) != 1 || resp.Sessions[0].SessionID != "session-a" {
		t.Fatalf("expected one session-a entry, got %+v", resp.Sessions)
	}
}

func TestSessionResumeHandlerRequiresID(t *testing.T) {
	cfg := testConfig()
	mgr := session.NewManager(cfg, session.NewMemoryCacheStore(time.Minute), allowValidator{}, allowProber{})
	q := newTestQueue(cfg)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/sessions//resume", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("")

	if err := SessionResumeHandler(mgr, q)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSessionDeleteHandlerCancelsQueueItems(t *testing.T) {
	cfg := testConfig()
	q := newTestQueue(cfg)

	e := echo.New()
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/sync/sessions/session-a", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("session-a")

	if err := SessionDeleteHandler(q)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
