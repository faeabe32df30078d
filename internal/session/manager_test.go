package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"mfcsync/internal/config"
)

type stubValidator struct {
	calls int32
	err   error
}

func (v *stubValidator) Validate(ctx context.Context, sessionID string, cookies map[string]string) error {
	atomic.AddInt32(&v.calls, 1)
	return v.err
}

type stubProber struct {
	err error
}

func (p *stubProber) Probe(ctx context.Context) error { return p.err }

func newTestManager(t *testing.T, validator Validator, prober Prober) *Manager {
	t.Helper()
	cfg := &config.Config{}
	cfg.MFC.SessionCookie = "phpbb3_mfc_sid"
	cfg.Session.ValidationCacheTTL = 10 * time.Minute
	cfg.Session.AuthErrorThreshold = 2
	cfg.Session.PauseThreshold = 3
	cfg.Session.CooldownDuration = 20 * time.Second
	cfg.Session.ProbeCacheTTL = 60 * time.Second
	cfg.Session.MaxTrackedSessions = 100
	return NewManager(cfg, NewMemoryCacheStore(cfg.Session.ValidationCacheTTL), validator, prober)
}

func TestIsValidMissingCookieFailsImmediately(t *testing.T) {
	m := newTestManager(t, &stubValidator{}, &stubProber{})
	res, err := m.IsValid(context.Background(), "s1", map[string]string{}, IsValidOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Valid {
		t.Error("expected invalid result for missing session cookie")
	}
}

func TestIsValidStructureOnlySkipsNetworkCall(t *testing.T) {
	validator := &stubValidator{}
	m := newTestManager(t, validator, &stubProber{})
	cookies := map[string]string{"phpbb3_mfc_sid": "abc"}

	res, err := m.IsValid(context.Background(), "s1", cookies, IsValidOptions{StructureOnly: true})
	if err != nil || !res.Valid {
		t.Fatalf("expected valid structure-only result, got %+v err=%v", res, err)
	}
	if validator.calls != 0 {
		t.Error("structureOnly should never hit the network validator")
	}
}

func TestIsValidCachesSuccessfulValidation(t *testing.T) {
	validator := &stubValidator{}
	m := newTestManager(t, validator, &stubProber{})
	cookies := map[string]string{"phpbb3_mfc_sid": "abc"}

	if _, err := m.IsValid(context.Background(), "s1", cookies, IsValidOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.IsValid(context.Background(), "s1", cookies, IsValidOptions{}); err != nil {
		t.Fatal(err)
	}
	if validator.calls != 1 {
		t.Errorf("expected one network validation, got %d", validator.calls)
	}
}

func TestPauseResumeFlow(t *testing.T) {
	m := newTestManager(t, &stubValidator{}, &stubProber{})

	var lastEvent PausedEvent
	unsub := m.OnPaused(func(evt PausedEvent) { lastEvent = evt })
	defer unsub()

	var result CookieFailureResult
	for i := 0; i < 3; i++ {
		result = m.ReportCookieFailure("s1", "fp"+string(rune('0'+i)), "user1", 5)
	}

	if !result.IsPaused {
		t.Fatal("expected session paused after reaching the pause threshold")
	}
	if lastEvent.FailureCount != 3 {
		t.Errorf("expected failure count 3 in paused event, got %d", lastEvent.FailureCount)
	}
	if !m.IsPaused("s1") {
		t.Error("expected IsPaused to report true")
	}

	m.Resume("s1")
	if m.IsPaused("s1") {
		t.Error("expected IsPaused to report false after resume")
	}
}

func TestReportAuthErrorInvalidatesAtThreshold(t *testing.T) {
	m := newTestManager(t, &stubValidator{}, &stubProber{})
	m.cache.Set("s1", &CacheEntry{Valid: true, ValidatedAt: time.Now()})

	var invalidated InvalidationEvent
	unsub := m.OnInvalidation(func(evt InvalidationEvent) { invalidated = evt })
	defer unsub()

	if m.ReportAuthError("s1", "auth failed") {
		t.Fatal("should not invalidate before threshold")
	}
	if !m.ReportAuthError("s1", "auth failed again") {
		t.Fatal("should invalidate at threshold")
	}
	if invalidated.SessionID != "s1" {
		t.Error("expected invalidation event for s1")
	}
	if _, ok := m.cache.Get("s1"); ok {
		t.Error("expected cache entry removed after invalidation")
	}
}

func TestDiagnoseConcludesCookiesExpired(t *testing.T) {
	m := newTestManager(t, &stubValidator{}, &stubProber{err: nil})
	m.ReportCookieFailure("s1", "fp1", "user1", 1)

	result := m.Diagnose(context.Background(), "s1")
	if result.Reason != ReasonCookiesExpired {
		t.Errorf("expected cookies_expired, got %s", result.Reason)
	}
}

func TestDiagnoseConcludesMFCOverloaded(t *testing.T) {
	m := newTestManager(t, &stubValidator{}, &stubProber{err: errors.New("connection refused")})
	result := m.Diagnose(context.Background(), "s1")
	if result.Reason != ReasonMFCOverloaded {
		t.Errorf("expected mfc_overloaded, got %s", result.Reason)
	}
}
