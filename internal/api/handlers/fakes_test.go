package handlers

import (
	"context"
	"time"

	"mfcsync/internal/config"
	"mfcsync/internal/queue"
	"mfcsync/internal/ratelimit"
	"mfcsync/internal/session"
	"mfcsync/pkg/models"
)

type fakeBrowser struct{}

func (fakeBrowser) Release() {}

type fakeBrowsers struct{}

func (fakeBrowsers) Acquire(ctx context.Context) (queue.Browser, error)        { return fakeBrowser{}, nil }
func (fakeBrowsers) AcquireStealth(ctx context.Context) (queue.Browser, error) { return fakeBrowser{}, nil }

type fakeExtractor struct{}

func (fakeExtractor) Extract(ctx context.Context, browser queue.Browser, targetURL string, cookies map[string]string) (*models.Record, error) {
	return &models.Record{Fingerprint: targetURL, Name: "Figure"}, nil
}

type fakeSessions struct{}

func (fakeSessions) IsPaused(sessionID string) bool { return false }
func (fakeSessions) IsInCooldown(sessionID string) session.CooldownStatus {
	return session.CooldownStatus{}
}
func (fakeSessions) ReportSuccess(sessionID string) {}
func (fakeSessions) ReportCookieFailure(sessionID, fingerprint, userID string, pendingCount int) session.CookieFailureResult {
	return session.CookieFailureResult{}
}
func (fakeSessions) ReportRateLimitBlock(sessionID string, isCloudflare bool) {}
func (fakeSessions) FailedFingerprints(sessionID string) []string            { return nil }
func (fakeSessions) Resume(sessionID string)                                 {}

type fakeWebhook struct{}

func (fakeWebhook) NotifySucceeded(fingerprint string, record *models.Record)          {}
func (fakeWebhook) NotifyFailed(fingerprint string, kind queue.ErrorKind, message string) {}
func (fakeWebhook) NotifySkipped(fingerprint string, reason string)                    {}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.MFC.BaseDomain = "myfigurecollection.net"
	cfg.Queue.MaxRetries = 0
	cfg.Queue.SelectionRetryInterval = time.Millisecond
	cfg.RateLimiter.BaseDelay = time.Millisecond
	cfg.RateLimiter.MinDelay = time.Millisecond
	cfg.RateLimiter.MaxDelay = 10 * time.Millisecond
	cfg.RateLimiter.BackoffMultiplier = 2
	cfg.RateLimiter.RecoveryStreak = 3
	cfg.Admin.Token = "test-admin-token"
	cfg.Admin.Production = false
	return cfg
}

func newTestQueue(cfg *config.Config) *queue.Queue {
	rl := ratelimit.New(cfg)
	q := queue.New(cfg, rl, fakeSessions{}, fakeBrowsers{}, fakeExtractor{}, fakeWebhook{})
	q.TestMode = true
	return q
}
