package syncsvc

import (
	"context"
	"testing"
	"time"

	"mfcsync/internal/config"
	"mfcsync/internal/mfc"
	"mfcsync/internal/queue"
	"mfcsync/internal/ratelimit"
	"mfcsync/internal/session"
	"mfcsync/pkg/models"
)

type fakeFetcher struct {
	byStatus map[string][]mfc.ListItem
}

func (f *fakeFetcher) FetchCollection(_ context.Context, _, statusTag string) ([]mfc.ListItem, error) {
	return f.byStatus[statusTag], nil
}

type fakeBrowser struct{}

func (fakeBrowser) Release() {}

type fakeBrowsers struct{}

func (fakeBrowsers) Acquire(_ context.Context) (queue.Browser, error)        { return fakeBrowser{}, nil }
func (fakeBrowsers) AcquireStealth(_ context.Context) (queue.Browser, error) { return fakeBrowser{}, nil }

type fakeExtractor struct{}

func (fakeExtractor) Extract(_ context.Context, _ queue.Browser, targetURL string, _ map[string]string) (*models.Record, error) {
	return &models.Record{Fingerprint: targetURL, Name: "Figure"}, nil
}

type fakeSessions struct{}

func (fakeSessions) IsPaused(string) bool                        { return false }
func (fakeSessions) IsInCooldown(string) session.CooldownStatus  { return session.CooldownStatus{} }
func (fakeSessions) ReportSuccess(string)                        {}
func (fakeSessions) ReportCookieFailure(string, string, string, int) session.CookieFailureResult {
	return session.CookieFailureResult{}
}
func (fakeSessions) ReportRateLimitBlock(string, bool) {}
func (fakeSessions) FailedFingerprints(string) []string { return nil }
func (fakeSessions) Resume(string)                      {}

type fakeWebhook struct{}

func (fakeWebhook) NotifySucceeded(string, *models.Record)        {}
func (fakeWebhook) NotifyFailed(string, queue.ErrorKind, string)  {}
func (fakeWebhook) NotifySkipped(string, string)                  {}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.MFC.BaseDomain = "myfigurecollection.net"
	cfg.Sync.MaxConcurrentTasks = 2
	cfg.Sync.CleanupInterval = time.Hour
	cfg.Sync.MaxTaskAge = 24 * time.Hour
	cfg.Queue.MaxRetries = 0
	cfg.Queue.SelectionRetryInterval = 50 * time.Millisecond
	cfg.RateLimiter.BaseDelay = time.Millisecond
	cfg.RateLimiter.MinDelay = time.Millisecond
	cfg.RateLimiter.MaxDelay = time.Second
	cfg.RateLimiter.BackoffMultiplier = 1.4
	cfg.RateLimiter.RecoveryStreak = 3
	return cfg
}

func newTestQueue(cfg *config.Config) *queue.Queue {
	rl := ratelimit.New(cfg)
	q := queue.New(cfg, rl, fakeSessions{}, fakeBrowsers{}, fakeExtractor{}, fakeWebhook{})
	q.TestMode = true
	return q
}

func TestSubmitSyncCollectsScrapesAndExportsCSV(t *testing.T) {
	cfg := testConfig()
	q := newTestQueue(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	fetcher := &fakeFetcher{byStatus: map[string][]mfc.ListItem{
		"owned": {{Fingerprint: "111111", StatusTag: "owned"}, {Fingerprint: "222222", StatusTag: "owned"}},
	}}

	o := New(cfg, fetcher, q, NewInMemoryStore())
	o.Start(ctx)
	defer o.Stop()

	processID, err := o.SubmitSync(ctx, "user1", []string{"owned"}, nil, "")
	if err != nil {
		t.Fatalf("SubmitSync: %v", err)
	}

	result := waitForTerminal(t, o.store, processID)
	if result.Status != StatusSuccess {
		t.Fatalf("status = %v, want success (error=%s)", result.Status, result.Error)
	}
	if result.ItemsTotal != 2 || result.ItemsCompleted != 2 || result.ItemsFailed != 0 {
		t.Errorf("unexpected counts: %+v", result)
	}
	if result.CSV == "" {
		t.Error("expected non-empty CSV")
	}
}

func TestSubmitSyncDedupesAcrossLists(t *testing.T) {
	cfg := testConfig()
	q := newTestQueue(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	fetcher := &fakeFetcher{byStatus: map[string][]mfc.ListItem{
		"owned":   {{Fingerprint: "111111", StatusTag: "owned"}},
		"ordered": {{Fingerprint: "111111", StatusTag: "ordered"}},
	}}

	o := New(cfg, fetcher, q, NewInMemoryStore())
	o.Start(ctx)
	defer o.Stop()

	processID, err := o.SubmitSync(ctx, "user1", []string{"owned", "ordered"}, nil, "")
	if err != nil {
		t.Fatalf("SubmitSync: %v", err)
	}

	result := waitForTerminal(t, o.store, processID)
	if result.ItemsTotal != 1 {
		t.Errorf("ItemsTotal = %d, want 1 (deduped)", result.ItemsTotal)
	}
}

func waitForTerminal(t *testing.T, store Store, processID string) *Result {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		result, err := store.Get(context.Background(), processID)
		if err == nil && (result.Status == StatusSuccess || result.Status == StatusFailure) {
			return result
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for sync task to complete")
	return nil
}
