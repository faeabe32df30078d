package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mfcsync/internal/config"
	"mfcsync/internal/ratelimit"
	"mfcsync/internal/session"
	"mfcsync/pkg/models"
)

type fakeBrowser struct{}

func (fakeBrowser) Release() {}

type fakeBrowsers struct{}

func (fakeBrowsers) Acquire(ctx context.Context) (Browser, error)        { return fakeBrowser{}, nil }
func (fakeBrowsers) AcquireStealth(ctx context.Context) (Browser, error) { return fakeBrowser{}, nil }

type extractResponse struct {
	record *models.Record
	err    error
}

type fakeExtractor struct {
	mu        sync.Mutex
	responses map[string][]extractResponse
	calls     int
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{responses: make(map[string][]extractResponse)}
}

func (f *fakeExtractor) queue(fingerprint string, resp extractResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[fingerprint] = append(f.responses[fingerprint], resp)
}

func (f *fakeExtractor) Extract(ctx context.Context, browser Browser, targetURL string, cookies map[string]string) (*models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	fp := targetURL
	queued := f.responses[fp]
	if len(queued) == 0 {
		return &models.Record{Fingerprint: fp}, nil
	}
	resp := queued[0]
	f.responses[fp] = queued[1:]
	return resp.record, resp.err
}

type fakeSessions struct {
	mu             sync.Mutex
	paused         map[string]bool
	cooldown       map[string]bool
	cookieFailures int
	cookieResult   session.CookieFailureResult
	successes      int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{paused: map[string]bool{}, cooldown: map[string]bool{}}
}

func (f *fakeSessions) IsPaused(sessionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused[sessionID]
}

func (f *fakeSessions) IsInCooldown(sessionID string) session.CooldownStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cooldown[sessionID] {
		return session.CooldownStatus{InCooldown: true, RemainingMs: 1000}
	}
	return session.CooldownStatus{}
}

func (f *fakeSessions) ReportSuccess(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes++
}

func (f *fakeSessions) ReportCookieFailure(sessionID, fingerprint, userID string, pendingCount int) session.CookieFailureResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cookieFailures++
	return f.cookieResult
}

func (f *fakeSessions) ReportRateLimitBlock(sessionID string, isCloudflare bool) {}

func (f *fakeSessions) FailedFingerprints(sessionID string) []string { return nil }

func (f *fakeSessions) Resume(sessionID string) {}

type fakeWebhook struct {
	mu       sync.Mutex
	succeeded, failed, skipped int
}

func (f *fakeWebhook) NotifySucceeded(fingerprint string, record *models.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.succeeded++
}
func (f *fakeWebhook) NotifyFailed(fingerprint string, kind ErrorKind, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed++
}
func (f *fakeWebhook) NotifySkipped(fingerprint string, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skipped++
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Queue.MaxRetries = 3
	cfg.Queue.StatusBonusOwned = 30
	cfg.Queue.StatusBonusOrdered = 20
	cfg.Queue.StatusBonusWished = 10
	cfg.Queue.SessionBonus = 20
	cfg.Queue.PopularityUnit = 5
	cfg.Queue.PopularityCap = 20
	cfg.Queue.AgeCapMinutes = 10
	cfg.Queue.SelectionRetryInterval = 20 * time.Millisecond
	cfg.RateLimiter.BaseDelay = time.Millisecond
	cfg.RateLimiter.MinDelay = time.Millisecond
	cfg.RateLimiter.MaxDelay = 200 * time.Millisecond
	cfg.RateLimiter.BackoffMultiplier = 1.4
	cfg.RateLimiter.RecoveryStreak = 3
	return cfg
}

func newTestQueue(t *testing.T, extractor *fakeExtractor, sessions *fakeSessions, webhook *fakeWebhook) *Queue {
	t.Helper()
	cfg := testConfig()
	rl := ratelimit.New(cfg)
	return New(cfg, rl, sessions, fakeBrowsers{}, extractor, webhook)
}

func TestEnqueueDedupUpgradesLaneAndUnionsWaitingUsers(t *testing.T) {
	q := newTestQueue(t, newFakeExtractor(), newFakeSessions(), &fakeWebhook{})

	r1 := q.Enqueue("fp1", "fp1", Options{Priority: LaneCold, UserID: "u1"})
	if r1.Deduplicated {
		t.Fatal("first enqueue should not be deduplicated")
	}

	r2 := q.Enqueue("fp1", "fp1", Options{Priority: LaneHot, UserID: "u2"})
	if !r2.Deduplicated {
		t.Fatal("second enqueue for same fingerprint should deduplicate")
	}

	q.mu.Lock()
	item := q.pending["fp1"]
	lane := item.Lane
	waiting := len(item.WaitingUserIDs)
	q.mu.Unlock()

	if lane != LaneHot {
		t.Errorf("expected item upgraded to HOT, got %s", lane)
	}
	if waiting != 2 {
		t.Errorf("expected 2 waiting users, got %d", waiting)
	}
}

func TestEnqueueCredentialsPromoteToHotUnlessCold(t *testing.T) {
	q := newTestQueue(t, newFakeExtractor(), newFakeSessions(), &fakeWebhook{})
	q.Enqueue("fp2", "fp2", Options{Priority: LaneWarm, Cookies: map[string]string{"a": "b"}, SessionID: "s1"})

	q.mu.Lock()
	lane := q.pending["fp2"].Lane
	q.mu.Unlock()
	if lane != LaneHot {
		t.Errorf("expected credentialed warm request promoted to HOT, got %s", lane)
	}
}

func TestSuccessfulProcessingResolvesFutureAndUpdatesCounters(t *testing.T) {
	extractor := newFakeExtractor()
	extractor.queue("fp3", extractResponse{record: &models.Record{Fingerprint: "fp3", Name: "Figure"}})
	webhook := &fakeWebhook{}
	q := newTestQueue(t, extractor, newFakeSessions(), webhook)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	res := q.Enqueue("fp3", "fp3", Options{StatusTag: "owned"})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	record, err := res.Future.Wait(waitCtx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Name != "Figure" {
		t.Errorf("expected resolved record, got %+v", record)
	}

	counters := q.Counters()
	if counters.Completed != 1 {
		t.Errorf("expected completed=1, got %d", counters.Completed)
	}
	if counters.StatusCompleted["owned"] != 1 {
		t.Errorf("expected owned completion counter incremented, got %+v", counters.StatusCompleted)
	}
	if webhook.succeeded != 1 {
		t.Errorf("expected one succeeded webhook notification, got %d", webhook.succeeded)
	}
}

func TestEnqueueServesFreshCacheWithoutRescraping(t *testing.T) {
	extractor := newFakeExtractor()
	extractor.queue("fp9", extractResponse{record: &models.Record{
		Fingerprint: "fp9",
		Releases:    []models.Release{{Date: time.Now().Add(365 * 24 * time.Hour).Format("2006-01-02")}},
	}})
	q := newTestQueue(t, extractor, newFakeSessions(), &fakeWebhook{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()

	first := q.Enqueue("fp9", "fp9", Options{})
	if _, err := first.Future.Wait(waitCtx); err != nil {
		t.Fatalf("unexpected error on first enqueue: %v", err)
	}

	second := q.Enqueue("fp9", "fp9", Options{})
	if !second.Deduplicated {
		t.Fatal("expected a fresh-cache hit to report as deduplicated")
	}
	record, err := second.Future.Wait(waitCtx)
	if err != nil {
		t.Fatalf("unexpected error serving from fresh cache: %v", err)
	}
	if record.Fingerprint != "fp9" {
		t.Errorf("expected cached record, got %+v", record)
	}

	extractor.mu.Lock()
	calls := extractor.calls
	extractor.mu.Unlock()
	if calls != 1 {
		t.Errorf("expected exactly one extraction (second enqueue served from cache), got %d", calls)
	}
}

func TestGenericRetryExhaustsThenFails(t *testing.T) {
	extractor := newFakeExtractor()
	extractor.queue("fp4", extractResponse{err: errors.New("timeout waiting for navigation")})
	extractor.queue("fp4", extractResponse{err: errors.New("timeout waiting for navigation")})
	webhook := &fakeWebhook{}
	q := newTestQueue(t, extractor, newFakeSessions(), webhook)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	maxRetries := 1
	res := q.Enqueue("fp4", "fp4", Options{MaxRetries: &maxRetries})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	_, err := res.Future.Wait(waitCtx)
	if err == nil {
		t.Fatal("expected the item to be permanently failed")
	}

	counters := q.Counters()
	if counters.Failed != 1 {
		t.Errorf("expected failed=1, got %d", counters.Failed)
	}
	if webhook.failed != 1 {
		t.Errorf("expected one permanent-failure webhook, got %d", webhook.failed)
	}
}

func TestFailureHandling_SessionPolicyWinsOverGenericRetry(t *testing.T) {
	extractor := newFakeExtractor()
	extractor.queue("fp5", extractResponse{err: errors.New("authentication required")})
	extractor.queue("fp5", extractResponse{record: &models.Record{Fingerprint: "fp5"}})

	sessions := newFakeSessions()
	sessions.cookieResult = session.CookieFailureResult{ShouldRetry: true, CooldownMs: 20}

	q := newTestQueue(t, extractor, sessions, &fakeWebhook{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	res := q.Enqueue("fp5", "fp5", Options{
		Cookies:   map[string]string{"phpbb3_mfc_sid": "abc"},
		SessionID: "s1",
		UserID:    "u1",
	})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	record, err := res.Future.Wait(waitCtx)
	if err != nil {
		t.Fatalf("expected session policy to retry an auth_required failure, got error: %v", err)
	}
	if record.Fingerprint != "fp5" {
		t.Errorf("unexpected record: %+v", record)
	}

	sessions.mu.Lock()
	failures := sessions.cookieFailures
	sessions.mu.Unlock()
	if failures != 1 {
		t.Errorf("expected exactly one session cookie-failure report, got %d", failures)
	}

	counters := q.Counters()
	if counters.Failed != 0 {
		t.Errorf("expected no permanent failure since session policy retried, got failed=%d", counters.Failed)
	}
}

func TestSelectionSkipsPausedSessionUntilResumed(t *testing.T) {
	extractor := newFakeExtractor()
	extractor.queue("fp6", extractResponse{record: &models.Record{Fingerprint: "fp6"}})
	sessions := newFakeSessions()
	sessions.paused["s1"] = true

	q := newTestQueue(t, extractor, sessions, &fakeWebhook{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	res := q.Enqueue("fp6", "fp6", Options{
		Cookies:   map[string]string{"phpbb3_mfc_sid": "abc"},
		SessionID: "s1",
	})

	time.Sleep(50 * time.Millisecond)
	if extractor.calls != 0 {
		t.Fatalf("expected no dispatch while session is paused, got %d calls", extractor.calls)
	}

	sessions.mu.Lock()
	sessions.paused["s1"] = false
	sessions.mu.Unlock()
	q.signalWake()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	if _, err := res.Future.Wait(waitCtx); err != nil {
		t.Fatalf("expected item to be dispatched after resume: %v", err)
	}
}

func TestCancelRemovesQueuedItem(t *testing.T) {
	q := newTestQueue(t, newFakeExtractor(), newFakeSessions(), &fakeWebhook{})
	res := q.Enqueue("fp7", "fp7", Options{})

	if !q.Cancel("fp7") {
		t.Fatal("expected cancellation of a queued item to succeed")
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer waitCancel()
	if _, err := res.Future.Wait(waitCtx); err == nil {
		t.Fatal("expected cancelled future to reject")
	}

	if q.Cancel("fp7") {
		t.Fatal("expected second cancellation to be a no-op")
	}
}

func TestClearTestModeDropsRejectionsSilently(t *testing.T) {
	q := newTestQueue(t, newFakeExtractor(), newFakeSessions(), &fakeWebhook{})
	q.TestMode = true
	res := q.Enqueue("fp8", "fp8", Options{})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer waitCancel()
	done := make(chan struct{})
	go func() {
		res.Future.Wait(waitCtx)
		close(done)
	}()

	q.Clear()

	select {
	case <-done:
		t.Fatal("expected TestMode Clear to drop the rejection, not deliver one")
	case <-time.After(50 * time.Millisecond):
	}
}
