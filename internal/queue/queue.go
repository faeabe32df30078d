// Package queue implements the Scrape Queue: the controlling element that
// accepts requests, coalesces duplicates, schedules by priority and score,
// advances a single-writer processing loop, retries per an error-kind
// policy, and notifies every waiter exactly once.
package queue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"mfcsync/internal/cachettl"
	"mfcsync/internal/config"
	"mfcsync/internal/logging"
	"mfcsync/internal/ratelimit"
	"mfcsync/internal/session"
	"mfcsync/pkg/models"
)

// Browser is an acquired browsing context. Release must be called exactly
// once, on every exit path, regardless of extraction outcome.
type Browser interface {
	Release()
}

// BrowserAcquirer is the narrow view of the Browser Pool the queue needs:
// a pooled browser for cookieless requests, a stealth singleton otherwise.
type BrowserAcquirer interface {
	Acquire(ctx context.Context) (Browser, error)
	AcquireStealth(ctx context.Context) (Browser, error)
}

// PageExtractor performs navigation, challenge handling, and extraction
// against an already-acquired browser.
type PageExtractor interface {
	Extract(ctx context.Context, browser Browser, targetURL string, cookies map[string]string) (*models.Record, error)
}

// SessionManager is the narrow view of internal/session.Manager the queue
// depends on; the concrete *session.Manager satisfies it directly.
type SessionManager interface {
	IsPaused(sessionID string) bool
	IsInCooldown(sessionID string) session.CooldownStatus
	ReportSuccess(sessionID string)
	ReportCookieFailure(sessionID, fingerprint, userID string, pendingCount int) session.CookieFailureResult
	ReportRateLimitBlock(sessionID string, isCloudflare bool)
	FailedFingerprints(sessionID string) []string
	Resume(sessionID string)
}

// WebhookNotifier fires fire-and-forget outbound notifications. Failures
// must never propagate into queue state; implementations log and swallow.
type WebhookNotifier interface {
	NotifySucceeded(fingerprint string, record *models.Record)
	NotifyFailed(fingerprint string, kind ErrorKind, message string)
	NotifySkipped(fingerprint string, reason string)
}

var errCancelled = errors.New("cancelled")

// Counters is a snapshot of the queue's completion bookkeeping.
type Counters struct {
	Completed       int
	Failed          int
	StatusCompleted map[string]int
	StatusFailed    map[string]int
	QueueDepth      map[Lane]int
	InFlight        bool
}

// Queue is the Scrape Queue. Its methods are safe for concurrent use; a
// single internal mutex guards lanes, the pending index, counters, and
// coordination with the rate limiter and session manager. The processing
// loop is the sole owner of dispatch and releases the lock across every
// awaitable operation (rate-limit wait, browser acquisition, extraction).
type Queue struct {
	cfg *config.Config

	rateLimiter *ratelimit.Limiter
	sessions    SessionManager
	browsers    BrowserAcquirer
	extractor   PageExtractor
	webhook     WebhookNotifier
	logger      logging.Logger

	mu       sync.Mutex
	lanes    map[Lane][]*Item
	pending  map[string]*Item
	inFlight *Item
	active   bool

	completedCount  int
	failedCount     int
	statusCompleted map[string]int
	statusFailed    map[string]int

	// freshCache holds the most recent successful extraction per fingerprint.
	// An Enqueue for a fingerprint still within its cachettl window is
	// answered directly from here instead of re-scraping.
	freshCache map[string]freshEntry

	retryTimerArmed bool
	wake            chan struct{}

	// TestMode makes Clear drop rejections silently instead of delivering a
	// cancelled outcome, avoiding unhandled-future noise in tests that tear
	// down a queue mid-flight.
	TestMode bool
}

// freshEntry is one cached completed extraction.
type freshEntry struct {
	record      *models.Record
	completedAt time.Time
	releaseDate string
}

// primaryReleaseDate returns the release date cachettl should key off: the
// first non-empty date among the record's listed releases, in whatever
// order the Page Extractor produced them.
func primaryReleaseDate(record *models.Record) string {
	for _, r := range record.Releases {
		if r.Date != "" {
			return r.Date
		}
	}
	return ""
}

// New builds a Queue. Call Start to begin processing.
func New(cfg *config.Config, rl *ratelimit.Limiter, sessions SessionManager, browsers BrowserAcquirer, extractor PageExtractor, webhook WebhookNotifier) *Queue {
	return &Queue{
		cfg:             cfg,
		rateLimiter:     rl,
		sessions:        sessions,
		browsers:        browsers,
		extractor:       extractor,
		webhook:         webhook,
		logger:          logging.GetGlobalLogger().WithField("component", "scrape_queue"),
		lanes:           map[Lane][]*Item{LaneHot: nil, LaneWarm: nil, LaneCold: nil},
		pending:         make(map[string]*Item),
		statusCompleted: make(map[string]int),
		statusFailed:    make(map[string]int),
		freshCache:      make(map[string]freshEntry),
		wake:            make(chan struct{}, 1),
	}
}

// Start marks the queue active and begins the single-writer processing loop
// in the background. It returns once the loop goroutine has been launched.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	q.active = true
	q.mu.Unlock()
	go q.run(ctx)
	q.signalWake()
}

// Stop marks the queue inactive; the in-flight item (if any) still
// completes and notifies its subscribers.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.active = false
	q.mu.Unlock()
}

func (q *Queue) signalWake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
		q.tick(ctx)
	}
}

// tick runs at most one dispatch cycle. It is the processing loop described
// in the component design: select, dispatch, handle outcome, then signal
// itself to continue if there is more work.
func (q *Queue) tick(ctx context.Context) {
	q.mu.Lock()
	if q.inFlight != nil || !q.active {
		q.mu.Unlock()
		return
	}
	item, anySkipped := q.selectNextLocked()
	if item == nil {
		if anySkipped {
			q.armRetryTimerLocked()
		}
		q.mu.Unlock()
		return
	}
	q.inFlight = item
	q.mu.Unlock()

	if err := q.rateLimiter.Wait(ctx); err != nil {
		q.mu.Lock()
		q.inFlight = nil
		q.insertLocked(item)
		q.mu.Unlock()
		return
	}

	record, scrapeErr := q.dispatch(ctx, item)

	q.mu.Lock()
	q.inFlight = nil
	q.mu.Unlock()

	if scrapeErr != nil {
		q.handleFailure(item, scrapeErr)
	} else {
		q.handleSuccess(item, record)
	}

	q.signalWake()
}

func (q *Queue) dispatch(ctx context.Context, item *Item) (*models.Record, error) {
	var (
		browser Browser
		err     error
	)
	if item.hasCredentials() {
		browser, err = q.browsers.AcquireStealth(ctx)
	} else {
		browser, err = q.browsers.Acquire(ctx)
	}
	if err != nil {
		return nil, err
	}
	defer browser.Release()

	return q.extractor.Extract(ctx, browser, item.TargetURL, item.Cookies)
}

// armRetryTimerLocked arms a single outstanding 5-second retry timer when
// every queued item was skipped (paused or cooling down). Callers must hold
// q.mu.
func (q *Queue) armRetryTimerLocked() {
	if q.retryTimerArmed {
		return
	}
	q.retryTimerArmed = true
	go func() {
		time.Sleep(q.cfg.Queue.SelectionRetryInterval)
		q.mu.Lock()
		q.retryTimerArmed = false
		q.mu.Unlock()
		q.signalWake()
	}()
}

// selectNextLocked scans HOT, WARM, COLD in order and removes the first
// processable item from its lane. Callers must hold q.mu.
func (q *Queue) selectNextLocked() (*Item, bool) {
	anySkipped := false
	for _, lane := range []Lane{LaneHot, LaneWarm, LaneCold} {
		items := q.lanes[lane]
		for i, it := range items {
			if it.hasCredentials() {
				if q.sessions.IsPaused(it.SessionID) {
					anySkipped = true
					continue
				}
				if cd := q.sessions.IsInCooldown(it.SessionID); cd.InCooldown {
					anySkipped = true
					continue
				}
			}
			remaining := make([]*Item, 0, len(items)-1)
			remaining = append(remaining, items[:i]...)
			remaining = append(remaining, items[i+1:]...)
			q.lanes[lane] = remaining
			return it, anySkipped
		}
	}
	return nil, anySkipped
}

// Enqueue accepts a scrape request, coalescing it onto an existing item for
// the same fingerprint if one is queued or in-flight.
func (q *Queue) Enqueue(fingerprint, targetURL string, opts Options) EnqueueResult {
	priority := opts.Priority
	if priority == "" {
		priority = LaneWarm
	}
	if len(opts.Cookies) > 0 && priority != LaneCold {
		priority = LaneHot
	}
	userID := opts.UserID
	if userID == "" {
		userID = "anonymous"
	}
	maxRetries := q.cfg.Queue.MaxRetries
	if opts.MaxRetries != nil {
		maxRetries = *opts.MaxRetries
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if fresh, ok := q.freshCache[fingerprint]; ok {
		if cachettl.IsCacheValid(fresh.completedAt, fresh.releaseDate, time.Now()) {
			future := newFuture()
			future.resolve(Outcome{Record: fresh.record})
			return EnqueueResult{ID: generateItemID(fingerprint), Deduplicated: true, Future: future}
		}
		delete(q.freshCache, fingerprint)
	}

	if existing, ok := q.pending[fingerprint]; ok {
		existing.addWaitingUser(userID)
		if priority.higherThan(existing.Lane) {
			q.repositionLocked(existing, priority)
		}
		if len(opts.Cookies) > 0 && len(existing.Cookies) == 0 {
			existing.Cookies = opts.Cookies
			existing.SessionID = opts.SessionID
			if existing.Lane != LaneHot && priority != LaneCold {
				q.repositionLocked(existing, LaneHot)
			}
		}
		future := existing.addSubscriber()
		q.signalWake()
		return EnqueueResult{ID: existing.ID, Deduplicated: true, Position: q.positionLocked(existing), Future: future}
	}

	item := &Item{
		ID:             generateItemID(fingerprint),
		Fingerprint:    fingerprint,
		TargetURL:      targetURL,
		Lane:           priority,
		StatusTag:      opts.StatusTag,
		Cookies:        opts.Cookies,
		SessionID:      opts.SessionID,
		MaxRetries:     maxRetries,
		EnqueuedAt:     time.Now(),
		WaitingUserIDs: make(map[string]bool),
	}
	item.addWaitingUser(userID)
	future := item.addSubscriber()

	q.pending[fingerprint] = item
	q.insertLocked(item)
	q.signalWake()

	return EnqueueResult{ID: item.ID, Deduplicated: false, Position: q.positionLocked(item), Future: future}
}

// insertLocked scores item and inserts it into its lane at the first
// position whose score is strictly lower. Callers must hold q.mu. It does
// nothing for an item currently in the in-flight slot.
func (q *Queue) insertLocked(item *Item) {
	if q.inFlight == item {
		return
	}
	score := Score(item, q.cfg, time.Now())
	lane := q.lanes[item.Lane]
	idx := len(lane)
	for i, existing := range lane {
		if Score(existing, q.cfg, time.Now()) < score {
			idx = i
			break
		}
	}
	lane = append(lane, nil)
	copy(lane[idx+1:], lane[idx:])
	lane[idx] = item
	q.lanes[item.Lane] = lane
}

// repositionLocked removes item from whichever lane currently holds it (a
// no-op if it is in-flight) and re-inserts it under newLane.
func (q *Queue) repositionLocked(item *Item, newLane Lane) {
	if q.inFlight == item {
		item.Lane = newLane
		return
	}
	old := q.lanes[item.Lane]
	for i, it := range old {
		if it == item {
			q.lanes[item.Lane] = append(old[:i], old[i+1:]...)
			break
		}
	}
	item.Lane = newLane
	q.insertLocked(item)
}

// positionLocked returns item's approximate offset across HOT, WARM, COLD.
func (q *Queue) positionLocked(item *Item) int {
	if q.inFlight == item {
		return 0
	}
	offset := 0
	for _, lane := range []Lane{LaneHot, LaneWarm, LaneCold} {
		for i, it := range q.lanes[lane] {
			if it == item {
				return offset + i
			}
		}
		offset += len(q.lanes[lane])
	}
	return offset
}

func statusKey(statusTag string) string {
	if statusTag == "" {
		return "wished"
	}
	return statusTag
}

func (q *Queue) handleSuccess(item *Item, record *models.Record) {
	q.mu.Lock()
	q.completedCount++
	q.statusCompleted[statusKey(item.StatusTag)]++
	delete(q.pending, item.Fingerprint)
	q.freshCache[item.Fingerprint] = freshEntry{
		record:      record,
		completedAt: time.Now(),
		releaseDate: primaryReleaseDate(record),
	}
	q.mu.Unlock()

	q.rateLimiter.RecordSuccess()

	if item.hasCredentials() {
		q.sessions.ReportSuccess(item.SessionID)
	}

	q.webhook.NotifySucceeded(item.Fingerprint, record)
	item.resolveAll(Outcome{Record: record})
}

func (q *Queue) handleFailure(item *Item, scrapeErr error) {
	kind := ClassifyError(scrapeErr.Error())
	if kind == ErrorNotFound && item.hasCredentials() {
		kind = ErrorItemNotAccessible
	}
	isCloudflare := IsCloudflareSignal(scrapeErr.Error())

	if kind == ErrorRateLimited {
		q.rateLimiter.RecordRateLimit()
		if item.hasCredentials() {
			q.sessions.ReportRateLimitBlock(item.SessionID, isCloudflare)
		}
	} else {
		q.rateLimiter.ResetSuccessStreak()
	}

	item.RetryCount++
	item.LastError = scrapeErr.Error()
	item.LastErrorKind = kind

	if item.hasCredentials() && item.waitingUserCount() > 0 {
		result := q.sessions.ReportCookieFailure(item.SessionID, item.Fingerprint, item.originUserID(), item.waitingUserCount())
		if result.IsPaused || result.ShouldRetry {
			q.mu.Lock()
			q.insertLocked(item)
			q.mu.Unlock()
			return
		}
	} else if IsGenericallyRetryable(kind) && item.RetryCount <= item.MaxRetries {
		q.mu.Lock()
		q.insertLocked(item)
		q.mu.Unlock()
		return
	}

	q.mu.Lock()
	q.failedCount++
	q.statusFailed[statusKey(item.StatusTag)]++
	delete(q.pending, item.Fingerprint)
	q.mu.Unlock()

	q.webhook.NotifyFailed(item.Fingerprint, kind, scrapeErr.Error())
	item.resolveAll(Outcome{Err: fmt.Errorf("%s: %w", kind, scrapeErr), Kind: kind})
}

// Cancel removes a queued (not in-flight) item and rejects its subscribers.
// It reports whether a cancellation actually occurred.
func (q *Queue) Cancel(fingerprint string) bool {
	q.mu.Lock()
	item, ok := q.pending[fingerprint]
	if !ok || q.inFlight == item {
		q.mu.Unlock()
		return false
	}
	for _, lane := range []Lane{LaneHot, LaneWarm, LaneCold} {
		items := q.lanes[lane]
		for i, it := range items {
			if it == item {
				q.lanes[lane] = append(items[:i], items[i+1:]...)
				delete(q.pending, fingerprint)
				q.mu.Unlock()
				item.resolveAll(Outcome{Err: errCancelled, Kind: ErrorCancelled})
				return true
			}
		}
	}
	q.mu.Unlock()
	return false
}

// CancelAllForSession cancels every queued item belonging to sessionID and
// clears the session's failure bookkeeping.
func (q *Queue) CancelAllForSession(sessionID string) int {
	q.mu.Lock()
	fingerprints := make([]string, 0)
	for fp, item := range q.pending {
		if item.SessionID == sessionID {
			fingerprints = append(fingerprints, fp)
		}
	}
	q.mu.Unlock()

	cancelled := 0
	for _, fp := range fingerprints {
		if q.Cancel(fp) {
			cancelled++
		}
	}
	q.sessions.Resume(sessionID)
	return cancelled
}

// CancelFailedItems cancels every item in sessionID's current failure
// streak, then resumes the session.
func (q *Queue) CancelFailedItems(sessionID string) int {
	fingerprints := q.sessions.FailedFingerprints(sessionID)
	cancelled := 0
	for _, fp := range fingerprints {
		if q.Cancel(fp) {
			cancelled++
		}
	}
	q.sessions.Resume(sessionID)
	return cancelled
}

// Clear empties every lane and the pending index, rejecting all pending
// subscribers unless TestMode is set, in which case rejections are dropped
// silently.
func (q *Queue) Clear() {
	q.mu.Lock()
	items := make([]*Item, 0, len(q.pending))
	for _, it := range q.pending {
		items = append(items, it)
	}
	q.lanes = map[Lane][]*Item{LaneHot: nil, LaneWarm: nil, LaneCold: nil}
	q.pending = make(map[string]*Item)
	q.freshCache = make(map[string]freshEntry)
	q.inFlight = nil
	testMode := q.TestMode
	q.mu.Unlock()

	if testMode {
		return
	}
	for _, it := range items {
		it.resolveAll(Outcome{Err: errCancelled, Kind: ErrorCancelled})
	}
}

// Counters returns a snapshot of completion bookkeeping and queue depth.
func (q *Queue) Counters() Counters {
	q.mu.Lock()
	defer q.mu.Unlock()

	statusCompleted := make(map[string]int, len(q.statusCompleted))
	for k, v := range q.statusCompleted {
		statusCompleted[k] = v
	}
	statusFailed := make(map[string]int, len(q.statusFailed))
	for k, v := range q.statusFailed {
		statusFailed[k] = v
	}
	return Counters{
		Completed:       q.completedCount,
		Failed:          q.failedCount,
		StatusCompleted: statusCompleted,
		StatusFailed:    statusFailed,
		QueueDepth: map[Lane]int{
			LaneHot:  len(q.lanes[LaneHot]),
			LaneWarm: len(q.lanes[LaneWarm]),
			LaneCold: len(q.lanes[LaneCold]),
		},
		InFlight: q.inFlight != nil,
	}
}

func generateItemID(fingerprint string) string {
	return fmt.Sprintf("%s-%d-%04d", fingerprint, time.Now().UnixNano(), rand.Intn(10000))
}
