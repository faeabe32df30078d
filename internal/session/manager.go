// Package session caches cookie-validation results, classifies repeated
// failures, pauses misbehaving sessions, and diagnoses whether failures are
// site-wide or session-specific.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"mfcsync/internal/config"
	"mfcsync/internal/logging"
)

// Validator performs the actual network cookie-validation check. The
// browser-backed implementation lives alongside the extractor; Manager only
// depends on this narrow interface to stay decoupled from browserpool.
type Validator interface {
	Validate(ctx context.Context, sessionID string, cookies map[string]string) error
}

// Prober checks MFC-wide reachability against a known-public item.
type Prober interface {
	Probe(ctx context.Context) error
}

type sessionState struct {
	mu                  sync.Mutex
	consecutiveFailures int
	failedFingerprints  map[string]bool
	lastFailureTime     time.Time
	paused              bool
	cooldownUntil       time.Time
}

type probeResult struct {
	success bool
	at      time.Time
}

// Manager implements the session public contract described in the
// component overview.
type Manager struct {
	cfg       *config.Config
	cache     CacheStore
	validator Validator
	prober    Prober
	logger    logging.Logger

	validateGroup singleflight.Group
	probeGroup    singleflight.Group

	statesMu sync.Mutex
	states   map[string]*sessionState

	probeMu     sync.Mutex
	lastProbe   *probeResult

	callbacksMu        sync.Mutex
	nextCallbackID     int
	invalidationHooks  map[int]func(InvalidationEvent)
	pausedHooks        map[int]func(PausedEvent)
}

// NewManager builds a Manager backed by cache, using validator for network
// validation and prober for outage diagnosis.
func NewManager(cfg *config.Config, cache CacheStore, validator Validator, prober Prober) *Manager {
	return &Manager{
		cfg:               cfg,
		cache:             cache,
		validator:         validator,
		prober:            prober,
		logger:            logging.GetGlobalLogger().WithField("component", "session_manager"),
		states:            make(map[string]*sessionState),
		invalidationHooks: make(map[int]func(InvalidationEvent)),
		pausedHooks:       make(map[int]func(PausedEvent)),
	}
}

func (m *Manager) state(sessionID string) *sessionState {
	m.statesMu.Lock()
	defer m.statesMu.Unlock()
	s, ok := m.states[sessionID]
	if !ok {
		s = &sessionState{failedFingerprints: make(map[string]bool)}
		m.states[sessionID] = s
	}
	return s
}

// IsValid implements the structure-check / cache / single-flight-validation
// contract.
func (m *Manager) IsValid(ctx context.Context, sessionID string, cookies map[string]string, opts IsValidOptions) (ValidationResult, error) {
	sessionCookie := m.cfg.MFC.SessionCookie
	if cookies[sessionCookie] == "" {
		return ValidationResult{Valid: false, Reason: "missing required session cookie"}, nil
	}
	if opts.StructureOnly {
		return ValidationResult{Valid: true}, nil
	}

	if !opts.ForceRevalidate {
		if entry, ok := m.cache.Get(sessionID); ok {
			fresh := time.Since(entry.ValidatedAt) < m.cfg.Session.ValidationCacheTTL
			belowThreshold := entry.AuthErrorCount < m.cfg.Session.AuthErrorThreshold
			if fresh && belowThreshold {
				return ValidationResult{Valid: entry.Valid}, nil
			}
		}
	}

	// Concurrent callers for the same session share one network validation.
	_, err, _ := m.validateGroup.Do(sessionID, func() (interface{}, error) {
		verr := m.validator.Validate(ctx, sessionID, cookies)
		return nil, verr
	})

	valid := err == nil
	m.cache.Set(sessionID, &CacheEntry{Valid: valid, ValidatedAt: time.Now()})
	m.cache.EvictOldest(m.cfg.Session.MaxTrackedSessions)

	if !valid {
		return ValidationResult{Valid: false, Reason: err.Error(), ShouldNotify: true}, nil
	}
	return ValidationResult{Valid: true}, nil
}

// ReportAuthError increments the session's auth-error counter and
// invalidates its cache entry once the threshold is crossed.
func (m *Manager) ReportAuthError(sessionID, errorMessage string) bool {
	entry, ok := m.cache.Get(sessionID)
	if !ok {
		entry = &CacheEntry{ValidatedAt: time.Now()}
	}
	entry.AuthErrorCount++

	if entry.AuthErrorCount >= m.cfg.Session.AuthErrorThreshold {
		m.cache.Delete(sessionID)
		m.emitInvalidation(InvalidationEvent{SessionID: sessionID, Reason: errorMessage})
		return true
	}
	m.cache.Set(sessionID, entry)
	return false
}

// ReportCookieFailure records a credentialed dispatch failure and pauses the
// session once consecutiveFailures reaches the pause threshold.
func (m *Manager) ReportCookieFailure(sessionID, fingerprint, userID string, pendingCount int) CookieFailureResult {
	s := m.state(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.consecutiveFailures++
	s.failedFingerprints[fingerprint] = true
	s.lastFailureTime = time.Now()

	if s.consecutiveFailures >= m.cfg.Session.PauseThreshold {
		s.paused = true
		s.cooldownUntil = time.Time{}
		fingerprints := make([]string, 0, len(s.failedFingerprints))
		for fp := range s.failedFingerprints {
			fingerprints = append(fingerprints, fp)
		}
		m.emitPaused(PausedEvent{
			SessionID:          sessionID,
			UserID:             userID,
			FailureCount:       s.consecutiveFailures,
			FailedFingerprints: fingerprints,
			PendingCount:       pendingCount,
			Actions:            PauseRecoveryActions,
		})
		return CookieFailureResult{IsPaused: true, FailureCount: s.consecutiveFailures}
	}

	s.cooldownUntil = time.Now().Add(m.cfg.Session.CooldownDuration)
	return CookieFailureResult{
		ShouldRetry:  true,
		CooldownMs:   m.cfg.Session.CooldownDuration.Milliseconds(),
		FailureCount: s.consecutiveFailures,
	}
}

// ReportSuccess resets a session's failure streak.
func (m *Manager) ReportSuccess(sessionID string) {
	s := m.state(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures = 0
	s.failedFingerprints = make(map[string]bool)
}

// IsPaused is a stateless query over the session's pause flag.
func (m *Manager) IsPaused(sessionID string) bool {
	s := m.state(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// IsInCooldown is a stateless query over the session's cooldown window.
func (m *Manager) IsInCooldown(sessionID string) CooldownStatus {
	s := m.state(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := time.Until(s.cooldownUntil)
	if remaining <= 0 {
		return CooldownStatus{}
	}
	return CooldownStatus{InCooldown: true, RemainingMs: remaining.Milliseconds()}
}

// Resume clears a session's paused flag, failure streak, failed
// fingerprints and cooldown. It is idempotent and safe on an unknown or
// already-unpaused session; an unknown session becomes tracked.
func (m *Manager) Resume(sessionID string) {
	s := m.state(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	s.consecutiveFailures = 0
	s.failedFingerprints = make(map[string]bool)
	s.cooldownUntil = time.Time{}
}

// Status reports the manager's current view of sessionID without performing
// any network validation, for use by status-reporting API handlers.
func (m *Manager) Status(sessionID string) (valid bool, paused bool, consecutiveFailures int, lastValidatedAt time.Time, hasCache bool) {
	s := m.state(sessionID)
	s.mu.Lock()
	paused = s.paused
	consecutiveFailures = s.consecutiveFailures
	s.mu.Unlock()

	if entry, ok := m.cache.Get(sessionID); ok {
		return entry.Valid, paused, consecutiveFailures, entry.ValidatedAt, true
	}
	return false, paused, consecutiveFailures, time.Time{}, false
}

// KnownSessionIDs returns every session id the manager currently tracks
// pause/cooldown state for: any session that has been queried or reported
// on through the state methods (IsPaused, Status, Resume, ReportSuccess and
// so on), with or without failures. A session seen only by IsValid or
// ReportAuthError does not appear here.
func (m *Manager) KnownSessionIDs() []string {
	m.statesMu.Lock()
	defer m.statesMu.Unlock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	return ids
}

// FailedFingerprints returns the fingerprints that failed during the
// session's current failure streak.
func (m *Manager) FailedFingerprints(sessionID string) []string {
	s := m.state(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.failedFingerprints))
	for fp := range s.failedFingerprints {
		out = append(out, fp)
	}
	return out
}

// ReportRateLimitBlock logs an informational rate-limit event for the
// session without mutating its paused state.
func (m *Manager) ReportRateLimitBlock(sessionID string, isCloudflare bool) {
	m.logger.Info("session hit rate limit", map[string]interface{}{
		"session_id":   sessionID,
		"is_cloudflare": isCloudflare,
	})
}

// Diagnose runs at most one concurrent reachability probe, cached briefly,
// and combines it with the session's recent-failure state to guess a cause.
func (m *Manager) Diagnose(ctx context.Context, sessionID string) DiagnoseResult {
	probed := m.runProbe(ctx)

	s := m.state(sessionID)
	s.mu.Lock()
	hasRecentFailures := s.consecutiveFailures > 0
	s.mu.Unlock()

	result := DiagnoseResult{
		MFCReachable:     probed.success,
		LastProbeSuccess: probed.success,
		LastProbeTime:    probed.at,
	}

	switch {
	case probed.success && hasRecentFailures:
		result.Reason = ReasonCookiesExpired
		result.Confidence = 0.8
		result.Explanation = "probe against a public item succeeded while this session's credentialed requests keep failing"
	case !probed.success:
		result.Reason = ReasonMFCOverloaded
		result.Confidence = 0.7
		result.Explanation = "probe against a public item failed; MFC itself looks unreachable"
	default:
		result.Reason = ReasonUnknown
		result.Confidence = 0.3
		result.Explanation = "no recent failures to explain and the probe succeeded"
	}
	return result
}

func (m *Manager) runProbe(ctx context.Context) probeResult {
	m.probeMu.Lock()
	if m.lastProbe != nil && time.Since(m.lastProbe.at) < m.cfg.Session.ProbeCacheTTL {
		cached := *m.lastProbe
		m.probeMu.Unlock()
		return cached
	}
	m.probeMu.Unlock()

	v, _, _ := m.probeGroup.Do("probe", func() (interface{}, error) {
		err := m.prober.Probe(ctx)
		res := probeResult{success: err == nil, at: time.Now()}
		m.probeMu.Lock()
		m.lastProbe = &res
		m.probeMu.Unlock()
		return res, nil
	})
	return v.(probeResult)
}

// OnInvalidation registers a callback fired on cache invalidation and
// returns a closure that unsubscribes it.
func (m *Manager) OnInvalidation(cb func(InvalidationEvent)) func() {
	m.callbacksMu.Lock()
	defer m.callbacksMu.Unlock()
	id := m.nextCallbackID
	m.nextCallbackID++
	m.invalidationHooks[id] = cb
	return func() {
		m.callbacksMu.Lock()
		defer m.callbacksMu.Unlock()
		delete(m.invalidationHooks, id)
	}
}

// OnPaused registers a callback fired when a session pauses and returns a
// closure that unsubscribes it.
func (m *Manager) OnPaused(cb func(PausedEvent)) func() {
	m.callbacksMu.Lock()
	defer m.callbacksMu.Unlock()
	id := m.nextCallbackID
	m.nextCallbackID++
	m.pausedHooks[id] = cb
	return func() {
		m.callbacksMu.Lock()
		defer m.callbacksMu.Unlock()
		delete(m.pausedHooks, id)
	}
}

func (m *Manager) emitInvalidation(evt InvalidationEvent) {
	m.callbacksMu.Lock()
	hooks := make([]func(InvalidationEvent), 0, len(m.invalidationHooks))
	for _, cb := range m.invalidationHooks {
		hooks = append(hooks, cb)
	}
	m.callbacksMu.Unlock()

	for _, cb := range hooks {
		m.safeCall(func() { cb(evt) })
	}
}

func (m *Manager) emitPaused(evt PausedEvent) {
	m.callbacksMu.Lock()
	hooks := make([]func(PausedEvent), 0, len(m.pausedHooks))
	for _, cb := range m.pausedHooks {
		hooks = append(hooks, cb)
	}
	m.callbacksMu.Unlock()

	for _, cb := range hooks {
		m.safeCall(func() { cb(evt) })
	}
}

func (m *Manager) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("session event callback panicked", map[string]interface{}{
				"panic": fmt.Sprintf("%v", r),
			})
		}
	}()
	fn()
}
