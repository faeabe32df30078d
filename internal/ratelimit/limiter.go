// Package ratelimit owns the single-stream pacing delay for the MFC scrape
// queue: one adaptive delay, shared across every dispatch, that backs off
// multiplicatively on rate-limit signals and recovers on a streak of
// successes.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mfcsync/internal/config"
	"mfcsync/internal/logging"
)

// Limiter paces a single outbound request stream. It wraps a
// golang.org/x/time/rate.Limiter whose interval it reconfigures every time
// the adaptive delay changes, rather than sleeping by hand.
type Limiter struct {
	mu     sync.Mutex
	bucket *rate.Limiter
	logger logging.Logger

	currentDelay         time.Duration
	minDelay             time.Duration
	maxDelay             time.Duration
	backoffMultiplier    float64
	recoveryStreak       int
	consecutiveSuccesses int
	isRateLimited        bool
	lastRequestTime      time.Time
}

// New builds a Limiter seeded at cfg.RateLimiter.BaseDelay.
func New(cfg *config.Config) *Limiter {
	l := &Limiter{
		currentDelay:      cfg.RateLimiter.BaseDelay,
		minDelay:          cfg.RateLimiter.MinDelay,
		maxDelay:          cfg.RateLimiter.MaxDelay,
		backoffMultiplier: cfg.RateLimiter.BackoffMultiplier,
		recoveryStreak:    cfg.RateLimiter.RecoveryStreak,
		logger:            logging.GetGlobalLogger().WithField("component", "rate_limiter"),
	}
	l.bucket = rate.NewLimiter(rate.Every(l.currentDelay), 1)
	return l
}

// Wait blocks (cooperatively) until the next dispatch is allowed under the
// current delay, recording lastRequestTime at the moment it admits the
// caller — regardless of whether that dispatch later succeeds or fails.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	bucket := l.bucket
	l.mu.Unlock()

	if err := bucket.Wait(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	l.lastRequestTime = time.Now()
	l.mu.Unlock()
	return nil
}

// RecordSuccess advances the recovery streak. At recoveryStreak consecutive
// successes the delay is divided by backoffMultiplier, floored at minDelay,
// and the streak resets.
func (l *Limiter) RecordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.isRateLimited = false
	l.consecutiveSuccesses++

	if l.consecutiveSuccesses >= l.recoveryStreak {
		next := time.Duration(float64(l.currentDelay) / l.backoffMultiplier)
		if next < l.minDelay {
			next = l.minDelay
		}
		if next != l.currentDelay {
			l.logger.WithFields(map[string]interface{}{
				"previous_delay": l.currentDelay,
				"next_delay":     next,
			}).Debug("rate limiter recovering")
		}
		l.currentDelay = next
		l.consecutiveSuccesses = 0
		l.reconfigureLocked()
	}
}

// ResetSuccessStreak zeroes the recovery streak without applying backoff.
// Used for failures that are not themselves rate-limit signals, which still
// interrupt a run of successes without being punished by a slower delay.
func (l *Limiter) ResetSuccessStreak() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consecutiveSuccesses = 0
}

// RecordRateLimit applies multiplicative backoff, bounded at maxDelay, and
// resets the recovery streak.
func (l *Limiter) RecordRateLimit() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.isRateLimited = true
	l.consecutiveSuccesses = 0

	next := time.Duration(float64(l.currentDelay) * l.backoffMultiplier)
	if next > l.maxDelay {
		next = l.maxDelay
	}
	l.logger.WithFields(map[string]interface{}{
		"previous_delay": l.currentDelay,
		"next_delay":     next,
	}).Warn("rate limiter backing off")
	l.currentDelay = next
	l.reconfigureLocked()
}

// reconfigureLocked pushes currentDelay into the underlying token bucket.
// Callers must hold l.mu.
func (l *Limiter) reconfigureLocked() {
	l.bucket.SetLimit(rate.Every(l.currentDelay))
}

// CurrentDelay returns the current pacing delay.
func (l *Limiter) CurrentDelay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentDelay
}

// IsRateLimited reports whether the most recent signal was a rate-limit hit.
func (l *Limiter) IsRateLimited() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isRateLimited
}

// LastRequestTime returns the timestamp of the most recently admitted
// dispatch, regardless of whether it has finished.
func (l *Limiter) LastRequestTime() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastRequestTime
}
