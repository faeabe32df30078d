package ratelimit

import (
	"testing"
	"time"

	"mfcsync/internal/config"
)

func newTestLimiter() *Limiter {
	cfg := &config.Config{}
	cfg.RateLimiter.BaseDelay = 1000 * time.Millisecond
	cfg.RateLimiter.MinDelay = 274 * time.Millisecond
	cfg.RateLimiter.MaxDelay = 180 * time.Second
	cfg.RateLimiter.BackoffMultiplier = 1.4
	cfg.RateLimiter.RecoveryStreak = 3
	return New(cfg)
}

func TestRecoveryDividesAfterStreak(t *testing.T) {
	l := newTestLimiter()
	d0 := l.CurrentDelay()

	l.RecordSuccess()
	l.RecordSuccess()
	if l.CurrentDelay() != d0 {
		t.Fatalf("delay should not move before the streak completes")
	}
	l.RecordSuccess()

	want := time.Duration(float64(d0) / 1.4)
	if l.CurrentDelay() > want+time.Millisecond {
		t.Errorf("currentDelay = %s, want <= %s", l.CurrentDelay(), want)
	}
}

func TestBackoffMultipliesAndBounds(t *testing.T) {
	l := newTestLimiter()
	d0 := l.CurrentDelay()

	l.RecordRateLimit()

	want := time.Duration(float64(d0) * 1.4)
	if l.CurrentDelay() != want {
		t.Errorf("currentDelay = %s, want %s", l.CurrentDelay(), want)
	}
	if !l.IsRateLimited() {
		t.Error("expected isRateLimited = true after a rate-limit signal")
	}
}

func TestBackoffBoundedAtMaxDelay(t *testing.T) {
	l := newTestLimiter()
	for i := 0; i < 50; i++ {
		l.RecordRateLimit()
	}
	if l.CurrentDelay() > l.maxDelay {
		t.Errorf("currentDelay = %s exceeds maxDelay %s", l.CurrentDelay(), l.maxDelay)
	}
}

func TestRecoveryBoundedAtMinDelay(t *testing.T) {
	l := newTestLimiter()
	for i := 0; i < 200; i++ {
		l.RecordSuccess()
	}
	if l.CurrentDelay() < l.minDelay {
		t.Errorf("currentDelay = %s below minDelay %s", l.CurrentDelay(), l.minDelay)
	}
}
