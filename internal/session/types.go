package session

import "time"

// CacheEntry is what the validation cache stores per session id.
type CacheEntry struct {
	Valid         bool
	ValidatedAt   time.Time
	AuthErrorCount int
}

// IsValidOptions tunes a single isValid call.
type IsValidOptions struct {
	ForceRevalidate bool
	StructureOnly   bool
	UserID          string
}

// ValidationResult is isValid's outcome.
type ValidationResult struct {
	Valid        bool
	Reason       string
	ShouldNotify bool
}

// CookieFailureResult is reportCookieFailure's outcome.
type CookieFailureResult struct {
	ShouldRetry  bool
	IsPaused     bool
	CooldownMs   int64
	FailureCount int
}

// CooldownStatus answers isInCooldown.
type CooldownStatus struct {
	InCooldown  bool
	RemainingMs int64
}

// PausedEvent is emitted when a session crosses the pause threshold.
type PausedEvent struct {
	SessionID          string
	UserID             string
	FailureCount       int
	FailedFingerprints []string
	PendingCount       int
	Actions            []string
}

// InvalidationEvent is emitted when the validation cache entry for a
// session is invalidated due to repeated auth errors.
type InvalidationEvent struct {
	SessionID string
	Reason    string
}

// DiagnoseReason classifies the likely cause of a session's failures.
type DiagnoseReason string

const (
	ReasonCookiesExpired DiagnoseReason = "cookies_expired"
	ReasonMFCOverloaded  DiagnoseReason = "mfc_overloaded"
	ReasonNetworkError   DiagnoseReason = "network_error"
	ReasonUnknown        DiagnoseReason = "unknown"
)

// DiagnoseResult is diagnose's outcome.
type DiagnoseResult struct {
	Reason          DiagnoseReason
	Confidence      float64
	Explanation     string
	MFCReachable    bool
	LastProbeSuccess bool
	LastProbeTime   time.Time
}

var PauseRecoveryActions = []string{"resume", "cancel_item", "cancel_all"}
