package queue

import "strings"

// ErrorKind buckets an extraction failure into a policy class.
type ErrorKind string

const (
	ErrorTimeout           ErrorKind = "timeout"
	ErrorNotFound          ErrorKind = "not_found"
	ErrorRateLimited       ErrorKind = "rate_limited"
	ErrorAuthRequired      ErrorKind = "auth_required"
	ErrorItemNotAccessible ErrorKind = "item_not_accessible"
	ErrorNetwork           ErrorKind = "network"
	ErrorUnknown           ErrorKind = "unknown"
	ErrorCancelled         ErrorKind = "cancelled"
)

// nsfwSentinel is the phrase MFC's own page shows in place of adult content
// when the viewing session lacks the permission, rather than an HTTP error.
const nsfwSentinel = "must be logged in to view this item"

// ClassifyError buckets an error message by substring, case-tolerant. The
// distinction between not_found and item_not_accessible is not made here: it
// depends on whether the failing item carried credentials, which only the
// caller (the queue's failure handler) knows.
func ClassifyError(msg string) ErrorKind {
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "timeout"):
		return ErrorTimeout
	case strings.Contains(lower, "404") || strings.Contains(lower, "not found"):
		return ErrorNotFound
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit") || strings.Contains(lower, "cloudflare"):
		return ErrorRateLimited
	case strings.Contains(lower, "auth") || strings.Contains(lower, "authentication") || strings.Contains(lower, nsfwSentinel):
		return ErrorAuthRequired
	case strings.Contains(lower, "network") || strings.Contains(lower, "err_") || strings.Contains(lower, "disconnected"):
		return ErrorNetwork
	default:
		return ErrorUnknown
	}
}

// IsCloudflareSignal reports whether a rate-limited message specifically
// indicates a Cloudflare challenge rather than a generic 429.
func IsCloudflareSignal(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "cloudflare")
}

// retryableKinds are kinds the generic retry predicate (outside session
// policy) may retry, up to the item's retry cap.
var retryableKinds = map[ErrorKind]bool{
	ErrorTimeout:     true,
	ErrorRateLimited: true,
	ErrorNetwork:     true,
	ErrorUnknown:     true,
}

// IsGenericallyRetryable reports whether kind is retryable under the
// generic (non-session) retry predicate.
func IsGenericallyRetryable(kind ErrorKind) bool {
	return retryableKinds[kind]
}
