package queue

import "testing"

func TestClassifyErrorPrecedence(t *testing.T) {
	cases := []struct {
		msg  string
		want ErrorKind
	}{
		{"Navigation Timeout Exceeded", ErrorTimeout},
		{"page returned 404", ErrorNotFound},
		{"Item Not Found", ErrorNotFound},
		{"received 429 from origin", ErrorRateLimited},
		{"blocked by Cloudflare", ErrorRateLimited},
		{"Rate limit exceeded", ErrorRateLimited},
		{"AUTH cookie rejected", ErrorAuthRequired},
		{"authentication failed", ErrorAuthRequired},
		{"must be logged in to view this item", ErrorAuthRequired},
		{"NETWORK unreachable", ErrorNetwork},
		{"ERR_CONNECTION_RESET", ErrorNetwork},
		{"socket disconnected", ErrorNetwork},
		{"something unexpected happened", ErrorUnknown},
	}

	for _, c := range cases {
		if got := ClassifyError(c.msg); got != c.want {
			t.Errorf("ClassifyError(%q) = %s, want %s", c.msg, got, c.want)
		}
	}
}

func TestIsGenericallyRetryable(t *testing.T) {
	retryable := []ErrorKind{ErrorTimeout, ErrorRateLimited, ErrorNetwork, ErrorUnknown}
	for _, k := range retryable {
		if !IsGenericallyRetryable(k) {
			t.Errorf("expected %s to be generically retryable", k)
		}
	}

	notRetryable := []ErrorKind{ErrorAuthRequired, ErrorNotFound, ErrorItemNotAccessible, ErrorCancelled}
	for _, k := range notRetryable {
		if IsGenericallyRetryable(k) {
			t.Errorf("expected %s to never be generically retryable", k)
		}
	}
}

func TestIsCloudflareSignal(t *testing.T) {
	if !IsCloudflareSignal("request blocked by Cloudflare") {
		t.Error("expected cloudflare signal to be detected")
	}
	if IsCloudflareSignal("received 429 from origin") {
		t.Error("a generic 429 is not a cloudflare signal")
	}
}
