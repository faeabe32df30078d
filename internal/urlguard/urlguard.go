// Package urlguard validates that a user-supplied target string actually
// points at the configured MFC domain before it reaches the browser pool.
package urlguard

import (
	"net/url"
	"strings"
)

// IsValidTarget reports whether raw is a bare fingerprint (no scheme, no
// dots resembling a host) or a URL whose hostname is exactly domain or a
// dot-suffix of it. It rejects path-only occurrences of domain and spoofed
// subdomains such as "domain.attacker.tld".
func IsValidTarget(raw, domain string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" || domain == "" {
		return false
	}

	if !looksLikeURL(raw) {
		// Bare fingerprint/id: no host to validate.
		return true
	}

	candidate := raw
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}

	u, err := url.Parse(candidate)
	if err != nil {
		return false
	}

	host := strings.ToLower(u.Hostname())
	domain = strings.ToLower(domain)

	if host == domain {
		return true
	}
	return strings.HasSuffix(host, "."+domain)
}

func looksLikeURL(s string) bool {
	return strings.Contains(s, "://") || strings.Contains(s, ".") || strings.HasPrefix(s, "/")
}
