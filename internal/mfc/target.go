package mfc

import "strings"

// ItemURL builds the canonical item page URL for fingerprint under domain.
func ItemURL(baseDomain, fingerprint string) string {
	return "https://" + baseDomain + "/item/" + fingerprint
}

// ResolveTarget turns a bare-fingerprint-or-URL request target into the
// (fingerprint, targetURL) pair the Scrape Queue's Enqueue needs. A
// URL-shaped target is assumed already validated by internal/urlguard
// before this is called.
func ResolveTarget(raw, baseDomain string) (fingerprint, targetURL string) {
	if !looksLikeURL(raw) {
		return raw, ItemURL(baseDomain, raw)
	}

	trimmed := strings.TrimRight(raw, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx == -1 || idx == len(trimmed)-1 {
		return trimmed, raw
	}
	return trimmed[idx+1:], raw
}

func looksLikeURL(s string) bool {
	return strings.Contains(s, "://") || strings.HasPrefix(s, "/")
}
