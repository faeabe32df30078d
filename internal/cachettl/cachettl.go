// Package cachettl computes how long an extracted record should be trusted
// before a re-scrape is worth the cost, based on how far the item's release
// date sits from "now".
package cachettl

import "time"

// Category buckets a release date by how much its page content is expected
// to still be in flux.
type Category string

const (
	CategoryFuture      Category = "future"
	CategoryRecent      Category = "recent"
	CategoryCurrentYear Category = "current_year"
	CategoryEstablished Category = "established"
	CategoryLegacy      Category = "legacy"
	CategoryUnknown     Category = "unknown"
)

// recentWindow is how far into the past a release still counts as "recent"
// (pre-order pages still get corrected frequently in this window).
const recentWindow = 60 * 24 * time.Hour

var categoryTTL = map[Category]time.Duration{
	CategoryFuture:      7 * 24 * time.Hour,
	CategoryRecent:      14 * 24 * time.Hour,
	CategoryCurrentYear: 30 * 24 * time.Hour,
	CategoryEstablished: 60 * 24 * time.Hour,
	CategoryLegacy:      90 * 24 * time.Hour,
	CategoryUnknown:     90 * 24 * time.Hour,
}

// ParseReleaseDate parses the release-date strings MFC shows on item pages.
// "TBA" and any other non-date string are reported as not-ok rather than an
// error, since an unannounced release is an expected, common case.
func ParseReleaseDate(s string) (time.Time, bool) {
	layouts := []string{"2006-01-02", "2006-01", "2006"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// CategorizeReleaseDate buckets a parsed release date (or its absence)
// relative to now.
func CategorizeReleaseDate(s string, now time.Time) Category {
	t, ok := ParseReleaseDate(s)
	if !ok {
		return CategoryUnknown
	}

	if t.After(now) {
		return CategoryFuture
	}
	if now.Sub(t) <= recentWindow {
		return CategoryRecent
	}
	if t.Year() == now.Year() {
		return CategoryCurrentYear
	}
	if t.Year() == now.Year()-1 {
		return CategoryEstablished
	}
	return CategoryLegacy
}

// CalculateCacheTTL is a total function mapping a release-date string and
// the current time to the cache TTL a record with that release date earns.
func CalculateCacheTTL(releaseDate string, now time.Time) (Category, time.Duration) {
	category := CategorizeReleaseDate(releaseDate, now)
	return category, categoryTTL[category]
}

// IsCacheValid reports whether a record cached at cachedAt for an item with
// the given release date is still fresh at now.
func IsCacheValid(cachedAt time.Time, releaseDate string, now time.Time) bool {
	_, ttl := CalculateCacheTTL(releaseDate, now)
	return now.Sub(cachedAt) < ttl
}
