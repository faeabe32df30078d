// Package mfc pages through a user's MFC collection/order/wishlist pages,
// yielding item fingerprints with their collection-status tag for the sync
// orchestrator to feed into the queue. Parsing is a pure function over
// already-fetched HTML; navigation lives in fetcher.go.
package mfc

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ListItem is one row on a collection/order/wishlist listing page.
type ListItem struct {
	Fingerprint string
	StatusTag   string
}

// ParseListPage extracts every item link on a single listing page and
// reports whether a further page exists.
func ParseListPage(html, statusTag string) (items []ListItem, hasNext bool, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, false, err
	}

	seen := make(map[string]bool)
	doc.Find("a.item-link, .list-item a[href*='/item/'], .entry-image a").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		fp := fingerprintFromHref(href)
		if fp == "" || seen[fp] {
			return
		}
		seen[fp] = true
		items = append(items, ListItem{Fingerprint: fp, StatusTag: statusTag})
	})

	hasNext = doc.Find("a.pagination-next, a[rel='next'], .pagination a.next").Length() > 0
	return items, hasNext, nil
}

func fingerprintFromHref(href string) string {
	href = strings.TrimRight(href, "/")
	idx := strings.LastIndex(href, "/item/")
	if idx == -1 {
		return ""
	}
	rest := href[idx+len("/item/"):]
	if slash := strings.Index(rest, "/"); slash != -1 {
		rest = rest[:slash]
	}
	if q := strings.IndexByte(rest, '?'); q != -1 {
		rest = rest[:q]
	}
	return rest
}
