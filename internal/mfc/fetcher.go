package mfc

import (
	"context"
	"fmt"
	"time"

	"mfcsync/internal/browserpool"
	"mfcsync/internal/config"
	"mfcsync/internal/logging"
)

// maxListPages bounds pagination so a malformed "next page" link can never
// turn a fetch into an unbounded loop.
const maxListPages = 200

const listNavigationTimeout = 30 * time.Second

// Fetcher pages through a user's MFC collection/order/wishlist listings.
type Fetcher struct {
	pool   *browserpool.Pool
	cfg    *config.Config
	logger logging.Logger
}

// New builds a Fetcher backed by pool.
func New(pool *browserpool.Pool, cfg *config.Config) *Fetcher {
	return &Fetcher{
		pool:   pool,
		cfg:    cfg,
		logger: logging.GetGlobalLogger().WithField("component", "mfc_fetcher"),
	}
}

// listURL builds the URL for one page of a user's listing. statusTag is one
// of "owned", "ordered", "wished"; page is 1-indexed.
func (f *Fetcher) listURL(userID, statusTag string, page int) string {
	section := listSection(statusTag)
	return fmt.Sprintf("https://%s/collection/%s/%s?page=%d", f.cfg.MFC.BaseDomain, userID, section, page)
}

func listSection(statusTag string) string {
	switch statusTag {
	case "ordered":
		return "ordered"
	case "wished":
		return "wishlist"
	default:
		return "owned"
	}
}

// FetchCollection pages through userID's statusTag listing until a page
// with no further pagination link is reached, or maxListPages is hit.
func (f *Fetcher) FetchCollection(ctx context.Context, userID, statusTag string) ([]ListItem, error) {
	var all []ListItem

	for page := 1; page <= maxListPages; page++ {
		html, err := f.fetchPage(ctx, f.listURL(userID, statusTag, page))
		if err != nil {
			return all, fmt.Errorf("fetch page %d: %w", page, err)
		}

		items, hasNext, err := ParseListPage(html, statusTag)
		if err != nil {
			return all, fmt.Errorf("parse page %d: %w", page, err)
		}
		all = append(all, items...)

		if !hasNext {
			break
		}
		if page == maxListPages {
			f.logger.WithField("user_id", userID).WithField("status", statusTag).
				Warn("list pagination hit the page cap, remaining pages were not fetched")
		}
	}

	return all, nil
}

func (f *Fetcher) fetchPage(ctx context.Context, url string) (string, error) {
	instance, err := f.pool.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire browser: %w", err)
	}
	defer instance.Release()

	page := instance.Page.Context(ctx).Timeout(listNavigationTimeout)
	if err := page.Navigate(url); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		f.logger.WithField("url", url).Debug("dom never fully loaded, proceeding")
	}

	return page.HTML()
}
