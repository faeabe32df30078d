// Package extractor performs navigation, credential application, challenge
// handling, and structured extraction against an already-acquired browsing
// context. It also supplies the Session Manager's browser-backed
// Validator and Prober implementations, kept here rather than in
// internal/session to avoid that package importing the browser pool.
package extractor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"

	"mfcsync/internal/browserpool"
	"mfcsync/internal/config"
	"mfcsync/internal/logging"
	"mfcsync/internal/queue"
	"mfcsync/pkg/models"
)

// navigationTimeout bounds a single page navigation.
const navigationTimeout = 30 * time.Second

// knownPublicItemPath is a stable, always-public item page used to probe
// MFC-wide reachability independent of any session's credentials.
const knownPublicItemPath = "/item/1"

// nsfwSentinel is the phrase MFC shows in place of adult content when the
// viewing session lacks the permission, rather than returning an HTTP
// error. Mirrored in internal/queue's error classifier so the same message
// text buckets consistently on both sides.
const nsfwSentinel = "must be logged in to view this item"

// Extractor implements queue.PageExtractor against a real rod page.
type Extractor struct {
	cfg    *config.Config
	logger logging.Logger
}

// New builds an Extractor.
func New(cfg *config.Config) *Extractor {
	return &Extractor{
		cfg:    cfg,
		logger: logging.GetGlobalLogger().WithField("component", "extractor"),
	}
}

// Extract navigates to targetURL, applies cookies if present, waits out any
// anti-bot challenge, and parses the settled page into a Record. The kind of
// not-found vs. a genuine extraction failure is communicated back to the
// queue purely through the returned error's text, which queue.ClassifyError
// then buckets.
func (e *Extractor) Extract(ctx context.Context, browser queue.Browser, targetURL string, cookies map[string]string) (*models.Record, error) {
	instance, ok := browser.(*browserpool.Instance)
	if !ok {
		return nil, fmt.Errorf("extractor: unexpected browser type %T", browser)
	}
	page := instance.Page.Context(ctx)

	if len(cookies) > 0 {
		origin := originOf(targetURL, e.cfg.MFC.BaseDomain)
		if err := ApplyCredentials(page, origin, cookies, e.cfg.MFC.CookieAllowlist, e.cfg.MFC.SessionCookie, e.logger); err != nil {
			return nil, fmt.Errorf("apply credentials: %w", err)
		}
	}

	navPage := page.Timeout(navigationTimeout)
	if err := navPage.Navigate(targetURL); err != nil {
		return nil, fmt.Errorf("network: navigate %s: %w", targetURL, err)
	}
	if err := navPage.WaitLoad(); err != nil {
		e.logger.WithField("target_url", targetURL).Debug("dom never fully loaded, proceeding")
	}

	settle := e.cfg.Extractor.SettleTime
	if settle > e.cfg.Extractor.MaxSettleTime {
		settle = e.cfg.Extractor.MaxSettleTime
	}
	time.Sleep(settle)

	if err := DetectAndWaitOutChallenge(ctx, e.snapshot(page), e.cfg.Extractor.ChallengeWaitTimeout); err != nil {
		return nil, fmt.Errorf("network: challenge wait: %w", err)
	}

	title, body, err := e.snapshot(page)()
	if err != nil {
		return nil, fmt.Errorf("network: snapshot page: %w", err)
	}
	if isNotFoundPage(title, body) {
		return nil, fmt.Errorf("not found: %s", targetURL)
	}
	if isAuthWallPage(body) {
		return nil, fmt.Errorf("auth required: %s", targetURL)
	}

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("network: read html: %w", err)
	}

	return ExtractRecord(FingerprintFromURL(targetURL), targetURL, html)
}

func (e *Extractor) snapshot(page *rod.Page) PageSnapshot {
	return func() (string, string, error) {
		info, err := page.Info()
		if err != nil {
			return "", "", err
		}
		body, err := page.Element("body")
		if err != nil {
			return info.Title, "", nil
		}
		text, err := body.Text()
		if err != nil {
			return info.Title, "", nil
		}
		return info.Title, text, nil
	}
}

func isNotFoundPage(title, body string) bool {
	lower := strings.ToLower(title + " " + body)
	return strings.Contains(lower, "item not found") || strings.Contains(lower, "page not found") || strings.Contains(lower, "404")
}

func isAuthWallPage(body string) bool {
	return strings.Contains(strings.ToLower(body), nsfwSentinel)
}

// FingerprintFromURL derives the item fingerprint from a resolved target
// URL: the last non-empty path segment. A bare fingerprint passed straight
// through as the target is returned unchanged.
func FingerprintFromURL(targetURL string) string {
	if !strings.Contains(targetURL, "://") {
		return targetURL
	}
	trimmed := strings.TrimRight(targetURL, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx == -1 || idx == len(trimmed)-1 {
		return trimmed
	}
	return trimmed[idx+1:]
}

func originOf(targetURL, baseDomain string) string {
	if !strings.Contains(targetURL, "://") {
		return "https://" + baseDomain
	}
	idx := strings.Index(targetURL, "://")
	rest := targetURL[idx+3:]
	if slash := strings.Index(rest, "/"); slash != -1 {
		rest = rest[:slash]
	}
	return targetURL[:idx+3] + rest
}

// CredentialValidator implements session.Validator: it applies the given
// cookies on a page of the pool's stealth browser and checks whether the
// session cookie is still set after loading the MFC homepage.
type CredentialValidator struct {
	pool *browserpool.Pool
	cfg  *config.Config
}

// NewCredentialValidator builds a session.Validator backed by pool.
func NewCredentialValidator(pool *browserpool.Pool, cfg *config.Config) *CredentialValidator {
	return &CredentialValidator{pool: pool, cfg: cfg}
}

// Validate navigates to the MFC homepage with cookies applied and reports an
// error unless the session cookie is present with a non-empty value
// afterwards.
func (v *CredentialValidator) Validate(ctx context.Context, sessionID string, cookies map[string]string) error {
	instance, err := v.pool.AcquireStealth(ctx)
	if err != nil {
		return fmt.Errorf("acquire validation browser: %w", err)
	}
	defer instance.Release()

	page := instance.Page.Context(ctx)
	origin := "https://" + v.cfg.MFC.BaseDomain
	if err := ApplyCredentials(page, origin, cookies, v.cfg.MFC.CookieAllowlist, v.cfg.MFC.SessionCookie, logging.GetGlobalLogger()); err != nil {
		return fmt.Errorf("apply credentials: %w", err)
	}
	navPage := page.Timeout(navigationTimeout)
	if err := navPage.Navigate(origin); err != nil {
		return fmt.Errorf("network: navigate: %w", err)
	}
	if err := navPage.WaitLoad(); err != nil {
		return fmt.Errorf("network: wait load: %w", err)
	}

	cookies2, err := page.Cookies([]string{origin})
	if err != nil {
		return fmt.Errorf("network: read cookies: %w", err)
	}
	for _, c := range cookies2 {
		if c.Name == v.cfg.MFC.SessionCookie && c.Value != "" {
			return nil
		}
	}
	return fmt.Errorf("auth required: session cookie rejected")
}

// ReachabilityProber implements session.Prober against a stable public item
// page, independent of any session's credentials.
type ReachabilityProber struct {
	pool *browserpool.Pool
	cfg  *config.Config
}

// NewReachabilityProber builds a session.Prober backed by pool.
func NewReachabilityProber(pool *browserpool.Pool, cfg *config.Config) *ReachabilityProber {
	return &ReachabilityProber{pool: pool, cfg: cfg}
}

// Probe loads a known-public item and reports whether MFC itself is
// reachable, independent of session state.
func (p *ReachabilityProber) Probe(ctx context.Context) error {
	instance, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire probe browser: %w", err)
	}
	defer instance.Release()

	page := instance.Page.Context(ctx)
	target := "https://" + p.cfg.MFC.BaseDomain + knownPublicItemPath
	navPage := page.Timeout(navigationTimeout)
	if err := navPage.Navigate(target); err != nil {
		return fmt.Errorf("network: probe navigate: %w", err)
	}
	if err := navPage.WaitLoad(); err != nil {
		return fmt.Errorf("network: probe wait load: %w", err)
	}

	info, err := page.Info()
	if err != nil {
		return fmt.Errorf("network: probe info: %w", err)
	}
	if strings.Contains(strings.ToLower(info.Title), "error") {
		return fmt.Errorf("mfc probe page returned an error title")
	}
	return nil
}
