// Package browserpool hands out isolated, reusable headless browsing
// contexts backed by a fixed pool of rod browsers, plus a single persistent
// stealth browser reserved for credentialed requests.
package browserpool

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"mfcsync/internal/config"
	"mfcsync/internal/logging"
)

// managedBrowser tracks one pooled browser's lifecycle.
type managedBrowser struct {
	browser    *rod.Browser
	id         string
	createdAt  time.Time
	lastUsedAt time.Time
	inUse      bool
	usageCount int
	mu         sync.Mutex
}

// Instance is a leased browsing context: a page on a pooled browser. Callers
// must call Release exactly once when done.
type Instance struct {
	Page      *rod.Page
	browser   *managedBrowser
	pool      *Pool
	stealth   bool
	createdAt time.Time
}

// Metrics is a point-in-time snapshot of pool activity.
type Metrics struct {
	TotalCreated      int64
	TotalClosed       int64
	ActiveBrowsers    int64
	AvailableBrowsers int64
	QueuedAcquires    int64
}

// HealthSnapshot reports pool health along with the most recent pool
// warnings (overflow discards, failed browser closes), up to the last 100.
// Reading a snapshot does not clear them.
type HealthSnapshot struct {
	Healthy  bool
	Metrics  Metrics
	Warnings []string
}

// Pool manages a bounded set of reusable headless browsers plus one
// lazily-created stealth browser for credentialed navigation.
type Pool struct {
	cfg          *config.Config
	launcher     *launcher.Launcher
	logger       logging.Logger
	mu           sync.RWMutex
	browsers     []*managedBrowser
	available    chan *managedBrowser
	maxInstances int
	instances    int
	queued       int64
	totalCreated int64
	totalClosed  int64

	stealthOnce    sync.Once
	stealthBrowser *rod.Browser
	stealthErr     error

	warnMu   sync.Mutex
	warnings []string

	ctx    context.Context
	cancel context.CancelFunc
	ticker *time.Ticker

	// FastFail makes Acquire return immediately instead of blocking when the
	// pool is exhausted. Exercised by tests only.
	FastFail bool
}

// New builds a Pool and starts its idle-browser cleanup routine.
func New(cfg *config.Config) (*Pool, error) {
	l := launcher.New().
		Headless(cfg.BrowserPool.HeadlessMode).
		NoSandbox(true).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-web-security").
		Set("disable-background-timer-throttling").
		Set("disable-backgrounding-occluded-windows").
		Set("disable-renderer-backgrounding").
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("no-first-run").
		Set("no-default-browser-check")

	if chromePath := os.Getenv("CHROME_PATH"); chromePath != "" {
		l = l.Bin(chromePath)
	}
	if cfg.BrowserPool.UserAgent != "" {
		l = l.Set("user-agent", cfg.BrowserPool.UserAgent)
	}

	ctx, cancel := context.WithCancel(context.Background())

	maxInstances := cfg.BrowserPool.MaxBrowsers
	if maxInstances < cfg.BrowserPool.MinBrowsers {
		maxInstances = cfg.BrowserPool.MinBrowsers
	}

	p := &Pool{
		cfg:          cfg,
		launcher:     l,
		logger:       logging.GetGlobalLogger().WithField("component", "browser_pool"),
		browsers:     make([]*managedBrowser, 0, maxInstances),
		available:    make(chan *managedBrowser, maxInstances),
		maxInstances: maxInstances,
		ctx:          ctx,
		cancel:       cancel,
	}

	p.startCleanup()
	return p, nil
}

// Acquire returns an isolated browsing context: blocks cooperatively until
// one is free or cfg.BrowserPool.AcquisitionTimeout elapses. In FastFail mode
// an empty pool fails immediately instead of waiting.
func (p *Pool) Acquire(ctx context.Context) (*Instance, error) {
	p.mu.Lock()
	p.queued++
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.queued--
		p.mu.Unlock()
	}()

	select {
	case mb := <-p.available:
		if p.isHealthy(mb) {
			return p.newInstance(mb, false)
		}
		p.closeBrowser(mb)
	default:
	}

	p.mu.Lock()
	if p.instances < p.maxInstances {
		p.instances++
		p.mu.Unlock()

		mb, err := p.createBrowser()
		if err != nil {
			p.mu.Lock()
			p.instances--
			p.mu.Unlock()
			return nil, fmt.Errorf("create browser: %w", err)
		}
		return p.newInstance(mb, false)
	}
	p.mu.Unlock()

	if p.FastFail {
		return nil, fmt.Errorf("browser pool exhausted")
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.BrowserPool.AcquisitionTimeout)
	defer cancel()

	select {
	case mb := <-p.available:
		if p.isHealthy(mb) {
			return p.newInstance(mb, false)
		}
		p.closeBrowser(mb)
		return nil, fmt.Errorf("acquired unhealthy browser")
	case <-waitCtx.Done():
		return nil, fmt.Errorf("timeout acquiring browser: %w", waitCtx.Err())
	}
}

// AcquireStealth returns a page on the singleton stealth browser, created on
// first use and never returned to the regular pool. It is reserved for
// credentialed requests; every call opens a new page on that same stealth
// browser, so all credentialed requests share one browser.
func (p *Pool) AcquireStealth(ctx context.Context) (*Instance, error) {
	p.stealthOnce.Do(func() {
		url, err := p.launcher.Context(ctx).Launch()
		if err != nil {
			p.stealthErr = fmt.Errorf("launch stealth browser: %w", err)
			return
		}
		b := rod.New().ControlURL(url)
		if err := b.Connect(); err != nil {
			p.stealthErr = fmt.Errorf("connect stealth browser: %w", err)
			return
		}
		p.stealthBrowser = b
	})
	if p.stealthErr != nil {
		return nil, p.stealthErr
	}

	page, err := stealth.Page(p.stealthBrowser)
	if err != nil {
		return nil, fmt.Errorf("create stealth page: %w", err)
	}

	return &Instance{
		Page:      page,
		pool:      p,
		stealth:   true,
		createdAt: time.Now(),
	}, nil
}

// Release closes the instance's page and returns its browser to the pool,
// or closes the browser outright on overflow. For a stealth instance only
// the page is closed; the stealth browser stays open. Pool overflow is
// benign: the browser is closed and discarded with a warning rather than
// treated as an error.
func (i *Instance) Release() {
	if i.Page != nil {
		_ = i.Page.Close()
	}
	if i.stealth || i.browser == nil {
		return
	}

	mb := i.browser
	mb.mu.Lock()
	mb.inUse = false
	mb.lastUsedAt = time.Now()
	mb.usageCount++
	mb.mu.Unlock()

	select {
	case i.pool.available <- mb:
	default:
		i.pool.warn(fmt.Sprintf("pool full, discarding browser %s", mb.id))
		i.pool.closeBrowser(mb)
	}
}

func (p *Pool) newInstance(mb *managedBrowser, stealthPage bool) (*Instance, error) {
	pageCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	page, err := mb.browser.Context(pageCtx).Page(proto.TargetCreateTarget{})
	if err != nil {
		p.closeBrowser(mb)
		return nil, fmt.Errorf("create page: %w", err)
	}
	if p.cfg.BrowserPool.UserAgent != "" {
		_ = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: p.cfg.BrowserPool.UserAgent})
	}

	mb.mu.Lock()
	mb.inUse = true
	mb.lastUsedAt = time.Now()
	mb.mu.Unlock()

	return &Instance{
		Page:      page,
		browser:   mb,
		pool:      p,
		createdAt: time.Now(),
	}, nil
}

func (p *Pool) createBrowser() (*managedBrowser, error) {
	launchCtx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	url, err := p.launcher.Context(launchCtx).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	browser := rod.New().Context(launchCtx).ControlURL(url)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	mb := &managedBrowser{
		browser:    browser,
		id:         fmt.Sprintf("browser-%d", time.Now().UnixNano()),
		createdAt:  time.Now(),
		lastUsedAt: time.Now(),
	}

	p.mu.Lock()
	p.browsers = append(p.browsers, mb)
	p.totalCreated++
	p.mu.Unlock()

	return mb, nil
}

func (p *Pool) isHealthy(mb *managedBrowser) bool {
	if mb.browser == nil {
		return false
	}
	_, err := mb.browser.Pages()
	return err == nil
}

func (p *Pool) closeBrowser(mb *managedBrowser) {
	if mb.browser != nil {
		if err := mb.browser.Close(); err != nil {
			p.warn(fmt.Sprintf("graceful close failed for %s: %v", mb.id, err))
		}
	}

	p.mu.Lock()
	for i, b := range p.browsers {
		if b.id == mb.id {
			p.browsers = append(p.browsers[:i], p.browsers[i+1:]...)
			break
		}
	}
	p.instances--
	p.totalClosed++
	p.mu.Unlock()
}

func (p *Pool) warn(msg string) {
	p.warnMu.Lock()
	p.warnings = append(p.warnings, msg)
	if len(p.warnings) > 100 {
		p.warnings = p.warnings[len(p.warnings)-100:]
	}
	p.warnMu.Unlock()
	p.logger.Warn(msg)
}

func (p *Pool) startCleanup() {
	p.ticker = time.NewTicker(p.cfg.BrowserPool.CleanupInterval)
	go func() {
		defer p.ticker.Stop()
		for {
			select {
			case <-p.ticker.C:
				p.cleanupIdle()
			case <-p.ctx.Done():
				return
			}
		}
	}()
}

func (p *Pool) cleanupIdle() {
	now := time.Now()
	var stale []*managedBrowser

	p.mu.RLock()
	for _, mb := range p.browsers {
		mb.mu.Lock()
		idle := !mb.inUse && now.Sub(mb.lastUsedAt) > p.cfg.BrowserPool.MaxIdleTime
		mb.mu.Unlock()
		if idle || !p.isHealthy(mb) {
			stale = append(stale, mb)
		}
	}
	p.mu.RUnlock()

	for _, mb := range stale {
		p.closeBrowser(mb)
	}
}

// Health reports the pool's current state and any accumulated warnings.
func (p *Pool) Health() HealthSnapshot {
	p.mu.RLock()
	m := Metrics{
		TotalCreated:      p.totalCreated,
		TotalClosed:       p.totalClosed,
		ActiveBrowsers:    int64(p.instances),
		AvailableBrowsers: int64(len(p.available)),
		QueuedAcquires:    p.queued,
	}
	p.mu.RUnlock()

	p.warnMu.Lock()
	warnings := make([]string, len(p.warnings))
	copy(warnings, p.warnings)
	p.warnMu.Unlock()

	return HealthSnapshot{
		Healthy:  p.ctx.Err() == nil,
		Metrics:  m,
		Warnings: warnings,
	}
}

// Shutdown closes every pooled browser and the stealth singleton.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.cancel()

	p.mu.Lock()
	browsers := make([]*managedBrowser, len(p.browsers))
	copy(browsers, p.browsers)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, mb := range browsers {
			p.closeBrowser(mb)
		}
		if p.stealthBrowser != nil {
			_ = p.stealthBrowser.Close()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("browser pool shutdown timed out, browsers may still be running")
	}

	p.launcher.Cleanup()
	return nil
}

// Reset closes every currently pooled browser and the stealth singleton,
// without cancelling the pool's lifecycle context: subsequent Acquire /
// AcquireStealth calls launch fresh browsers as usual. Intended for
// recovering from a wedged Chromium process without restarting the whole
// service.
func (p *Pool) Reset(ctx context.Context) error {
	p.mu.Lock()
	browsers := make([]*managedBrowser, len(p.browsers))
	copy(browsers, p.browsers)
	p.browsers = p.browsers[:0]
	p.instances = 0
	stealthBrowser := p.stealthBrowser
	p.stealthBrowser = nil
	p.stealthOnce = sync.Once{}
	p.mu.Unlock()

	for len(p.available) > 0 {
		<-p.available
	}

	done := make(chan struct{})
	go func() {
		for _, mb := range browsers {
			p.closeBrowser(mb)
		}
		if stealthBrowser != nil {
			_ = stealthBrowser.Close()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("browser pool reset timed out, browsers may still be running")
	}
	return nil
}
