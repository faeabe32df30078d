package syncsvc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mfcsync/internal/config"
	"mfcsync/internal/export"
	"mfcsync/internal/logging"
	"mfcsync/internal/mfc"
	"mfcsync/internal/queue"
	"mfcsync/pkg/models"
)

// job is one queued collection-sync run, picked up by a pool worker.
type job struct {
	processID string
	userID    string
	statuses  []string
	cookies   map[string]string
	sessionID string
}

// collectionFetcher is the narrow view of *mfc.Fetcher the orchestrator
// needs, kept as an interface so tests can substitute a fake pager instead
// of driving a real browser pool.
type collectionFetcher interface {
	FetchCollection(ctx context.Context, userID, statusTag string) ([]mfc.ListItem, error)
}

// Orchestrator pages a user's MFC lists, enqueues every discovered item onto
// the Scrape Queue, waits on the results, and assembles them into a CSV
// export. It owns a bounded worker pool the way the core's background task
// manager does: a buffered job channel, a fixed number of long-lived worker
// goroutines, and a WaitGroup-backed Stop that lets in-flight jobs finish.
type Orchestrator struct {
	cfg     *config.Config
	fetcher collectionFetcher
	queue   *queue.Queue
	store   Store
	logger  logging.Logger

	jobs    chan job
	wg      sync.WaitGroup
	stopCh  chan struct{}
	started bool
	mu      sync.Mutex
}

// New builds an Orchestrator. Call Start before submitting any sync jobs.
func New(cfg *config.Config, fetcher collectionFetcher, q *queue.Queue, store Store) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		fetcher: fetcher,
		queue:   q,
		store:   store,
		logger:  logging.GetGlobalLogger().WithField("component", "sync_orchestrator"),
		jobs:    make(chan job, cfg.Sync.MaxConcurrentTasks*4),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the worker pool and the periodic cleanup routine.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return
	}
	o.started = true
	o.mu.Unlock()

	for i := 0; i < o.cfg.Sync.MaxConcurrentTasks; i++ {
		o.wg.Add(1)
		go o.worker(ctx)
	}
	go o.cleanupRoutine(ctx)
}

// Stop closes the job channel and blocks until every in-flight job drains.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	o.mu.Unlock()

	close(o.stopCh)
	close(o.jobs)
	o.wg.Wait()
}

func (o *Orchestrator) worker(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-o.jobs:
			if !ok {
				return
			}
			o.run(ctx, j)
		}
	}
}

func (o *Orchestrator) cleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.Sync.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			if err := o.store.Cleanup(ctx, o.cfg.Sync.MaxTaskAge); err != nil {
				o.logger.WithField("error", err.Error()).Warn("sync task cleanup failed")
			}
		}
	}
}

// SubmitSync accepts a collection-sync request, records it as accepted, and
// hands it to the worker pool. It returns the process id immediately; the
// caller polls the Store for completion.
func (o *Orchestrator) SubmitSync(ctx context.Context, userID string, statuses []string, cookies map[string]string, sessionID string) (string, error) {
	processID := generateProcessID(userID)
	result := &Result{
		ProcessID: processID,
		UserID:    userID,
		Status:    StatusAccepted,
		CreatedAt: time.Now(),
	}
	if err := o.store.Store(ctx, result); err != nil {
		return "", fmt.Errorf("store sync task: %w", err)
	}

	j := job{processID: processID, userID: userID, statuses: statuses, cookies: cookies, sessionID: sessionID}
	select {
	case o.jobs <- j:
	default:
		return "", fmt.Errorf("sync queue is full, try again later")
	}
	return processID, nil
}

func (o *Orchestrator) run(ctx context.Context, j job) {
	started := time.Now()
	o.markProcessing(ctx, j.processID)

	items, err := o.collectItems(ctx, j)
	if err != nil {
		o.markFailure(ctx, j.processID, started, err)
		return
	}

	records, failed := o.scrapeAll(ctx, items, j)

	csv, err := export.ToCSVString(records)
	if err != nil {
		o.markFailure(ctx, j.processID, started, fmt.Errorf("build csv: %w", err))
		return
	}

	completedAt := time.Now()
	o.store.Update(ctx, &Result{
		ProcessID:      j.processID,
		UserID:         j.userID,
		Status:         StatusSuccess,
		ItemsTotal:     len(items),
		ItemsCompleted: len(records),
		ItemsFailed:    failed,
		CSV:            csv,
		CreatedAt:      started,
		CompletedAt:    &completedAt,
		ProcessingTime: completedAt.Sub(started),
	})
}

// collectItems pages through every requested list for the user, deduping
// fingerprints across lists (an item can appear in more than one list, e.g.
// both owned and ordered).
func (o *Orchestrator) collectItems(ctx context.Context, j job) ([]mfc.ListItem, error) {
	seen := make(map[string]bool)
	var all []mfc.ListItem
	for _, status := range j.statuses {
		items, err := o.fetcher.FetchCollection(ctx, j.userID, status)
		if err != nil {
			return nil, fmt.Errorf("fetch %s list: %w", status, err)
		}
		for _, it := range items {
			if seen[it.Fingerprint] {
				continue
			}
			seen[it.Fingerprint] = true
			all = append(all, it)
		}
	}
	return all, nil
}

// scrapeAll enqueues every discovered item and waits for each to resolve.
// Enqueue calls happen up front so the queue can coalesce and schedule them
// together; the wait for results is what actually bounds this job's
// wall-clock time.
func (o *Orchestrator) scrapeAll(ctx context.Context, items []mfc.ListItem, j job) ([]*models.Record, int) {
	futures := make([]*queue.Future, len(items))
	for i, it := range items {
		fingerprint, targetURL := mfc.ResolveTarget(it.Fingerprint, o.cfg.MFC.BaseDomain)
		result := o.queue.Enqueue(fingerprint, targetURL, queue.Options{
			StatusTag: it.StatusTag,
			Cookies:   j.cookies,
			SessionID: j.sessionID,
			UserID:    j.userID,
		})
		futures[i] = result.Future
	}

	var records []*models.Record
	failed := 0
	for _, f := range futures {
		record, err := f.Wait(ctx)
		if err != nil {
			failed++
			continue
		}
		records = append(records, record)
	}
	return records, failed
}

func (o *Orchestrator) markProcessing(ctx context.Context, processID string) {
	result, err := o.store.Get(ctx, processID)
	if err != nil {
		return
	}
	result.Status = StatusProcessing
	o.store.Update(ctx, result)
}

func (o *Orchestrator) markFailure(ctx context.Context, processID string, started time.Time, taskErr error) {
	completedAt := time.Now()
	o.logger.WithField("process_id", processID).WithField("error", taskErr.Error()).Warn("sync task failed")

	result, err := o.store.Get(ctx, processID)
	if err != nil {
		result = &Result{ProcessID: processID, CreatedAt: started}
	}
	result.Status = StatusFailure
	result.Error = taskErr.Error()
	result.CompletedAt = &completedAt
	result.ProcessingTime = completedAt.Sub(started)
	o.store.Update(ctx, result)
}

func generateProcessID(userID string) string {
	return fmt.Sprintf("sync-%s-%d", userID, time.Now().UnixNano())
}
