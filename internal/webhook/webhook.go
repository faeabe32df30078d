// Package webhook delivers fire-and-forget outbound notifications for the
// three queue lifecycle events: item succeeded, item permanently failed,
// item skipped. A delivery failure is logged and never propagated back into
// queue state.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"mfcsync/internal/config"
	"mfcsync/internal/logging"
	"mfcsync/internal/queue"
	"mfcsync/pkg/models"
)

// Event is the JSON payload delivered to the configured endpoint.
type Event struct {
	Type        string         `json:"type"`
	Fingerprint string         `json:"fingerprint"`
	Timestamp   int64          `json:"timestamp"`
	Record      *models.Record `json:"record,omitempty"`
	ErrorKind   string         `json:"error_kind,omitempty"`
	Message     string         `json:"message,omitempty"`
	Reason      string         `json:"reason,omitempty"`
}

const (
	eventSucceeded = "item.succeeded"
	eventFailed    = "item.failed"
	eventSkipped   = "item.skipped"
)

// retryDelays is the backoff schedule between delivery attempts; the first
// attempt fires immediately.
var retryDelays = []time.Duration{0, time.Second, 5 * time.Second}

// Notifier implements queue.WebhookNotifier over a plain HTTP POST. A zero
// URL makes every notify call a no-op, so the queue can run with no
// downstream collaborator configured.
type Notifier struct {
	url        string
	secret     string
	timeout    time.Duration
	maxRetries int
	client     *http.Client
	logger     logging.Logger

	// now is overridable in tests; defaults to time.Now at construction.
	now func() time.Time
}

var _ queue.WebhookNotifier = (*Notifier)(nil)

// New builds a Notifier from cfg.Webhook.
func New(cfg *config.Config) *Notifier {
	retries := cfg.Webhook.MaxRetries
	if retries < 0 {
		retries = 0
	}
	if retries > len(retryDelays)-1 {
		retries = len(retryDelays) - 1
	}
	return &Notifier{
		url:        cfg.Webhook.URL,
		secret:     cfg.Webhook.Secret,
		timeout:    cfg.Webhook.Timeout,
		maxRetries: retries,
		client:     &http.Client{Timeout: cfg.Webhook.Timeout},
		logger:     logging.GetGlobalLogger().WithField("component", "webhook"),
		now:        time.Now,
	}
}

// NotifySucceeded fires an item.succeeded event carrying the full Record.
func (n *Notifier) NotifySucceeded(fingerprint string, record *models.Record) {
	n.deliverAsync(&Event{Type: eventSucceeded, Fingerprint: fingerprint, Record: record})
}

// NotifyFailed fires an item.failed event carrying the error kind and
// message for a permanently-failed item.
func (n *Notifier) NotifyFailed(fingerprint string, kind queue.ErrorKind, message string) {
	n.deliverAsync(&Event{Type: eventFailed, Fingerprint: fingerprint, ErrorKind: string(kind), Message: message})
}

// NotifySkipped fires an item.skipped event, e.g. for a cancelled item.
func (n *Notifier) NotifySkipped(fingerprint string, reason string) {
	n.deliverAsync(&Event{Type: eventSkipped, Fingerprint: fingerprint, Reason: reason})
}

func (n *Notifier) deliverAsync(event *Event) {
	if n.url == "" {
		return
	}
	event.Timestamp = n.now().Unix()

	go func() {
		for attempt, delay := range retryDelays[:n.maxRetries+1] {
			if delay > 0 {
				time.Sleep(delay)
			}
			ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
			err := n.deliver(ctx, event)
			cancel()
			if err == nil {
				return
			}
			n.logger.WithField("event", event.Type).
				WithField("fingerprint", event.Fingerprint).
				WithField("attempt", attempt+1).
				Warn("webhook delivery failed")
		}
		n.logger.WithField("event", event.Type).
			WithField("fingerprint", event.Fingerprint).
			Error("webhook delivery exhausted all retries")
	}()
}

func (n *Notifier) deliver(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "mfcsync-webhook/1.0")

	if n.secret != "" {
		mac := hmac.New(sha256.New, []byte(n.secret))
		mac.Write(body)
		req.Header.Set("X-MFCSync-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
