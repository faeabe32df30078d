package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mfcsync/internal/config"
	"mfcsync/internal/queue"
	"mfcsync/pkg/models"
)

func testConfig(url string) *config.Config {
	cfg := &config.Config{}
	cfg.Webhook.URL = url
	cfg.Webhook.Timeout = time.Second
	cfg.Webhook.MaxRetries = 2
	return cfg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestNotifySucceededDeliversRecordPayload(t *testing.T) {
	var mu sync.Mutex
	var got Event

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(testConfig(srv.URL))
	n.NotifySucceeded("123456", &models.Record{Fingerprint: "123456", Name: "Hatsune Miku"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got.Type == eventSucceeded
	})

	mu.Lock()
	defer mu.Unlock()
	if got.Fingerprint != "123456" {
		t.Errorf("Fingerprint = %q, want 123456", got.Fingerprint)
	}
	if got.Record == nil || got.Record.Name != "Hatsune Miku" {
		t.Errorf("Record = %+v, want populated record", got.Record)
	}
}

func TestNotifyFailedDeliversErrorKindAndMessage(t *testing.T) {
	var mu sync.Mutex
	var got Event

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(testConfig(srv.URL))
	n.NotifyFailed("123456", queue.ErrorNotFound, "item not found")

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got.Type == eventFailed
	})

	mu.Lock()
	defer mu.Unlock()
	if got.ErrorKind != string(queue.ErrorNotFound) {
		t.Errorf("ErrorKind = %q, want %q", got.ErrorKind, queue.ErrorNotFound)
	}
}

func TestNotifySkippedIsNoOpWithoutURL(t *testing.T) {
	n := New(testConfig(""))
	// Must not panic or block despite no server configured.
	n.NotifySkipped("123456", "cancelled")
	time.Sleep(50 * time.Millisecond)
}

func TestDeliveryRetriesOnFailureThenSucceeds(t *testing.T) {
	var attempts int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(testConfig(srv.URL))
	n.NotifySucceeded("123456", &models.Record{Fingerprint: "123456"})

	waitFor(t, func() bool { return atomic.LoadInt32(&attempts) >= 2 })
}

func TestSignatureHeaderSetWhenSecretConfigured(t *testing.T) {
	var mu sync.Mutex
	var sig string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		sig = r.Header.Get("X-MFCSync-Signature")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Webhook.Secret = "shhh"
	n := New(cfg)
	n.NotifySucceeded("123456", &models.Record{Fingerprint: "123456"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return sig != ""
	})
}
