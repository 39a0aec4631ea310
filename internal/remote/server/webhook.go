package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// EventLibraryUpdate is sent after every request that bumps a library version.
const EventLibraryUpdate = "library.update"

// WebhookEvent is the JSON body posted to webhook URLs.
type WebhookEvent struct {
	Event     string `json:"event"`
	Library   string `json:"library"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

// WebhookConfig configures webhook delivery.
type WebhookConfig struct {
	URLs       []string
	Timeout    time.Duration // per attempt, default 10s
	Retries    int           // extra attempts after a 5xx or transport error, default 2, negative for none
	RetryDelay time.Duration // multiplied by the attempt number, default 1s
}

// WebhookNotifier posts library update events to a fixed set of URLs.
// A nil notifier is valid and sends nothing.
type WebhookNotifier struct {
	cfg    WebhookConfig
	client *http.Client
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewWebhookNotifier returns nil when no URLs are configured.
func NewWebhookNotifier(cfg *WebhookConfig, logger *slog.Logger) *WebhookNotifier {
	if cfg == nil || len(cfg.URLs) == 0 {
		return nil
	}
	c := *cfg
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Retries < 0 {
		c.Retries = 0
	} else if c.Retries == 0 {
		c.Retries = 2
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		cfg:    c,
		client: &http.Client{Timeout: c.Timeout},
		logger: logger,
	}
}

// NotifyUpdate announces that a library reached version. Each URL is
// delivered to in its own goroutine.
func (wn *WebhookNotifier) NotifyUpdate(library string, version int) {
	if wn == nil {
		return
	}

	body, err := json.Marshal(&WebhookEvent{
		Event:     EventLibraryUpdate,
		Library:   library,
		Version:   version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		wn.logger.Error("webhook: marshal event", "error", err)
		return
	}

	for _, url := range wn.cfg.URLs {
		wn.wg.Add(1)
		go func() {
			defer wn.wg.Done()
			if err := wn.deliver(context.Background(), url, body); err != nil {
				wn.logger.Warn("webhook: delivery failed", "url", url, "library", library, "error", err)
				return
			}
			wn.logger.Debug("webhook: delivered", "url", url, "library", library, "version", version)
		}()
	}
}

// Close waits for in-flight deliveries.
func (wn *WebhookNotifier) Close() {
	if wn == nil {
		return
	}
	wn.wg.Wait()
}

// deliver posts body to url, retrying transport errors and 5xx responses.
func (wn *WebhookNotifier) deliver(ctx context.Context, url string, body []byte) error {
	var lastErr error
	for attempt := 0; attempt <= wn.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * wn.cfg.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		retry, err := wn.post(ctx, url, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return lastErr
}

// post sends one attempt and reports whether a failure is worth retrying.
func (wn *WebhookNotifier) post(ctx context.Context, url string, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "libsync-server/1.0")
	req.Header.Set("X-Libsync-Event", EventLibraryUpdate)

	resp, err := wn.client.Do(req)
	if err != nil {
		return true, err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("HTTP %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
}
