package emit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

// WebhookEmitter POSTs selected events as JSON to an HTTP endpoint, e.g. to
// notify reviewers that a thread is waiting for them.
//
// Delivery happens on a background goroutine through a bounded queue; when
// the queue is full events are dropped and logged. Close drains the queue.
type WebhookEmitter struct {
	url      string
	client   *http.Client
	headers  map[string]string
	messages map[string]bool
	attempts uint
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	wg     sync.WaitGroup
}

// WebhookOption configures a WebhookEmitter.
type WebhookOption func(*WebhookEmitter)

// WithWebhookMessages limits delivery to these event names. The default is
// MsgInterrupted only.
func WithWebhookMessages(msgs ...string) WebhookOption {
	return func(w *WebhookEmitter) {
		w.messages = make(map[string]bool, len(msgs))
		for _, m := range msgs {
			w.messages[m] = true
		}
	}
}

// WithWebhookHeader adds a request header, e.g. an authorization token.
func WithWebhookHeader(key, value string) WebhookOption {
	return func(w *WebhookEmitter) { w.headers[key] = value }
}

// WithWebhookClient replaces the HTTP client (10s timeout by default).
func WithWebhookClient(c *http.Client) WebhookOption {
	return func(w *WebhookEmitter) { w.client = c }
}

// WithWebhookAttempts sets delivery attempts per event (3 by default).
// Values below 1 mean a single attempt.
func WithWebhookAttempts(n uint) WebhookOption {
	return func(w *WebhookEmitter) { w.attempts = max(n, 1) }
}

// WithWebhookLogger sets the logger.
func WithWebhookLogger(l *zap.Logger) WebhookOption {
	return func(w *WebhookEmitter) { w.logger = l }
}

// NewWebhookEmitter starts a WebhookEmitter delivering to url.
func NewWebhookEmitter(url string, opts ...WebhookOption) *WebhookEmitter {
	w := &WebhookEmitter{
		url:      url,
		client:   &http.Client{Timeout: 10 * time.Second},
		headers:  map[string]string{},
		messages: map[string]bool{MsgInterrupted: true},
		attempts: 3,
		logger:   zap.NewNop(),
		queue:    make(chan Event, 64),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Emit implements Emitter. It never blocks. Emit after Close is a no-op.
func (w *WebhookEmitter) Emit(event Event) {
	if !w.messages[event.Msg] {
		return
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- event:
	default:
		w.logger.Warn("webhook queue full, dropping event",
			zap.String("thread_id", event.ThreadID), zap.String("msg", event.Msg))
	}
}

// Close stops accepting events and waits for queued deliveries.
func (w *WebhookEmitter) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	w.wg.Wait()
	return nil
}

func (w *WebhookEmitter) loop() {
	defer w.wg.Done()
	for event := range w.queue {
		if err := w.deliver(context.Background(), event); err != nil {
			w.logger.Warn("webhook delivery failed",
				zap.String("thread_id", event.ThreadID),
				zap.String("msg", event.Msg),
				zap.Error(err))
		}
	}
}

type webhookBody struct {
	ThreadID string                 `json:"thread_id"`
	Step     int                    `json:"step"`
	Node     string                 `json:"node,omitempty"`
	Msg      string                 `json:"msg"`
	Meta     map[string]interface{} `json:"meta,omitempty"`
}

func (w *WebhookEmitter) deliver(ctx context.Context, event Event) error {
	payload, err := json.Marshal(webhookBody{
		ThreadID: event.ThreadID,
		Step:     event.Step,
		Node:     event.Node,
		Msg:      event.Msg,
		Meta:     event.Meta,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return retry.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range w.headers {
			req.Header.Set(k, v)
		}

		resp, err := w.client.Do(req)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("webhook returned %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return retry.Unrecoverable(fmt.Errorf("webhook returned %d", resp.StatusCode))
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(w.attempts),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
	)
}
