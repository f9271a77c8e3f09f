// Package webhook delivers product change events to subscribed endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ignite/catalog-import/internal/domain"
	"github.com/ignite/catalog-import/internal/pkg/httpretry"
	"github.com/ignite/catalog-import/internal/pkg/logger"
)

// Store lists enabled webhook subscriptions for an event type.
type Store interface {
	ListEnabled(ctx context.Context, eventType string) ([]domain.Webhook, error)
}

// Event is the delivery payload: one event type with the products it
// applies to, batched per emission.
type Event struct {
	Event     string           `json:"event"`
	Timestamp time.Time        `json:"timestamp"`
	Data      []domain.Product `json:"data"`
}

// Dispatcher fans product change events out to subscribed endpoints.
// Delivery is asynchronous and at-most-once per emission: failures are
// logged and dropped, never propagated to the import pipeline.
type Dispatcher struct {
	store   Store
	client  httpretry.HTTPDoer
	timeout time.Duration
}

// NewDispatcher creates a dispatcher with a retrying HTTP client.
func NewDispatcher(store Store, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		store:   store,
		client:  httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 3),
		timeout: timeout,
	}
}

// NewDispatcherWithClient overrides the HTTP client, used by tests.
func NewDispatcherWithClient(store Store, client httpretry.HTTPDoer, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{store: store, client: client, timeout: timeout}
}

// ProductsCreated emits one product.created event for the batch.
func (d *Dispatcher) ProductsCreated(ctx context.Context, products []domain.Product) {
	d.emit(ctx, domain.EventProductCreated, products)
}

// ProductsUpdated emits one product.updated event for the batch.
func (d *Dispatcher) ProductsUpdated(ctx context.Context, products []domain.Product) {
	d.emit(ctx, domain.EventProductUpdated, products)
}

func (d *Dispatcher) emit(ctx context.Context, eventType string, products []domain.Product) {
	if len(products) == 0 {
		return
	}

	hooks, err := d.store.ListEnabled(ctx, eventType)
	if err != nil {
		logger.Warn("webhook lookup failed", "event", eventType, "error", err.Error())
		return
	}
	if len(hooks) == 0 {
		return
	}

	payload, err := json.Marshal(Event{Event: eventType, Timestamp: time.Now().UTC(), Data: products})
	if err != nil {
		logger.Warn("webhook payload marshal failed", "event", eventType, "error", err.Error())
		return
	}

	for _, hook := range hooks {
		go d.deliver(hook, payload)
	}
}

// deliver posts one payload to one endpoint. It runs detached from the
// pipeline's context so a finishing batch never truncates delivery.
func (d *Dispatcher) deliver(hook domain.Webhook, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout*4)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(payload))
	if err != nil {
		logger.Warn("webhook request build failed", "url", hook.URL, "error", err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hook.Headers {
		req.Header.Set(k, v)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}

	resp, err := d.client.Do(req)
	if err != nil {
		logger.Warn("webhook delivery failed", "url", hook.URL, "error", err.Error())
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warn("webhook delivery rejected", "url", hook.URL, "status", resp.StatusCode)
	}
}
