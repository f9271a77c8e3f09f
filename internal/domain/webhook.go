package domain

import (
	"time"

	"github.com/google/uuid"
)

// Webhook event types emitted by the import pipeline.
const (
	EventProductCreated = "product.created"
	EventProductUpdated = "product.updated"
)

// Webhook is a subscription to product change events.
type Webhook struct {
	ID        uuid.UUID         `json:"id"`
	URL       string            `json:"url"`
	EventType string            `json:"event_type"`
	Enabled   bool              `json:"enabled"`
	Headers   map[string]string `json:"headers,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
