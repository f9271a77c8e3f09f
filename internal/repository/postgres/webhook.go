package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ignite/catalog-import/internal/domain"
)

// ErrWebhookNotFound is returned when a webhook id does not exist.
var ErrWebhookNotFound = errors.New("webhook not found")

const webhookColumns = `id, url, event_type, enabled, headers, created_at`

// WebhookRepo stores webhook subscriptions in PostgreSQL.
type WebhookRepo struct{ db *sql.DB }

// NewWebhookRepo creates a Postgres-backed webhook repository.
func NewWebhookRepo(db *sql.DB) *WebhookRepo { return &WebhookRepo{db: db} }

// Create inserts a new subscription.
func (r *WebhookRepo) Create(ctx context.Context, w *domain.Webhook) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	headersJSON, err := json.Marshal(headersOrEmpty(w.Headers))
	if err != nil {
		return fmt.Errorf("marshal webhook headers: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO webhooks (id, url, event_type, enabled, headers, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, w.ID, w.URL, w.EventType, w.Enabled, headersJSON)
	if err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}
	return nil
}

// Get reads one subscription by id.
func (r *WebhookRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Webhook, error) {
	w, err := scanWebhook(r.db.QueryRowContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrWebhookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook: %w", err)
	}
	return w, nil
}

// List returns all subscriptions.
func (r *WebhookRepo) List(ctx context.Context) ([]domain.Webhook, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var out []domain.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook row: %w", err)
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

// ListEnabled returns the enabled subscriptions for one event type.
func (r *WebhookRepo) ListEnabled(ctx context.Context, eventType string) ([]domain.Webhook, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+webhookColumns+` FROM webhooks
		WHERE enabled AND event_type = $1
		ORDER BY created_at
	`, eventType)
	if err != nil {
		return nil, fmt.Errorf("list enabled webhooks: %w", err)
	}
	defer rows.Close()

	var out []domain.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook row: %w", err)
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

// Update replaces the mutable fields of a subscription.
func (r *WebhookRepo) Update(ctx context.Context, w *domain.Webhook) error {
	headersJSON, err := json.Marshal(headersOrEmpty(w.Headers))
	if err != nil {
		return fmt.Errorf("marshal webhook headers: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE webhooks SET url = $1, event_type = $2, enabled = $3, headers = $4
		WHERE id = $5
	`, w.URL, w.EventType, w.Enabled, headersJSON, w.ID)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrWebhookNotFound
	}
	return nil
}

// Delete removes one subscription.
func (r *WebhookRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrWebhookNotFound
	}
	return nil
}

func scanWebhook(row interface{ Scan(...interface{}) error }) (*domain.Webhook, error) {
	var (
		w          domain.Webhook
		headersRaw []byte
	)
	if err := row.Scan(&w.ID, &w.URL, &w.EventType, &w.Enabled, &headersRaw, &w.CreatedAt); err != nil {
		return nil, err
	}
	if len(headersRaw) > 0 {
		if err := json.Unmarshal(headersRaw, &w.Headers); err != nil {
			return nil, fmt.Errorf("unmarshal webhook headers: %w", err)
		}
	}
	return &w, nil
}

func headersOrEmpty(h map[string]string) map[string]string {
	if h == nil {
		return map[string]string{}
	}
	return h
}
