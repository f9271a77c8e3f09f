package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ignite/catalog-import/internal/domain"
	"github.com/ignite/catalog-import/internal/importer"
	"github.com/ignite/catalog-import/internal/pkg/logger"
	"github.com/ignite/catalog-import/internal/repository/postgres"
	"github.com/ignite/catalog-import/internal/storage"
)

// ProductStore is the product persistence surface the handlers need.
type ProductStore interface {
	Get(ctx context.Context, id int64) (*domain.Product, error)
	List(ctx context.Context, f postgres.ProductFilter) ([]domain.Product, int, error)
	Create(ctx context.Context, p domain.Product) (int64, error)
	Update(ctx context.Context, id int64, patch domain.ProductPatch) error
	Delete(ctx context.Context, id int64) error
}

// JobStore is the import job persistence surface the handlers need.
type JobStore interface {
	Create(ctx context.Context, job *domain.ImportJob) error
	Get(ctx context.Context, id uuid.UUID) (*domain.ImportJob, error)
	Update(ctx context.Context, id uuid.UUID, patch domain.JobPatch) error
	List(ctx context.Context, limit, offset int) ([]domain.ImportJob, error)
}

// WebhookStore is the webhook subscription surface the handlers need.
type WebhookStore interface {
	Create(ctx context.Context, w *domain.Webhook) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Webhook, error)
	List(ctx context.Context) ([]domain.Webhook, error)
	Update(ctx context.Context, w *domain.Webhook) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// BlobUploader stores uploaded import files.
type BlobUploader interface {
	Upload(ctx context.Context, key string, body io.Reader) error
}

// CancelSignaler raises the fast-path cancellation flag.
type CancelSignaler interface {
	RequestCancel(ctx context.Context, jobID string) error
}

// Revoker best-effort terminates a running import task.
type Revoker interface {
	Revoke(jobID uuid.UUID) bool
}

// Handlers serves the upload, job, product and webhook endpoints.
type Handlers struct {
	products ProductStore
	jobs     JobStore
	webhooks WebhookStore
	blobs    BlobUploader
	signaler CancelSignaler
	revoker  Revoker
}

// NewHandlers wires the handler dependencies. signaler and revoker may be
// nil (the API server runs without a worker pool).
func NewHandlers(products ProductStore, jobs JobStore, webhooks WebhookStore, blobs BlobUploader, signaler CancelSignaler, revoker Revoker) *Handlers {
	return &Handlers{
		products: products,
		jobs:     jobs,
		webhooks: webhooks,
		blobs:    blobs,
		signaler: signaler,
		revoker:  revoker,
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// HealthCheck reports service liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleUploadCSV accepts a multipart CSV upload, stores it in the blob
// store and creates a pending import job for the worker pool.
func (h *Handlers) HandleUploadCSV(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".csv") {
		respondError(w, http.StatusBadRequest, "file must be a CSV file")
		return
	}

	jobID := uuid.New()
	key := storage.UploadKey(jobID.String(), header.Filename)
	if err := h.blobs.Upload(r.Context(), key, file); err != nil {
		logger.Error("upload to blob store failed", "file", header.Filename, "error", err.Error())
		respondError(w, http.StatusInternalServerError, "failed to store uploaded file")
		return
	}

	job := &domain.ImportJob{
		ID:       jobID,
		FileName: header.Filename,
		BlobKey:  key,
		FileSize: header.Size,
		Status:   domain.StatusPending,
		Phase:    domain.PhaseUploading,
	}
	if err := h.jobs.Create(r.Context(), job); err != nil {
		logger.Error("create import job failed", "file", header.Filename, "error", err.Error())
		respondError(w, http.StatusInternalServerError, "failed to create import job")
		return
	}

	respondJSON(w, http.StatusCreated, job)
}

// HandleListJobs returns recent import jobs.
func (h *Handlers) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	jobs, err := h.jobs.List(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list import jobs")
		return
	}
	respondJSON(w, http.StatusOK, jobs)
}

// HandleJobStatus returns the current progress snapshot for one job.
func (h *Handlers) HandleJobStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := h.jobs.Get(r.Context(), id)
	if errors.Is(err, postgres.ErrJobNotFound) {
		respondError(w, http.StatusNotFound, "import job not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read import job")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// HandleJobCancel requests cooperative cancellation of a running job. The
// pipeline observes the status flag at its next checkpoint and acknowledges
// with a completed_at timestamp; committed batches stay committed.
func (h *Handlers) HandleJobCancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := h.jobs.Get(r.Context(), id)
	if errors.Is(err, postgres.ErrJobNotFound) {
		respondError(w, http.StatusNotFound, "import job not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read import job")
		return
	}
	if job.Status.Terminal() {
		respondError(w, http.StatusConflict, "job already "+string(job.Status))
		return
	}

	status := domain.StatusCancelled
	if err := h.jobs.Update(r.Context(), id, domain.JobPatch{Status: &status}); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to cancel import job")
		return
	}
	if h.signaler != nil {
		if err := h.signaler.RequestCancel(r.Context(), id.String()); err != nil {
			logger.Warn("cancel flag publish failed", "job_id", id.String(), "error", err.Error())
		}
	}
	if h.revoker != nil {
		h.revoker.Revoke(id)
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": string(status)})
}

// HandleListProducts returns a filtered page of products.
func (h *Handlers) HandleListProducts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	f := postgres.ProductFilter{
		SKU:         r.URL.Query().Get("sku"),
		Name:        r.URL.Query().Get("name"),
		Description: r.URL.Query().Get("description"),
		Limit:       limit,
		Offset:      offset,
	}
	if v := r.URL.Query().Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid active filter")
			return
		}
		f.Active = &active
	}

	products, total, err := h.products.List(r.Context(), f)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list products")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"products": products,
		"total":    total,
	})
}

// HandleGetProduct returns one product by id.
func (h *Handlers) HandleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	p, err := h.products.Get(r.Context(), id)
	if errors.Is(err, postgres.ErrProductNotFound) {
		respondError(w, http.StatusNotFound, "product not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read product")
		return
	}
	respondJSON(w, http.StatusOK, p)
}

type productRequest struct {
	SKU         *string `json:"sku"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Active      *bool   `json:"active"`
}

// HandleCreateProduct inserts one product.
func (h *Handlers) HandleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SKU == nil || strings.TrimSpace(*req.SKU) == "" {
		respondError(w, http.StatusBadRequest, "sku is required")
		return
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	p := domain.Product{SKU: strings.TrimSpace(*req.SKU), Name: strings.TrimSpace(*req.Name), Active: true}
	if req.Description != nil {
		p.Description = strings.TrimSpace(*req.Description)
	}
	if req.Active != nil {
		p.Active = *req.Active
	}

	id, err := h.products.Create(r.Context(), p)
	var conflict *importer.ConflictError
	if errors.As(err, &conflict) {
		respondError(w, http.StatusConflict, conflict.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create product")
		return
	}
	p.ID = id
	respondJSON(w, http.StatusCreated, p)
}

// HandleUpdateProduct applies a partial update to one product.
func (h *Handlers) HandleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	patch := domain.ProductPatch{
		SKU:         req.SKU,
		Name:        req.Name,
		Description: req.Description,
		Active:      req.Active,
	}
	if patch.Empty() {
		respondError(w, http.StatusBadRequest, "no fields to update")
		return
	}

	err := h.products.Update(r.Context(), id, patch)
	var conflict *importer.ConflictError
	switch {
	case errors.Is(err, postgres.ErrProductNotFound):
		respondError(w, http.StatusNotFound, "product not found")
		return
	case errors.As(err, &conflict):
		respondError(w, http.StatusConflict, conflict.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "failed to update product")
		return
	}

	p, err := h.products.Get(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read product")
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// HandleDeleteProduct removes one product.
func (h *Handlers) HandleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	err := h.products.Delete(r.Context(), id)
	if errors.Is(err, postgres.ErrProductNotFound) {
		respondError(w, http.StatusNotFound, "product not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete product")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type webhookRequest struct {
	URL       string            `json:"url"`
	EventType string            `json:"event_type"`
	Enabled   *bool             `json:"enabled"`
	Headers   map[string]string `json:"headers"`
}

// HandleCreateWebhook registers a webhook subscription.
func (h *Handlers) HandleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" || req.EventType == "" {
		respondError(w, http.StatusBadRequest, "url and event_type are required")
		return
	}

	hook := &domain.Webhook{URL: req.URL, EventType: req.EventType, Enabled: true, Headers: req.Headers}
	if req.Enabled != nil {
		hook.Enabled = *req.Enabled
	}
	if err := h.webhooks.Create(r.Context(), hook); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create webhook")
		return
	}
	respondJSON(w, http.StatusCreated, hook)
}

// HandleListWebhooks returns all webhook subscriptions.
func (h *Handlers) HandleListWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.webhooks.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}
	respondJSON(w, http.StatusOK, hooks)
}

// HandleUpdateWebhook replaces a webhook subscription's settings.
func (h *Handlers) HandleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "webhookID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid webhook id")
		return
	}
	hook, err := h.webhooks.Get(r.Context(), id)
	if errors.Is(err, postgres.ErrWebhookNotFound) {
		respondError(w, http.StatusNotFound, "webhook not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read webhook")
		return
	}

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL != "" {
		hook.URL = req.URL
	}
	if req.EventType != "" {
		hook.EventType = req.EventType
	}
	if req.Enabled != nil {
		hook.Enabled = *req.Enabled
	}
	if req.Headers != nil {
		hook.Headers = req.Headers
	}

	if err := h.webhooks.Update(r.Context(), hook); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update webhook")
		return
	}
	respondJSON(w, http.StatusOK, hook)
}

// HandleDeleteWebhook removes a webhook subscription.
func (h *Handlers) HandleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "webhookID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid webhook id")
		return
	}
	err = h.webhooks.Delete(r.Context(), id)
	if errors.Is(err, postgres.ErrWebhookNotFound) {
		respondError(w, http.StatusNotFound, "webhook not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete webhook")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func productID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return 0, false
	}
	return id, true
}

func pageParams(r *http.Request) (limit, offset int) {
	limit = 50
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 1 {
			offset = (n - 1) * limit
		}
	}
	return limit, offset
}
