package importer

import (
	"context"
	"errors"
	"strings"

	"github.com/ignite/catalog-import/internal/domain"
	"github.com/ignite/catalog-import/internal/pkg/logger"
)

const (
	// defaultBatchWindow is the micro-batch size when the total is unknown.
	defaultBatchWindow = 500

	// lookupChunkSize bounds how many keys a reconciling lookup sends per
	// round-trip.
	lookupChunkSize = 200
)

// batchWindow picks a micro-batch size for a job's total record count.
// Wider batches amortize per-call overhead on large files; narrow ones keep
// cancellation and progress responsive on small ones.
func batchWindow(total int) int {
	switch {
	case total <= 0:
		return defaultBatchWindow
	case total <= 2000:
		return 200
	case total <= 100000:
		return defaultBatchWindow
	case total <= 1000000:
		return 1000
	default:
		return 3000
	}
}

// BatchResult reports what one micro-batch did. Processed counts records
// that were written or skipped as no-op diffs; Errors carries per-row
// failures that never abort the job.
type BatchResult struct {
	Processed int
	Created   int
	Updated   int
	Errors    []domain.ImportError
}

// Engine partitions micro-batches into creates and updates against the key
// cache, applies each batch in one store transaction, and falls back to
// per-record writes when the transaction fails. It guarantees at most one
// write attempt per case-folded key per micro-batch; a whole-batch retry is
// safe because every write is an idempotent upsert by key.
type Engine struct {
	store    CatalogStore
	cache    *KeyCache
	notifier Notifier
}

// NewEngine creates a batch engine over an explicit, job-owned key cache.
// notifier may be nil.
func NewEngine(store CatalogStore, cache *KeyCache, notifier Notifier) *Engine {
	return &Engine{store: store, cache: cache, notifier: notifier}
}

// pendingWrite is one deduplicated write decision, with values trimmed
// once. count is how many source rows collapsed into it; each of them
// counts as processed when the write lands.
type pendingWrite struct {
	row         int
	key         string
	name        string
	description string
	count       int
}

// Process validates, deduplicates and applies one micro-batch. Multiple
// records targeting the same case-folded key collapse to one write: the
// last occurrence in the batch wins.
func (e *Engine) Process(ctx context.Context, batch []Record) BatchResult {
	var res BatchResult

	order := make([]string, 0, len(batch))
	byKey := make(map[string]*pendingWrite, len(batch))
	for _, rec := range batch {
		if err := rec.Validate(); err != nil {
			res.Errors = append(res.Errors, domain.ImportError{
				Row:     rec.Row,
				Key:     strings.TrimSpace(rec.Key),
				Message: err.Error(),
			})
			continue
		}
		w := &pendingWrite{
			row:         rec.Row,
			key:         strings.TrimSpace(rec.Key),
			name:        strings.TrimSpace(rec.Name),
			description: strings.TrimSpace(rec.Description),
			count:       1,
		}
		folded := FoldKey(w.key)
		if prev, ok := byKey[folded]; ok {
			w.count += prev.count
		} else {
			order = append(order, folded)
		}
		byKey[folded] = w
	}

	// Partition into creates and updates against the cache. Rows whose
	// cached snapshot already matches are counted processed without a write.
	var updates []ProductUpdate
	var updateWrites []*pendingWrite
	var creates []*pendingWrite
	for _, folded := range order {
		w := byKey[folded]
		entry, ok := e.cache.Lookup(w.key)
		if !ok {
			creates = append(creates, w)
			continue
		}
		patch := diffEntry(entry, w)
		if patch.Empty() {
			res.Processed += w.count
			continue
		}
		if entry.ID == 0 && !e.resolveIdentity(ctx, folded, entry) {
			res.Errors = append(res.Errors, domain.ImportError{
				Row: w.row, Key: w.key, Message: "identity unresolved for existing key",
			})
			continue
		}
		updates = append(updates, ProductUpdate{ID: entry.ID, Patch: patch})
		updateWrites = append(updateWrites, w)
	}

	createProducts := make([]domain.Product, len(creates))
	for i, w := range creates {
		createProducts[i] = domain.Product{SKU: w.key, Name: w.name, Description: w.description, Active: true}
	}

	if len(updates) == 0 && len(creates) == 0 {
		return res
	}

	ids, err := e.store.ApplyBatch(ctx, updates, createProducts)
	if err != nil {
		logger.Warn("batch apply failed, falling back to per-record writes",
			"error", err.Error(), "updates", len(updates), "creates", len(creates))
		e.applyIndividually(ctx, updates, updateWrites, creates, &res)
		return res
	}

	var updatedProducts []domain.Product
	for _, w := range updateWrites {
		entry, _ := e.cache.Lookup(w.key)
		applyWrite(entry, w)
		res.Updated++
		res.Processed += w.count
		updatedProducts = append(updatedProducts, productFromEntry(entry))
	}

	var createdProducts []domain.Product
	for i, w := range creates {
		entry := e.cache.Reserve(w.key, w.name, w.description, true)
		applyWrite(entry, w)
		if i < len(ids) {
			entry.ID = ids[i]
		}
		res.Created++
		res.Processed += w.count
		createdProducts = append(createdProducts, productFromEntry(entry))
	}
	if len(ids) < len(creates) {
		e.reconcile(ctx, creates[len(ids):])
	}

	e.notify(ctx, createdProducts, updatedProducts)
	return res
}

// applyIndividually is the fallback path after a failed batch transaction:
// each record is written on its own so one poisoned row cannot sink the
// rest, and remaining failures become per-row error-log entries.
func (e *Engine) applyIndividually(ctx context.Context, updates []ProductUpdate, updateWrites, creates []*pendingWrite, res *BatchResult) {
	var createdProducts, updatedProducts []domain.Product

	for i, u := range updates {
		w := updateWrites[i]
		if err := e.store.Update(ctx, u.ID, u.Patch); err != nil {
			res.Errors = append(res.Errors, domain.ImportError{Row: w.row, Key: w.key, Message: err.Error()})
			continue
		}
		entry, _ := e.cache.Lookup(w.key)
		applyWrite(entry, w)
		res.Updated++
		res.Processed += w.count
		updatedProducts = append(updatedProducts, productFromEntry(entry))
	}

	for _, w := range creates {
		p := domain.Product{SKU: w.key, Name: w.name, Description: w.description, Active: true}
		id, err := e.store.Create(ctx, p)
		if err != nil {
			var conflict *ConflictError
			if errors.As(err, &conflict) && e.recoverConflict(ctx, w, res, &updatedProducts) {
				continue
			}
			res.Errors = append(res.Errors, domain.ImportError{Row: w.row, Key: w.key, Message: err.Error()})
			continue
		}
		entry := e.cache.Reserve(w.key, w.name, w.description, true)
		entry.ID = id
		res.Created++
		res.Processed += w.count
		p.ID = id
		createdProducts = append(createdProducts, p)
	}

	e.notify(ctx, createdProducts, updatedProducts)
}

// resolveIdentity fetches the store identity for a cached entry whose id
// was never confirmed, typically one reserved in an earlier batch whose
// reconciling lookup failed.
func (e *Engine) resolveIdentity(ctx context.Context, folded string, entry *Entry) bool {
	products, err := e.store.LookupKeys(ctx, []string{folded})
	if err != nil || len(products) == 0 {
		return false
	}
	entry.ID = products[0].ID
	return true
}

// recoverConflict handles a uniqueness violation on create: another writer
// owns the key, so the store row is fetched, cached, and the record is
// converted into an update.
func (e *Engine) recoverConflict(ctx context.Context, w *pendingWrite, res *BatchResult, updated *[]domain.Product) bool {
	folded := FoldKey(w.key)
	products, err := e.store.LookupKeys(ctx, []string{folded})
	if err != nil || len(products) == 0 {
		return false
	}

	p := products[0]
	entry := &Entry{ID: p.ID, SKU: p.SKU, Name: p.Name, Description: p.Description, Active: p.Active}
	e.cache.entries[folded] = entry

	patch := diffEntry(entry, w)
	if !patch.Empty() {
		if err := e.store.Update(ctx, entry.ID, patch); err != nil {
			return false
		}
	}
	applyWrite(entry, w)
	res.Updated++
	res.Processed += w.count
	*updated = append(*updated, productFromEntry(entry))
	return true
}

// reconcile backfills identities for created entries the store did not
// report inline, batching the keyed lookup.
func (e *Engine) reconcile(ctx context.Context, unconfirmed []*pendingWrite) {
	for start := 0; start < len(unconfirmed); start += lookupChunkSize {
		end := start + lookupChunkSize
		if end > len(unconfirmed) {
			end = len(unconfirmed)
		}
		folded := make([]string, 0, end-start)
		for _, w := range unconfirmed[start:end] {
			folded = append(folded, FoldKey(w.key))
		}
		products, err := e.store.LookupKeys(ctx, folded)
		if err != nil {
			logger.Warn("identity reconciliation lookup failed", "error", err.Error(), "keys", len(folded))
			continue
		}
		for _, p := range products {
			e.cache.Confirm(p.SKU, p.ID)
		}
	}
}

func (e *Engine) notify(ctx context.Context, created, updated []domain.Product) {
	if e.notifier == nil {
		return
	}
	if len(created) > 0 {
		e.notifier.ProductsCreated(ctx, created)
	}
	if len(updated) > 0 {
		e.notifier.ProductsUpdated(ctx, updated)
	}
}

// diffEntry computes the minimal patch that brings the stored row in line
// with the record. A blank description leaves the stored value; imports
// always activate the entry.
func diffEntry(entry *Entry, w *pendingWrite) domain.ProductPatch {
	var patch domain.ProductPatch
	if w.name != entry.Name {
		patch.Name = &w.name
	}
	if w.description != "" && w.description != entry.Description {
		patch.Description = &w.description
	}
	if !entry.Active {
		active := true
		patch.Active = &active
	}
	return patch
}

// applyWrite mutates the cached snapshot to match a committed write. The
// stored key casing is preserved.
func applyWrite(entry *Entry, w *pendingWrite) {
	entry.Name = w.name
	if w.description != "" {
		entry.Description = w.description
	}
	entry.Active = true
}

func productFromEntry(entry *Entry) domain.Product {
	return domain.Product{
		ID:          entry.ID,
		SKU:         entry.SKU,
		Name:        entry.Name,
		Description: entry.Description,
		Active:      entry.Active,
	}
}
