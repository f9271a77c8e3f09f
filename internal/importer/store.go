package importer

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/ignite/catalog-import/internal/domain"
)

// CatalogStore is the keyed product store the pipeline reads and writes.
type CatalogStore interface {
	// ScanAll returns every stored product, used once per job to build the
	// key cache.
	ScanAll(ctx context.Context) ([]domain.Product, error)

	// ApplyBatch applies updates then creates inside one transaction and
	// returns the identities assigned to the creates, in order. A short or
	// empty id slice means the store could not report identities inline and
	// the caller must reconcile via LookupKeys.
	ApplyBatch(ctx context.Context, updates []ProductUpdate, creates []domain.Product) ([]int64, error)

	// Create inserts one product and returns its identity. A case-folded
	// key collision surfaces as *ConflictError.
	Create(ctx context.Context, p domain.Product) (int64, error)

	// Update changes only the fields set in the patch.
	Update(ctx context.Context, id int64, patch domain.ProductPatch) error

	// LookupKeys returns the products whose case-folded SKUs match. Callers
	// batch keys to bound the round-trip size.
	LookupKeys(ctx context.Context, folded []string) ([]domain.Product, error)
}

// ProductUpdate pairs a stored identity with the fields to change.
type ProductUpdate struct {
	ID    int64
	Patch domain.ProductPatch
}

// JobStore persists import job records. Updates are partial, by named field
// subset, and visible to readers immediately.
type JobStore interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.ImportJob, error)
	Update(ctx context.Context, id uuid.UUID, patch domain.JobPatch) error
}

// BlobStore opens independent read streams over a stored object. The
// pipeline opens the same object twice: once for the count pass and once
// for the main pass.
type BlobStore interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// ProgressSink mirrors progress snapshots for push-style consumers and
// carries the fast-path cancellation flag. The job store's status field
// remains the authoritative cancellation signal.
type ProgressSink interface {
	Publish(ctx context.Context, snap domain.ProgressSnapshot) error
	CancelRequested(ctx context.Context, jobID string) (bool, error)
}

// Notifier receives entry-level change events after each committed batch.
// Delivery mechanics are external; implementations must never block the
// pipeline on downstream consumers.
type Notifier interface {
	ProductsCreated(ctx context.Context, products []domain.Product)
	ProductsUpdated(ctx context.Context, products []domain.Product)
}
