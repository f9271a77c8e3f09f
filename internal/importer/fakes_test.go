package importer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/ignite/catalog-import/internal/domain"
)

// fakeCatalog is an in-memory CatalogStore with case-insensitive keys and
// injectable failures.
type fakeCatalog struct {
	mu      sync.Mutex
	byKey   map[string]*domain.Product
	nextID  int64
	applies int
	creates int
	updates int
	scans   int
	lookups int

	scanErr   error
	batchErr  error
	createErr error
	updateErr error
	lookupErr error
	// withholdIDs makes ApplyBatch report no identities so callers must
	// reconcile via LookupKeys.
	withholdIDs bool
}

func newFakeCatalog(seed ...domain.Product) *fakeCatalog {
	f := &fakeCatalog{byKey: make(map[string]*domain.Product)}
	for i := range seed {
		p := seed[i]
		if p.ID > f.nextID {
			f.nextID = p.ID
		}
		f.byKey[FoldKey(p.SKU)] = &p
	}
	return f
}

func (f *fakeCatalog) product(key string) *domain.Product {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byKey[FoldKey(key)]
}

func (f *fakeCatalog) ScanAll(ctx context.Context) ([]domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	out := make([]domain.Product, 0, len(f.byKey))
	for _, p := range f.byKey {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeCatalog) ApplyBatch(ctx context.Context, updates []ProductUpdate, creates []domain.Product) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applies++
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	for _, u := range updates {
		if err := f.applyUpdate(u.ID, u.Patch); err != nil {
			return nil, err
		}
	}
	ids := make([]int64, 0, len(creates))
	for _, p := range creates {
		folded := FoldKey(p.SKU)
		if _, exists := f.byKey[folded]; exists {
			return nil, &ConflictError{Key: p.SKU}
		}
		f.nextID++
		p.ID = f.nextID
		stored := p
		f.byKey[folded] = &stored
		ids = append(ids, p.ID)
	}
	if f.withholdIDs {
		return nil, nil
	}
	return ids, nil
}

func (f *fakeCatalog) Create(ctx context.Context, p domain.Product) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return 0, f.createErr
	}
	folded := FoldKey(p.SKU)
	if _, exists := f.byKey[folded]; exists {
		return 0, &ConflictError{Key: p.SKU}
	}
	f.nextID++
	p.ID = f.nextID
	stored := p
	f.byKey[folded] = &stored
	return p.ID, nil
}

func (f *fakeCatalog) Update(ctx context.Context, id int64, patch domain.ProductPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.updateErr != nil {
		return f.updateErr
	}
	return f.applyUpdate(id, patch)
}

func (f *fakeCatalog) applyUpdate(id int64, patch domain.ProductPatch) error {
	for _, p := range f.byKey {
		if p.ID != id {
			continue
		}
		if patch.Name != nil {
			p.Name = *patch.Name
		}
		if patch.Description != nil {
			p.Description = *patch.Description
		}
		if patch.Active != nil {
			p.Active = *patch.Active
		}
		return nil
	}
	return errors.New("product not found")
}

func (f *fakeCatalog) LookupKeys(ctx context.Context, folded []string) ([]domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	var out []domain.Product
	for _, k := range folded {
		if p, ok := f.byKey[k]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

// fakeJobs is an in-memory JobStore recording every patch.
type fakeJobs struct {
	mu      sync.Mutex
	job     domain.ImportJob
	patches []domain.JobPatch
	getErr  error
	updErr  error
}

func newFakeJobs(job domain.ImportJob) *fakeJobs {
	return &fakeJobs{job: job}
}

func (f *fakeJobs) Get(ctx context.Context, id uuid.UUID) (*domain.ImportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	j := f.job
	return &j, nil
}

func (f *fakeJobs) Update(ctx context.Context, id uuid.UUID, patch domain.JobPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updErr != nil {
		return f.updErr
	}
	f.patches = append(f.patches, patch)
	if patch.Status != nil {
		f.job.Status = *patch.Status
	}
	if patch.Phase != nil {
		f.job.Phase = *patch.Phase
	}
	if patch.Progress != nil {
		f.job.Progress = *patch.Progress
	}
	if patch.TotalRecords != nil {
		f.job.TotalRecords = *patch.TotalRecords
	}
	if patch.ProcessedRecords != nil {
		f.job.ProcessedRecords = *patch.ProcessedRecords
	}
	if patch.Errors != nil {
		f.job.Errors = patch.Errors
	}
	if patch.TaskID != nil {
		f.job.TaskID = *patch.TaskID
	}
	if patch.CompletedAt != nil {
		f.job.CompletedAt = patch.CompletedAt
	}
	return nil
}

func (f *fakeJobs) current() domain.ImportJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.job
}

// setCancelled flips the stored status, simulating an API cancel.
func (f *fakeJobs) setCancelled() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.job.Status = domain.StatusCancelled
}

// fakeSink records published snapshots and serves a settable cancel flag.
// cancelAfterPublishes, when positive, raises the flag once that many
// snapshots have been published.
type fakeSink struct {
	mu                   sync.Mutex
	snaps                []domain.ProgressSnapshot
	cancelled            bool
	cancelAfterPublishes int
	pubErr               error
	cancelErr            error
}

func (f *fakeSink) Publish(ctx context.Context, snap domain.ProgressSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pubErr != nil {
		return f.pubErr
	}
	f.snaps = append(f.snaps, snap)
	return nil
}

func (f *fakeSink) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return false, f.cancelErr
	}
	if f.cancelAfterPublishes > 0 && len(f.snaps) >= f.cancelAfterPublishes {
		f.cancelled = true
	}
	return f.cancelled, nil
}

func (f *fakeSink) requestCancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = true
}

func (f *fakeSink) snapshots() []domain.ProgressSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ProgressSnapshot(nil), f.snaps...)
}

// fakeBlobs serves a single object as many independent streams.
type fakeBlobs struct {
	data    map[string][]byte
	openErr error
	opens   int
}

func newFakeBlobs(key, content string) *fakeBlobs {
	return &fakeBlobs{data: map[string][]byte{key: []byte(content)}}
}

func (f *fakeBlobs) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	f.opens++
	if f.openErr != nil {
		return nil, f.openErr
	}
	b, ok := f.data[key]
	if !ok {
		return nil, errors.New("no such key: " + key)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// fakeNotifier records the products announced per event.
type fakeNotifier struct {
	mu      sync.Mutex
	created []domain.Product
	updated []domain.Product
}

func (f *fakeNotifier) ProductsCreated(ctx context.Context, products []domain.Product) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, products...)
}

func (f *fakeNotifier) ProductsUpdated(ctx context.Context, products []domain.Product) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, products...)
}
