package importer

import (
	"context"
	"errors"
	"testing"

	"github.com/ignite/catalog-import/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchWindow(t *testing.T) {
	assert.Equal(t, 500, batchWindow(0))
	assert.Equal(t, 200, batchWindow(1))
	assert.Equal(t, 200, batchWindow(2000))
	assert.Equal(t, 500, batchWindow(2001))
	assert.Equal(t, 500, batchWindow(100000))
	assert.Equal(t, 1000, batchWindow(100001))
	assert.Equal(t, 1000, batchWindow(1000000))
	assert.Equal(t, 3000, batchWindow(1000001))
}

func engineOver(store *fakeCatalog) (*Engine, *KeyCache) {
	cache, err := LoadKeyCache(context.Background(), store)
	if err != nil {
		panic(err)
	}
	return NewEngine(store, cache, nil), cache
}

func TestProcessCreatesAndUpdates(t *testing.T) {
	store := newFakeCatalog(domain.Product{ID: 1, SKU: "A1", Name: "Old name", Active: true})
	engine, cache := engineOver(store)

	res := engine.Process(context.Background(), []Record{
		{Row: 2, Key: "A1", Name: "New name"},
		{Row: 3, Key: "B2", Name: "Gadget", Description: "shiny"},
	})

	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Updated)
	assert.Empty(t, res.Errors)

	assert.Equal(t, "New name", store.product("a1").Name)
	created := store.product("b2")
	require.NotNil(t, created)
	assert.Equal(t, "Gadget", created.Name)
	assert.True(t, created.Active)

	// The created entry is cached with its assigned identity.
	e, ok := cache.Lookup("B2")
	require.True(t, ok)
	assert.Equal(t, created.ID, e.ID)
}

func TestProcessNoOpSkipsWrite(t *testing.T) {
	store := newFakeCatalog(domain.Product{ID: 1, SKU: "A1", Name: "Widget", Description: "small", Active: true})
	engine, _ := engineOver(store)

	res := engine.Process(context.Background(), []Record{
		{Row: 2, Key: "a1", Name: "Widget", Description: "small"},
	})

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 0, store.applies)
}

func TestProcessValidation(t *testing.T) {
	store := newFakeCatalog()
	engine, _ := engineOver(store)

	res := engine.Process(context.Background(), []Record{
		{Row: 2, Key: "", Name: "Widget"},
		{Row: 3, Key: "B2", Name: ""},
		{Row: 4, Key: "C3", Name: "Gizmo"},
	})

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Created)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, domain.ImportError{Row: 2, Message: "key required"}, res.Errors[0])
	assert.Equal(t, domain.ImportError{Row: 3, Key: "B2", Message: "name required"}, res.Errors[1])
}

func TestProcessInBatchDuplicateLastWins(t *testing.T) {
	store := newFakeCatalog()
	engine, _ := engineOver(store)

	res := engine.Process(context.Background(), []Record{
		{Row: 2, Key: "A1", Name: "First"},
		{Row: 3, Key: "a1", Name: "Second"},
		{Row: 4, Key: " A1 ", Name: "Third"},
	})

	// Three rows targeting one folded key collapse to a single create,
	// but every collapsed row counts as processed.
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, "Third", store.product("a1").Name)
}

func TestProcessCaseInsensitiveMatch(t *testing.T) {
	store := newFakeCatalog(domain.Product{ID: 1, SKU: "ABC-1", Name: "Original", Active: true})
	engine, _ := engineOver(store)

	res := engine.Process(context.Background(), []Record{
		{Row: 2, Key: "abc-1", Name: "Renamed"},
	})

	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 0, res.Created)
	p := store.product("abc-1")
	assert.Equal(t, "Renamed", p.Name)
	// Stored casing is preserved.
	assert.Equal(t, "ABC-1", p.SKU)
}

func TestProcessBlankDescriptionKeepsStored(t *testing.T) {
	store := newFakeCatalog(domain.Product{ID: 1, SKU: "A1", Name: "Widget", Description: "keep me", Active: true})
	engine, _ := engineOver(store)

	res := engine.Process(context.Background(), []Record{
		{Row: 2, Key: "A1", Name: "Widget", Description: ""},
	})

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, "keep me", store.product("a1").Description)
}

func TestProcessReactivates(t *testing.T) {
	store := newFakeCatalog(domain.Product{ID: 1, SKU: "A1", Name: "Widget", Active: false})
	engine, _ := engineOver(store)

	res := engine.Process(context.Background(), []Record{
		{Row: 2, Key: "A1", Name: "Widget"},
	})

	assert.Equal(t, 1, res.Updated)
	assert.True(t, store.product("a1").Active)
}

func TestProcessFallsBackPerRecord(t *testing.T) {
	store := newFakeCatalog(domain.Product{ID: 1, SKU: "A1", Name: "Old", Active: true})
	engine, _ := engineOver(store)
	store.batchErr = errors.New("deadlock detected")

	res := engine.Process(context.Background(), []Record{
		{Row: 2, Key: "A1", Name: "New"},
		{Row: 3, Key: "B2", Name: "Gadget"},
	})

	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Updated)
	assert.Empty(t, res.Errors)
	assert.Equal(t, "New", store.product("a1").Name)
	assert.NotNil(t, store.product("b2"))
}

func TestProcessConflictRecovery(t *testing.T) {
	// The cache misses a key that exists in the store, so the create hits
	// the uniqueness index and gets converted to an update.
	store := newFakeCatalog()
	engine, cache := engineOver(store)
	_, err := store.Create(context.Background(), domain.Product{SKU: "A1", Name: "Racer", Active: true})
	require.NoError(t, err)
	store.batchErr = errors.New("unique violation")

	res := engine.Process(context.Background(), []Record{
		{Row: 2, Key: "a1", Name: "Mine"},
	})

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Updated)
	assert.Empty(t, res.Errors)
	assert.Equal(t, "Mine", store.product("a1").Name)

	e, ok := cache.Lookup("A1")
	require.True(t, ok)
	assert.NotZero(t, e.ID)
}

func TestProcessPerRecordErrorDoesNotSinkBatch(t *testing.T) {
	store := newFakeCatalog(domain.Product{ID: 1, SKU: "A1", Name: "Old", Active: true})
	engine, _ := engineOver(store)
	store.batchErr = errors.New("batch failed")
	store.updateErr = errors.New("row poisoned")

	res := engine.Process(context.Background(), []Record{
		{Row: 2, Key: "A1", Name: "New"},
		{Row: 3, Key: "B2", Name: "Gadget"},
	})

	// The update fails and is logged, the create still lands.
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 0, res.Updated)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].Row)
	assert.Equal(t, "A1", res.Errors[0].Key)
}

func TestProcessReconcilesWithheldIdentities(t *testing.T) {
	store := newFakeCatalog()
	store.withholdIDs = true
	engine, cache := engineOver(store)

	res := engine.Process(context.Background(), []Record{
		{Row: 2, Key: "A1", Name: "Widget"},
	})

	assert.Equal(t, 1, res.Created)
	assert.GreaterOrEqual(t, store.lookups, 1)

	e, ok := cache.Lookup("A1")
	require.True(t, ok)
	assert.NotZero(t, e.ID)
}

func TestProcessNotifies(t *testing.T) {
	store := newFakeCatalog(domain.Product{ID: 1, SKU: "A1", Name: "Old", Active: true})
	cache, err := LoadKeyCache(context.Background(), store)
	require.NoError(t, err)
	notifier := &fakeNotifier{}
	engine := NewEngine(store, cache, notifier)

	engine.Process(context.Background(), []Record{
		{Row: 2, Key: "A1", Name: "New"},
		{Row: 3, Key: "B2", Name: "Gadget"},
	})

	require.Len(t, notifier.created, 1)
	assert.Equal(t, "B2", notifier.created[0].SKU)
	require.Len(t, notifier.updated, 1)
	assert.Equal(t, "A1", notifier.updated[0].SKU)
	assert.NotZero(t, notifier.created[0].ID)
}

func TestDiffEntry(t *testing.T) {
	entry := &Entry{ID: 1, SKU: "A1", Name: "Widget", Description: "small", Active: true}

	patch := diffEntry(entry, &pendingWrite{key: "A1", name: "Widget", description: "small"})
	assert.True(t, patch.Empty())

	patch = diffEntry(entry, &pendingWrite{key: "A1", name: "Other", description: ""})
	require.NotNil(t, patch.Name)
	assert.Equal(t, "Other", *patch.Name)
	assert.Nil(t, patch.Description)

	entry.Active = false
	patch = diffEntry(entry, &pendingWrite{key: "A1", name: "Widget", description: "small"})
	require.NotNil(t, patch.Active)
	assert.True(t, *patch.Active)
}
