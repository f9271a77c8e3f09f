package importer

import (
	"context"
	"strings"
)

// FoldKey normalizes a business key for case-insensitive comparison.
// The original casing is preserved separately for display.
func FoldKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Entry is the cached snapshot of one stored product. ID 0 means the entry
// was reserved for a create whose identity is not yet confirmed.
type Entry struct {
	ID          int64
	SKU         string
	Name        string
	Description string
	Active      bool
}

// KeyCache maps case-folded keys to stored product state for one running
// job. Loading it once replaces a store round-trip per record with one full
// scan per job. It is owned by that job, mutated only from the batch
// engine's goroutine, and discarded when the job ends.
type KeyCache struct {
	entries map[string]*Entry
}

// NewKeyCache returns an empty cache.
func NewKeyCache() *KeyCache {
	return &KeyCache{entries: make(map[string]*Entry)}
}

// LoadKeyCache builds the cache from a full scan of the store.
func LoadKeyCache(ctx context.Context, store CatalogStore) (*KeyCache, error) {
	products, err := store.ScanAll(ctx)
	if err != nil {
		return nil, &TransportError{Op: "scan catalog", Err: err}
	}

	c := &KeyCache{entries: make(map[string]*Entry, len(products))}
	for _, p := range products {
		c.entries[FoldKey(p.SKU)] = &Entry{
			ID:          p.ID,
			SKU:         p.SKU,
			Name:        p.Name,
			Description: p.Description,
			Active:      p.Active,
		}
	}
	return c, nil
}

// Lookup returns the entry for a key, if present.
func (c *KeyCache) Lookup(key string) (*Entry, bool) {
	e, ok := c.entries[FoldKey(key)]
	return e, ok
}

// Reserve inserts a speculative entry for a key the engine decided to
// create before the write commits. Idempotent per folded key: an existing
// entry is returned unchanged.
func (c *KeyCache) Reserve(key, name, description string, active bool) *Entry {
	folded := FoldKey(key)
	if e, ok := c.entries[folded]; ok {
		return e
	}
	e := &Entry{SKU: strings.TrimSpace(key), Name: name, Description: description, Active: active}
	c.entries[folded] = e
	return e
}

// Confirm backfills the identity assigned to a previously reserved key.
func (c *KeyCache) Confirm(key string, id int64) {
	if e, ok := c.entries[FoldKey(key)]; ok {
		e.ID = id
	}
}

// Len returns the number of cached keys.
func (c *KeyCache) Len() int { return len(c.entries) }
