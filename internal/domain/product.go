package domain

import "time"

// Product is a catalog entry. SKUs are unique case-insensitively: the store
// enforces at most one product per lower-cased SKU while the original casing
// is preserved for display.
type Product struct {
	ID          int64     `json:"id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProductPatch carries the subset of mutable product fields to change.
// Nil fields are left untouched by the store.
type ProductPatch struct {
	SKU         *string
	Name        *string
	Description *string
	Active      *bool
}

// Empty reports whether the patch changes nothing.
func (p ProductPatch) Empty() bool {
	return p.SKU == nil && p.Name == nil && p.Description == nil && p.Active == nil
}
