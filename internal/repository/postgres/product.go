package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ignite/catalog-import/internal/domain"
	"github.com/ignite/catalog-import/internal/importer"
	"github.com/lib/pq"
)

// ErrProductNotFound is returned when a product id or SKU does not exist.
var ErrProductNotFound = errors.New("product not found")

// uniqueViolation is the PostgreSQL error code for a unique constraint hit.
const uniqueViolation = "23505"

const productColumns = `id, sku, name, COALESCE(description, ''), active, created_at, updated_at`

// ProductRepo implements importer.CatalogStore against PostgreSQL. The
// products table carries a unique index on LOWER(sku), so case-insensitive
// uniqueness is ultimately enforced by the store and a late-discovered
// collision surfaces as *importer.ConflictError.
type ProductRepo struct{ db *sql.DB }

// NewProductRepo creates a Postgres-backed product repository.
func NewProductRepo(db *sql.DB) *ProductRepo { return &ProductRepo{db: db} }

func scanProduct(row interface{ Scan(...interface{}) error }) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// ScanAll returns every product, used to preload the per-job key cache.
func (r *ProductRepo) ScanAll(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("scan products: %w", err)
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ApplyBatch applies updates then creates inside one transaction. Created
// identities come back inline via RETURNING, in insertion order.
func (r *ProductRepo) ApplyBatch(ctx context.Context, updates []importer.ProductUpdate, creates []domain.Product) ([]int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch tx: %w", err)
	}
	defer tx.Rollback()

	for _, u := range updates {
		query, args := buildProductUpdate(u.ID, u.Patch)
		if query == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("batch update product %d: %w", u.ID, err)
		}
	}

	var ids []int64
	if len(creates) > 0 {
		var sb strings.Builder
		sb.WriteString(`INSERT INTO products (sku, name, description, active, created_at, updated_at) VALUES `)
		args := make([]interface{}, 0, len(creates)*4)
		for i, p := range creates {
			if i > 0 {
				sb.WriteString(", ")
			}
			base := i * 4
			fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, NOW(), NOW())", base+1, base+2, base+3, base+4)
			args = append(args, p.SKU, p.Name, p.Description, p.Active)
		}
		sb.WriteString(" RETURNING id")

		rows, err := tx.QueryContext(ctx, sb.String(), args...)
		if err != nil {
			return nil, mapConflict(err, fmt.Errorf("batch create products: %w", err))
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan created id: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("read created ids: %w", err)
		}
		rows.Close()
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch tx: %w", err)
	}
	return ids, nil
}

// Create inserts one product and returns its identity.
func (r *ProductRepo) Create(ctx context.Context, p domain.Product) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO products (sku, name, description, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id
	`, p.SKU, p.Name, p.Description, p.Active).Scan(&id)
	if err != nil {
		return 0, mapConflictKey(err, p.SKU, fmt.Errorf("create product: %w", err))
	}
	return id, nil
}

// Update changes only the fields set in the patch.
func (r *ProductRepo) Update(ctx context.Context, id int64, patch domain.ProductPatch) error {
	query, args := buildProductUpdate(id, patch)
	if query == "" {
		return nil
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		key := ""
		if patch.SKU != nil {
			key = *patch.SKU
		}
		return mapConflictKey(err, key, fmt.Errorf("update product %d: %w", id, err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrProductNotFound
	}
	return nil
}

// LookupKeys returns the products whose case-folded SKUs match the given
// folded keys, one round-trip per call.
func (r *ProductRepo) LookupKeys(ctx context.Context, folded []string) ([]domain.Product, error) {
	if len(folded) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE LOWER(sku) = ANY($1)`,
		pq.Array(folded))
	if err != nil {
		return nil, fmt.Errorf("lookup products by key: %w", err)
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Get returns one product by id.
func (r *ProductRepo) Get(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

// GetBySKU returns one product by case-insensitive SKU.
func (r *ProductRepo) GetBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE LOWER(sku) = LOWER($1)`, sku))
	if err == sql.ErrNoRows {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product by sku: %w", err)
	}
	return &p, nil
}

// ProductFilter narrows List results. Substring filters are
// case-insensitive.
type ProductFilter struct {
	SKU         string
	Name        string
	Description string
	Active      *bool
	Limit       int
	Offset      int
}

// List returns a filtered page of products and the total match count.
func (r *ProductRepo) List(ctx context.Context, f ProductFilter) ([]domain.Product, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := "TRUE"
	args := []interface{}{}
	idx := 1
	addFilter := func(clause, value string) {
		where += fmt.Sprintf(" AND %s ILIKE '%%' || $%d || '%%'", clause, idx)
		args = append(args, value)
		idx++
	}
	if f.SKU != "" {
		addFilter("sku", f.SKU)
	}
	if f.Name != "" {
		addFilter("name", f.Name)
	}
	if f.Description != "" {
		addFilter("description", f.Description)
	}
	if f.Active != nil {
		where += fmt.Sprintf(" AND active = $%d", idx)
		args = append(args, *f.Active)
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM products WHERE %s ORDER BY id LIMIT $%d OFFSET $%d`,
		productColumns, where, idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan product row: %w", err)
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// Delete removes one product by id.
func (r *ProductRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrProductNotFound
	}
	return nil
}

// buildProductUpdate renders a partial UPDATE for the fields set in the
// patch. An empty query means there is nothing to change.
func buildProductUpdate(id int64, patch domain.ProductPatch) (string, []interface{}) {
	sets := []string{"updated_at = NOW()"}
	args := []interface{}{}
	idx := 1

	if patch.SKU != nil {
		sets = append(sets, fmt.Sprintf("sku = $%d", idx))
		args = append(args, *patch.SKU)
		idx++
	}
	if patch.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *patch.Name)
		idx++
	}
	if patch.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", idx))
		args = append(args, *patch.Description)
		idx++
	}
	if patch.Active != nil {
		sets = append(sets, fmt.Sprintf("active = $%d", idx))
		args = append(args, *patch.Active)
		idx++
	}
	if len(args) == 0 {
		return "", nil
	}

	query := fmt.Sprintf("UPDATE products SET %s WHERE id = $%d", strings.Join(sets, ", "), idx)
	args = append(args, id)
	return query, args
}

func mapConflict(err error, wrapped error) error {
	return mapConflictKey(err, "", wrapped)
}

func mapConflictKey(err error, key string, wrapped error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return &importer.ConflictError{Key: key}
	}
	return wrapped
}
