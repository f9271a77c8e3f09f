package importer

import (
	"fmt"
	"strings"
)

// SchemaError means the file header is missing required columns. It aborts
// the job before any record is processed.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid CSV schema: missing required columns: %s", strings.Join(e.Missing, ", "))
}

// ValidationError marks a single invalid record. The record is logged and
// skipped; the job continues.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError is a uniqueness violation surfacing at write time despite
// the key cache believing the key was absent. It fails the individual write,
// not the job.
type ConflictError struct {
	Key string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("product with SKU %q already exists", e.Key)
}

// RowError marks a row the CSV decoder could not parse. The row is logged
// and skipped; the stream continues.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string { return fmt.Sprintf("row %d: %v", e.Row, e.Err) }

func (e *RowError) Unwrap() error { return e.Err }

// TransportError wraps a store or blob I/O failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }
