package importer

import (
	"strings"
	"unicode"
)

// Normalized column names for the fixed three-column import schema.
const (
	ColumnKey         = "Key"
	ColumnName        = "Name"
	ColumnDescription = "Description"
)

// NormalizeHeader trims and title-cases a raw column name so that "key",
// "KEY" and " Key " all map to the same normalized column.
func NormalizeHeader(raw string) string {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(raw)))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// Record is one normalized row of the input file. Values keep their
// original casing and surrounding whitespace; validation trims before
// checking so the stored values can be trimmed exactly once.
type Record struct {
	Row         int
	Key         string
	Name        string
	Description string
}

// Validate applies the per-record rules: key and name are required,
// description may be blank.
func (r Record) Validate() error {
	if strings.TrimSpace(r.Key) == "" {
		return &ValidationError{Message: "key required"}
	}
	if strings.TrimSpace(r.Name) == "" {
		return &ValidationError{Message: "name required"}
	}
	return nil
}

// columns holds the positions of the required columns in the header row.
// A duplicated header keeps its first occurrence.
type columns struct {
	key, name, description int
}

func mapColumns(header []string) (columns, error) {
	idx := columns{key: -1, name: -1, description: -1}
	for i, h := range header {
		switch NormalizeHeader(h) {
		case ColumnKey:
			if idx.key < 0 {
				idx.key = i
			}
		case ColumnName:
			if idx.name < 0 {
				idx.name = i
			}
		case ColumnDescription:
			if idx.description < 0 {
				idx.description = i
			}
		}
	}

	var missing []string
	if idx.key < 0 {
		missing = append(missing, ColumnKey)
	}
	if idx.name < 0 {
		missing = append(missing, ColumnName)
	}
	if idx.description < 0 {
		missing = append(missing, ColumnDescription)
	}
	if len(missing) > 0 {
		return columns{}, &SchemaError{Missing: missing}
	}
	return idx, nil
}
