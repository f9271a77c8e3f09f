package importer

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stream(s string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(s))
}

func TestReaderBasic(t *testing.T) {
	r, err := NewReader(stream("Key,Name,Description\nA1,Widget,Small widget\nB2,Gadget,\n"))
	require.NoError(t, err)
	defer r.Close()

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, Record{Row: 2, Key: "A1", Name: "Widget", Description: "Small widget"}, rec)

	rec, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, Record{Row: 3, Key: "B2", Name: "Gadget"}, rec)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReaderHeaderCaseAndOrder(t *testing.T) {
	r, err := NewReader(stream("description, KEY ,name\ndesc,A1,Widget\n"))
	require.NoError(t, err)
	defer r.Close()

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "A1", rec.Key)
	assert.Equal(t, "Widget", rec.Name)
	assert.Equal(t, "desc", rec.Description)
}

func TestReaderEmptyFileIsSchemaError(t *testing.T) {
	_, err := NewReader(stream(""))
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, []string{"Key", "Name", "Description"}, schemaErr.Missing)
}

func TestReaderMissingColumn(t *testing.T) {
	_, err := NewReader(stream("Key,Name\nA1,Widget\n"))
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, []string{"Description"}, schemaErr.Missing)
}

func TestReaderShortRow(t *testing.T) {
	// Rows narrower than the header yield blank values for the missing
	// columns rather than an error.
	r, err := NewReader(stream("Key,Name,Description\nA1\n"))
	require.NoError(t, err)
	defer r.Close()

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, Record{Row: 2, Key: "A1"}, rec)
}

func TestReaderToleratesStrayQuotes(t *testing.T) {
	// LazyQuotes decodes rows with unbalanced quotes instead of failing
	// the stream.
	r, err := NewReader(stream("Key,Name,Description\nA1,say \"hi\" now,\nB2,Gadget,\n"))
	require.NoError(t, err)
	defer r.Close()

	seen := 0
	for {
		_, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		seen++
	}
	assert.Equal(t, 2, seen)
}

func TestCountRows(t *testing.T) {
	n, err := CountRows(stream("Key,Name,Description\nA1,Widget,\nB2,Gadget,\nC3,Gizmo,\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCountRowsHeaderOnly(t *testing.T) {
	n, err := CountRows(stream("Key,Name,Description\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCountRowsEmpty(t *testing.T) {
	n, err := CountRows(stream(""))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
