package importer

import (
	"bufio"
	"encoding/csv"
	"errors"
	"io"
)

// readBufferSize bounds how much of the remote object is held in memory
// while decoding rows.
const readBufferSize = 1 << 20 // 1MB

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(bufio.NewReaderSize(r, readBufferSize))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	return cr
}

// Reader yields normalized records one at a time from a remote object
// stream. The sequence is finite and non-restartable; row numbers start at
// 2 because row 1 is the header.
type Reader struct {
	rc  io.ReadCloser
	csv *csv.Reader
	cols columns
	row  int
}

// NewReader validates the header row and returns a reader positioned at the
// first record. The stream is closed on any header failure. An empty file
// is a schema failure: every required column is missing.
func NewReader(rc io.ReadCloser) (*Reader, error) {
	cr := newCSVReader(rc)

	header, err := cr.Read()
	if err == io.EOF {
		rc.Close()
		return nil, &SchemaError{Missing: []string{ColumnKey, ColumnName, ColumnDescription}}
	}
	if err != nil {
		rc.Close()
		return nil, &TransportError{Op: "read CSV header", Err: err}
	}

	cols, err := mapColumns(header)
	if err != nil {
		rc.Close()
		return nil, err
	}

	return &Reader{rc: rc, csv: cr, cols: cols, row: 1}, nil
}

// Next returns the next record in file order. io.EOF ends the sequence.
// A *RowError reports a row the decoder rejected; the caller may log it and
// keep consuming.
func (r *Reader) Next() (Record, error) {
	fields, err := r.csv.Read()
	if err == io.EOF {
		return Record{}, io.EOF
	}
	r.row++
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return Record{Row: r.row}, &RowError{Row: r.row, Err: err}
		}
		return Record{Row: r.row}, &TransportError{Op: "read CSV row", Err: err}
	}

	rec := Record{Row: r.row}
	if r.cols.key < len(fields) {
		rec.Key = fields[r.cols.key]
	}
	if r.cols.name < len(fields) {
		rec.Name = fields[r.cols.name]
	}
	if r.cols.description < len(fields) {
		rec.Description = fields[r.cols.description]
	}
	return rec, nil
}

// Close releases the underlying stream.
func (r *Reader) Close() error { return r.rc.Close() }

// CountRows counts data rows without materializing records, so the total
// can be persisted before the main pass begins. It consumes and closes the
// stream; rows the decoder rejects still occupy a row and are counted.
func CountRows(rc io.ReadCloser) (int, error) {
	defer rc.Close()

	cr := newCSVReader(rc)
	cr.ReuseRecord = true

	n := -1 // first successful read is the header row
	for {
		_, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				n++
				continue
			}
			return 0, &TransportError{Op: "count CSV rows", Err: err}
		}
		n++
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}
