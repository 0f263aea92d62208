// Package tabular reads and writes the delimited text tables exchanged with
// study extracts and the downstream loader.
package tabular

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ErrMissingColumn is returned by Require when a header lacks a column.
var ErrMissingColumn = errors.New("missing column")

// Reader streams rows of a delimited table addressed by header name.
type Reader struct {
	name   string
	cr     *csv.Reader
	header []string
	index  map[string][]int
	line   int
	closer io.Closer
}

// NewReader reads the header row from r. name is used in error messages.
func NewReader(r io.Reader, name string, delim rune) (*Reader, error) {
	br := bufio.NewReader(r)
	if lead, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(lead, utf8BOM) {
		br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.Comma = delim
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%s: header row required", name)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: read header: %w", name, err)
	}

	index := make(map[string][]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		header[i] = h
		index[h] = append(index[h], i)
	}

	return &Reader{name: name, cr: cr, header: header, index: index}, nil
}

// Open opens path and reads its header. The caller must Close the reader.
func Open(path string, delim rune) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	r, err := NewReader(f, path, delim)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Name returns the source name of the table.
func (r *Reader) Name() string { return r.name }

// Header returns the trimmed header row.
func (r *Reader) Header() []string { return r.header }

// HasColumn reports whether the header contains name.
func (r *Reader) HasColumn(name string) bool {
	_, ok := r.index[name]
	return ok
}

// Require checks that every named column is present in the header.
func (r *Reader) Require(names ...string) error {
	var missing []string
	for _, n := range names {
		if !r.HasColumn(n) {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: %w: %s", r.name, ErrMissingColumn, strings.Join(missing, ", "))
	}
	return nil
}

// Next returns the next data row, or io.EOF after the last one.
func (r *Reader) Next() (Row, error) {
	fields, err := r.cr.Read()
	if err != nil {
		if err == io.EOF {
			return Row{}, io.EOF
		}
		return Row{}, fmt.Errorf("%s: %w", r.name, err)
	}
	r.line, _ = r.cr.FieldPos(0)
	return Row{Line: r.line, fields: fields, index: r.index}, nil
}

// ForEach calls fn for every remaining row and stops at the first error.
func (r *Reader) ForEach(fn func(Row) error) error {
	for {
		row, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

// Close releases the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Row is one data row of a table.
type Row struct {
	Line   int
	fields []string
	index  map[string][]int
}

// NewRow builds a row from header and fields; useful for callers that
// synthesize rows.
func NewRow(header, fields []string) Row {
	index := make(map[string][]int, len(header))
	for i, h := range header {
		index[h] = append(index[h], i)
	}
	return Row{fields: fields, index: index}
}

// Lookup returns the value of the first column called name. ok is false when
// the column is absent from the header or the row is too short to hold it.
func (r Row) Lookup(name string) (string, bool) {
	idx, ok := r.index[name]
	if !ok || idx[0] >= len(r.fields) {
		return "", false
	}
	return r.fields[idx[0]], true
}

// Get returns the value of the first column called name, or "".
func (r Row) Get(name string) string {
	v, _ := r.Lookup(name)
	return v
}

// All returns the values of every column called name, in column order.
func (r Row) All(name string) []string {
	idx := r.index[name]
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		if i < len(r.fields) {
			out = append(out, r.fields[i])
		}
	}
	return out
}

// Fields returns the raw positional values.
func (r Row) Fields() []string { return r.fields }
