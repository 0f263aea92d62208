package tabular

import (
	"encoding/csv"
	"fmt"
	"io"
)

// Writer emits a fixed header once followed by rows of the same width.
type Writer struct {
	cw      *csv.Writer
	columns int
	rows    int
}

// NewWriter writes header to w and returns a writer for the data rows.
func NewWriter(w io.Writer, delim rune, header []string) (*Writer, error) {
	cw := csv.NewWriter(w)
	cw.Comma = delim
	if err := cw.Write(header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return &Writer{cw: cw, columns: len(header)}, nil
}

// Write emits one row; the number of fields must match the header.
func (w *Writer) Write(fields ...string) error {
	if len(fields) != w.columns {
		return fmt.Errorf("row has %d fields, header has %d", len(fields), w.columns)
	}
	if err := w.cw.Write(fields); err != nil {
		return err
	}
	w.rows++
	return nil
}

// Rows returns the number of data rows written.
func (w *Writer) Rows() int { return w.rows }

// Flush flushes buffered rows and reports any write error.
func (w *Writer) Flush() error {
	w.cw.Flush()
	return w.cw.Error()
}
