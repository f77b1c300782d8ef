package archive

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

var zipMagic = []byte("PK\x03\x04")

// Table is a CSV table whose rows are keyed by column name. Empty cells
// are absent from the row maps.
type Table struct {
	Header []string
	Rows   []map[string]string
}

// ParseCSV reads a CSV document with a header row.
func ParseCSV(data []byte) (*Table, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return &Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	t := &Table{Header: header}
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV row %d: %w", len(t.Rows)+1, err)
		}
		row := make(map[string]string, len(header))
		for i, v := range record {
			if i >= len(header) {
				break
			}
			if v = strings.TrimSpace(v); v != "" {
				row[header[i]] = v
			}
		}
		if len(row) > 0 {
			t.Rows = append(t.Rows, row)
		}
	}
	return t, nil
}

// ReadExport decodes one downloaded export file. Zip archives are opened
// with password and every CSV entry inside is merged; anything else is
// parsed as plain CSV text.
func ReadExport(data []byte, password string, keyBits int) (*Table, error) {
	if !bytes.HasPrefix(data, zipMagic) {
		return ParseCSV(data)
	}
	entries, err := Open(data, password, keyBits)
	if err != nil {
		return nil, err
	}
	out := &Table{}
	for _, e := range entries {
		if !strings.HasSuffix(strings.ToLower(e.Name), ".csv") {
			continue
		}
		t, err := ParseCSV(e.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name, err)
		}
		out.Merge(t)
	}
	return out, nil
}

// Merge appends other's rows, extending the header with any new columns
// in first-seen order.
func (t *Table) Merge(other *Table) {
	seen := make(map[string]bool, len(t.Header))
	for _, h := range t.Header {
		seen[h] = true
	}
	for _, h := range other.Header {
		if !seen[h] {
			seen[h] = true
			t.Header = append(t.Header, h)
		}
	}
	t.Rows = append(t.Rows, other.Rows...)
}

// Index keys rows by the value of column. Later rows win.
func (t *Table) Index(column string) map[string]map[string]string {
	out := make(map[string]map[string]string, len(t.Rows))
	for _, row := range t.Rows {
		if k := row[column]; k != "" {
			out[k] = row
		}
	}
	return out
}

// Write renders the table as CSV.
func (t *Table) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	record := make([]string, len(t.Header))
	for _, row := range t.Rows {
		for i, h := range t.Header {
			record[i] = row[h]
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
