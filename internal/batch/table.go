// Package batch iterates the input coordinates, runs the selection engine
// per record, and assembles the output table.
package batch

import (
	"encoding/csv"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Table is a parsed delimited file: the header in file order plus data rows.
type Table struct {
	Header []string
	Rows   [][]string
}

// ReadTable loads a whole CSV file. Rows may be ragged; lookups pad with
// empty strings.
func ReadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "batch: open input csv")
	}
	defer f.Close() //nolint:errcheck

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "batch: read input csv")
	}
	if len(records) == 0 {
		return nil, eris.New("batch: input csv is empty")
	}

	return &Table{Header: records[0], Rows: records[1:]}, nil
}

// WriteTable writes the full table in one pass, header first.
func WriteTable(path string, table *Table) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "batch: create output csv")
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(table.Header); err != nil {
		return eris.Wrap(err, "batch: write header")
	}
	for _, row := range table.Rows {
		if err := w.Write(row); err != nil {
			return eris.Wrap(err, "batch: write row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrap(err, "batch: flush output csv")
	}
	return nil
}

// columnIndex maps trimmed header names to positions.
func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[strings.TrimSpace(col)] = i
	}
	return idx
}

// getCol safely retrieves a column value from a row.
func getCol(row []string, colIdx map[string]int, col string) string {
	idx, ok := colIdx[col]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
