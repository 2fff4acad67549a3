// Package roster reads and writes the sheet-shaped patient table as CSV.
package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"pkt.systems/expertsurvey/schema"
)

// ErrNoHeader is returned when the input has no header line.
var ErrNoHeader = errors.New("roster csv has no header")

// Read parses a CSV roster. The first line is the header; blank lines are skipped.
func Read(r io.Reader) (schema.Roster, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return schema.Roster{}, ErrNoHeader
		}
		return schema.Roster{}, fmt.Errorf("read header: %w", err)
	}
	columns := make([]string, 0, len(header))
	seen := make(map[string]struct{}, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if name == "" {
			return schema.Roster{}, fmt.Errorf("column %d has an empty name", i+1)
		}
		if _, dup := seen[name]; dup {
			return schema.Roster{}, fmt.Errorf("duplicate column %q", name)
		}
		seen[name] = struct{}{}
		columns = append(columns, name)
	}

	out := schema.Roster{Columns: columns}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return schema.Roster{}, fmt.Errorf("read row %d: %w", len(out.Rows)+1, err)
		}
		if blank(record) {
			continue
		}
		if len(record) > len(columns) {
			return schema.Roster{}, fmt.Errorf("row %d has %d fields, header has %d", len(out.Rows)+1, len(record), len(columns))
		}
		cells := make(map[string]string, len(columns))
		for i, col := range columns {
			if i < len(record) {
				cells[col] = strings.TrimSpace(record[i])
			} else {
				cells[col] = ""
			}
		}
		out.Rows = append(out.Rows, cells)
	}
	return out, nil
}

// ReadFile parses the CSV roster at path.
func ReadFile(path string) (schema.Roster, error) {
	f, err := os.Open(path)
	if err != nil {
		return schema.Roster{}, err
	}
	defer f.Close()
	return Read(f)
}

// Write renders the roster as CSV with its header line first.
func Write(w io.Writer, table schema.Roster) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(table.Columns); err != nil {
		return err
	}
	line := make([]string, len(table.Columns))
	for _, cells := range table.Rows {
		for i, col := range table.Columns {
			line[i] = cells[col]
		}
		if err := writer.Write(line); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
