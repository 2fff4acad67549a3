package schema

// Roster is the sheet-shaped patient table: an ordered header and one cell
// map per row. Rows[i] holds row i+1.
type Roster struct {
	Columns []string            `json:"columns"`
	Rows    []map[string]string `json:"rows"`
}

// Len returns the number of patient rows.
func (r Roster) Len() int {
	return len(r.Rows)
}

// Has reports whether row addresses an existing entry.
func (r Roster) Has(row Row) bool {
	return row.Valid() && int(row) <= len(r.Rows)
}

// Cells returns the raw cells for row.
func (r Roster) Cells(row Row) (map[string]string, bool) {
	if !r.Has(row) {
		return nil, false
	}
	return r.Rows[row-1], true
}

// Cell returns one cell value or "".
func (r Roster) Cell(row Row, column string) string {
	cells, ok := r.Cells(row)
	if !ok {
		return ""
	}
	return cells[column]
}

// Record returns the row as a record with the submitted flag derived.
func (r Roster) Record(row Row) (Record, bool) {
	cells, ok := r.Cells(row)
	if !ok {
		return Record{}, false
	}
	fields := make(map[string]string, len(cells))
	for k, v := range cells {
		if v != "" {
			fields[k] = v
		}
	}
	return Record{Fields: fields, Submitted: SubmittedValue(cells[ColSubmissionStatus])}, true
}

// EnsureAdminColumns appends any missing administrative column to the header.
func (r *Roster) EnsureAdminColumns() {
	present := make(map[string]struct{}, len(r.Columns))
	for _, col := range r.Columns {
		present[col] = struct{}{}
	}
	for _, col := range AdminColumns {
		if _, ok := present[col]; ok {
			continue
		}
		r.Columns = append(r.Columns, col)
	}
}

// Clone returns a deep copy.
func (r Roster) Clone() Roster {
	out := Roster{
		Columns: append([]string(nil), r.Columns...),
		Rows:    make([]map[string]string, len(r.Rows)),
	}
	for i, row := range r.Rows {
		out.Rows[i] = CloneCells(row)
	}
	return out
}

// CloneCells copies a cell map.
func CloneCells(cells map[string]string) map[string]string {
	out := make(map[string]string, len(cells))
	for k, v := range cells {
		out[k] = v
	}
	return out
}
