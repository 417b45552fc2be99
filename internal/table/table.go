// Package table provides the ordered in-memory table type the reshaping
// pipelines produce, plus the strict pivot primitive both of them share.
package table

import "fmt"

// Table is an ordered set of named columns over row-major cells.
// A nil cell is an explicit missing value, not an omitted one.
type Table struct {
	Columns []string `json:"columns" msgpack:"columns"`
	Rows    [][]any  `json:"rows" msgpack:"rows"`
}

// New creates an empty table with the given column order.
func New(columns ...string) *Table {
	return &Table{
		Columns: append([]string(nil), columns...),
		Rows:    make([][]any, 0),
	}
}

// ColumnIndex returns the position of a column, or -1 if absent.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// AppendRow adds a row. The cell count must match the column count.
func (t *Table) AppendRow(cells ...any) error {
	if len(cells) != len(t.Columns) {
		return fmt.Errorf("row has %d cells, table has %d columns", len(cells), len(t.Columns))
	}
	t.Rows = append(t.Rows, cells)
	return nil
}

// NumRows returns the row count.
func (t *Table) NumRows() int {
	return len(t.Rows)
}

// Cell returns the value at (row, column name). Returns nil for an
// absent column; callers that care use ColumnIndex first.
func (t *Table) Cell(row int, column string) any {
	idx := t.ColumnIndex(column)
	if idx < 0 || row < 0 || row >= len(t.Rows) {
		return nil
	}
	return t.Rows[row][idx]
}
