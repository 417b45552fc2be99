package table

import (
	"fmt"
	"strings"
)

// Record is one long-form observation fed to Pivot.
type Record struct {
	Key   []any  // grouping key tuple, one entry per key column
	Name  string // becomes a column in the pivoted table
	Value any
}

// Pivot spreads long-form records into a wide table: one row per distinct
// key tuple, one column per distinct Name. Row order and column order both
// follow first appearance in the input. Cells with no record stay nil.
//
// A second record for the same (key, name) pair is an ambiguity the caller
// cannot recover from, so Pivot fails instead of overwriting.
func Pivot(keyColumns []string, records []Record) (*Table, error) {
	type group struct {
		key   []any
		cells map[string]any
	}

	groups := make([]*group, 0)
	groupIdx := make(map[string]*group)
	nameOrder := make([]string, 0)
	nameSeen := make(map[string]struct{})

	for _, rec := range records {
		if len(rec.Key) != len(keyColumns) {
			return nil, fmt.Errorf("record key has %d parts, expected %d", len(rec.Key), len(keyColumns))
		}
		kid := keyID(rec.Key)
		g, ok := groupIdx[kid]
		if !ok {
			g = &group{key: rec.Key, cells: make(map[string]any)}
			groupIdx[kid] = g
			groups = append(groups, g)
		}
		if _, dup := g.cells[rec.Name]; dup {
			return nil, fmt.Errorf("duplicate value for key %v, column %q", rec.Key, rec.Name)
		}
		g.cells[rec.Name] = rec.Value
		if _, ok := nameSeen[rec.Name]; !ok {
			nameSeen[rec.Name] = struct{}{}
			nameOrder = append(nameOrder, rec.Name)
		}
	}

	t := New(append(append([]string(nil), keyColumns...), nameOrder...)...)
	for _, g := range groups {
		row := make([]any, 0, len(t.Columns))
		row = append(row, g.key...)
		for _, name := range nameOrder {
			v, ok := g.cells[name]
			if !ok {
				row = append(row, nil)
				continue
			}
			row = append(row, v)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// keyID builds a collision-safe map key from a key tuple. Values are
// length-prefixed so ("ab","c") and ("a","bc") never collide.
func keyID(key []any) string {
	var b strings.Builder
	for _, k := range key {
		s := fmt.Sprint(k)
		fmt.Fprintf(&b, "%d:%s|", len(s), s)
	}
	return b.String()
}
