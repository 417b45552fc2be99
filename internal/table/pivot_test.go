package table

import "testing"

func TestPivot(t *testing.T) {
	t.Run("spreads names into columns", func(t *testing.T) {
		records := []Record{
			{Key: []any{1, "plot1"}, Name: "Abs Den", Value: 4.0},
			{Key: []any{1, "plot1"}, Name: "Abs BA", Value: 0.2},
			{Key: []any{2, "plot1"}, Name: "Abs Den", Value: 6.0},
		}
		tab, err := Pivot([]string{"Step", "Subplot"}, records)
		if err != nil {
			t.Fatalf("Pivot failed: %v", err)
		}

		want := []string{"Step", "Subplot", "Abs Den", "Abs BA"}
		if len(tab.Columns) != len(want) {
			t.Fatalf("expected %d columns, got %d", len(want), len(tab.Columns))
		}
		for i, c := range want {
			if tab.Columns[i] != c {
				t.Errorf("column %d: expected %q, got %q", i, c, tab.Columns[i])
			}
		}
		if tab.NumRows() != 2 {
			t.Fatalf("expected 2 rows, got %d", tab.NumRows())
		}
		if v := tab.Cell(0, "Abs BA"); v != 0.2 {
			t.Errorf("expected 0.2, got %v", v)
		}
	})

	t.Run("missing cell is explicit nil", func(t *testing.T) {
		records := []Record{
			{Key: []any{1}, Name: "a", Value: 10},
			{Key: []any{2}, Name: "b", Value: 20},
		}
		tab, err := Pivot([]string{"k"}, records)
		if err != nil {
			t.Fatalf("Pivot failed: %v", err)
		}
		if v := tab.Cell(0, "b"); v != nil {
			t.Errorf("expected nil for absent combination, got %v", v)
		}
		if v := tab.Cell(1, "a"); v != nil {
			t.Errorf("expected nil for absent combination, got %v", v)
		}
	})

	t.Run("duplicate key and name fails", func(t *testing.T) {
		records := []Record{
			{Key: []any{1}, Name: "a", Value: 10},
			{Key: []any{1}, Name: "a", Value: 11},
		}
		if _, err := Pivot([]string{"k"}, records); err == nil {
			t.Fatal("expected duplicate-key error, got nil")
		}
	})

	t.Run("key tuples do not collide across boundaries", func(t *testing.T) {
		records := []Record{
			{Key: []any{"ab", "c"}, Name: "v", Value: 1},
			{Key: []any{"a", "bc"}, Name: "v", Value: 2},
		}
		tab, err := Pivot([]string{"x", "y"}, records)
		if err != nil {
			t.Fatalf("Pivot failed: %v", err)
		}
		if tab.NumRows() != 2 {
			t.Errorf("expected 2 distinct rows, got %d", tab.NumRows())
		}
	})

	t.Run("key arity mismatch fails", func(t *testing.T) {
		records := []Record{{Key: []any{1}, Name: "a", Value: 10}}
		if _, err := Pivot([]string{"k1", "k2"}, records); err == nil {
			t.Fatal("expected arity error, got nil")
		}
	})
}

func TestTableAppendRow(t *testing.T) {
	tab := New("a", "b")
	if err := tab.AppendRow(1, 2); err != nil {
		t.Fatalf("AppendRow failed: %v", err)
	}
	if err := tab.AppendRow(1); err == nil {
		t.Fatal("expected cell-count error, got nil")
	}
	if idx := tab.ColumnIndex("b"); idx != 1 {
		t.Errorf("expected index 1, got %d", idx)
	}
	if idx := tab.ColumnIndex("missing"); idx != -1 {
		t.Errorf("expected -1, got %d", idx)
	}
}
