package store

import (
	"bytes"
	"strings"
	"testing"

	"github.com/forest-reshaper/backend/internal/table"
)

func TestTableStore(t *testing.T) {
	ts, err := NewTableStore(t.TempDir(), "test-session", 2)
	if err != nil {
		t.Fatalf("NewTableStore failed: %v", err)
	}
	defer ts.Close()

	tab := table.New("tree_id", "species", "DBH")
	if err := tab.AppendRow(0, "Balsam_Fir", 2.5); err != nil {
		t.Fatal(err)
	}
	if err := tab.AppendRow(1, "White_Spruce", nil); err != nil {
		t.Fatal(err)
	}

	if err := ts.Ingest("sapling", tab); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	t.Run("row count", func(t *testing.T) {
		n, err := ts.RowCount("sapling")
		if err != nil {
			t.Fatalf("RowCount failed: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 rows, got %d", n)
		}
	})

	t.Run("csv export", func(t *testing.T) {
		var buf bytes.Buffer
		if err := ts.ExportCSV("sapling", &buf); err != nil {
			t.Fatalf("ExportCSV failed: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 3 {
			t.Fatalf("expected header + 2 rows, got %d lines:\n%s", len(lines), buf.String())
		}
		if lines[0] != "tree_id,species,DBH" {
			t.Errorf("unexpected header %q", lines[0])
		}
		if !strings.HasPrefix(lines[1], "0,Balsam_Fir,") {
			t.Errorf("unexpected first row %q", lines[1])
		}
	})

	t.Run("table names", func(t *testing.T) {
		names := ts.TableNames()
		if len(names) != 1 || names[0] != "sapling" {
			t.Errorf("unexpected names %v", names)
		}
	})

	t.Run("duplicate ingest fails", func(t *testing.T) {
		if err := ts.Ingest("sapling", tab); err == nil {
			t.Error("expected error on duplicate ingest")
		}
	})

	t.Run("unknown table errors", func(t *testing.T) {
		if _, err := ts.RowCount("nope"); err == nil {
			t.Error("expected error for unknown table")
		}
		var buf bytes.Buffer
		if err := ts.ExportCSV("nope", &buf); err == nil {
			t.Error("expected error for unknown table")
		}
	})
}
