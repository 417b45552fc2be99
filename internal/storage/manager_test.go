package storage

import (
	"os"
	"strings"
	"testing"
)

func TestLocalStore(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	t.Run("save and get", func(t *testing.T) {
		info, err := store.Save("summary.out", strings.NewReader("hello"))
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if info.Size != 5 {
			t.Errorf("expected size 5, got %d", info.Size)
		}

		got, err := store.Get(info.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Name != "summary.out" {
			t.Errorf("expected name summary.out, got %s", got.Name)
		}

		path, err := store.GetFilePath(info.ID)
		if err != nil {
			t.Fatalf("GetFilePath failed: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading stored file: %v", err)
		}
		if string(data) != "hello" {
			t.Errorf("expected stored content hello, got %q", data)
		}
	})

	t.Run("list is newest first and limited", func(t *testing.T) {
		for _, name := range []string{"a", "b", "c"} {
			if _, err := store.Save(name, strings.NewReader(name)); err != nil {
				t.Fatal(err)
			}
		}
		list, err := store.List(2)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(list) != 2 {
			t.Errorf("expected 2 entries, got %d", len(list))
		}
	})

	t.Run("delete", func(t *testing.T) {
		info, err := store.Save("doomed", strings.NewReader("x"))
		if err != nil {
			t.Fatal(err)
		}
		if err := store.Delete(info.ID); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := store.Get(info.ID); err == nil {
			t.Error("expected error after delete")
		}
	})

	t.Run("unknown id errors", func(t *testing.T) {
		if _, err := store.Get("nope"); err == nil {
			t.Error("expected error for unknown id")
		}
		if _, err := store.GetFilePath("nope"); err == nil {
			t.Error("expected error for unknown id")
		}
		if err := store.Delete("nope"); err == nil {
			t.Error("expected error for unknown id")
		}
	})
}
