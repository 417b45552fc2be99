// Package store persists result tables in a session-scoped DuckDB file so
// they can be re-read and exported as CSV without keeping every table
// resident in memory.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/marcboeker/go-duckdb"

	"github.com/forest-reshaper/backend/internal/table"
)

// TableStore holds the tables of one result session in a DuckDB file.
type TableStore struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
	names  map[string]string // logical name -> physical table name
	order  []string
	nextID int
}

// NewTableStore creates a DuckDB-backed store under tempDir.
func NewTableStore(tempDir, sessionID string, threads int) (*TableStore, error) {
	if threads <= 0 {
		threads = 4
	}
	dbPath := filepath.Join(tempDir, fmt.Sprintf("result_%s.duckdb", sessionID))

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			fmt.Sprintf("PRAGMA threads=%d", threads),
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating DuckDB connector: %w", err)
	}

	return &TableStore{
		db:     sql.OpenDB(connector),
		dbPath: dbPath,
		names:  make(map[string]string),
	}, nil
}

// Ingest writes a table under a logical name. Column types are inferred
// from the first non-nil cell of each column; fully-null columns fall back
// to VARCHAR. Re-ingesting an existing name is an error.
func (s *TableStore) Ingest(name string, t *table.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.names[name]; exists {
		return fmt.Errorf("table %q already ingested", name)
	}
	physical := fmt.Sprintf("result_%d", s.nextID)
	s.nextID++

	colDefs := make([]string, 0, len(t.Columns)+1)
	colDefs = append(colDefs, "seq BIGINT")
	for i, col := range t.Columns {
		colDefs = append(colDefs, fmt.Sprintf("%s %s", quoteIdent(col), columnType(t, i)))
	}
	createSQL := fmt.Sprintf("CREATE TABLE %s (%s)", physical, strings.Join(colDefs, ", "))
	if _, err := s.db.Exec(createSQL); err != nil {
		return fmt.Errorf("creating table %q: %w", name, err)
	}

	placeholders := make([]string, len(t.Columns)+1)
	for i := range placeholders {
		placeholders[i] = "?"
	}
	insertSQL := fmt.Sprintf("INSERT INTO %s VALUES (%s)", physical, strings.Join(placeholders, ", "))

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning ingest: %w", err)
	}
	stmt, err := tx.Prepare(insertSQL)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing ingest: %w", err)
	}
	for seq, row := range t.Rows {
		args := make([]any, 0, len(row)+1)
		args = append(args, seq)
		args = append(args, row...)
		if _, err := stmt.Exec(args...); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("inserting row %d of %q: %w", seq, name, err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing ingest: %w", err)
	}

	s.names[name] = physical
	s.order = append(s.order, name)
	return nil
}

// TableNames returns the logical names in ingestion order.
func (s *TableStore) TableNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// RowCount returns the number of rows stored under a logical name.
func (s *TableStore) RowCount(name string) (int, error) {
	s.mu.Lock()
	physical, ok := s.names[name]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("no table %q", name)
	}

	var count int
	if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", physical)).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting rows of %q: %w", name, err)
	}
	return count, nil
}

// ExportCSV streams a stored table as CSV (header row included, original
// row order preserved).
func (s *TableStore) ExportCSV(name string, w io.Writer) error {
	s.mu.Lock()
	physical, ok := s.names[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no table %q", name)
	}

	outPath := s.dbPath + "." + physical + ".csv"
	copySQL := fmt.Sprintf(
		"COPY (SELECT * EXCLUDE (seq) FROM %s ORDER BY seq) TO '%s' (FORMAT CSV, HEADER)",
		physical, strings.ReplaceAll(outPath, "'", "''"))
	if _, err := s.db.Exec(copySQL); err != nil {
		return fmt.Errorf("exporting %q: %w", name, err)
	}
	defer os.Remove(outPath)

	f, err := os.Open(outPath)
	if err != nil {
		return fmt.Errorf("opening export: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("streaming export: %w", err)
	}
	return nil
}

// Close releases the database and removes its file.
func (s *TableStore) Close() error {
	err := s.db.Close()
	if rmErr := os.Remove(s.dbPath); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}

// columnType infers the DuckDB type of column i from its first non-nil cell.
func columnType(t *table.Table, i int) string {
	for _, row := range t.Rows {
		switch row[i].(type) {
		case nil:
			continue
		case int, int64:
			return "BIGINT"
		case float64:
			return "DOUBLE"
		default:
			return "VARCHAR"
		}
	}
	return "VARCHAR"
}

// quoteIdent quotes an arbitrary column name as a SQL identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
