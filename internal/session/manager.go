// Package session tracks completed pipeline results so they can be
// retrieved and exported until a cleanup timer reclaims them.
package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forest-reshaper/backend/internal/models"
	"github.com/forest-reshaper/backend/internal/store"
	"github.com/forest-reshaper/backend/internal/table"
)

// MaxSessions limits concurrent result sessions; the oldest session is
// evicted when the cap is reached.
const MaxSessions = 20

// State holds one result session: the in-memory tables for JSON/msgpack
// responses and the DuckDB store backing CSV export.
type State struct {
	Session      *models.ResultSession
	Tables       map[string]*table.Table
	TableOrder   []string
	Store        *store.TableStore
	LastAccessed time.Time
}

// Manager owns the active result sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*State
	tempDir  string
	threads  int
}

// NewManager creates a session manager whose DuckDB files live in tempDir.
func NewManager(tempDir string, threads int) *Manager {
	return &Manager{
		sessions: make(map[string]*State),
		tempDir:  tempDir,
		threads:  threads,
	}
}

// Create registers the tables of one completed pipeline run, ingesting
// them into a session-scoped DuckDB store. tableOrder fixes the order the
// tables are reported and exported in.
func (m *Manager) Create(fileID, pipeline string, tables map[string]*table.Table, tableOrder []string) (*models.ResultSession, error) {
	id := uuid.New().String()

	ts, err := store.NewTableStore(m.tempDir, id, m.threads)
	if err != nil {
		return nil, fmt.Errorf("creating result store: %w", err)
	}

	rowCount := 0
	for _, name := range tableOrder {
		t, ok := tables[name]
		if !ok {
			ts.Close()
			return nil, fmt.Errorf("table order names unknown table %q", name)
		}
		if err := ts.Ingest(name, t); err != nil {
			ts.Close()
			return nil, fmt.Errorf("ingesting %q: %w", name, err)
		}
		rowCount += t.NumRows()
	}

	sess := &models.ResultSession{
		ID:         id,
		FileID:     fileID,
		Pipeline:   pipeline,
		Status:     models.SessionStatusComplete,
		TableNames: append([]string(nil), tableOrder...),
		RowCount:   rowCount,
	}

	m.mu.Lock()
	m.evictOldestLocked()
	m.sessions[id] = &State{
		Session:      sess,
		Tables:       tables,
		TableOrder:   append([]string(nil), tableOrder...),
		Store:        ts,
		LastAccessed: time.Now(),
	}
	m.mu.Unlock()

	return sess, nil
}

// Get returns a session and refreshes its access time.
func (m *Manager) Get(id string) (*State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	state.LastAccessed = time.Now()
	return state, true
}

// Remove drops one session and releases its store.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)
}

// CleanupOldSessions drops sessions idle longer than maxAge and returns
// how many were removed.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, state := range m.sessions {
		if state.LastAccessed.Before(cutoff) {
			m.removeLocked(id)
			removed++
		}
	}
	if removed > 0 {
		fmt.Printf("[Session] cleaned up %d idle session(s), %d active\n", removed, len(m.sessions))
	}
	return removed
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) removeLocked(id string) {
	state, ok := m.sessions[id]
	if !ok {
		return
	}
	if state.Store != nil {
		state.Store.Close()
	}
	delete(m.sessions, id)
}

// evictOldestLocked makes room for a new session when the cap is reached.
func (m *Manager) evictOldestLocked() {
	if len(m.sessions) < MaxSessions {
		return
	}
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return m.sessions[ids[i]].LastAccessed.Before(m.sessions[ids[j]].LastAccessed)
	})
	for len(m.sessions) >= MaxSessions && len(ids) > 0 {
		m.removeLocked(ids[0])
		ids = ids[1:]
	}
}
