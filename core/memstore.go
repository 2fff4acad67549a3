package core

import (
	"context"
	"sync"

	"pkt.systems/expertsurvey/schema"
)

// MemoryStore keeps the roster in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	roster schema.Roster
	ok     bool
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the stored roster.
func (m *MemoryStore) Load(context.Context) (schema.Roster, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ok {
		return schema.Roster{}, false, nil
	}
	return m.roster.Clone(), true, nil
}

// Replace stores a copy of roster.
func (m *MemoryStore) Replace(_ context.Context, roster schema.Roster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roster = roster.Clone()
	m.ok = true
	return nil
}

// SaveRow overwrites one row.
func (m *MemoryStore) SaveRow(_ context.Context, row schema.Row, cells map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.roster.Has(row) {
		return schema.ErrNotFound
	}
	m.roster.Rows[row-1] = schema.CloneCells(cells)
	return nil
}
