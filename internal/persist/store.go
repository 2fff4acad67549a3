package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pkt.systems/expertsurvey/internal/atomicfile"
	"pkt.systems/expertsurvey/schema"
	"pkt.systems/pslog"
)

const snapshotVersion = 1

// RosterSnapshot is the on-disk roster document.
type RosterSnapshot struct {
	Version int           `json:"version"`
	SavedAt time.Time     `json:"saved_at"`
	Roster  schema.Roster `json:"roster"`
}

// Store persists the roster as one JSON snapshot under the state directory.
type Store struct {
	dir string
	log pslog.Logger

	mu     sync.Mutex
	cached *schema.Roster
}

// NewStore constructs a persistent store at the given directory.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, nil)
}

// NewStoreWithLogger constructs a persistent store with logging.
func NewStoreWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &Store{dir: dir, log: logger}, nil
}

// Path returns the snapshot file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, "roster.json")
}

// Load reads the roster snapshot from disk.
func (s *Store) Load(context.Context) (schema.Roster, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	table, ok, err := s.loadLocked()
	if err != nil || !ok {
		return schema.Roster{}, ok, err
	}
	return table.Clone(), true, nil
}

// Replace writes a whole roster.
func (s *Store) Replace(_ context.Context, table schema.Roster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := table.Clone()
	if err := s.writeLocked(next); err != nil {
		return err
	}
	s.cached = &next
	return nil
}

// SaveRow rewrites the snapshot with one row changed.
func (s *Store) SaveRow(_ context.Context, row schema.Row, cells map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	table, ok, err := s.loadLocked()
	if err != nil {
		return err
	}
	if !ok || !table.Has(row) {
		return fmt.Errorf("row %d: %w", row, schema.ErrNotFound)
	}
	next := table.Clone()
	next.Rows[row-1] = schema.CloneCells(cells)
	if err := s.writeLocked(next); err != nil {
		return err
	}
	s.cached = &next
	return nil
}

func (s *Store) loadLocked() (schema.Roster, bool, error) {
	if s.cached != nil {
		return *s.cached, true, nil
	}
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if s.log != nil {
				s.log.Debug("state load miss")
			}
			return schema.Roster{}, false, nil
		}
		if s.log != nil {
			s.log.Warn("state load failed", "err", err)
		}
		return schema.Roster{}, false, err
	}
	var snapshot RosterSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		if s.log != nil {
			s.log.Warn("state load failed", "err", err)
		}
		return schema.Roster{}, false, err
	}
	if snapshot.Version != snapshotVersion {
		err := fmt.Errorf("unsupported snapshot version %d", snapshot.Version)
		if s.log != nil {
			s.log.Warn("state load failed", "err", err)
		}
		return schema.Roster{}, false, err
	}
	for i, cells := range snapshot.Roster.Rows {
		if cells == nil {
			snapshot.Roster.Rows[i] = map[string]string{}
		}
	}
	s.cached = &snapshot.Roster
	if s.log != nil {
		s.log.Debug("state load ok", "rows", snapshot.Roster.Len())
	}
	return snapshot.Roster, true, nil
}

func (s *Store) writeLocked(table schema.Roster) error {
	snapshot := RosterSnapshot{Version: snapshotVersion, SavedAt: time.Now().UTC(), Roster: table}
	if err := atomicfile.WriteJSON(s.Path(), snapshot, 0o600); err != nil {
		return s.saveFailed(err)
	}
	if s.log != nil {
		s.log.Trace("state save ok", "rows", table.Len())
	}
	return nil
}

func (s *Store) saveFailed(err error) error {
	if s.log != nil {
		s.log.Warn("state save failed", "err", err)
	}
	return err
}
