package rules

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Store holds the active rule table and swaps it atomically on reload.
type Store struct {
	path string

	mu       sync.Mutex // serializes reloads
	table    atomic.Pointer[Table]
	onReload func(Table)
}

// NewStore returns a store serving a fixed table.
func NewStore(t Table) *Store {
	s := &Store{}
	if t == nil {
		t = Table{}
	}
	s.table.Store(&t)
	return s
}

// OpenFile loads path and returns a store able to reload it.
func OpenFile(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("rules: file path is required")
	}
	s := &Store{path: path}
	if _, err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file, if any.
func (s *Store) Path() string { return s.path }

// SetReloadHook registers fn to run after every successful reload.
func (s *Store) SetReloadHook(fn func(Table)) {
	s.mu.Lock()
	s.onReload = fn
	s.mu.Unlock()
}

// Lookup returns the rule configured for key.
func (s *Store) Lookup(key string) (Rule, bool) {
	t := s.table.Load()
	if t == nil {
		return Rule{}, false
	}
	return t.Lookup(key)
}

// Len returns the number of configured keys.
func (s *Store) Len() int {
	t := s.table.Load()
	if t == nil {
		return 0
	}
	return len(*t)
}

// Snapshot returns the active table. Callers must not modify it.
func (s *Store) Snapshot() Table {
	t := s.table.Load()
	if t == nil {
		return nil
	}
	return *t
}

// Reload re-reads the backing file. On error the previous table stays active.
func (s *Store) Reload() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return 0, errors.New("rules: store has no backing file")
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return 0, errors.Wrap(err, "read rules file")
	}
	table, err := Parse(data)
	if err != nil {
		return 0, errors.Wrapf(err, "load %s", s.path)
	}
	s.table.Store(&table)
	slog.Info("rules: loaded", "path", s.path, "triggers", len(table))
	if s.onReload != nil {
		s.onReload(table)
	}
	return len(table), nil
}

// ReloadRules satisfies the admin reloader interface.
func (s *Store) ReloadRules() (int, error) {
	return s.Reload()
}
