package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"

	"finai/internal/core"
)

type entry struct {
	owner string
	table core.Table
}

// Store keeps table snapshots in process memory.
type Store struct {
	mu     sync.Mutex
	tables map[string]entry
}

func New() *Store {
	return &Store{tables: map[string]entry{}}
}

// NewFromFile seeds the store from a JSON document mapping owner ids to
// tables. A missing file yields an empty store.
func NewFromFile(path string) (*Store, error) {
	s := New()
	if path == "" {
		return s, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed map[string][]core.Table
	if err := json.Unmarshal(b, &seed); err != nil {
		return nil, fmt.Errorf("decode seed file %s: %w", path, err)
	}
	for owner, tables := range seed {
		for _, t := range tables {
			if err := t.Validate(); err != nil {
				return nil, fmt.Errorf("seed table %q: %w", t.ID, err)
			}
			t.Revision = 1
			s.tables[t.ID] = entry{owner: owner, table: t.Clone()}
		}
	}
	return s, nil
}

// List returns the owner's tables, newest first.
func (s *Store) List(_ context.Context, ownerID string) ([]core.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.Table{}
	for _, e := range s.tables {
		if e.owner == ownerID {
			out = append(out, e.table.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Upsert stores a copy of t and bumps its revision.
func (s *Store) Upsert(_ context.Context, ownerID string, t core.Table) (core.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, exists := s.tables[t.ID]
	if exists && prev.owner != ownerID {
		return core.Table{}, fmt.Errorf("upsert table %s: %w", t.ID, core.ErrNotFound)
	}
	t = t.Clone()
	t.Revision = prev.table.Revision + 1
	s.tables[t.ID] = entry{owner: ownerID, table: t}
	return t.Clone(), nil
}

func (s *Store) Delete(_ context.Context, tableID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tables, tableID)
	return nil
}

// Len reports the number of stored tables across owners.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables)
}
