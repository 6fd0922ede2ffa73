// Package ident provides the identifier generators used for tables, rows and
// column keys.
package ident

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
)

// ColumnKeyPrefix starts every generated column key.
const ColumnKeyPrefix = "col_"

// UUID generates random version 4 UUIDs for tables and rows.
type UUID struct{}

func (UUID) NewID() string { return uuid.NewString() }

// ColumnKeys generates short keys such as "col_3kTMd9Qa".
type ColumnKeys struct{}

func (ColumnKeys) NewID() string {
	return ColumnKeyPrefix + shortuuid.New()[:8]
}

// Sequence yields prefix-1, prefix-2, ... and is meant for tests that need
// predictable identifiers.
type Sequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

func (s *Sequence) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%d", s.prefix, s.n)
}
