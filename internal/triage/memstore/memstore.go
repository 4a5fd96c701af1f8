// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/linnemanlabs/cohacker/internal/triage"
)

// Store holds triage records in memory. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	records map[string]*triage.Record // triage ID -> record
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		records: make(map[string]*triage.Record),
	}
}

// Get retrieves a triage record by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*triage.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, false, nil
	}
	return clone(r), true, nil
}

// Put stores a copy of the triage record, replacing any previous version.
func (s *Store) Put(_ context.Context, r *triage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ID] = clone(r)
	return nil
}

// List returns up to limit records, newest first. A non-positive limit returns all.
func (s *Store) List(_ context.Context, limit int) ([]*triage.Record, error) {
	s.mu.RLock()
	out := make([]*triage.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, clone(r))
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *triage.Record) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// clone copies r deeply enough that callers cannot mutate stored state.
func clone(r *triage.Record) *triage.Record {
	cp := *r
	cp.Path = slices.Clone(r.Path)
	if r.Outcome != nil {
		o := *r.Outcome
		if o.Vulnerability != nil {
			v := *o.Vulnerability
			o.Vulnerability = &v
		}
		cp.Outcome = &o
	}
	return &cp
}
