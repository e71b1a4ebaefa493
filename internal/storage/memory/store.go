// Package memory is a process-local invoice mapping store.
//
// Mappings live only as long as the process: a restart loses every mapping,
// after which the next resolution issues a fresh invoice for each order.
// Use it for single-instance development deployments only.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xenking/crypto-bridge/internal/domain/invoice"
)

// Store implements invoice.Repository over a map.
type Store struct {
	mu   sync.RWMutex
	rows map[string]invoice.Record
	now  func() time.Time
}

var _ invoice.Repository = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{
		rows: make(map[string]invoice.Record),
		now:  time.Now,
	}
}

// Save merges rec into the row under key.
func (s *Store) Save(_ context.Context, key string, rec invoice.Record) (*invoice.Record, error) {
	id := invoice.DocumentID(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	var stored *invoice.Record
	if r, ok := s.rows[id]; ok {
		stored = &r
	}
	out := invoice.Merge(stored, rec, s.now().UTC())
	s.rows[id] = out
	return clone(out), nil
}

// Get returns the row under key.
func (s *Store) Get(_ context.Context, key string) (*invoice.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rows[invoice.DocumentID(key)]
	if !ok {
		return nil, invoice.ErrNotFound
	}
	return clone(r), nil
}

// Delete removes the row under key.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rows, invoice.DocumentID(key))
	return nil
}

// List returns all rows ordered by key.
func (s *Store) List(_ context.Context) ([]invoice.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]invoice.Entry, 0, len(s.rows))
	for id, r := range s.rows {
		key, err := invoice.KeyFromDocumentID(id)
		if err != nil {
			return nil, err
		}
		out = append(out, invoice.Entry{Key: key, Record: *clone(r)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// clone copies r so callers cannot alias the stored Shop pointer.
func clone(r invoice.Record) *invoice.Record {
	if r.Shop != nil {
		shop := *r.Shop
		r.Shop = &shop
	}
	return &r
}
