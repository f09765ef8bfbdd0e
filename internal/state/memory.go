package state

import (
	"context"
	"sync"

	"github.com/strata-io/strata/internal/ir"
)

// MemoryStore is an in-process Store for tests and throwaway runs.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]*ir.Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]*ir.Record)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*ir.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[key]
	if !ok {
		return nil, false, nil
	}
	cp := *rec
	return &cp, true, nil
}

func (s *MemoryStore) Put(ctx context.Context, rec *ir.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.recs[rec.Key] = &cp
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, key)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*ir.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make([]*ir.Record, 0, len(s.recs))
	for _, rec := range s.recs {
		cp := *rec
		recs = append(recs, &cp)
	}
	return recs, nil
}

func (s *MemoryStore) Close() error { return nil }
