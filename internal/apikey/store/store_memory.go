// Package store holds the API key record stores read by the resolver.
package store

import (
	"context"
	"fmt"
	"sync"

	"gatehouse/pkg/domain"
	"gatehouse/pkg/platform/sentinel"
)

// InMemoryStore is a process-local key store used for development and tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[domain.APIKeyID]*domain.APIKeyRecord
}

func NewInMemory(records ...*domain.APIKeyRecord) *InMemoryStore {
	s := &InMemoryStore{records: make(map[domain.APIKeyID]*domain.APIKeyRecord, len(records))}
	for _, r := range records {
		if r != nil {
			s.records[r.ID] = r
		}
	}
	return s
}

func (s *InMemoryStore) FindByID(_ context.Context, id domain.APIKeyID) (*domain.APIKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("api key %s: %w", id, sentinel.ErrNotFound)
	}
	return rec, nil
}

// Save inserts or replaces a record.
func (s *InMemoryStore) Save(_ context.Context, rec *domain.APIKeyRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("api key record with id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, id domain.APIKeyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.records, id)
	return nil
}
