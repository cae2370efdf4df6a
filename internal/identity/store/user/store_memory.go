package user

import (
	"context"
	"fmt"
	"sync"

	"gatehouse/internal/identity"
	"gatehouse/pkg/domain"
	"gatehouse/pkg/platform/sentinel"
)

// InMemoryUserStore indexes users by id and by lower-cased email.
type InMemoryUserStore struct {
	mu      sync.RWMutex
	users   map[domain.UserID]*identity.User
	byEmail map[string]domain.UserID
}

func New() *InMemoryUserStore {
	return &InMemoryUserStore{
		users:   make(map[domain.UserID]*identity.User),
		byEmail: make(map[string]domain.UserID),
	}
}

// Save inserts or replaces u. An email already held by another user is a
// conflict.
func (s *InMemoryUserStore) Save(_ context.Context, u *identity.User) error {
	if u == nil || u.ID == "" {
		return fmt.Errorf("save user: id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.byEmail[u.Email]; ok && owner != u.ID {
		return fmt.Errorf("save user %s: %w", u.ID, sentinel.ErrConflict)
	}
	if prev, ok := s.users[u.ID]; ok && prev.Email != u.Email {
		delete(s.byEmail, prev.Email)
	}
	s.users[u.ID] = u
	s.byEmail[u.Email] = u.ID
	return nil
}

func (s *InMemoryUserStore) FindByID(_ context.Context, id domain.UserID) (*identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user %s: %w", id, sentinel.ErrNotFound)
}

func (s *InMemoryUserStore) FindByEmail(_ context.Context, email string) (*identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.byEmail[email]; ok {
		return s.users[id], nil
	}
	return nil, fmt.Errorf("user by email: %w", sentinel.ErrNotFound)
}

// Delete removes the user and frees their email.
func (s *InMemoryUserStore) Delete(_ context.Context, id domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, sentinel.ErrNotFound)
	}
	delete(s.byEmail, u.Email)
	delete(s.users, id)
	return nil
}
