package user

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"gatehouse/internal/identity"
	"gatehouse/pkg/domain"
	"gatehouse/pkg/platform/sentinel"
)

type InMemoryUserStoreSuite struct {
	suite.Suite
	store *InMemoryUserStore
	ctx   context.Context
}

func TestInMemoryUserStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryUserStoreSuite))
}

func (s *InMemoryUserStoreSuite) SetupTest() {
	s.store = New()
	s.ctx = context.Background()
}

func newUser(email string) *identity.User {
	return &identity.User{ID: domain.UserID(uuid.NewString()), Email: email}
}

func (s *InMemoryUserStoreSuite) TestLookup() {
	u := newUser("jane.doe@example.com")
	s.Require().NoError(s.store.Save(s.ctx, u))

	s.Run("by id", func() {
		found, err := s.store.FindByID(s.ctx, u.ID)
		s.Require().NoError(err)
		s.Equal(u, found)
	})

	s.Run("by email", func() {
		found, err := s.store.FindByEmail(s.ctx, "jane.doe@example.com")
		s.Require().NoError(err)
		s.Equal(u, found)
	})

	s.Run("missing id and email are ErrNotFound", func() {
		_, err := s.store.FindByID(s.ctx, "nope")
		s.ErrorIs(err, sentinel.ErrNotFound)
		_, err = s.store.FindByEmail(s.ctx, "missing@example.com")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryUserStoreSuite) TestEmailUniqueness() {
	first := newUser("taken@example.com")
	s.Require().NoError(s.store.Save(s.ctx, first))

	err := s.store.Save(s.ctx, newUser("taken@example.com"))
	s.ErrorIs(err, sentinel.ErrConflict)

	s.Run("changing email frees the old one", func() {
		s.Require().NoError(s.store.Save(s.ctx, &identity.User{ID: first.ID, Email: "moved@example.com"}))
		s.NoError(s.store.Save(s.ctx, newUser("taken@example.com")))
	})
}

func (s *InMemoryUserStoreSuite) TestDelete() {
	u := newUser("delete.me@example.com")
	s.Require().NoError(s.store.Save(s.ctx, u))
	s.Require().NoError(s.store.Delete(s.ctx, u.ID))

	_, err := s.store.FindByEmail(s.ctx, u.Email)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.Delete(s.ctx, u.ID), sentinel.ErrNotFound)
	s.NoError(s.store.Save(s.ctx, newUser(u.Email)))
}

func (s *InMemoryUserStoreSuite) TestSaveRequiresID() {
	s.Error(s.store.Save(s.ctx, &identity.User{Email: "x@example.com"}))
	s.Error(s.store.Save(s.ctx, nil))
}
