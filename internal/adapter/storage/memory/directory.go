package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

// AddUser seeds reference data owned by the account service.
func (s *Store) AddUser(user domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

func (s *Store) AddAddress(address domain.UserAddress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addresses[address.ID] = address
}

func (s *Store) GetUser(_ context.Context, id uuid.UUID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	return &u, nil
}

func (s *Store) GetUserAddress(_ context.Context, id uuid.UUID) (*domain.UserAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.addresses[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	return &a, nil
}

func (s *Store) CreateUser(_ context.Context, user *domain.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	s.AddUser(*user)
	return nil
}

func (s *Store) CreateUserAddress(_ context.Context, address *domain.UserAddress) error {
	if address.ID == uuid.Nil {
		address.ID = uuid.New()
	}
	if address.CreatedAt.IsZero() {
		address.CreatedAt = s.now()
	}
	s.AddAddress(*address)
	return nil
}
