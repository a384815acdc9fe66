package port

import (
	"context"

	"github.com/google/uuid"

	"github.com/rl1809/marketplace/internal/core/domain"
)

// Directory is the read-only view of account data owned by another service.
//
//go:generate mockgen -source=directory.go -destination=mock/directory_mock.go -package=mock
type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetUserAddress(ctx context.Context, id uuid.UUID) (*domain.UserAddress, error)
}
