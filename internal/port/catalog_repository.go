package port

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/marketplace/internal/core/domain"
)

type ProductRepository interface {
	// CreateProduct persists a new product and fills ID, Version and timestamps
	CreateProduct(ctx context.Context, product *domain.Product) error

	// GetProduct returns the product including tombstoned ones, ErrNotFound if absent
	GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error)

	// UpdateProduct writes seller-mutable fields guarded by the expected version
	UpdateProduct(ctx context.Context, product *domain.Product, expectedVersion int) error

	// ListProducts returns products matching the filter, newest first
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]*domain.Product, error)
}

type ReservationRepository interface {
	// Reserve decrements product stock and records the held reservation in one
	// atomic step. The decrement is guarded by status, tombstone, window and
	// stock; ErrOptimisticLock if the guard fails
	Reserve(ctx context.Context, reservation *domain.Reservation, asOf time.Time) error

	// GetReservation retrieves a reservation token by ID
	GetReservation(ctx context.Context, id uuid.UUID) (*domain.Reservation, error)

	// ReleaseReservation moves a held or consumed reservation to released and
	// restores stock. Returns false when it was already released
	ReleaseReservation(ctx context.Context, id uuid.UUID) (bool, error)
}
