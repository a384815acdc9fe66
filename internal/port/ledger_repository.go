package port

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/marketplace/internal/core/domain"
)

//go:generate mockgen -source=ledger_repository.go -destination=mock/ledger_repository_mock.go -package=mock
type TransactionRepository interface {
	// CreateTransaction consumes the held reservation and inserts the transaction
	// atomically. ErrOptimisticLock if the reservation is not held
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error

	// GetTransaction retrieves a transaction by ID
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)

	// UpdateTransaction writes status, deadlines and set-once timestamps with a
	// version check. On success tx.Version is advanced
	UpdateTransaction(ctx context.Context, tx *domain.Transaction, expectedVersion int) error

	// ListTransactions returns transactions matching the filter, newest first
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error)

	// ListExpired returns transactions in sweepable statuses whose deadline is at or before asOf
	ListExpired(ctx context.Context, asOf time.Time, limit int) ([]*domain.Transaction, error)
}
