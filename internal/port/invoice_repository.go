package port

import (
	"context"

	"github.com/google/uuid"

	"github.com/rl1809/marketplace/internal/core/domain"
)

type InvoiceRepository interface {
	// CreateInvoice inserts a new invoice. ErrDuplicate if the transaction
	// already has one, ErrInvoiceCodeTaken if the code collides
	CreateInvoice(ctx context.Context, invoice *domain.Invoice) error

	// GetInvoice retrieves an invoice by ID
	GetInvoice(ctx context.Context, id uuid.UUID) (*domain.Invoice, error)

	// GetInvoiceByTransaction retrieves the invoice issued for a transaction
	GetInvoiceByTransaction(ctx context.Context, transactionID uuid.UUID) (*domain.Invoice, error)

	// InvoiceCodeExists checks the uniqueness index before insert
	InvoiceCodeExists(ctx context.Context, code string) (bool, error)

	// UpdateInvoice writes status, evidence and paid_at with a version check
	UpdateInvoice(ctx context.Context, invoice *domain.Invoice, expectedVersion int) error
}
