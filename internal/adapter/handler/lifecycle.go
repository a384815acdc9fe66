package handler

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/core/service"
)

// Lifecycle is the coordinator surface both transports serve.
type Lifecycle interface {
	CreateTransaction(ctx context.Context, req service.PurchaseRequest) (*service.TransactionView, error)
	SubmitPaymentEvidence(ctx context.Context, transactionID uuid.UUID, proof, method string) (*service.TransactionView, error)
	ConfirmReconciliation(ctx context.Context, invoiceID uuid.UUID, matchedAmount int64) (*service.ReconcileOutcome, error)
	AttachShipment(ctx context.Context, transactionID uuid.UUID, carrier, tracking string) (*service.TransactionView, error)
	CorrectShipment(ctx context.Context, transactionID uuid.UUID, carrier, tracking string) (*service.TransactionView, error)
	ConfirmReceipt(ctx context.Context, transactionID uuid.UUID) (*service.TransactionView, error)
	CancelTransaction(ctx context.Context, transactionID uuid.UUID) (*service.TransactionView, error)
	GetTransaction(ctx context.Context, transactionID uuid.UUID) (*service.TransactionView, error)
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error)
	GetInvoice(ctx context.Context, invoiceID uuid.UUID) (*domain.Invoice, error)

	CreateProduct(ctx context.Context, params service.CreateProductParams) (*domain.Product, error)
	UpdateProduct(ctx context.Context, id uuid.UUID, patch service.UpdateProductParams) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id uuid.UUID) error
	GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]*domain.Product, error)
	Availability(ctx context.Context, id uuid.UUID) (*domain.Availability, error)
}

var _ Lifecycle = (*service.LifecycleService)(nil)

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q is not a valid id", domain.ErrInvalidInput, s)
	}
	return id, nil
}

// kindName is the stable machine-readable name of an error's taxonomy kind.
func kindName(err error) string {
	switch domain.Kind(err) {
	case domain.ErrNotFound:
		return "not_found"
	case domain.ErrInvalidInput:
		return "invalid_input"
	case domain.ErrUnavailable:
		return "unavailable"
	case domain.ErrInsufficientQuantity:
		return "insufficient_quantity"
	case domain.ErrConflict:
		return "conflict"
	case domain.ErrInvalidTransition:
		return "invalid_transition"
	case domain.ErrAlreadyAdvanced:
		return "already_advanced"
	case domain.ErrPreconditionFailed:
		return "precondition_failed"
	case domain.ErrCodeGenerationFailed:
		return "code_generation_failed"
	default:
		return "internal"
	}
}
