package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

// LifecycleService sequences catalog, ledger, reconciler and shipment calls
// into the purchase flow and is the only place errors leave the core. It
// keeps no state between requests.
type LifecycleService struct {
	catalog     *CatalogService
	ledger      *LedgerService
	reconciler  *ReconcilerService
	shipments   *ShipmentService
	directory   port.Directory
	idempotency port.IdempotencyStore
	events      Emitter
	logger      *slog.Logger
	now         func() time.Time
}

type LifecycleDeps struct {
	Catalog     *CatalogService
	Ledger      *LedgerService
	Reconciler  *ReconcilerService
	Shipments   *ShipmentService
	Directory   port.Directory
	Idempotency port.IdempotencyStore // optional
	Events      Emitter               // optional
}

func NewLifecycleService(deps LifecycleDeps, logger *slog.Logger) *LifecycleService {
	return &LifecycleService{
		catalog:     deps.Catalog,
		ledger:      deps.Ledger,
		reconciler:  deps.Reconciler,
		shipments:   deps.Shipments,
		directory:   deps.Directory,
		idempotency: deps.Idempotency,
		events:      deps.Events,
		logger:      orDefault(logger),
		now:         utcNow,
	}
}

type PurchaseRequest struct {
	// RequestID is an optional client token; repeating it returns the
	// transaction created by the first request.
	RequestID string
	BuyerID   uuid.UUID
	ProductID uuid.UUID
	AddressID uuid.UUID
	Quantity  int
	Notes     string
}

// TransactionView is a transaction together with its invoice and shipment.
type TransactionView struct {
	Transaction *domain.Transaction
	Invoice     *domain.Invoice
	Shipment    *domain.Shipment
}

func (s *LifecycleService) validate(req PurchaseRequest) error {
	if req.BuyerID == uuid.Nil || req.ProductID == uuid.Nil || req.AddressID == uuid.Nil {
		return fmt.Errorf("%w: buyer, product and address are required", domain.ErrInvalidInput)
	}
	if err := s.ledger.checkQuantity(req.Quantity); err != nil {
		return err
	}
	if len(req.Notes) > domain.MaxNotesLength {
		return fmt.Errorf("%w: notes exceed %d characters", domain.ErrInvalidInput, domain.MaxNotesLength)
	}
	return nil
}

func (s *LifecycleService) CreateTransaction(ctx context.Context, req PurchaseRequest) (*TransactionView, error) {
	const op = "createTransaction"

	if err := s.validate(req); err != nil {
		return nil, domain.NewOpError(op, err)
	}

	if req.RequestID != "" && s.idempotency != nil {
		key := fmt.Sprintf("purchase:%s:%s", req.BuyerID, req.RequestID)
		value, claimed, err := s.idempotency.Claim(ctx, key)
		if err != nil {
			return nil, domain.NewOpError(op, fmt.Errorf("claim request %s: %w", req.RequestID, err))
		}
		if !claimed {
			return s.replay(ctx, op, req.RequestID, value)
		}

		view, err := s.purchase(ctx, req)
		if err != nil {
			if abandonErr := s.idempotency.Abandon(ctx, key); abandonErr != nil {
				s.logger.Warn("abandon request claim failed", slog.String("request_id", req.RequestID), slog.Any("error", abandonErr))
			}
			return nil, domain.NewOpError(op, err)
		}
		if err := s.idempotency.Complete(ctx, key, view.Transaction.ID.String()); err != nil {
			s.logger.Warn("complete request claim failed", slog.String("request_id", req.RequestID), slog.Any("error", err))
		}
		return view, nil
	}

	view, err := s.purchase(ctx, req)
	if err != nil {
		return nil, domain.NewOpError(op, err)
	}
	return view, nil
}

func (s *LifecycleService) replay(ctx context.Context, op, requestID, value string) (*TransactionView, error) {
	if value == "" {
		return nil, domain.NewOpError(op, fmt.Errorf("%w: request %s is still in flight", domain.ErrConflict, requestID))
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return nil, domain.NewOpError(op, fmt.Errorf("stored result of request %s: %w", requestID, err))
	}
	s.logger.Debug("replaying purchase request", slog.String("request_id", requestID), idAttr("transaction_id", id))
	view, err := s.view(ctx, id)
	return view, domain.NewOpError(op, err)
}

func (s *LifecycleService) purchase(ctx context.Context, req PurchaseRequest) (*TransactionView, error) {
	if _, err := s.directory.GetUser(ctx, req.BuyerID); err != nil {
		return nil, loadErr(err, "buyer", req.BuyerID)
	}
	address, err := s.directory.GetUserAddress(ctx, req.AddressID)
	if err != nil {
		return nil, loadErr(err, "address", req.AddressID)
	}
	if address.UserID != req.BuyerID {
		return nil, fmt.Errorf("%w: address %s does not belong to buyer %s", domain.ErrPreconditionFailed, req.AddressID, req.BuyerID)
	}

	product, err := s.catalog.products.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, loadErr(err, "product", req.ProductID)
	}
	if product.SellerID == req.BuyerID {
		return nil, fmt.Errorf("%w: sellers cannot buy their own product", domain.ErrPreconditionFailed)
	}

	res, err := s.catalog.Reserve(ctx, req.ProductID, req.Quantity, s.now())
	if err != nil {
		return nil, err
	}

	tx, err := s.ledger.Create(ctx, CreateTransactionParams{
		Reservation:    res,
		BuyerID:        req.BuyerID,
		SellerID:       product.SellerID,
		BuyerAddressID: req.AddressID,
		Notes:          req.Notes,
	})
	if err != nil {
		if releaseErr := s.catalog.Release(ctx, res.ID); releaseErr != nil {
			s.logger.Error("CRITICAL: release after failed create",
				idAttr("reservation_id", res.ID), slog.Any("error", releaseErr))
		} else {
			s.logger.Info("rolled back reservation", idAttr("reservation_id", res.ID))
		}
		return nil, err
	}

	inv, err := s.reconciler.Issue(ctx, tx)
	if err != nil {
		if _, cancelErr := s.ledger.Cancel(ctx, tx.ID); cancelErr != nil {
			s.logger.Error("cancel after failed invoice issue",
				idAttr("transaction_id", tx.ID), slog.Any("error", cancelErr))
		}
		return nil, err
	}

	tx, err = s.ledger.AwaitPayment(ctx, tx.ID)
	if err != nil {
		return nil, err
	}

	if s.events != nil {
		s.events.Emit(domain.NewTransactionEvent(domain.EventTransactionCreated, tx, s.now()))
	}
	return &TransactionView{Transaction: tx, Invoice: inv}, nil
}

func (s *LifecycleService) SubmitPaymentEvidence(ctx context.Context, transactionID uuid.UUID, proof, method string) (*TransactionView, error) {
	const op = "submitPaymentEvidence"

	inv, err := s.reconciler.InvoiceForTransaction(ctx, transactionID)
	if err != nil {
		return nil, domain.NewOpError(op, err)
	}
	inv, tx, err := s.reconciler.SubmitPayment(ctx, inv.ID, proof, method)
	if err != nil {
		return nil, domain.NewOpError(op, err)
	}
	return &TransactionView{Transaction: tx, Invoice: inv}, nil
}

// ConfirmReconciliation is called by the payment-verification collaborator
// with the amount it matched against the invoice.
func (s *LifecycleService) ConfirmReconciliation(ctx context.Context, invoiceID uuid.UUID, matchedAmount int64) (*ReconcileOutcome, error) {
	outcome, err := s.reconciler.Reconcile(ctx, invoiceID, matchedAmount)
	if err != nil {
		return nil, domain.NewOpError("confirmReconciliation", err)
	}
	return outcome, nil
}

func (s *LifecycleService) AttachShipment(ctx context.Context, transactionID uuid.UUID, carrier, tracking string) (*TransactionView, error) {
	shipment, tx, err := s.shipments.Attach(ctx, transactionID, carrier, tracking)
	if err != nil {
		return nil, domain.NewOpError("attachShipment", err)
	}
	return &TransactionView{Transaction: tx, Shipment: shipment}, nil
}

func (s *LifecycleService) CorrectShipment(ctx context.Context, transactionID uuid.UUID, carrier, tracking string) (*TransactionView, error) {
	const op = "correctShipment"

	shipment, err := s.shipments.Correct(ctx, transactionID, carrier, tracking)
	if err != nil {
		return nil, domain.NewOpError(op, err)
	}
	tx, err := s.ledger.Get(ctx, transactionID)
	if err != nil {
		return nil, domain.NewOpError(op, err)
	}
	return &TransactionView{Transaction: tx, Shipment: shipment}, nil
}

func (s *LifecycleService) ConfirmReceipt(ctx context.Context, transactionID uuid.UUID) (*TransactionView, error) {
	tx, err := s.ledger.Complete(ctx, transactionID)
	if err != nil {
		return nil, domain.NewOpError("confirmReceipt", err)
	}
	return &TransactionView{Transaction: tx}, nil
}

func (s *LifecycleService) CancelTransaction(ctx context.Context, transactionID uuid.UUID) (*TransactionView, error) {
	tx, err := s.ledger.Cancel(ctx, transactionID)
	if err != nil {
		return nil, domain.NewOpError("cancelTransaction", err)
	}
	return &TransactionView{Transaction: tx}, nil
}

func (s *LifecycleService) GetTransaction(ctx context.Context, transactionID uuid.UUID) (*TransactionView, error) {
	view, err := s.view(ctx, transactionID)
	if err != nil {
		return nil, domain.NewOpError("getTransaction", err)
	}
	return view, nil
}

func (s *LifecycleService) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	txs, err := s.ledger.List(ctx, filter)
	if err != nil {
		return nil, domain.NewOpError("listTransactions", err)
	}
	return txs, nil
}

func (s *LifecycleService) GetInvoice(ctx context.Context, invoiceID uuid.UUID) (*domain.Invoice, error) {
	inv, err := s.reconciler.Invoice(ctx, invoiceID)
	if err != nil {
		return nil, domain.NewOpError("getInvoice", err)
	}
	return inv, nil
}

func (s *LifecycleService) CreateProduct(ctx context.Context, params CreateProductParams) (*domain.Product, error) {
	p, err := s.catalog.CreateProduct(ctx, params)
	return p, domain.NewOpError("createProduct", err)
}

func (s *LifecycleService) UpdateProduct(ctx context.Context, id uuid.UUID, patch UpdateProductParams) (*domain.Product, error) {
	p, err := s.catalog.UpdateProduct(ctx, id, patch)
	return p, domain.NewOpError("updateProduct", err)
}

func (s *LifecycleService) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	return domain.NewOpError("deleteProduct", s.catalog.DeleteProduct(ctx, id))
}

func (s *LifecycleService) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	p, err := s.catalog.GetProduct(ctx, id)
	return p, domain.NewOpError("getProduct", err)
}

func (s *LifecycleService) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]*domain.Product, error) {
	ps, err := s.catalog.ListProducts(ctx, filter)
	return ps, domain.NewOpError("listProducts", err)
}

func (s *LifecycleService) Availability(ctx context.Context, id uuid.UUID) (*domain.Availability, error) {
	a, err := s.catalog.Availability(ctx, id, s.now())
	return a, domain.NewOpError("availability", err)
}

func (s *LifecycleService) view(ctx context.Context, id uuid.UUID) (*TransactionView, error) {
	tx, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &TransactionView{Transaction: tx}

	view.Invoice, err = s.reconciler.InvoiceForTransaction(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	view.Shipment, err = s.shipments.Get(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return view, nil
}
