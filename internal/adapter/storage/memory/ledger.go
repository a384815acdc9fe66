package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

func (s *Store) CreateTransaction(_ context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if _, ok := s.transactions[tx.ID]; ok {
		return port.ErrDuplicate
	}
	r, ok := s.reservations[tx.ReservationID]
	if !ok {
		return port.ErrNotFound
	}
	if r.State != domain.ReservationHeld {
		return port.ErrOptimisticLock
	}

	now := s.now()
	id := tx.ID
	r.State = domain.ReservationConsumed
	r.TransactionID = &id
	r.UpdatedAt = now
	s.reservations[r.ID] = r

	tx.Version = 1
	tx.CreatedAt = now
	tx.UpdatedAt = now
	s.transactions[tx.ID] = *tx
	return nil
}

func (s *Store) GetTransaction(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	return &tx, nil
}

func (s *Store) UpdateTransaction(_ context.Context, tx *domain.Transaction, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.transactions[tx.ID]
	if !ok {
		return port.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return port.ErrOptimisticLock
	}

	cur.Status = tx.Status
	cur.Rejections = tx.Rejections
	cur.ExpiresAt = tx.ExpiresAt
	if cur.PaidAt == nil {
		cur.PaidAt = tx.PaidAt
	}
	if cur.FinishedAt == nil {
		cur.FinishedAt = tx.FinishedAt
	}
	cur.Version = expectedVersion + 1
	cur.UpdatedAt = s.now()
	s.transactions[cur.ID] = cur

	tx.PaidAt = cur.PaidAt
	tx.FinishedAt = cur.FinishedAt
	tx.Version = cur.Version
	tx.UpdatedAt = cur.UpdatedAt
	return nil
}

func (s *Store) ListTransactions(_ context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Transaction
	for _, tx := range s.transactions {
		if filter.BuyerID != uuid.Nil && tx.BuyerID != filter.BuyerID {
			continue
		}
		if filter.SellerID != uuid.Nil && tx.SellerID != filter.SellerID {
			continue
		}
		if filter.ProductID != uuid.Nil && tx.ProductID != filter.ProductID {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		out = append(out, &tx)
	}

	slices.SortFunc(out, func(a, b *domain.Transaction) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return page(out, filter.Limit, filter.Offset), nil
}

func (s *Store) ListExpired(_ context.Context, asOf time.Time, limit int) ([]*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Transaction
	for _, tx := range s.transactions {
		if !slices.Contains(domain.SweepableStatuses, tx.Status) || !tx.Expired(asOf) {
			continue
		}
		out = append(out, &tx)
	}

	slices.SortFunc(out, func(a, b *domain.Transaction) int {
		return a.ExpiresAt.Compare(*b.ExpiresAt)
	})
	return page(out, limit, 0), nil
}

func (s *Store) CreateInvoice(_ context.Context, invoice *domain.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invoiceByTx[invoice.TransactionID]; ok {
		return port.ErrDuplicate
	}
	if _, ok := s.invoiceCodes[invoice.Code]; ok {
		return port.ErrInvoiceCodeTaken
	}
	if invoice.ID == uuid.Nil {
		invoice.ID = uuid.New()
	}

	now := s.now()
	invoice.Version = 1
	invoice.CreatedAt = now
	invoice.UpdatedAt = now
	s.invoices[invoice.ID] = *invoice
	s.invoiceByTx[invoice.TransactionID] = invoice.ID
	s.invoiceCodes[invoice.Code] = invoice.ID
	return nil
}

func (s *Store) GetInvoice(_ context.Context, id uuid.UUID) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	return &inv, nil
}

func (s *Store) GetInvoiceByTransaction(_ context.Context, transactionID uuid.UUID) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.invoiceByTx[transactionID]
	if !ok {
		return nil, port.ErrNotFound
	}
	inv := s.invoices[id]
	return &inv, nil
}

func (s *Store) InvoiceCodeExists(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.invoiceCodes[code]
	return ok, nil
}

func (s *Store) UpdateInvoice(_ context.Context, invoice *domain.Invoice, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.invoices[invoice.ID]
	if !ok {
		return port.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return port.ErrOptimisticLock
	}

	cur.Status = invoice.Status
	cur.ReceiptProof = invoice.ReceiptProof
	cur.PaymentMethod = invoice.PaymentMethod
	if cur.PaidAt == nil {
		cur.PaidAt = invoice.PaidAt
	}
	cur.Version = expectedVersion + 1
	cur.UpdatedAt = s.now()
	s.invoices[cur.ID] = cur

	invoice.PaidAt = cur.PaidAt
	invoice.Version = cur.Version
	invoice.UpdatedAt = cur.UpdatedAt
	return nil
}

func (s *Store) CreateShipment(_ context.Context, shipment *domain.Shipment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.shipments[shipment.TransactionID]; ok {
		return port.ErrDuplicate
	}
	now := s.now()
	shipment.CreatedAt = now
	shipment.UpdatedAt = now
	s.shipments[shipment.TransactionID] = *shipment
	return nil
}

func (s *Store) GetShipment(_ context.Context, transactionID uuid.UUID) (*domain.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shipments[transactionID]
	if !ok {
		return nil, port.ErrNotFound
	}
	return &sh, nil
}

func (s *Store) UpdateShipment(_ context.Context, shipment *domain.Shipment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.shipments[shipment.TransactionID]
	if !ok {
		return port.ErrNotFound
	}
	cur.Carrier = shipment.Carrier
	cur.TrackingNumber = shipment.TrackingNumber
	cur.UpdatedAt = s.now()
	s.shipments[cur.TransactionID] = cur

	shipment.CreatedAt = cur.CreatedAt
	shipment.UpdatedAt = cur.UpdatedAt
	return nil
}
