// Package memory is a single-process storage driver. Every repository method
// runs under one mutex, which gives the same atomicity the MySQL adapter gets
// from conditional updates inside a database transaction.
package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

var (
	_ port.ProductRepository     = (*Store)(nil)
	_ port.ReservationRepository = (*Store)(nil)
	_ port.TransactionRepository = (*Store)(nil)
	_ port.InvoiceRepository     = (*Store)(nil)
	_ port.ShipmentRepository    = (*Store)(nil)
	_ port.Directory             = (*Store)(nil)
	_ port.IdempotencyStore      = (*Store)(nil)
	_ port.EventPublisher        = (*Store)(nil)
)

const defaultClaimTTL = 24 * time.Hour

type claim struct {
	value     string
	expiresAt time.Time
}

type Store struct {
	mu sync.Mutex

	products     map[uuid.UUID]domain.Product
	reservations map[uuid.UUID]domain.Reservation
	transactions map[uuid.UUID]domain.Transaction
	invoices     map[uuid.UUID]domain.Invoice
	invoiceByTx  map[uuid.UUID]uuid.UUID
	invoiceCodes map[string]uuid.UUID
	shipments    map[uuid.UUID]domain.Shipment
	users        map[uuid.UUID]domain.User
	addresses    map[uuid.UUID]domain.UserAddress
	claims       map[string]claim
	events       []domain.Event

	claimTTL time.Duration
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		products:     make(map[uuid.UUID]domain.Product),
		reservations: make(map[uuid.UUID]domain.Reservation),
		transactions: make(map[uuid.UUID]domain.Transaction),
		invoices:     make(map[uuid.UUID]domain.Invoice),
		invoiceByTx:  make(map[uuid.UUID]uuid.UUID),
		invoiceCodes: make(map[string]uuid.UUID),
		shipments:    make(map[uuid.UUID]domain.Shipment),
		users:        make(map[uuid.UUID]domain.User),
		addresses:    make(map[uuid.UUID]domain.UserAddress),
		claims:       make(map[string]claim),
		claimTTL:     defaultClaimTTL,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetClaimTTL overrides how long idempotency claims are remembered.
func (s *Store) SetClaimTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimTTL = ttl
}
