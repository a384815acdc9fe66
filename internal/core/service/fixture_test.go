package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/marketplace/internal/adapter/storage/memory"
	"github.com/rl1809/marketplace/internal/core/domain"
)

var testStart = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

var testLedgerConfig = LedgerConfig{
	MaxQuantity:        10,
	MaxResubmissions:   2,
	PaymentWindow:      time.Hour,
	VerificationWindow: 30 * time.Minute,
	ReceiptWindow:      72 * time.Hour,
	ConflictRetries:    3,
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingEmitter) Emit(event domain.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return true
}

func (r *recordingEmitter) types(txID uuid.UUID) []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.EventType
	for _, e := range r.events {
		if e.TransactionID == txID {
			out = append(out, e.Type)
		}
	}
	return out
}

type fixture struct {
	store      *memory.Store
	clock      *testClock
	events     *recordingEmitter
	catalog    *CatalogService
	ledger     *LedgerService
	reconciler *ReconcilerService
	shipments  *ShipmentService
	lifecycle  *LifecycleService
	sweeper    *Sweeper

	seller  uuid.UUID
	buyer   uuid.UUID
	address uuid.UUID
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	clock := &testClock{t: testStart}
	events := &recordingEmitter{}
	logger := discardLogger()

	catalog := NewCatalogService(store, store, 3, logger)
	ledger := NewLedgerService(store, catalog, events, testLedgerConfig, logger)
	reconciler := NewReconcilerService(store, ledger, ReconcilerConfig{CodeRetries: 3, ConflictRetries: 3}, logger)
	shipments := NewShipmentService(store, ledger, logger)
	lifecycle := NewLifecycleService(LifecycleDeps{
		Catalog:     catalog,
		Ledger:      ledger,
		Reconciler:  reconciler,
		Shipments:   shipments,
		Directory:   store,
		Idempotency: store,
		Events:      events,
	}, logger)
	sweeper := NewSweeper(ledger, reconciler, SweeperConfig{Interval: time.Second, BatchSize: 50, Workers: 4}, logger)

	catalog.now = clock.now
	ledger.now = clock.now
	reconciler.now = clock.now
	lifecycle.now = clock.now
	sweeper.now = clock.now

	f := &fixture{
		store:      store,
		clock:      clock,
		events:     events,
		catalog:    catalog,
		ledger:     ledger,
		reconciler: reconciler,
		shipments:  shipments,
		lifecycle:  lifecycle,
		sweeper:    sweeper,
		seller:     uuid.New(),
		buyer:      uuid.New(),
		address:    uuid.New(),
	}
	store.AddUser(domain.User{ID: f.seller, Name: "seller"})
	store.AddUser(domain.User{ID: f.buyer, Name: "buyer"})
	store.AddAddress(domain.UserAddress{ID: f.address, UserID: f.buyer, Name: "home", Address: "Jl. Merdeka 1"})
	return f
}

// newProduct lists an active product offered for the whole of March 2026.
func (f *fixture) newProduct(t *testing.T, stock int, price int64) *domain.Product {
	t.Helper()

	p, err := f.catalog.CreateProduct(context.Background(), CreateProductParams{
		SellerID:  f.seller,
		CountryID: uuid.New(),
		Title:     "Batik shirt",
		Price:     price,
		Stock:     stock,
		Status:    domain.ProductStatusActive,
		FromDate:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		ToDate:    time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) stock(t *testing.T, productID uuid.UUID) int {
	t.Helper()

	p, err := f.store.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

// purchase runs createTransaction for quantity units and returns the view.
func (f *fixture) purchase(t *testing.T, productID uuid.UUID, quantity int) *TransactionView {
	t.Helper()

	view, err := f.lifecycle.CreateTransaction(context.Background(), PurchaseRequest{
		BuyerID:   f.buyer,
		ProductID: productID,
		AddressID: f.address,
		Quantity:  quantity,
	})
	require.NoError(t, err)
	return view
}

// verifying takes a fresh purchase into Verifying.
func (f *fixture) verifying(t *testing.T, productID uuid.UUID) *TransactionView {
	t.Helper()

	view := f.purchase(t, productID, 1)
	view, err := f.lifecycle.SubmitPaymentEvidence(context.Background(), view.Transaction.ID, "receipt-001.jpg", "bank_transfer")
	require.NoError(t, err)
	return view
}

// paid takes a fresh purchase into Paid.
func (f *fixture) paid(t *testing.T, productID uuid.UUID) *TransactionView {
	t.Helper()

	view := f.verifying(t, productID)
	outcome, err := f.lifecycle.ConfirmReconciliation(context.Background(), view.Invoice.ID, view.Invoice.CodedPrice)
	require.NoError(t, err)
	require.Equal(t, domain.ReconcilePaid, outcome.Result)
	return &TransactionView{Transaction: outcome.Transaction, Invoice: outcome.Invoice}
}
