package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/marketplace?parseTime=true"
	}

	db, err := OpenMySQL(context.Background(), dsn, 20, 10, time.Minute)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	return db
}

func newTestAdapter(t *testing.T) (*MySQLAdapter, *sql.DB) {
	db := getMySQLDB(t)
	t.Cleanup(func() { db.Close() })

	adapter := NewMySQLAdapter(db)
	if err := adapter.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return adapter, db
}

func seedProduct(t *testing.T, adapter *MySQLAdapter, stock int) *domain.Product {
	today := domain.DateOf(time.Now())
	p := &domain.Product{
		Title:     "test product",
		Price:     2500,
		SellerID:  uuid.New(),
		CountryID: uuid.New(),
		Stock:     stock,
		Status:    domain.ProductStatusActive,
		FromDate:  today.AddDate(0, 0, -1),
		ToDate:    today.AddDate(0, 0, 1),
	}
	if err := adapter.CreateProduct(context.Background(), p); err != nil {
		t.Fatalf("CreateProduct failed: %v", err)
	}
	return p
}

func reserve(t *testing.T, adapter *MySQLAdapter, p *domain.Product, qty int) *domain.Reservation {
	r := &domain.Reservation{ProductID: p.ID, Quantity: qty, UnitPrice: p.Price}
	if err := adapter.Reserve(context.Background(), r, time.Now()); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	return r
}

func TestReserve_DecrementsStock(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()
	p := seedProduct(t, adapter, 10)

	r := reserve(t, adapter, p, 3)
	if r.State != domain.ReservationHeld {
		t.Errorf("expected held reservation, got %s", r.State)
	}

	got, err := adapter.GetProduct(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProduct failed: %v", err)
	}
	if got.Stock != 7 {
		t.Errorf("expected stock 7, got %d", got.Stock)
	}
	if got.Version != 2 {
		t.Errorf("expected version 2, got %d", got.Version)
	}
}

func TestReserve_InsufficientStock(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	p := seedProduct(t, adapter, 2)

	r := &domain.Reservation{ProductID: p.ID, Quantity: 3, UnitPrice: p.Price}
	err := adapter.Reserve(context.Background(), r, time.Now())
	if !errors.Is(err, port.ErrOptimisticLock) {
		t.Errorf("expected ErrOptimisticLock, got %v", err)
	}
}

func TestReserve_OutsideWindow(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	p := seedProduct(t, adapter, 5)

	r := &domain.Reservation{ProductID: p.ID, Quantity: 1, UnitPrice: p.Price}
	err := adapter.Reserve(context.Background(), r, time.Now().AddDate(0, 0, 3))
	if !errors.Is(err, port.ErrOptimisticLock) {
		t.Errorf("expected ErrOptimisticLock, got %v", err)
	}
}

func TestReserve_UnknownProduct(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	r := &domain.Reservation{ProductID: uuid.New(), Quantity: 1}
	err := adapter.Reserve(context.Background(), r, time.Now())
	if !errors.Is(err, port.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReserve_Concurrent(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	initialStock := 20
	totalRequests := 50
	p := seedProduct(t, adapter, initialStock)

	var successCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := &domain.Reservation{ProductID: p.ID, Quantity: 1, UnitPrice: p.Price}
			err := adapter.Reserve(ctx, r, time.Now())
			if err == nil {
				successCount.Add(1)
				return
			}
			if !errors.Is(err, port.ErrOptimisticLock) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d successes, got %d", initialStock, successCount.Load())
	}

	got, _ := adapter.GetProduct(ctx, p.ID)
	if got.Stock != 0 {
		t.Errorf("expected stock 0, got %d", got.Stock)
	}
}

func TestReleaseReservation_Idempotent(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()
	p := seedProduct(t, adapter, 5)
	r := reserve(t, adapter, p, 2)

	released, err := adapter.ReleaseReservation(ctx, r.ID)
	if err != nil || !released {
		t.Fatalf("expected first release, got released=%v err=%v", released, err)
	}
	released, err = adapter.ReleaseReservation(ctx, r.ID)
	if err != nil || released {
		t.Fatalf("expected no-op release, got released=%v err=%v", released, err)
	}

	got, _ := adapter.GetProduct(ctx, p.ID)
	if got.Stock != 5 {
		t.Errorf("expected stock 5, got %d", got.Stock)
	}
}

func newTestTransaction(p *domain.Product, r *domain.Reservation) *domain.Transaction {
	expires := time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)
	return &domain.Transaction{
		ProductID:      p.ID,
		BuyerID:        uuid.New(),
		SellerID:       p.SellerID,
		BuyerAddressID: uuid.New(),
		ReservationID:  r.ID,
		Quantity:       r.Quantity,
		TotalPrice:     int64(r.Quantity) * r.UnitPrice,
		Status:         domain.StatusCreated,
		ExpiresAt:      &expires,
	}
}

func TestCreateTransaction_ConsumesReservation(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()
	p := seedProduct(t, adapter, 5)
	r := reserve(t, adapter, p, 1)

	tx := newTestTransaction(p, r)
	if err := adapter.CreateTransaction(ctx, tx); err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}

	got, err := adapter.GetReservation(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetReservation failed: %v", err)
	}
	if got.State != domain.ReservationConsumed {
		t.Errorf("expected consumed, got %s", got.State)
	}
	if got.TransactionID == nil || *got.TransactionID != tx.ID {
		t.Errorf("expected reservation bound to %s, got %v", tx.ID, got.TransactionID)
	}

	// A consumed reservation cannot back a second purchase
	again := newTestTransaction(p, r)
	if err := adapter.CreateTransaction(ctx, again); !errors.Is(err, port.ErrOptimisticLock) {
		t.Errorf("expected ErrOptimisticLock, got %v", err)
	}
}

func TestUpdateTransaction_OptimisticLock(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()
	p := seedProduct(t, adapter, 5)
	tx := newTestTransaction(p, reserve(t, adapter, p, 1))
	if err := adapter.CreateTransaction(ctx, tx); err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}

	stale := *tx
	paidAt := time.Now().UTC().Truncate(time.Microsecond)
	tx.Status = domain.StatusAwaitingPayment
	tx.PaidAt = &paidAt
	if err := adapter.UpdateTransaction(ctx, tx, 1); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	if tx.Version != 2 {
		t.Errorf("expected version 2, got %d", tx.Version)
	}

	stale.Status = domain.StatusCancelled
	if err := adapter.UpdateTransaction(ctx, &stale, 1); !errors.Is(err, port.ErrOptimisticLock) {
		t.Errorf("expected ErrOptimisticLock, got %v", err)
	}

	// paid_at is set-once
	later := paidAt.Add(time.Hour)
	tx.PaidAt = &later
	if err := adapter.UpdateTransaction(ctx, tx, 2); err != nil {
		t.Fatalf("second update failed: %v", err)
	}
	if tx.PaidAt == nil || !tx.PaidAt.Equal(paidAt) {
		t.Errorf("expected paid_at %v to stick, got %v", paidAt, tx.PaidAt)
	}

	missing := &domain.Transaction{ID: uuid.New()}
	if err := adapter.UpdateTransaction(ctx, missing, 1); !errors.Is(err, port.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListExpired(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()
	p := seedProduct(t, adapter, 5)
	tx := newTestTransaction(p, reserve(t, adapter, p, 1))
	if err := adapter.CreateTransaction(ctx, tx); err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}

	found := func(asOf time.Time) bool {
		list, err := adapter.ListExpired(ctx, asOf, 0)
		if err != nil {
			t.Fatalf("ListExpired failed: %v", err)
		}
		for _, got := range list {
			if got.ID == tx.ID {
				return true
			}
		}
		return false
	}

	if found(time.Now()) {
		t.Error("transaction should not be expired yet")
	}
	if !found(tx.ExpiresAt.Add(time.Second)) {
		t.Error("transaction should be expired after its deadline")
	}
}

func TestCreateInvoice_Uniqueness(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()
	code := "INVTEST" + uuid.NewString()[:8]

	first := &domain.Invoice{TransactionID: uuid.New(), Code: code, CodedPrice: 100, Status: domain.InvoiceUnpaid}
	if err := adapter.CreateInvoice(ctx, first); err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}

	exists, err := adapter.InvoiceCodeExists(ctx, code)
	if err != nil || !exists {
		t.Errorf("expected code to exist, got exists=%v err=%v", exists, err)
	}

	sameCode := &domain.Invoice{TransactionID: uuid.New(), Code: code, CodedPrice: 100, Status: domain.InvoiceUnpaid}
	if err := adapter.CreateInvoice(ctx, sameCode); !errors.Is(err, port.ErrInvoiceCodeTaken) {
		t.Errorf("expected ErrInvoiceCodeTaken, got %v", err)
	}

	sameTx := &domain.Invoice{TransactionID: first.TransactionID, Code: code + "X", CodedPrice: 100, Status: domain.InvoiceUnpaid}
	if err := adapter.CreateInvoice(ctx, sameTx); !errors.Is(err, port.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	got, err := adapter.GetInvoiceByTransaction(ctx, first.TransactionID)
	if err != nil {
		t.Fatalf("GetInvoiceByTransaction failed: %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("expected invoice %s, got %s", first.ID, got.ID)
	}
}

func TestShipment_CreateAndCorrect(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	s := &domain.Shipment{TransactionID: uuid.New(), Carrier: "JNE", TrackingNumber: "TRK-1"}
	if err := adapter.CreateShipment(ctx, s); err != nil {
		t.Fatalf("CreateShipment failed: %v", err)
	}
	if err := adapter.CreateShipment(ctx, s); !errors.Is(err, port.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	s.TrackingNumber = "TRK-2"
	if err := adapter.UpdateShipment(ctx, s); err != nil {
		t.Fatalf("UpdateShipment failed: %v", err)
	}
	got, err := adapter.GetShipment(ctx, s.TransactionID)
	if err != nil {
		t.Fatalf("GetShipment failed: %v", err)
	}
	if got.TrackingNumber != "TRK-2" {
		t.Errorf("expected TRK-2, got %s", got.TrackingNumber)
	}
}

func TestDirectory_Lookup(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	u := &domain.User{Name: "buyer", Email: uuid.NewString() + "@example.com"}
	if err := adapter.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	a := &domain.UserAddress{UserID: u.ID, Name: "home", Address: "Jl. Sudirman 1"}
	if err := adapter.CreateUserAddress(ctx, a); err != nil {
		t.Fatalf("CreateUserAddress failed: %v", err)
	}

	got, err := adapter.GetUserAddress(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetUserAddress failed: %v", err)
	}
	if got.UserID != u.ID {
		t.Errorf("expected owner %s, got %s", u.ID, got.UserID)
	}

	if _, err := adapter.GetUser(ctx, uuid.New()); !errors.Is(err, port.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
