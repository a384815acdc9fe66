package handler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/marketplace/internal/adapter/storage/memory"
	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/core/service"
)

type stack struct {
	store     *memory.Store
	lifecycle *service.LifecycleService
	seller    uuid.UUID
	buyer     uuid.UUID
	address   uuid.UUID
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStack(t *testing.T) *stack {
	t.Helper()

	store := memory.NewStore()
	logger := discardLogger()

	catalog := service.NewCatalogService(store, store, 3, logger)
	ledger := service.NewLedgerService(store, catalog, nil, service.LedgerConfig{
		MaxQuantity:        10,
		MaxResubmissions:   2,
		PaymentWindow:      time.Hour,
		VerificationWindow: time.Hour,
		ReceiptWindow:      24 * time.Hour,
		ConflictRetries:    3,
	}, logger)
	reconciler := service.NewReconcilerService(store, ledger, service.ReconcilerConfig{CodeRetries: 3, ConflictRetries: 3}, logger)
	shipments := service.NewShipmentService(store, ledger, logger)

	s := &stack{
		store: store,
		lifecycle: service.NewLifecycleService(service.LifecycleDeps{
			Catalog:     catalog,
			Ledger:      ledger,
			Reconciler:  reconciler,
			Shipments:   shipments,
			Directory:   store,
			Idempotency: store,
		}, logger),
		seller:  uuid.New(),
		buyer:   uuid.New(),
		address: uuid.New(),
	}
	store.AddUser(domain.User{ID: s.seller, Name: "seller"})
	store.AddUser(domain.User{ID: s.buyer, Name: "buyer"})
	store.AddAddress(domain.UserAddress{ID: s.address, UserID: s.buyer, Name: "home", Address: "Jl. Merdeka 1"})
	return s
}

func (s *stack) newProduct(t *testing.T, stock int, price int64) *domain.Product {
	t.Helper()

	today := domain.DateOf(time.Now())
	p, err := s.lifecycle.CreateProduct(context.Background(), service.CreateProductParams{
		SellerID:  s.seller,
		CountryID: uuid.New(),
		Title:     "Batik shirt",
		Price:     price,
		Stock:     stock,
		Status:    domain.ProductStatusActive,
		FromDate:  today.AddDate(0, 0, -1),
		ToDate:    today.AddDate(0, 0, 30),
	})
	require.NoError(t, err)
	return p
}

func (s *stack) purchase(t *testing.T, productID uuid.UUID) *service.TransactionView {
	t.Helper()

	view, err := s.lifecycle.CreateTransaction(context.Background(), service.PurchaseRequest{
		BuyerID:   s.buyer,
		ProductID: productID,
		AddressID: s.address,
		Quantity:  1,
	})
	require.NoError(t, err)
	return view
}
