package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/marketplace/internal/app"
	"github.com/rl1809/marketplace/internal/config"
	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/core/service"
	"github.com/rl1809/marketplace/internal/logging"
)

const (
	initialStock  = 20
	totalRequests = 50
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(logging.Config{Level: "warn", Format: cfg.Log.Format})

	st, err := app.OpenStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	svc := app.NewServices(cfg, st, logger)
	defer svc.Dispatcher.Close()

	// Seed one seller, one product and a buyer per request
	seller := &domain.User{Name: "stress-seller", Email: uuid.NewString() + "@stress.test"}
	if err := st.Accounts.CreateUser(ctx, seller); err != nil {
		logger.Error("failed to seed seller", "error", err)
		os.Exit(1)
	}

	today := domain.DateOf(time.Now())
	product, err := svc.Lifecycle.CreateProduct(ctx, service.CreateProductParams{
		SellerID:  seller.ID,
		CountryID: uuid.New(),
		Title:     "stress-item",
		Price:     10000,
		Stock:     initialStock,
		Status:    domain.ProductStatusActive,
		FromDate:  today,
		ToDate:    today.AddDate(0, 0, 1),
	})
	if err != nil {
		logger.Error("failed to create product", "error", err)
		os.Exit(1)
	}

	type buyer struct{ userID, addressID uuid.UUID }
	buyers := make([]buyer, totalRequests)
	for i := range buyers {
		u := &domain.User{Name: fmt.Sprintf("user-%d", i), Email: uuid.NewString() + "@stress.test"}
		if err := st.Accounts.CreateUser(ctx, u); err != nil {
			logger.Error("failed to seed buyer", "error", err)
			os.Exit(1)
		}
		a := &domain.UserAddress{UserID: u.ID, Name: "home", Address: "stress street"}
		if err := st.Accounts.CreateUserAddress(ctx, a); err != nil {
			logger.Error("failed to seed address", "error", err)
			os.Exit(1)
		}
		buyers[i] = buyer{userID: u.ID, addressID: a.ID}
	}

	// Counters
	var successCount, soldOutCount, otherCount atomic.Int32
	var createdMu sync.Mutex
	var created []uuid.UUID

	// Spawn concurrent purchases
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(b buyer) {
			defer wg.Done()

			view, err := svc.Lifecycle.CreateTransaction(ctx, service.PurchaseRequest{
				RequestID: uuid.NewString(),
				BuyerID:   b.userID,
				ProductID: product.ID,
				AddressID: b.addressID,
				Quantity:  1,
			})
			switch {
			case err == nil:
				successCount.Add(1)
				createdMu.Lock()
				created = append(created, view.Transaction.ID)
				createdMu.Unlock()
			case errors.Is(err, domain.ErrInsufficientQuantity):
				soldOutCount.Add(1)
			default:
				otherCount.Add(1)
				logger.Warn("purchase failed", "error", err)
			}
		}(buyers[i])
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Cancel every purchase twice concurrently; each release must restore stock once
	for _, id := range created {
		for range 2 {
			wg.Add(1)
			go func(id uuid.UUID) {
				defer wg.Done()
				if _, err := svc.Lifecycle.CancelTransaction(ctx, id); err != nil && !errors.Is(err, domain.ErrConflict) {
					logger.Warn("cancel failed", "transaction_id", id, "error", err)
				}
			}(id)
		}
	}
	wg.Wait()

	// Results
	success := successCount.Load()
	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Driver:           %s\n", cfg.Storage.Driver)
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold out:         %d\n", soldOutCount.Load())
	fmt.Printf("Other failures:   %d\n", otherCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	failed := false
	if success == int32(initialStock) {
		fmt.Printf("PASS: Exactly %d purchases succeeded\n", initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d successes, got %d\n", initialStock, success)
		failed = true
	}

	final, err := st.Products.GetProduct(ctx, product.ID)
	if err != nil {
		logger.Error("failed to reload product", "error", err)
		os.Exit(1)
	}
	if final.Stock == initialStock {
		fmt.Printf("PASS: Stock restored to %d after cancellation\n", initialStock)
	} else {
		fmt.Printf("FAIL: Expected stock %d after cancellation, got %d\n", initialStock, final.Stock)
		failed = true
	}

	if failed {
		os.Exit(1)
	}
}
