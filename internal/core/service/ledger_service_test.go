package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
	"github.com/rl1809/marketplace/internal/port/mock"
)

func TestLedger_Create_SnapshotsTotal(t *testing.T) {
	f := newFixture(t)
	p := f.newProduct(t, 10, 12500)

	view := f.purchase(t, p.ID, 4)

	tx := view.Transaction
	assert.Equal(t, int64(50000), tx.TotalPrice)
	assert.Equal(t, domain.StatusAwaitingPayment, tx.Status)
	require.NotNil(t, tx.ExpiresAt)
	assert.Equal(t, testStart.Add(testLedgerConfig.PaymentWindow), *tx.ExpiresAt)

	price := int64(99999)
	_, err := f.catalog.UpdateProduct(context.Background(), p.ID, UpdateProductParams{Price: &price})
	require.NoError(t, err)

	got, err := f.ledger.Get(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), got.TotalPrice)

	res, err := f.store.GetReservation(context.Background(), tx.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationConsumed, res.State)
	require.NotNil(t, res.TransactionID)
	assert.Equal(t, tx.ID, *res.TransactionID)
}

func TestLedger_Create_TotalOverflowRejected(t *testing.T) {
	f := newFixture(t)
	p := f.newProduct(t, 10, math.MaxInt64/2+1)

	_, err := f.lifecycle.CreateTransaction(context.Background(), PurchaseRequest{
		BuyerID:   f.buyer,
		ProductID: p.ID,
		AddressID: f.address,
		Quantity:  2,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, 10, f.stock(t, p.ID), "reservation rolled back")

	view := f.purchase(t, p.ID, 1)
	assert.Equal(t, int64(math.MaxInt64/2+1), view.Transaction.TotalPrice)
}

func TestLedger_Create_ReservationConsumedOnce(t *testing.T) {
	f := newFixture(t)
	p := f.newProduct(t, 10, 1000)
	ctx := context.Background()

	res, err := f.catalog.Reserve(ctx, p.ID, 1, testStart)
	require.NoError(t, err)

	params := CreateTransactionParams{Reservation: res, BuyerID: f.buyer, SellerID: f.seller, BuyerAddressID: f.address}
	_, err = f.ledger.Create(ctx, params)
	require.NoError(t, err)

	_, err = f.ledger.Create(ctx, params)
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)
}

func TestLedger_IllegalTransitionFailsClosed(t *testing.T) {
	f := newFixture(t)
	p := f.newProduct(t, 10, 1000)
	ctx := context.Background()
	view := f.purchase(t, p.ID, 1)
	id := view.Transaction.ID

	before, err := f.ledger.Get(ctx, id)
	require.NoError(t, err)

	_, err = f.ledger.MarkPaid(ctx, id)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "paid must not skip verifying")

	_, err = f.ledger.MarkShipped(ctx, id)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.ledger.Complete(ctx, id)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	after, err := f.ledger.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Version, after.Version)
	assert.Nil(t, after.PaidAt)
}

func TestLedger_MarkPaid_SetsPaidAtOnce(t *testing.T) {
	f := newFixture(t)
	p := f.newProduct(t, 10, 1000)
	ctx := context.Background()
	view := f.verifying(t, p.ID)
	id := view.Transaction.ID

	tx, err := f.ledger.MarkPaid(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, tx.PaidAt)
	first := *tx.PaidAt

	f.clock.advance(time.Minute)
	tx, err = f.ledger.MarkPaid(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first, *tx.PaidAt)
	assert.Equal(t, domain.StatusPaid, tx.Status)
}

func TestLedger_MarkPaid_ConcurrentConfirmations(t *testing.T) {
	f := newFixture(t)
	p := f.newProduct(t, 10, 1000)
	view := f.verifying(t, p.ID)
	id := view.Transaction.ID

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.ledger.MarkPaid(context.Background(), id); err != nil {
				t.Errorf("mark paid: %v", err)
			}
		}()
	}
	wg.Wait()

	paid := 0
	for _, typ := range f.events.types(id) {
		if typ == domain.EventTransactionPaid {
			paid++
		}
	}
	assert.Equal(t, 1, paid)
}

func TestLedger_Reject_ResolvesUntilBudgetSpent(t *testing.T) {
	f := newFixture(t)
	p := f.newProduct(t, 10, 1000)
	ctx := context.Background()
	view := f.purchase(t, p.ID, 2)
	id := view.Transaction.ID
	require.Equal(t, 8, f.stock(t, p.ID))

	for i := 1; i <= testLedgerConfig.MaxResubmissions; i++ {
		_, err := f.ledger.BeginVerification(ctx, id)
		require.NoError(t, err)

		tx, err := f.ledger.Reject(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusAwaitingPayment, tx.Status)
		assert.Equal(t, i, tx.Rejections)
	}

	_, err := f.ledger.BeginVerification(ctx, id)
	require.NoError(t, err)
	tx, err := f.ledger.Reject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, tx.Status)
	assert.Equal(t, 10, f.stock(t, p.ID))

	types := f.events.types(id)
	assert.Contains(t, types, domain.EventPaymentRejected)
	assert.Equal(t, domain.EventTransactionCancelled, types[len(types)-1])
}

func TestLedger_Reject_RequiresVerification(t *testing.T) {
	f := newFixture(t)
	p := f.newProduct(t, 10, 1000)
	view := f.purchase(t, p.ID, 1)

	_, err := f.ledger.Reject(context.Background(), view.Transaction.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestLedger_Cancel(t *testing.T) {
	type testCase struct {
		name    string
		advance func(t *testing.T, f *fixture, productID uuid.UUID) uuid.UUID
		wantErr error
	}

	tests := []testCase{
		{
			name: "AwaitingPayment",
			advance: func(t *testing.T, f *fixture, productID uuid.UUID) uuid.UUID {
				return f.purchase(t, productID, 1).Transaction.ID
			},
		},
		{
			name: "Verifying",
			advance: func(t *testing.T, f *fixture, productID uuid.UUID) uuid.UUID {
				return f.verifying(t, productID).Transaction.ID
			},
			wantErr: domain.ErrAlreadyAdvanced,
		},
		{
			name: "Paid",
			advance: func(t *testing.T, f *fixture, productID uuid.UUID) uuid.UUID {
				return f.paid(t, productID).Transaction.ID
			},
			wantErr: domain.ErrAlreadyAdvanced,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p := f.newProduct(t, 3, 1000)
			id := tt.advance(t, f, p.ID)
			require.Equal(t, 2, f.stock(t, p.ID))

			tx, err := f.ledger.Cancel(context.Background(), id)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 2, f.stock(t, p.ID))
				return
			}

			require.NoError(t, err)
			assert.Equal(t, domain.StatusCancelled, tx.Status)
			assert.Nil(t, tx.ExpiresAt)
			assert.Equal(t, 3, f.stock(t, p.ID))

			tx, err = f.ledger.Cancel(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusCancelled, tx.Status)
			assert.Equal(t, 3, f.stock(t, p.ID), "second cancel must not restore twice")
		})
	}
}

func TestLedger_Complete_SetsFinishedAt(t *testing.T) {
	f := newFixture(t)
	p := f.newProduct(t, 3, 1000)
	ctx := context.Background()
	view := f.paid(t, p.ID)

	_, err := f.ledger.MarkShipped(ctx, view.Transaction.ID)
	require.NoError(t, err)

	f.clock.advance(time.Hour)
	tx, err := f.ledger.Complete(ctx, view.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, tx.Status)
	require.NotNil(t, tx.FinishedAt)
	assert.Equal(t, testStart.Add(time.Hour), *tx.FinishedAt)
	assert.Nil(t, tx.ExpiresAt)
}

func verifyingTx(id uuid.UUID) *domain.Transaction {
	return &domain.Transaction{ID: id, Status: domain.StatusVerifying, Version: 7}
}

func TestLedger_Transition_ConflictAfterBoundedRetries(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	id := uuid.New()
	repo := mock.NewMockTransactionRepository(ctrl)
	repo.EXPECT().
		GetTransaction(gomock.Any(), id).
		DoAndReturn(func(context.Context, uuid.UUID) (*domain.Transaction, error) {
			return verifyingTx(id), nil
		}).
		Times(testLedgerConfig.ConflictRetries + 1)
	repo.EXPECT().
		UpdateTransaction(gomock.Any(), gomock.Any(), 7).
		Return(port.ErrOptimisticLock).
		Times(testLedgerConfig.ConflictRetries + 1)

	ledger := NewLedgerService(repo, nil, nil, testLedgerConfig, discardLogger())
	_, err := ledger.MarkPaid(context.Background(), id)

	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestLedger_Transition_StorageFailureNotRetried(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	id := uuid.New()
	repo := mock.NewMockTransactionRepository(ctrl)
	repo.EXPECT().GetTransaction(gomock.Any(), id).Return(verifyingTx(id), nil)
	repo.EXPECT().
		UpdateTransaction(gomock.Any(), gomock.Any(), 7).
		Return(errors.New("connection refused"))

	ledger := NewLedgerService(repo, nil, nil, testLedgerConfig, discardLogger())
	_, err := ledger.MarkPaid(context.Background(), id)

	require.Error(t, err)
	assert.ErrorIs(t, domain.Kind(err), domain.ErrInternal)
}

func TestLedger_Transition_RetrySucceeds(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	id := uuid.New()
	repo := mock.NewMockTransactionRepository(ctrl)
	repo.EXPECT().
		GetTransaction(gomock.Any(), id).
		DoAndReturn(func(context.Context, uuid.UUID) (*domain.Transaction, error) {
			return verifyingTx(id), nil
		}).
		Times(2)
	gomock.InOrder(
		repo.EXPECT().UpdateTransaction(gomock.Any(), gomock.Any(), 7).Return(port.ErrOptimisticLock),
		repo.EXPECT().
			UpdateTransaction(gomock.Any(), gomock.Any(), 7).
			DoAndReturn(func(_ context.Context, tx *domain.Transaction, _ int) error {
				assert.Equal(t, domain.StatusPaid, tx.Status)
				assert.NotNil(t, tx.PaidAt)
				tx.Version = 8
				return nil
			}),
	)

	ledger := NewLedgerService(repo, nil, nil, testLedgerConfig, discardLogger())
	tx, err := ledger.MarkPaid(context.Background(), id)

	require.NoError(t, err)
	assert.Equal(t, 8, tx.Version)
}
