package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port/mock"
)

func TestSweeper_Scenario_ExpiredAwaitingPaymentCancelled(t *testing.T) {
	f := newFixture(t)
	p := f.newProduct(t, 3, 1000)
	ctx := context.Background()
	view := f.purchase(t, p.ID, 2)
	require.Equal(t, 1, f.stock(t, p.ID))

	report, err := f.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Scanned, "deadline not reached")

	f.clock.advance(testLedgerConfig.PaymentWindow)
	report, err = f.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Scanned: 1, Cancelled: 1}, report)

	tx, err := f.ledger.Get(ctx, view.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, tx.Status)
	assert.Equal(t, 3, f.stock(t, p.ID))

	report, err = f.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
}

func TestSweeper_ExpiredVerificationResumesPayment(t *testing.T) {
	f := newFixture(t)
	p := f.newProduct(t, 3, 1000)
	ctx := context.Background()
	view := f.verifying(t, p.ID)

	f.clock.advance(testLedgerConfig.VerificationWindow + time.Second)
	report, err := f.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resumed)

	got, err := f.lifecycle.GetTransaction(ctx, view.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingPayment, got.Transaction.Status)
	assert.Equal(t, domain.InvoiceRejected, got.Invoice.Status)
	assert.Equal(t, 1, got.Transaction.Rejections)
	assert.Equal(t, 2, f.stock(t, p.ID), "capacity stays reserved while the buyer can resubmit")
}

func TestSweeper_ExpiredShipmentCompleted(t *testing.T) {
	f := newFixture(t)
	p := f.newProduct(t, 3, 1000)
	ctx := context.Background()
	view := f.paid(t, p.ID)
	_, err := f.lifecycle.AttachShipment(ctx, view.Transaction.ID, "JNE", "JNE-0001")
	require.NoError(t, err)

	f.clock.advance(testLedgerConfig.ReceiptWindow)
	report, err := f.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Completed)

	tx, err := f.ledger.Get(ctx, view.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, tx.Status)
	assert.NotNil(t, tx.FinishedAt)
}

func TestSweeper_ManyExpired(t *testing.T) {
	f := newFixture(t)
	p := f.newProduct(t, 30, 1000)

	for i := 0; i < 30; i++ {
		f.purchase(t, p.ID, 1)
	}
	require.Equal(t, 0, f.stock(t, p.ID))

	f.clock.advance(2 * testLedgerConfig.PaymentWindow)
	report, err := f.sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30, report.Cancelled)
	assert.Equal(t, 30, f.stock(t, p.ID))
}

func TestLedger_Expire_UserActionWins(t *testing.T) {
	f := newFixture(t)
	p := f.newProduct(t, 3, 1000)
	ctx := context.Background()
	view := f.purchase(t, p.ID, 1)
	id := view.Transaction.ID

	// the sweep listed the row as expired, then the buyer paid before it acted
	asOf := testStart.Add(testLedgerConfig.PaymentWindow)
	f.clock.advance(testLedgerConfig.PaymentWindow - time.Second)
	_, err := f.lifecycle.SubmitPaymentEvidence(ctx, id, "receipt-001.jpg", "bank_transfer")
	require.NoError(t, err)

	tx, changed, err := f.ledger.Expire(ctx, id, asOf)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, domain.StatusVerifying, tx.Status)
	assert.Equal(t, 2, f.stock(t, p.ID))
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.sweeper.cfg.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.sweeper.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSweeper_TickLogging(t *testing.T) {
	tests := []struct {
		name    string
		cancel  bool
		wantLog bool
	}{
		{name: "shutdown is quiet", cancel: true, wantLog: false},
		{name: "storage failure is logged", cancel: false, wantLog: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			listErr := errors.New("connection reset")
			if tt.cancel {
				cancel()
				listErr = context.Canceled
			}

			repo := mock.NewMockTransactionRepository(ctrl)
			repo.EXPECT().ListExpired(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, listErr)

			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))
			ledger := NewLedgerService(repo, nil, nil, testLedgerConfig, discardLogger())
			sweeper := NewSweeper(ledger, nil, SweeperConfig{}, logger)

			sweeper.tick(ctx)

			assert.Equal(t, tt.wantLog, bytes.Contains(buf.Bytes(), []byte("sweep failed")))
		})
	}
}
