package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/marketplace/internal/core/domain"
)

func TestShipment_Attach_RequiresPaid(t *testing.T) {
	f := newFixture(t)
	p := f.newProduct(t, 5, 1000)
	view := f.verifying(t, p.ID)

	_, _, err := f.shipments.Attach(context.Background(), view.Transaction.ID, "JNE", "JNE-0001")
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)

	tx, err := f.ledger.Get(context.Background(), view.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusVerifying, tx.Status)
}

func TestShipment_Attach(t *testing.T) {
	f := newFixture(t)
	p := f.newProduct(t, 5, 1000)
	ctx := context.Background()
	view := f.paid(t, p.ID)
	id := view.Transaction.ID

	shipment, tx, err := f.shipments.Attach(ctx, id, "JNE", "JNE-0001")
	require.NoError(t, err)
	assert.Equal(t, "JNE", shipment.Carrier)
	assert.Equal(t, domain.StatusShipped, tx.Status)
	require.NotNil(t, tx.ExpiresAt)
	assert.Equal(t, testStart.Add(testLedgerConfig.ReceiptWindow), *tx.ExpiresAt)

	_, tx, err = f.shipments.Attach(ctx, id, "JNE", "JNE-0001")
	require.NoError(t, err, "same metadata is a no-op")
	assert.Equal(t, domain.StatusShipped, tx.Status)

	_, _, err = f.shipments.Attach(ctx, id, "SiCepat", "SC-77")
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)
}

func TestShipment_Attach_Validation(t *testing.T) {
	f := newFixture(t)
	p := f.newProduct(t, 5, 1000)
	view := f.paid(t, p.ID)

	_, _, err := f.shipments.Attach(context.Background(), view.Transaction.ID, "", "JNE-0001")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, _, err = f.shipments.Attach(context.Background(), view.Transaction.ID, "JNE", strings.Repeat("9", domain.MaxTrackingLength+1))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestShipment_Correct(t *testing.T) {
	f := newFixture(t)
	p := f.newProduct(t, 5, 1000)
	ctx := context.Background()
	view := f.paid(t, p.ID)
	id := view.Transaction.ID

	_, err := f.shipments.Correct(ctx, id, "JNE", "JNE-0001")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, before, err := f.shipments.Attach(ctx, id, "JNE", "JNE-0001")
	require.NoError(t, err)

	shipment, err := f.shipments.Correct(ctx, id, "JNE", "JNE-0002")
	require.NoError(t, err)
	assert.Equal(t, "JNE-0002", shipment.TrackingNumber)

	after, err := f.ledger.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Version, after.Version)
}
