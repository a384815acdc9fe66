package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionInvoice(t *testing.T) {
	assert.True(t, CanTransitionInvoice(InvoiceUnpaid, InvoiceVerifying))
	assert.True(t, CanTransitionInvoice(InvoiceVerifying, InvoicePaid))
	assert.True(t, CanTransitionInvoice(InvoiceVerifying, InvoiceRejected))
	assert.True(t, CanTransitionInvoice(InvoiceRejected, InvoiceVerifying))

	assert.False(t, CanTransitionInvoice(InvoiceUnpaid, InvoicePaid))
	assert.False(t, CanTransitionInvoice(InvoicePaid, InvoiceRejected))
	assert.False(t, CanTransitionInvoice(InvoicePaid, InvoiceVerifying))
}

func TestInvoice_SameEvidence(t *testing.T) {
	inv := &Invoice{ReceiptProof: "receipt-001.jpg", PaymentMethod: "bank_transfer"}

	assert.True(t, inv.SameEvidence("receipt-001.jpg", "bank_transfer"))
	assert.False(t, inv.SameEvidence("receipt-001.jpg", "ewallet"))
}
