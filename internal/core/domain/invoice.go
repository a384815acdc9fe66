package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

type InvoiceStatus string

const (
	InvoiceUnpaid    InvoiceStatus = "unpaid"
	InvoiceVerifying InvoiceStatus = "verifying"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceRejected  InvoiceStatus = "rejected"
)

var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceUnpaid:    {InvoiceVerifying},
	InvoiceRejected:  {InvoiceVerifying},
	InvoiceVerifying: {InvoicePaid, InvoiceRejected},
	InvoicePaid:      nil,
}

func (s InvoiceStatus) Valid() bool {
	_, ok := invoiceTransitions[s]
	return ok
}

func CanTransitionInvoice(from, to InvoiceStatus) bool {
	return slices.Contains(invoiceTransitions[from], to)
}

const (
	MaxPaymentMethodLength = 50
	MaxReceiptProofLength  = 255
)

// Invoice is issued once per transaction. CodedPrice is the total the buyer
// must pay and is checked against the transaction again at reconciliation.
type Invoice struct {
	ID            uuid.UUID
	TransactionID uuid.UUID
	Code          string
	CodedPrice    int64
	Status        InvoiceStatus
	ReceiptProof  string
	PaymentMethod string
	PaidAt        *time.Time
	Version       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SameEvidence reports whether proof/method match what is already recorded.
func (i *Invoice) SameEvidence(proof, method string) bool {
	return i.ReceiptProof == proof && i.PaymentMethod == method
}

type ReconcileResult string

const (
	ReconcilePaid     ReconcileResult = "paid"
	ReconcileRejected ReconcileResult = "rejected"
)
