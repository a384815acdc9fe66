package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventTransactionCreated   EventType = "transaction.created"
	EventTransactionPaid      EventType = "transaction.paid"
	EventTransactionShipped   EventType = "transaction.shipped"
	EventTransactionCompleted EventType = "transaction.completed"
	EventTransactionCancelled EventType = "transaction.cancelled"
	EventPaymentRejected      EventType = "payment.rejected"
)

type Event struct {
	ID            uuid.UUID
	Type          EventType
	TransactionID uuid.UUID
	BuyerID       uuid.UUID
	SellerID      uuid.UUID
	Status        Status
	OccurredAt    time.Time
}

func NewTransactionEvent(t EventType, tx *Transaction, at time.Time) Event {
	return Event{
		ID:            uuid.New(),
		Type:          t,
		TransactionID: tx.ID,
		BuyerID:       tx.BuyerID,
		SellerID:      tx.SellerID,
		Status:        tx.Status,
		OccurredAt:    at,
	}
}
