package domain

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusCreated         Status = "created"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusVerifying       Status = "verifying"
	StatusPaid            Status = "paid"
	StatusShipped         Status = "shipped"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
	StatusRejected        Status = "rejected"
)

// transitions is the complete set of legal edges. Rejected is a retry state:
// it resolves back to AwaitingPayment or, once the resubmission budget is
// spent, to Cancelled.
var transitions = map[Status][]Status{
	StatusCreated:         {StatusAwaitingPayment, StatusCancelled},
	StatusAwaitingPayment: {StatusVerifying, StatusCancelled},
	StatusVerifying:       {StatusPaid, StatusRejected},
	StatusRejected:        {StatusAwaitingPayment, StatusCancelled},
	StatusPaid:            {StatusShipped},
	StatusShipped:         {StatusCompleted},
	StatusCompleted:       nil,
	StatusCancelled:       nil,
}

// progress orders the happy path. Statuses outside it are not ranked.
var progress = map[Status]int{
	StatusCreated:         1,
	StatusAwaitingPayment: 2,
	StatusVerifying:       3,
	StatusPaid:            4,
	StatusShipped:         5,
	StatusCompleted:       6,
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown transaction status %q", ErrInvalidInput, s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// Reached reports whether s is target or lies further along the happy path.
func (s Status) Reached(target Status) bool {
	if s == target {
		return true
	}
	rs, ok := progress[s]
	if !ok {
		return false
	}
	rt, ok := progress[target]
	return ok && rs > rt
}

// Advanced reports whether the buyer can no longer withdraw the purchase.
func (s Status) Advanced() bool {
	return s.Reached(StatusVerifying)
}

func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

const MaxNotesLength = 200

type Transaction struct {
	ID             uuid.UUID
	ProductID      uuid.UUID
	BuyerID        uuid.UUID
	SellerID       uuid.UUID
	BuyerAddressID uuid.UUID
	ReservationID  uuid.UUID
	Quantity       int
	Notes          string
	TotalPrice     int64
	Status         Status
	Rejections     int
	ExpiresAt      *time.Time
	PaidAt         *time.Time
	FinishedAt     *time.Time
	Version        int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Expired reports whether the current status deadline has passed at asOf.
func (t *Transaction) Expired(asOf time.Time) bool {
	return t.ExpiresAt != nil && !t.ExpiresAt.After(asOf)
}

type TransactionFilter struct {
	BuyerID   uuid.UUID
	SellerID  uuid.UUID
	ProductID uuid.UUID
	Status    Status
	Limit     int
	Offset    int
}

// SweepableStatuses carry a deadline enforced by the background sweep.
var SweepableStatuses = []Status{
	StatusCreated,
	StatusAwaitingPayment,
	StatusVerifying,
	StatusRejected,
	StatusShipped,
}
