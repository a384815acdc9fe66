package domain

import (
	"time"

	"github.com/google/uuid"
)

type ReservationState string

const (
	ReservationHeld     ReservationState = "held"
	ReservationConsumed ReservationState = "consumed"
	ReservationReleased ReservationState = "released"
)

// Reservation is the token handed out by the catalog when capacity is taken.
// The unit price is snapshotted so the transaction total does not drift with
// later price edits.
type Reservation struct {
	ID            uuid.UUID
	ProductID     uuid.UUID
	Quantity      int
	UnitPrice     int64
	State         ReservationState
	TransactionID *uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
