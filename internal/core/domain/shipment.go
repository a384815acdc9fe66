package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	MaxCarrierLength  = 64
	MaxTrackingLength = 100
)

type Shipment struct {
	TransactionID  uuid.UUID
	Carrier        string
	TrackingNumber string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func ValidateShipment(carrier, tracking string) error {
	if carrier == "" || len(carrier) > MaxCarrierLength {
		return fmt.Errorf("%w: carrier must be 1-%d characters", ErrInvalidInput, MaxCarrierLength)
	}
	if tracking == "" || len(tracking) > MaxTrackingLength {
		return fmt.Errorf("%w: tracking number must be 1-%d characters", ErrInvalidInput, MaxTrackingLength)
	}
	return nil
}
