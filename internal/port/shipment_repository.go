package port

import (
	"context"

	"github.com/google/uuid"

	"github.com/rl1809/marketplace/internal/core/domain"
)

type ShipmentRepository interface {
	// CreateShipment inserts the shipment, ErrDuplicate if one exists for the transaction
	CreateShipment(ctx context.Context, shipment *domain.Shipment) error

	// GetShipment retrieves the shipment of a transaction
	GetShipment(ctx context.Context, transactionID uuid.UUID) (*domain.Shipment, error)

	// UpdateShipment corrects carrier and tracking number
	UpdateShipment(ctx context.Context, shipment *domain.Shipment) error
}
