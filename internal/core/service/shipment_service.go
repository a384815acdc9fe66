package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

type ShipmentService struct {
	shipments port.ShipmentRepository
	ledger    *LedgerService
	logger    *slog.Logger
}

func NewShipmentService(shipments port.ShipmentRepository, ledger *LedgerService, logger *slog.Logger) *ShipmentService {
	return &ShipmentService{
		shipments: shipments,
		ledger:    ledger,
		logger:    orDefault(logger),
	}
}

// Attach records carrier metadata on a paid transaction and moves it to
// Shipped. Repeating an attach with the same metadata is a no-op.
func (s *ShipmentService) Attach(ctx context.Context, transactionID uuid.UUID, carrier, tracking string) (*domain.Shipment, *domain.Transaction, error) {
	if err := domain.ValidateShipment(carrier, tracking); err != nil {
		return nil, nil, err
	}

	tx, err := s.ledger.Get(ctx, transactionID)
	if err != nil {
		return nil, nil, err
	}

	switch tx.Status {
	case domain.StatusPaid:
	case domain.StatusShipped, domain.StatusCompleted:
		existing, err := s.shipments.GetShipment(ctx, transactionID)
		if err == nil && sameShipment(existing, carrier, tracking) {
			return existing, tx, nil
		}
		return nil, nil, fmt.Errorf("%w: transaction %s already shipped", domain.ErrPreconditionFailed, transactionID)
	default:
		return nil, nil, fmt.Errorf("%w: transaction %s is %s, shipment requires %s",
			domain.ErrPreconditionFailed, transactionID, tx.Status, domain.StatusPaid)
	}

	shipment := &domain.Shipment{
		TransactionID:  transactionID,
		Carrier:        carrier,
		TrackingNumber: tracking,
	}
	err = s.shipments.CreateShipment(ctx, shipment)
	if errors.Is(err, port.ErrDuplicate) {
		existing, getErr := s.shipments.GetShipment(ctx, transactionID)
		if getErr != nil {
			return nil, nil, loadErr(getErr, "shipment", transactionID)
		}
		if !sameShipment(existing, carrier, tracking) {
			return nil, nil, fmt.Errorf("%w: transaction %s already has a shipment", domain.ErrPreconditionFailed, transactionID)
		}
		shipment, err = existing, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("create shipment: %w", err)
	}

	tx, err = s.ledger.MarkShipped(ctx, transactionID)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("shipment attached",
		idAttr("transaction_id", transactionID), slog.String("carrier", carrier))
	return shipment, tx, nil
}

// Correct fixes carrier or tracking number of an attached shipment. The
// transaction status is not touched.
func (s *ShipmentService) Correct(ctx context.Context, transactionID uuid.UUID, carrier, tracking string) (*domain.Shipment, error) {
	if err := domain.ValidateShipment(carrier, tracking); err != nil {
		return nil, err
	}

	shipment, err := s.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	shipment.Carrier = carrier
	shipment.TrackingNumber = tracking
	if err := s.shipments.UpdateShipment(ctx, shipment); err != nil {
		return nil, fmt.Errorf("update shipment of transaction %s: %w", transactionID, err)
	}

	s.logger.Info("shipment corrected", idAttr("transaction_id", transactionID))
	return shipment, nil
}

func (s *ShipmentService) Get(ctx context.Context, transactionID uuid.UUID) (*domain.Shipment, error) {
	shipment, err := s.shipments.GetShipment(ctx, transactionID)
	if err != nil {
		return nil, loadErr(err, "shipment of transaction", transactionID)
	}
	return shipment, nil
}

func sameShipment(s *domain.Shipment, carrier, tracking string) bool {
	return s.Carrier == carrier && s.TrackingNumber == tracking
}
