package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

func (m *MySQLAdapter) CreateShipment(ctx context.Context, s *domain.Shipment) error {
	now := m.now()

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO shipments (transaction_id, carrier, tracking_number, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		s.TransactionID, s.Carrier, s.TrackingNumber, now, now,
	)
	if _, dup := duplicateKey(err); dup {
		return port.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert shipment: %w", err)
	}

	s.CreatedAt = now
	s.UpdatedAt = now
	return nil
}

func (m *MySQLAdapter) GetShipment(ctx context.Context, transactionID uuid.UUID) (*domain.Shipment, error) {
	var s domain.Shipment
	err := m.db.QueryRowContext(ctx, `
		SELECT transaction_id, carrier, tracking_number, created_at, updated_at
		FROM shipments WHERE transaction_id = ?`, transactionID,
	).Scan(&s.TransactionID, &s.Carrier, &s.TrackingNumber, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query shipment: %w", err)
	}
	return &s, nil
}

func (m *MySQLAdapter) UpdateShipment(ctx context.Context, s *domain.Shipment) error {
	now := m.now()

	result, err := m.db.ExecContext(ctx, `
		UPDATE shipments SET carrier = ?, tracking_number = ?, updated_at = ?
		WHERE transaction_id = ?`,
		s.Carrier, s.TrackingNumber, now, s.TransactionID,
	)
	if err != nil {
		return fmt.Errorf("update shipment: %w", err)
	}
	rows, err := affected(result)
	if err != nil {
		return err
	}
	if rows == 0 {
		return port.ErrNotFound
	}

	s.UpdatedAt = now
	return nil
}
