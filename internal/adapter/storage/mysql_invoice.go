package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

const selectInvoiceColumns = `
	id, transaction_id, code, coded_price, status, receipt_proof, payment_method,
	paid_at, version, created_at, updated_at
`

func scanInvoice(s scanner) (*domain.Invoice, error) {
	var inv domain.Invoice
	var status string

	if err := s.Scan(
		&inv.ID, &inv.TransactionID, &inv.Code, &inv.CodedPrice, &status, &inv.ReceiptProof,
		&inv.PaymentMethod, &inv.PaidAt, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	inv.Status = domain.InvoiceStatus(status)
	return &inv, nil
}

func (m *MySQLAdapter) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	now := m.now()

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO invoices (id, transaction_id, code, coded_price, status, receipt_proof,
			payment_method, paid_at, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		inv.ID, inv.TransactionID, inv.Code, inv.CodedPrice, inv.Status, inv.ReceiptProof,
		inv.PaymentMethod, inv.PaidAt, now, now,
	)
	if key, dup := duplicateKey(err); dup {
		if strings.Contains(key, "uq_invoices_code") {
			return port.ErrInvoiceCodeTaken
		}
		return port.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}

	inv.Version = 1
	inv.CreatedAt = now
	inv.UpdatedAt = now
	return nil
}

func (m *MySQLAdapter) GetInvoice(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	return m.getInvoice(ctx, "id", id)
}

func (m *MySQLAdapter) GetInvoiceByTransaction(ctx context.Context, transactionID uuid.UUID) (*domain.Invoice, error) {
	return m.getInvoice(ctx, "transaction_id", transactionID)
}

func (m *MySQLAdapter) getInvoice(ctx context.Context, column string, id uuid.UUID) (*domain.Invoice, error) {
	inv, err := scanInvoice(m.db.QueryRowContext(ctx,
		`SELECT `+selectInvoiceColumns+` FROM invoices WHERE `+column+` = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query invoice: %w", err)
	}
	return inv, nil
}

func (m *MySQLAdapter) InvoiceCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := m.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM invoices WHERE code = ?)`, code,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check invoice code: %w", err)
	}
	return exists, nil
}

func (m *MySQLAdapter) UpdateInvoice(ctx context.Context, inv *domain.Invoice, expectedVersion int) error {
	now := m.now()

	result, err := m.db.ExecContext(ctx, `
		UPDATE invoices
		SET status = ?, receipt_proof = ?, payment_method = ?, paid_at = COALESCE(paid_at, ?),
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		inv.Status, inv.ReceiptProof, inv.PaymentMethod, inv.PaidAt, now,
		inv.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	rows, err := affected(result)
	if err != nil {
		return err
	}
	if rows == 0 {
		return missOrConflict(ctx, m.db, "invoices", inv.ID)
	}

	inv.Version = expectedVersion + 1
	inv.UpdatedAt = now
	return nil
}
