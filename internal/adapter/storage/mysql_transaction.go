package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

const selectTransactionColumns = `
	id, product_id, buyer_id, seller_id, buyer_address_id, reservation_id, quantity, notes,
	total_price, status, rejections, expires_at, paid_at, finished_at, version, created_at, updated_at
`

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var status string

	if err := s.Scan(
		&tx.ID, &tx.ProductID, &tx.BuyerID, &tx.SellerID, &tx.BuyerAddressID, &tx.ReservationID,
		&tx.Quantity, &tx.Notes, &tx.TotalPrice, &status, &tx.Rejections,
		&tx.ExpiresAt, &tx.PaidAt, &tx.FinishedAt, &tx.Version, &tx.CreatedAt, &tx.UpdatedAt,
	); err != nil {
		return nil, err
	}
	tx.Status = domain.Status(status)
	return &tx, nil
}

// CreateTransaction consumes the reservation and inserts the transaction in
// one database transaction, so a reservation backs at most one purchase.
func (m *MySQLAdapter) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := m.now()

	dbTx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer dbTx.Rollback()

	result, err := dbTx.ExecContext(ctx, `
		UPDATE reservations SET state = ?, transaction_id = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		domain.ReservationConsumed, t.ID, now, t.ReservationID, domain.ReservationHeld,
	)
	if err != nil {
		return fmt.Errorf("consume reservation: %w", err)
	}
	rows, err := affected(result)
	if err != nil {
		return err
	}
	if rows == 0 {
		return missOrConflict(ctx, dbTx, "reservations", t.ReservationID)
	}

	_, err = dbTx.ExecContext(ctx, `
		INSERT INTO transactions (id, product_id, buyer_id, seller_id, buyer_address_id, reservation_id,
			quantity, notes, total_price, status, rejections, expires_at, paid_at, finished_at,
			version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		t.ID, t.ProductID, t.BuyerID, t.SellerID, t.BuyerAddressID, t.ReservationID,
		t.Quantity, t.Notes, t.TotalPrice, t.Status, t.Rejections, t.ExpiresAt, t.PaidAt, t.FinishedAt,
		now, now,
	)
	if _, dup := duplicateKey(err); dup {
		return port.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	t.Version = 1
	t.CreatedAt = now
	t.UpdatedAt = now
	return nil
}

func (m *MySQLAdapter) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	t, err := scanTransaction(m.db.QueryRowContext(ctx,
		`SELECT `+selectTransactionColumns+` FROM transactions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query transaction: %w", err)
	}
	return t, nil
}

// UpdateTransaction keeps paid_at and finished_at set-once: COALESCE prefers
// the stored value, and the effective values are read back into t.
func (m *MySQLAdapter) UpdateTransaction(ctx context.Context, t *domain.Transaction, expectedVersion int) error {
	now := m.now()

	result, err := m.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = ?, rejections = ?, expires_at = ?,
			paid_at = COALESCE(paid_at, ?), finished_at = COALESCE(finished_at, ?),
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		t.Status, t.Rejections, t.ExpiresAt, t.PaidAt, t.FinishedAt, now,
		t.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	rows, err := affected(result)
	if err != nil {
		return err
	}
	if rows == 0 {
		return missOrConflict(ctx, m.db, "transactions", t.ID)
	}

	err = m.db.QueryRowContext(ctx,
		`SELECT paid_at, finished_at FROM transactions WHERE id = ?`, t.ID,
	).Scan(&t.PaidAt, &t.FinishedAt)
	if err != nil {
		return fmt.Errorf("reload timestamps: %w", err)
	}

	t.Version = expectedVersion + 1
	t.UpdatedAt = now
	return nil
}

func (m *MySQLAdapter) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	query := `SELECT ` + selectTransactionColumns + ` FROM transactions WHERE 1 = 1`
	var args []any

	if filter.BuyerID != uuid.Nil {
		query += " AND buyer_id = ?"
		args = append(args, filter.BuyerID)
	}
	if filter.SellerID != uuid.Nil {
		query += " AND seller_id = ?"
		args = append(args, filter.SellerID)
	}
	if filter.ProductID != uuid.Nil {
		query += " AND product_id = ?"
		args = append(args, filter.ProductID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY created_at DESC, id"
	query, args = withPage(query, args, filter.Limit, filter.Offset)

	return m.queryTransactions(ctx, query, args...)
}

func (m *MySQLAdapter) ListExpired(ctx context.Context, asOf time.Time, limit int) ([]*domain.Transaction, error) {
	args := make([]any, 0, len(domain.SweepableStatuses)+2)
	for _, s := range domain.SweepableStatuses {
		args = append(args, s)
	}
	args = append(args, asOf.UTC())

	query := `SELECT ` + selectTransactionColumns + ` FROM transactions
		WHERE status IN (` + inClause(len(domain.SweepableStatuses)) + `)
			AND expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY expires_at`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	return m.queryTransactions(ctx, query, args...)
}

func (m *MySQLAdapter) queryTransactions(ctx context.Context, query string, args ...any) ([]*domain.Transaction, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
