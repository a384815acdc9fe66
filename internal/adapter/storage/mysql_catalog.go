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

const selectProductColumns = `
	id, title, description, price, seller_id, country_id, stock, status,
	from_date, to_date, version, created_at, updated_at, deleted_at
`

func scanProduct(s scanner) (*domain.Product, error) {
	var p domain.Product
	var status string

	if err := s.Scan(
		&p.ID, &p.Title, &p.Description, &p.Price, &p.SellerID, &p.CountryID, &p.Stock, &status,
		&p.FromDate, &p.ToDate, &p.Version, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt,
	); err != nil {
		return nil, err
	}
	p.Status = domain.ProductStatus(status)
	return &p, nil
}

func (m *MySQLAdapter) CreateProduct(ctx context.Context, product *domain.Product) error {
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	now := m.now()

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO products (id, title, description, price, seller_id, country_id, stock, status,
			from_date, to_date, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		product.ID, product.Title, product.Description, product.Price, product.SellerID, product.CountryID,
		product.Stock, product.Status, product.FromDate, product.ToDate, now, now,
	)
	if _, dup := duplicateKey(err); dup {
		return port.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}

	product.Version = 1
	product.CreatedAt = now
	product.UpdatedAt = now
	return nil
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	p, err := scanProduct(m.db.QueryRowContext(ctx,
		`SELECT `+selectProductColumns+` FROM products WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return p, nil
}

func (m *MySQLAdapter) UpdateProduct(ctx context.Context, product *domain.Product, expectedVersion int) error {
	now := m.now()
	result, err := m.db.ExecContext(ctx, `
		UPDATE products
		SET title = ?, description = ?, price = ?, country_id = ?, stock = ?, status = ?,
			from_date = ?, to_date = ?, deleted_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		product.Title, product.Description, product.Price, product.CountryID, product.Stock, product.Status,
		product.FromDate, product.ToDate, product.DeletedAt, now,
		product.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}

	rows, err := affected(result)
	if err != nil {
		return err
	}
	if rows == 0 {
		return missOrConflict(ctx, m.db, "products", product.ID)
	}

	product.Version = expectedVersion + 1
	product.UpdatedAt = now
	return nil
}

func (m *MySQLAdapter) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]*domain.Product, error) {
	query := `SELECT ` + selectProductColumns + ` FROM products WHERE 1 = 1`
	var args []any

	if !filter.IncludeDeleted {
		query += " AND deleted_at IS NULL"
	}
	if filter.Query != "" {
		query += " AND title LIKE ?"
		args = append(args, "%"+filter.Query+"%")
	}
	if filter.SellerID != uuid.Nil {
		query += " AND seller_id = ?"
		args = append(args, filter.SellerID)
	}
	if filter.CountryID != uuid.Nil {
		query += " AND country_id = ?"
		args = append(args, filter.CountryID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY created_at DESC, id"
	query, args = withPage(query, args, filter.Limit, filter.Offset)

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []*domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// Reserve decrements stock and inserts the held reservation in one database
// transaction. The UPDATE re-checks purchasability so the decision is made
// by the row lock, not by the caller's earlier read.
func (m *MySQLAdapter) Reserve(ctx context.Context, reservation *domain.Reservation, asOf time.Time) error {
	if reservation.ID == uuid.Nil {
		reservation.ID = uuid.New()
	}
	now := m.now()
	day := domain.DateOf(asOf)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - ?, version = version + 1, updated_at = ?
		WHERE id = ? AND stock >= ? AND status = ? AND deleted_at IS NULL
			AND from_date <= ? AND to_date >= ?`,
		reservation.Quantity, now,
		reservation.ProductID, reservation.Quantity, domain.ProductStatusActive, day, day,
	)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	rows, err := affected(result)
	if err != nil {
		return err
	}
	if rows == 0 {
		return missOrConflict(ctx, tx, "products", reservation.ProductID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reservations (id, product_id, quantity, unit_price, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		reservation.ID, reservation.ProductID, reservation.Quantity, reservation.UnitPrice,
		domain.ReservationHeld, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reservation: %w", err)
	}
	reservation.State = domain.ReservationHeld
	reservation.CreatedAt = now
	reservation.UpdatedAt = now
	return nil
}

func (m *MySQLAdapter) GetReservation(ctx context.Context, id uuid.UUID) (*domain.Reservation, error) {
	var r domain.Reservation
	var state string
	err := m.db.QueryRowContext(ctx, `
		SELECT id, product_id, quantity, unit_price, state, transaction_id, created_at, updated_at
		FROM reservations WHERE id = ?`, id,
	).Scan(&r.ID, &r.ProductID, &r.Quantity, &r.UnitPrice, &state, &r.TransactionID, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query reservation: %w", err)
	}
	r.State = domain.ReservationState(state)
	return &r, nil
}

// ReleaseReservation flips the token to released and restores stock in the
// same database transaction. The state guard makes a second release a no-op.
func (m *MySQLAdapter) ReleaseReservation(ctx context.Context, id uuid.UUID) (bool, error) {
	now := m.now()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var productID uuid.UUID
	var quantity int
	err = tx.QueryRowContext(ctx,
		`SELECT product_id, quantity FROM reservations WHERE id = ?`, id,
	).Scan(&productID, &quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return false, port.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("query reservation: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE reservations SET state = ?, updated_at = ?
		WHERE id = ? AND state <> ?`,
		domain.ReservationReleased, now, id, domain.ReservationReleased,
	)
	if err != nil {
		return false, fmt.Errorf("release reservation: %w", err)
	}
	rows, err := affected(result)
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE products SET stock = stock + ?, version = version + 1, updated_at = ?
		WHERE id = ?`,
		quantity, now, productID,
	)
	if err != nil {
		return false, fmt.Errorf("restore stock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit release: %w", err)
	}
	return true, nil
}

func withPage(query string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}
	return query, args
}
