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

// Users and addresses are written by the account service. CreateUser and
// CreateUserAddress exist for seeding and tests.

func (m *MySQLAdapter) CreateUser(ctx context.Context, u *domain.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.now()
	}
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, phone, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.Phone, u.CreatedAt,
	)
	if _, dup := duplicateKey(err); dup {
		return port.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) CreateUserAddress(ctx context.Context, a *domain.UserAddress) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.now()
	}
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO user_addresses (id, user_id, name, address, phone, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, a.Address, a.Phone, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert address: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var u domain.User
	err := m.db.QueryRowContext(ctx,
		`SELECT id, name, email, phone, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

func (m *MySQLAdapter) GetUserAddress(ctx context.Context, id uuid.UUID) (*domain.UserAddress, error) {
	var a domain.UserAddress
	err := m.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, address, phone, created_at FROM user_addresses WHERE id = ?`, id,
	).Scan(&a.ID, &a.UserID, &a.Name, &a.Address, &a.Phone, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query address: %w", err)
	}
	return &a, nil
}
