package domain

import (
	"time"

	"github.com/google/uuid"
)

// User and UserAddress are reference data owned by the account service; the
// lifecycle only reads them.
type User struct {
	ID        uuid.UUID
	Name      string
	Email     string
	Phone     string
	CreatedAt time.Time
}

type UserAddress struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Name      string
	Address   string
	Phone     string
	CreatedAt time.Time
}
