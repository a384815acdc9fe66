package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ProductStatus string

const (
	ProductStatusDraft  ProductStatus = "draft"
	ProductStatusActive ProductStatus = "active"
	ProductStatusPaused ProductStatus = "paused"
)

func (s ProductStatus) Valid() bool {
	switch s {
	case ProductStatusDraft, ProductStatusActive, ProductStatusPaused:
		return true
	}
	return false
}

const (
	MaxProductTitleLength       = 50
	MaxProductDescriptionLength = 300
)

// Product is a seller listing. Stock is the capacity still available for
// reservation; DeletedAt is the tombstone, rows are never removed.
type Product struct {
	ID          uuid.UUID
	Title       string
	Description string
	Price       int64 // smallest currency unit
	SellerID    uuid.UUID
	CountryID   uuid.UUID
	Stock       int
	Status      ProductStatus
	FromDate    time.Time
	ToDate      time.Time
	Version     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

func (p *Product) Deleted() bool {
	return p.DeletedAt != nil
}

// CheckPurchasable reports ErrUnavailable unless the product is active, live
// and asOf falls inside the inclusive [FromDate, ToDate] day window.
func (p *Product) CheckPurchasable(asOf time.Time) error {
	if p.Deleted() {
		return fmt.Errorf("%w: product %s is deleted", ErrUnavailable, p.ID)
	}
	if p.Status != ProductStatusActive {
		return fmt.Errorf("%w: product %s is %s", ErrUnavailable, p.ID, p.Status)
	}
	day := DateOf(asOf)
	if day.Before(DateOf(p.FromDate)) || day.After(DateOf(p.ToDate)) {
		return fmt.Errorf("%w: product %s is offered from %s to %s", ErrUnavailable, p.ID,
			p.FromDate.Format(time.DateOnly), p.ToDate.Format(time.DateOnly))
	}
	return nil
}

func (p *Product) Validate() error {
	if p.Title == "" || len(p.Title) > MaxProductTitleLength {
		return fmt.Errorf("%w: title must be 1-%d characters", ErrInvalidInput, MaxProductTitleLength)
	}
	if len(p.Description) > MaxProductDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidInput, MaxProductDescriptionLength)
	}
	if p.Price < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	}
	if p.Stock < 0 {
		return fmt.Errorf("%w: stock must not be negative", ErrInvalidInput)
	}
	if p.SellerID == uuid.Nil {
		return fmt.Errorf("%w: seller is required", ErrInvalidInput)
	}
	if p.CountryID == uuid.Nil {
		return fmt.Errorf("%w: country is required", ErrInvalidInput)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("%w: unknown product status %q", ErrInvalidInput, p.Status)
	}
	if p.FromDate.IsZero() || p.ToDate.IsZero() {
		return fmt.Errorf("%w: availability window is required", ErrInvalidInput)
	}
	if DateOf(p.ToDate).Before(DateOf(p.FromDate)) {
		return fmt.Errorf("%w: to_date is before from_date", ErrInvalidInput)
	}
	return nil
}

// DateOf truncates t to its calendar day in UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type ProductFilter struct {
	Query          string
	SellerID       uuid.UUID
	CountryID      uuid.UUID
	Status         ProductStatus
	IncludeDeleted bool
	Limit          int
	Offset         int
}

type Availability struct {
	ProductID   uuid.UUID
	Purchasable bool
	Quantity    int
}
