package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

// CatalogService owns product listings and the capacity counter behind them.
type CatalogService struct {
	products     port.ProductRepository
	reservations port.ReservationRepository
	retries      int
	logger       *slog.Logger
	now          func() time.Time
}

func NewCatalogService(products port.ProductRepository, reservations port.ReservationRepository, conflictRetries int, logger *slog.Logger) *CatalogService {
	return &CatalogService{
		products:     products,
		reservations: reservations,
		retries:      retries(conflictRetries),
		logger:       orDefault(logger),
		now:          utcNow,
	}
}

type CreateProductParams struct {
	SellerID    uuid.UUID
	CountryID   uuid.UUID
	Title       string
	Description string
	Price       int64
	Stock       int
	Status      domain.ProductStatus
	FromDate    time.Time
	ToDate      time.Time
}

// UpdateProductParams is a patch; nil fields are left untouched.
type UpdateProductParams struct {
	Title       *string
	Description *string
	Price       *int64
	CountryID   *uuid.UUID
	Stock       *int
	Status      *domain.ProductStatus
	FromDate    *time.Time
	ToDate      *time.Time
}

func (s *CatalogService) CreateProduct(ctx context.Context, params CreateProductParams) (*domain.Product, error) {
	status := params.Status
	if status == "" {
		status = domain.ProductStatusDraft
	}
	p := &domain.Product{
		ID:          uuid.New(),
		Title:       params.Title,
		Description: params.Description,
		Price:       params.Price,
		SellerID:    params.SellerID,
		CountryID:   params.CountryID,
		Stock:       params.Stock,
		Status:      status,
		FromDate:    domain.DateOf(params.FromDate),
		ToDate:      domain.DateOf(params.ToDate),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := s.products.CreateProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	s.logger.Info("product created", idAttr("product_id", p.ID), idAttr("seller_id", p.SellerID))
	return p, nil
}

func (s *CatalogService) UpdateProduct(ctx context.Context, id uuid.UUID, patch UpdateProductParams) (*domain.Product, error) {
	for attempt := 0; attempt <= s.retries; attempt++ {
		p, err := s.live(ctx, id)
		if err != nil {
			return nil, err
		}

		expected := p.Version
		if patch.Title != nil {
			p.Title = *patch.Title
		}
		if patch.Description != nil {
			p.Description = *patch.Description
		}
		if patch.Price != nil {
			p.Price = *patch.Price
		}
		if patch.CountryID != nil {
			p.CountryID = *patch.CountryID
		}
		if patch.Stock != nil {
			p.Stock = *patch.Stock
		}
		if patch.Status != nil {
			p.Status = *patch.Status
		}
		if patch.FromDate != nil {
			p.FromDate = domain.DateOf(*patch.FromDate)
		}
		if patch.ToDate != nil {
			p.ToDate = domain.DateOf(*patch.ToDate)
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}

		err = s.products.UpdateProduct(ctx, p, expected)
		if errors.Is(err, port.ErrOptimisticLock) {
			s.logger.Debug("product update lost race, retrying", idAttr("product_id", id), slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update product %s: %w", id, err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("%w: product %s kept changing", domain.ErrConflict, id)
}

// DeleteProduct sets the tombstone. Deleting twice is a no-op.
func (s *CatalogService) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	for attempt := 0; attempt <= s.retries; attempt++ {
		p, err := s.products.GetProduct(ctx, id)
		if err != nil {
			return loadErr(err, "product", id)
		}
		if p.Deleted() {
			return nil
		}

		expected := p.Version
		p.DeletedAt = ptr(s.now())
		err = s.products.UpdateProduct(ctx, p, expected)
		if errors.Is(err, port.ErrOptimisticLock) {
			continue
		}
		if err != nil {
			return fmt.Errorf("delete product %s: %w", id, err)
		}

		s.logger.Info("product deleted", idAttr("product_id", id))
		return nil
	}
	return fmt.Errorf("%w: product %s kept changing", domain.ErrConflict, id)
}

// GetProduct hides tombstoned listings.
func (s *CatalogService) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	return s.live(ctx, id)
}

func (s *CatalogService) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]*domain.Product, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown product status %q", domain.ErrInvalidInput, filter.Status)
	}
	products, err := s.products.ListProducts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// Availability answers whether the listing can be bought at asOf and how much
// capacity is left.
func (s *CatalogService) Availability(ctx context.Context, id uuid.UUID, asOf time.Time) (*domain.Availability, error) {
	p, err := s.products.GetProduct(ctx, id)
	if err != nil {
		return nil, loadErr(err, "product", id)
	}
	a := &domain.Availability{ProductID: id}
	if p.CheckPurchasable(asOf) == nil {
		a.Purchasable = true
		a.Quantity = p.Stock
	}
	return a, nil
}

// Reserve takes quantity units of capacity and returns the held token. The
// decrement itself is a single conditional write; a failed write is
// classified by reloading the product.
func (s *CatalogService) Reserve(ctx context.Context, productID uuid.UUID, quantity int, asOf time.Time) (*domain.Reservation, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidInput)
	}

	for attempt := 0; attempt <= s.retries; attempt++ {
		p, err := s.products.GetProduct(ctx, productID)
		if err != nil {
			return nil, loadErr(err, "product", productID)
		}
		if err := p.CheckPurchasable(asOf); err != nil {
			return nil, err
		}
		if p.Stock < quantity {
			return nil, fmt.Errorf("%w: product %s has %d left, requested %d",
				domain.ErrInsufficientQuantity, productID, p.Stock, quantity)
		}

		res := &domain.Reservation{
			ID:        uuid.New(),
			ProductID: productID,
			Quantity:  quantity,
			UnitPrice: p.Price,
		}
		err = s.reservations.Reserve(ctx, res, asOf)
		if errors.Is(err, port.ErrOptimisticLock) {
			s.logger.Debug("reservation guard failed, reloading", idAttr("product_id", productID), slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reserve product %s: %w", productID, err)
		}
		return res, nil
	}
	return nil, fmt.Errorf("%w: reservation on product %s", domain.ErrConflict, productID)
}

// Release returns the reserved capacity. Releasing a token twice restores
// capacity once.
func (s *CatalogService) Release(ctx context.Context, reservationID uuid.UUID) error {
	released, err := s.reservations.ReleaseReservation(ctx, reservationID)
	if err != nil {
		if errors.Is(err, port.ErrNotFound) {
			return loadErr(err, "reservation", reservationID)
		}
		return fmt.Errorf("release reservation %s: %w", reservationID, err)
	}
	if !released {
		s.logger.Debug("reservation already released", idAttr("reservation_id", reservationID))
		return nil
	}

	s.logger.Info("reservation released", idAttr("reservation_id", reservationID))
	return nil
}

func (s *CatalogService) live(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	p, err := s.products.GetProduct(ctx, id)
	if err != nil {
		return nil, loadErr(err, "product", id)
	}
	if p.Deleted() {
		return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
	}
	return p, nil
}
