package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

func (s *Store) CreateProduct(_ context.Context, product *domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	if _, ok := s.products[product.ID]; ok {
		return port.ErrDuplicate
	}
	now := s.now()
	product.Version = 1
	product.CreatedAt = now
	product.UpdatedAt = now
	s.products[product.ID] = *product
	return nil
}

func (s *Store) GetProduct(_ context.Context, id uuid.UUID) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	return &p, nil
}

func (s *Store) UpdateProduct(_ context.Context, product *domain.Product, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.products[product.ID]
	if !ok {
		return port.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return port.ErrOptimisticLock
	}

	cur.Title = product.Title
	cur.Description = product.Description
	cur.Price = product.Price
	cur.CountryID = product.CountryID
	cur.Stock = product.Stock
	cur.Status = product.Status
	cur.FromDate = product.FromDate
	cur.ToDate = product.ToDate
	cur.DeletedAt = product.DeletedAt
	cur.Version = expectedVersion + 1
	cur.UpdatedAt = s.now()
	s.products[cur.ID] = cur

	product.Version = cur.Version
	product.UpdatedAt = cur.UpdatedAt
	return nil
}

func (s *Store) ListProducts(_ context.Context, filter domain.ProductFilter) ([]*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := strings.ToLower(filter.Query)
	var out []*domain.Product
	for _, p := range s.products {
		if p.Deleted() && !filter.IncludeDeleted {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(p.Title), query) {
			continue
		}
		if filter.SellerID != uuid.Nil && p.SellerID != filter.SellerID {
			continue
		}
		if filter.CountryID != uuid.Nil && p.CountryID != filter.CountryID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, &p)
	}

	slices.SortFunc(out, func(a, b *domain.Product) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return page(out, filter.Limit, filter.Offset), nil
}

func (s *Store) Reserve(_ context.Context, reservation *domain.Reservation, asOf time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[reservation.ProductID]
	if !ok {
		return port.ErrNotFound
	}
	if p.CheckPurchasable(asOf) != nil || p.Stock < reservation.Quantity {
		return port.ErrOptimisticLock
	}

	now := s.now()
	p.Stock -= reservation.Quantity
	p.Version++
	p.UpdatedAt = now
	s.products[p.ID] = p

	if reservation.ID == uuid.Nil {
		reservation.ID = uuid.New()
	}
	reservation.State = domain.ReservationHeld
	reservation.CreatedAt = now
	reservation.UpdatedAt = now
	s.reservations[reservation.ID] = *reservation
	return nil
}

func (s *Store) GetReservation(_ context.Context, id uuid.UUID) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	return &r, nil
}

func (s *Store) ReleaseReservation(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[id]
	if !ok {
		return false, port.ErrNotFound
	}
	if r.State == domain.ReservationReleased {
		return false, nil
	}

	now := s.now()
	r.State = domain.ReservationReleased
	r.UpdatedAt = now
	s.reservations[id] = r

	if p, ok := s.products[r.ProductID]; ok {
		p.Stock += r.Quantity
		p.Version++
		p.UpdatedAt = now
		s.products[p.ID] = p
	}
	return true, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
