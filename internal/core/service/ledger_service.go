package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

// errSkip is returned by a transition guard when the transition no longer
// applies and should be treated as a no-op.
var errSkip = errors.New("transition skipped")

// Releaser gives reserved capacity back to the catalog.
type Releaser interface {
	Release(ctx context.Context, reservationID uuid.UUID) error
}

type LedgerConfig struct {
	MaxQuantity        int
	MaxResubmissions   int
	PaymentWindow      time.Duration
	VerificationWindow time.Duration
	ReceiptWindow      time.Duration
	ConflictRetries    int
}

// LedgerService is the single writer of transaction status and timestamps.
// Every transition is a read, a check against the transition table and a
// version-guarded write.
type LedgerService struct {
	repo     port.TransactionRepository
	releaser Releaser
	events   Emitter
	cfg      LedgerConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewLedgerService(repo port.TransactionRepository, releaser Releaser, events Emitter, cfg LedgerConfig, logger *slog.Logger) *LedgerService {
	cfg.ConflictRetries = retries(cfg.ConflictRetries)
	return &LedgerService{
		repo:     repo,
		releaser: releaser,
		events:   events,
		cfg:      cfg,
		logger:   orDefault(logger),
		now:      utcNow,
	}
}

type CreateTransactionParams struct {
	Reservation    *domain.Reservation
	BuyerID        uuid.UUID
	SellerID       uuid.UUID
	BuyerAddressID uuid.UUID
	Notes          string
}

// Create records a new transaction and consumes the reservation token in the
// same write. The total price is fixed here.
func (s *LedgerService) Create(ctx context.Context, params CreateTransactionParams) (*domain.Transaction, error) {
	res := params.Reservation
	if res == nil || res.State != domain.ReservationHeld {
		return nil, fmt.Errorf("%w: reservation is not held", domain.ErrPreconditionFailed)
	}
	if err := s.checkQuantity(res.Quantity); err != nil {
		return nil, err
	}
	if len(params.Notes) > domain.MaxNotesLength {
		return nil, fmt.Errorf("%w: notes exceed %d characters", domain.ErrInvalidInput, domain.MaxNotesLength)
	}
	if res.UnitPrice < 0 || res.UnitPrice > math.MaxInt64/int64(res.Quantity) {
		return nil, fmt.Errorf("%w: total of %d x %d does not fit", domain.ErrInvalidInput, res.Quantity, res.UnitPrice)
	}

	now := s.now()
	tx := &domain.Transaction{
		ID:             uuid.New(),
		ProductID:      res.ProductID,
		BuyerID:        params.BuyerID,
		SellerID:       params.SellerID,
		BuyerAddressID: params.BuyerAddressID,
		ReservationID:  res.ID,
		Quantity:       res.Quantity,
		Notes:          params.Notes,
		TotalPrice:     int64(res.Quantity) * res.UnitPrice,
		Status:         domain.StatusCreated,
		ExpiresAt:      s.deadline(domain.StatusCreated, now),
	}

	err := s.repo.CreateTransaction(ctx, tx)
	if errors.Is(err, port.ErrOptimisticLock) {
		return nil, fmt.Errorf("%w: reservation %s already consumed or released", domain.ErrPreconditionFailed, res.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	s.logger.Info("transaction created",
		idAttr("transaction_id", tx.ID),
		idAttr("product_id", tx.ProductID),
		slog.Int64("total_price", tx.TotalPrice))
	return tx, nil
}

func (s *LedgerService) Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, loadErr(err, "transaction", id)
	}
	return tx, nil
}

func (s *LedgerService) List(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown transaction status %q", domain.ErrInvalidInput, filter.Status)
	}
	txs, err := s.repo.ListTransactions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

func (s *LedgerService) ListExpired(ctx context.Context, asOf time.Time, limit int) ([]*domain.Transaction, error) {
	txs, err := s.repo.ListExpired(ctx, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired transactions: %w", err)
	}
	return txs, nil
}

// AwaitPayment opens the payment window once the invoice has been issued.
func (s *LedgerService) AwaitPayment(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx, _, err := s.transition(ctx, id, domain.StatusAwaitingPayment, from(domain.StatusCreated), nil)
	return tx, err
}

func (s *LedgerService) BeginVerification(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx, _, err := s.transition(ctx, id, domain.StatusVerifying, nil, nil)
	return tx, err
}

// MarkPaid moves Verifying to Paid. paid_at is written by the first
// confirmation only; later confirmations are no-ops.
func (s *LedgerService) MarkPaid(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx, changed, err := s.transition(ctx, id, domain.StatusPaid, nil, func(tx *domain.Transaction, now time.Time) {
		if tx.PaidAt == nil {
			tx.PaidAt = ptr(now)
		}
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.emit(domain.EventTransactionPaid, tx)
	}
	return tx, nil
}

// Reject records a failed verification and resolves the retry state right
// away: back to AwaitingPayment, or Cancelled once the resubmission budget is
// spent.
func (s *LedgerService) Reject(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case tx.Status == domain.StatusVerifying:
		var changed bool
		tx, changed, err = s.transition(ctx, id, domain.StatusRejected, nil, func(tx *domain.Transaction, _ time.Time) {
			tx.Rejections++
		})
		if err != nil {
			return nil, err
		}
		if changed {
			s.emit(domain.EventPaymentRejected, tx)
		}
	case tx.Status == domain.StatusRejected:
		// rejected earlier but not resolved yet
	case tx.Rejections > 0 && (tx.Status == domain.StatusAwaitingPayment || tx.Status == domain.StatusCancelled):
		return tx, nil
	default:
		return nil, fmt.Errorf("%w: cannot reject transaction %s in status %s", domain.ErrInvalidTransition, id, tx.Status)
	}
	return s.ResolveRejection(ctx, id)
}

// ResolveRejection moves a Rejected transaction on. It is a no-op for any
// other status so that the sweep and the reconciler can both drive it.
func (s *LedgerService) ResolveRejection(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status != domain.StatusRejected {
		return tx, nil
	}

	if tx.Rejections > s.cfg.MaxResubmissions {
		s.logger.Info("resubmission budget exhausted",
			idAttr("transaction_id", id), slog.Int("rejections", tx.Rejections))
		tx, _, err = s.cancel(ctx, id, while(domain.StatusRejected))
		return tx, err
	}

	tx, _, err = s.transition(ctx, id, domain.StatusAwaitingPayment, while(domain.StatusRejected), nil)
	return tx, err
}

func (s *LedgerService) MarkShipped(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx, changed, err := s.transition(ctx, id, domain.StatusShipped, nil, nil)
	if err != nil {
		return nil, err
	}
	if changed {
		s.emit(domain.EventTransactionShipped, tx)
	}
	return tx, nil
}

// Complete confirms receipt and sets finished_at.
func (s *LedgerService) Complete(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx, _, err := s.complete(ctx, id, nil)
	return tx, err
}

// Cancel withdraws a purchase that has not advanced past payment submission
// and releases its reservation. Cancelling a cancelled transaction re-drives
// the release, which is itself idempotent.
func (s *LedgerService) Cancel(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx, _, err := s.cancel(ctx, id, nil)
	return tx, err
}

// Expire applies the timeout policy to a transaction whose deadline passed at
// asOf. Verifying is handled by the reconciler because the invoice decides
// the outcome. The bool reports whether anything changed.
func (s *LedgerService) Expire(ctx context.Context, id uuid.UUID, asOf time.Time) (*domain.Transaction, bool, error) {
	tx, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}

	switch tx.Status {
	case domain.StatusCreated, domain.StatusAwaitingPayment:
		return s.cancel(ctx, id, expiredIn(tx.Status, asOf))
	case domain.StatusShipped:
		return s.complete(ctx, id, expiredIn(tx.Status, asOf))
	case domain.StatusRejected:
		resolved, err := s.ResolveRejection(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return resolved, resolved.Status != domain.StatusRejected, nil
	default:
		return tx, false, nil
	}
}

func (s *LedgerService) complete(ctx context.Context, id uuid.UUID, guard guardFunc) (*domain.Transaction, bool, error) {
	tx, changed, err := s.transition(ctx, id, domain.StatusCompleted, guard, func(tx *domain.Transaction, now time.Time) {
		if tx.FinishedAt == nil {
			tx.FinishedAt = ptr(now)
		}
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		s.emit(domain.EventTransactionCompleted, tx)
	}
	return tx, changed, nil
}

func (s *LedgerService) cancel(ctx context.Context, id uuid.UUID, guard guardFunc) (*domain.Transaction, bool, error) {
	tx, changed, err := s.transition(ctx, id, domain.StatusCancelled, guard, nil)
	if errors.Is(err, domain.ErrInvalidTransition) {
		if cur, getErr := s.Get(ctx, id); getErr == nil && cur.Status.Advanced() {
			return nil, false, fmt.Errorf("%w: transaction %s is %s", domain.ErrAlreadyAdvanced, id, cur.Status)
		}
	}
	if err != nil {
		return nil, false, err
	}
	if tx.Status != domain.StatusCancelled {
		return tx, false, nil
	}

	if err := s.releaser.Release(ctx, tx.ReservationID); err != nil {
		s.logger.Error("release after cancel failed",
			idAttr("transaction_id", id), idAttr("reservation_id", tx.ReservationID), slog.Any("error", err))
		return nil, changed, fmt.Errorf("release reservation of cancelled transaction %s: %w", id, err)
	}
	if changed {
		s.emit(domain.EventTransactionCancelled, tx)
	}
	return tx, changed, nil
}

type guardFunc func(tx *domain.Transaction, now time.Time) error

type applyFunc func(tx *domain.Transaction, now time.Time)

// from restricts a transition to a single source status.
func from(status domain.Status) guardFunc {
	return func(tx *domain.Transaction, _ time.Time) error {
		if tx.Status != status {
			return fmt.Errorf("%w: transaction %s is %s, not %s", domain.ErrInvalidTransition, tx.ID, tx.Status, status)
		}
		return nil
	}
}

// while skips the transition once the transaction has left status.
func while(status domain.Status) guardFunc {
	return func(tx *domain.Transaction, _ time.Time) error {
		if tx.Status != status {
			return errSkip
		}
		return nil
	}
}

// expiredIn lets a sweep-initiated transition through only while the row is
// still in status and past its deadline; anything else means a concurrent
// user action won.
func expiredIn(status domain.Status, asOf time.Time) guardFunc {
	return func(tx *domain.Transaction, _ time.Time) error {
		if tx.Status != status || !tx.Expired(asOf) {
			return errSkip
		}
		return nil
	}
}

// transition moves transaction id to status to with a bounded
// compare-and-set loop. Reaching a status the transaction already passed is a
// no-op; an edge missing from the table fails closed with
// ErrInvalidTransition.
func (s *LedgerService) transition(ctx context.Context, id uuid.UUID, to domain.Status, guard guardFunc, apply applyFunc) (*domain.Transaction, bool, error) {
	for attempt := 0; attempt <= s.cfg.ConflictRetries; attempt++ {
		tx, err := s.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		now := s.now()

		if guard != nil {
			if err := guard(tx, now); errors.Is(err, errSkip) {
				return tx, false, nil
			} else if err != nil && !tx.Status.Reached(to) {
				return nil, false, err
			}
		}
		if tx.Status.Reached(to) {
			return tx, false, nil
		}
		if !domain.CanTransition(tx.Status, to) {
			return nil, false, fmt.Errorf("%w: transaction %s cannot move from %s to %s",
				domain.ErrInvalidTransition, id, tx.Status, to)
		}

		expected := tx.Version
		prev := tx.Status
		tx.Status = to
		tx.ExpiresAt = s.deadline(to, now)
		if apply != nil {
			apply(tx, now)
		}

		err = s.repo.UpdateTransaction(ctx, tx, expected)
		if errors.Is(err, port.ErrOptimisticLock) {
			s.logger.Debug("transition lost race, retrying",
				idAttr("transaction_id", id), slog.String("to", string(to)), slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("update transaction %s: %w", id, err)
		}

		s.logger.Info("transaction transitioned",
			idAttr("transaction_id", id), slog.String("from", string(prev)), slog.String("to", string(to)))
		return tx, true, nil
	}
	return nil, false, fmt.Errorf("%w: transaction %s kept changing", domain.ErrConflict, id)
}

// deadline is the expiry a transaction carries while in status.
func (s *LedgerService) deadline(status domain.Status, now time.Time) *time.Time {
	switch status {
	case domain.StatusCreated, domain.StatusAwaitingPayment:
		return ptr(now.Add(s.cfg.PaymentWindow))
	case domain.StatusVerifying:
		return ptr(now.Add(s.cfg.VerificationWindow))
	case domain.StatusRejected:
		return ptr(now)
	case domain.StatusShipped:
		return ptr(now.Add(s.cfg.ReceiptWindow))
	}
	return nil
}

func (s *LedgerService) checkQuantity(quantity int) error {
	if quantity < 1 || (s.cfg.MaxQuantity > 0 && quantity > s.cfg.MaxQuantity) {
		return fmt.Errorf("%w: quantity must be between 1 and %d", domain.ErrInvalidInput, s.cfg.MaxQuantity)
	}
	return nil
}

func (s *LedgerService) emit(t domain.EventType, tx *domain.Transaction) {
	if s.events == nil {
		return
	}
	s.events.Emit(domain.NewTransactionEvent(t, tx, s.now()))
}
