package service

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

const defaultCodeRetries = 3

type ReconcilerConfig struct {
	CodeRetries     int
	ConflictRetries int
}

// CodeGenerator produces a candidate invoice code for tx.
type CodeGenerator func(tx *domain.Transaction, now time.Time) (string, error)

// ReconcilerService is the single writer of invoices. Payment effects on the
// transaction go through the ledger.
type ReconcilerService struct {
	invoices    port.InvoiceRepository
	ledger      *LedgerService
	codeRetries int
	retries     int
	generate    CodeGenerator
	logger      *slog.Logger
	now         func() time.Time
}

func NewReconcilerService(invoices port.InvoiceRepository, ledger *LedgerService, cfg ReconcilerConfig, logger *slog.Logger) *ReconcilerService {
	codeRetries := cfg.CodeRetries
	if codeRetries <= 0 {
		codeRetries = defaultCodeRetries
	}
	return &ReconcilerService{
		invoices:    invoices,
		ledger:      ledger,
		codeRetries: codeRetries,
		retries:     retries(cfg.ConflictRetries),
		generate:    GenerateInvoiceCode,
		logger:      orDefault(logger),
		now:         utcNow,
	}
}

// GenerateInvoiceCode builds INV<yyyymmdd><8 hex of the transaction id><4
// random base32 characters>.
func GenerateInvoiceCode(tx *domain.Transaction, now time.Time) (string, error) {
	var buf [3]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("read random suffix: %w", err)
	}
	suffix := base32.StdEncoding.EncodeToString(buf[:])[:4]
	return strings.ToUpper("INV" + now.UTC().Format("20060102") + tx.ID.String()[:8] + suffix), nil
}

// ReconcileOutcome is the result of one reconciliation signal.
type ReconcileOutcome struct {
	Result      domain.ReconcileResult
	Invoice     *domain.Invoice
	Transaction *domain.Transaction
}

// Issue returns the invoice of tx, creating it on first call. The code is
// checked against the uniqueness index before insert and regenerated on
// collision a bounded number of times.
func (s *ReconcilerService) Issue(ctx context.Context, tx *domain.Transaction) (*domain.Invoice, error) {
	existing, err := s.invoices.GetInvoiceByTransaction(ctx, tx.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, port.ErrNotFound) {
		return nil, fmt.Errorf("load invoice of transaction %s: %w", tx.ID, err)
	}

	for attempt := 0; attempt <= s.codeRetries; attempt++ {
		code, err := s.generate(tx, s.now())
		if err != nil {
			return nil, err
		}
		taken, err := s.invoices.InvoiceCodeExists(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("check invoice code: %w", err)
		}
		if taken {
			s.logger.Warn("invoice code collision", slog.String("code", code), slog.Int("attempt", attempt))
			continue
		}

		inv := &domain.Invoice{
			ID:            uuid.New(),
			TransactionID: tx.ID,
			Code:          code,
			CodedPrice:    tx.TotalPrice,
			Status:        domain.InvoiceUnpaid,
		}
		err = s.invoices.CreateInvoice(ctx, inv)
		switch {
		case errors.Is(err, port.ErrInvoiceCodeTaken):
			s.logger.Warn("invoice code taken at insert", slog.String("code", code), slog.Int("attempt", attempt))
			continue
		case errors.Is(err, port.ErrDuplicate):
			// a concurrent issue for the same transaction won
			return s.InvoiceForTransaction(ctx, tx.ID)
		case err != nil:
			return nil, fmt.Errorf("create invoice: %w", err)
		}

		s.logger.Info("invoice issued",
			idAttr("invoice_id", inv.ID), idAttr("transaction_id", tx.ID), slog.String("code", code))
		return inv, nil
	}
	return nil, fmt.Errorf("%w: transaction %s after %d attempts", domain.ErrCodeGenerationFailed, tx.ID, s.codeRetries+1)
}

func (s *ReconcilerService) Invoice(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	inv, err := s.invoices.GetInvoice(ctx, id)
	if err != nil {
		return nil, loadErr(err, "invoice", id)
	}
	return inv, nil
}

func (s *ReconcilerService) InvoiceForTransaction(ctx context.Context, transactionID uuid.UUID) (*domain.Invoice, error) {
	inv, err := s.invoices.GetInvoiceByTransaction(ctx, transactionID)
	if err != nil {
		return nil, loadErr(err, "invoice of transaction", transactionID)
	}
	return inv, nil
}

// SubmitPayment attaches payment evidence and moves the invoice and its
// transaction into verification. Resubmitting the same evidence is a no-op.
func (s *ReconcilerService) SubmitPayment(ctx context.Context, invoiceID uuid.UUID, proof, method string) (*domain.Invoice, *domain.Transaction, error) {
	if proof == "" || len(proof) > domain.MaxReceiptProofLength {
		return nil, nil, fmt.Errorf("%w: receipt proof must be 1-%d characters", domain.ErrInvalidInput, domain.MaxReceiptProofLength)
	}
	if method == "" || len(method) > domain.MaxPaymentMethodLength {
		return nil, nil, fmt.Errorf("%w: payment method must be 1-%d characters", domain.ErrInvalidInput, domain.MaxPaymentMethodLength)
	}

	for attempt := 0; attempt <= s.retries; attempt++ {
		inv, err := s.Invoice(ctx, invoiceID)
		if err != nil {
			return nil, nil, err
		}

		switch inv.Status {
		case domain.InvoiceVerifying, domain.InvoicePaid:
			if !inv.SameEvidence(proof, method) {
				if inv.Status == domain.InvoicePaid {
					return nil, nil, fmt.Errorf("%w: invoice %s is already paid", domain.ErrAlreadyAdvanced, invoiceID)
				}
				return nil, nil, fmt.Errorf("%w: invoice %s is under verification with different evidence",
					domain.ErrInvalidTransition, invoiceID)
			}
			tx, err := s.ledger.Get(ctx, inv.TransactionID)
			if err != nil {
				return nil, nil, err
			}
			return inv, tx, nil
		}

		tx, err := s.ledger.BeginVerification(ctx, inv.TransactionID)
		if err != nil {
			return nil, nil, err
		}

		expected := inv.Version
		if err := moveInvoice(inv, domain.InvoiceVerifying); err != nil {
			return nil, nil, err
		}
		inv.ReceiptProof = proof
		inv.PaymentMethod = method
		err = s.invoices.UpdateInvoice(ctx, inv, expected)
		if errors.Is(err, port.ErrOptimisticLock) {
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("update invoice %s: %w", invoiceID, err)
		}

		s.logger.Info("payment evidence submitted",
			idAttr("invoice_id", invoiceID), idAttr("transaction_id", tx.ID), slog.String("payment_method", method))
		return inv, tx, nil
	}
	return nil, nil, fmt.Errorf("%w: invoice %s kept changing", domain.ErrConflict, invoiceID)
}

// Reconcile applies a verification result. The amount must equal the coded
// price, and the coded price must still equal the transaction total. The
// invoice status is the idempotency guard: once Paid, further confirmations
// of the same amount only make sure the ledger caught up.
func (s *ReconcilerService) Reconcile(ctx context.Context, invoiceID uuid.UUID, amount int64) (*ReconcileOutcome, error) {
	for attempt := 0; attempt <= s.retries; attempt++ {
		inv, err := s.Invoice(ctx, invoiceID)
		if err != nil {
			return nil, err
		}
		tx, err := s.ledger.Get(ctx, inv.TransactionID)
		if err != nil {
			return nil, err
		}
		match := amount == inv.CodedPrice && inv.CodedPrice == tx.TotalPrice

		switch inv.Status {
		case domain.InvoiceUnpaid:
			return nil, fmt.Errorf("%w: no payment evidence submitted for invoice %s", domain.ErrInvalidTransition, invoiceID)

		case domain.InvoicePaid:
			if amount != inv.CodedPrice {
				s.logger.Warn("confirmation amount differs from paid invoice",
					idAttr("invoice_id", invoiceID), slog.Int64("amount", amount), slog.Int64("coded_price", inv.CodedPrice))
				return nil, fmt.Errorf("%w: invoice %s is already paid for %d, got %d",
					domain.ErrAlreadyAdvanced, invoiceID, inv.CodedPrice, amount)
			}
			tx, err = s.ledger.MarkPaid(ctx, inv.TransactionID)
			if err != nil {
				return nil, err
			}
			s.logger.Debug("duplicate reconciliation absorbed", idAttr("invoice_id", invoiceID))
			return &ReconcileOutcome{Result: domain.ReconcilePaid, Invoice: inv, Transaction: tx}, nil

		case domain.InvoiceRejected:
			if match {
				return nil, fmt.Errorf("%w: invoice %s was rejected and awaits new evidence", domain.ErrInvalidTransition, invoiceID)
			}
			tx, err = s.ledger.Reject(ctx, inv.TransactionID)
			if err != nil {
				return nil, err
			}
			s.logger.Debug("duplicate rejection absorbed", idAttr("invoice_id", invoiceID))
			return &ReconcileOutcome{Result: domain.ReconcileRejected, Invoice: inv, Transaction: tx}, nil
		}

		expected := inv.Version
		result, to := domain.ReconcileRejected, domain.InvoiceRejected
		if match {
			result, to = domain.ReconcilePaid, domain.InvoicePaid
			inv.PaidAt = ptr(s.now())
		}
		if err := moveInvoice(inv, to); err != nil {
			return nil, err
		}
		err = s.invoices.UpdateInvoice(ctx, inv, expected)
		if errors.Is(err, port.ErrOptimisticLock) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update invoice %s: %w", invoiceID, err)
		}

		if match {
			tx, err = s.ledger.MarkPaid(ctx, inv.TransactionID)
		} else {
			s.logger.Warn("payment rejected",
				idAttr("invoice_id", invoiceID),
				slog.Int64("amount", amount),
				slog.Int64("coded_price", inv.CodedPrice),
				slog.Int64("total_price", tx.TotalPrice))
			tx, err = s.ledger.Reject(ctx, inv.TransactionID)
		}
		if err != nil {
			return nil, err
		}
		return &ReconcileOutcome{Result: result, Invoice: inv, Transaction: tx}, nil
	}
	return nil, fmt.Errorf("%w: invoice %s kept changing", domain.ErrConflict, invoiceID)
}

// ExpireVerification closes a verification whose window passed at asOf. The
// invoice is rejected first; a reconciliation that got there earlier wins.
func (s *ReconcilerService) ExpireVerification(ctx context.Context, transactionID uuid.UUID, asOf time.Time) (*domain.Transaction, bool, error) {
	for attempt := 0; attempt <= s.retries; attempt++ {
		tx, err := s.ledger.Get(ctx, transactionID)
		if err != nil {
			return nil, false, err
		}
		if tx.Status != domain.StatusVerifying || !tx.Expired(asOf) {
			return tx, false, nil
		}

		inv, err := s.invoices.GetInvoiceByTransaction(ctx, transactionID)
		if err != nil && !errors.Is(err, port.ErrNotFound) {
			return nil, false, fmt.Errorf("load invoice of transaction %s: %w", transactionID, err)
		}

		if inv != nil {
			switch inv.Status {
			case domain.InvoicePaid:
				tx, err = s.ledger.MarkPaid(ctx, transactionID)
				return tx, err == nil, err
			case domain.InvoiceVerifying:
				expected := inv.Version
				if err := moveInvoice(inv, domain.InvoiceRejected); err != nil {
					return nil, false, err
				}
				err = s.invoices.UpdateInvoice(ctx, inv, expected)
				if errors.Is(err, port.ErrOptimisticLock) {
					continue
				}
				if err != nil {
					return nil, false, fmt.Errorf("update invoice %s: %w", inv.ID, err)
				}
			}
		}

		s.logger.Info("verification window expired", idAttr("transaction_id", transactionID))
		tx, err = s.ledger.Reject(ctx, transactionID)
		if err != nil {
			return nil, false, err
		}
		return tx, true, nil
	}
	return nil, false, fmt.Errorf("%w: invoice of transaction %s kept changing", domain.ErrConflict, transactionID)
}

func moveInvoice(inv *domain.Invoice, to domain.InvoiceStatus) error {
	if !domain.CanTransitionInvoice(inv.Status, to) {
		return fmt.Errorf("%w: invoice %s cannot move from %s to %s", domain.ErrInvalidTransition, inv.ID, inv.Status, to)
	}
	inv.Status = to
	return nil
}
