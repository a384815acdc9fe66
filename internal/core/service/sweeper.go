package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rl1809/marketplace/internal/core/domain"
)

type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
	Workers   int
}

// SweepReport counts what one pass did.
type SweepReport struct {
	Scanned   int
	Cancelled int
	Resumed   int
	Completed int
	Skipped   int
	Failed    int
}

// Sweeper enforces status deadlines in the background. It only issues the
// same guarded transitions a user request would, so it can run alongside
// them.
type Sweeper struct {
	ledger     *LedgerService
	reconciler *ReconcilerService
	cfg        SweeperConfig
	logger     *slog.Logger
	now        func() time.Time
}

func NewSweeper(ledger *LedgerService, reconciler *ReconcilerService, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Sweeper{
		ledger:     ledger,
		reconciler: reconciler,
		cfg:        cfg,
		logger:     orDefault(logger),
		now:        utcNow,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	report, err := s.SweepOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("sweep failed", slog.Any("error", err))
		return
	}
	if report.Scanned > 0 {
		s.logger.Info("sweep finished",
			slog.Int("scanned", report.Scanned),
			slog.Int("cancelled", report.Cancelled),
			slog.Int("resumed", report.Resumed),
			slog.Int("completed", report.Completed),
			slog.Int("skipped", report.Skipped),
			slog.Int("failed", report.Failed))
	}
}

// SweepOnce handles one batch of expired transactions with a pool of workers.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	asOf := s.now()
	expired, err := s.ledger.ListExpired(ctx, asOf, s.cfg.BatchSize)
	if err != nil {
		return SweepReport{}, err
	}

	report := SweepReport{Scanned: len(expired)}
	var mu sync.Mutex

	queue := make(chan *domain.Transaction)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for tx := range queue {
				result, changed, err := s.sweepOne(ctx, tx, asOf)

				mu.Lock()
				switch {
				case err != nil:
					report.Failed++
					s.logger.Warn("sweep transaction failed",
						slog.Int("worker", id), idAttr("transaction_id", tx.ID), slog.Any("error", err))
				case !changed:
					report.Skipped++
				case result.Status == domain.StatusCancelled:
					report.Cancelled++
				case result.Status == domain.StatusAwaitingPayment:
					report.Resumed++
				case result.Status == domain.StatusCompleted:
					report.Completed++
				default:
					report.Skipped++
				}
				mu.Unlock()
			}
		}(i)
	}

feed:
	for _, tx := range expired {
		select {
		case queue <- tx:
		case <-ctx.Done():
			break feed
		}
	}
	close(queue)
	wg.Wait()

	return report, ctx.Err()
}

func (s *Sweeper) sweepOne(ctx context.Context, tx *domain.Transaction, asOf time.Time) (*domain.Transaction, bool, error) {
	if tx.Status == domain.StatusVerifying {
		return s.reconciler.ExpireVerification(ctx, tx.ID, asOf)
	}
	return s.ledger.Expire(ctx, tx.ID, asOf)
}
