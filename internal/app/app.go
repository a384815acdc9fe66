// Package app assembles storage drivers and services from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/marketplace/internal/adapter/handler"
	"github.com/rl1809/marketplace/internal/adapter/storage"
	"github.com/rl1809/marketplace/internal/adapter/storage/memory"
	"github.com/rl1809/marketplace/internal/config"
	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/core/service"
	"github.com/rl1809/marketplace/internal/port"
)

// Accounts seeds reference users and addresses.
type Accounts interface {
	CreateUser(ctx context.Context, user *domain.User) error
	CreateUserAddress(ctx context.Context, address *domain.UserAddress) error
}

type Storage struct {
	Products     port.ProductRepository
	Reservations port.ReservationRepository
	Transactions port.TransactionRepository
	Invoices     port.InvoiceRepository
	Shipments    port.ShipmentRepository
	Directory    port.Directory
	Accounts     Accounts
	Idempotency  port.IdempotencyStore
	Publisher    port.EventPublisher
	Checks       []handler.HealthCheck

	closers []func() error
}

// OpenStorage connects the configured driver and, when an address is set,
// Redis for request claims and the event stream.
func OpenStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Storage, error) {
	st := &Storage{}

	switch cfg.Storage.Driver {
	case config.DriverMySQL:
		db, err := storage.OpenMySQL(ctx, cfg.MySQL.DSN, cfg.MySQL.MaxOpenConns, cfg.MySQL.MaxIdleConns, cfg.MySQL.ConnMaxLifetime)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, db.Close)
		logger.Info("connected to mysql")

		adapter := storage.NewMySQLAdapter(db)
		if cfg.MySQL.AutoMigrate {
			if err := adapter.Migrate(ctx); err != nil {
				st.Close()
				return nil, err
			}
			logger.Info("schema migrated")
		}
		st.useRepositories(adapter)
		st.Accounts = adapter
		st.Checks = append(st.Checks, handler.HealthCheck{Name: "mysql", Check: db.PingContext})

	case config.DriverMemory:
		store := memory.NewStore()
		store.SetClaimTTL(cfg.Redis.IdempotencyTTL)
		st.useRepositories(store)
		st.Accounts = store
		st.Idempotency = store
		logger.Warn("using in-memory storage, data is lost on restart")

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			st.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		st.closers = append(st.closers, rdb.Close)
		logger.Info("connected to redis", slog.String("addr", cfg.Redis.Addr))

		ra := storage.NewRedisAdapter(rdb, cfg.Redis.EventStream, cfg.Redis.StreamMaxLen, cfg.Redis.IdempotencyTTL)
		st.Idempotency = ra
		st.Publisher = ra
		st.Checks = append(st.Checks, handler.HealthCheck{Name: "redis", Check: ra.Ping})
	}

	if st.Idempotency == nil {
		claims := memory.NewStore()
		claims.SetClaimTTL(cfg.Redis.IdempotencyTTL)
		st.Idempotency = claims
		logger.Warn("redis not configured, request claims are local to this process")
	}
	if st.Publisher == nil {
		st.Publisher = logPublisher{logger: logger}
	}

	return st, nil
}

type repositories interface {
	port.ProductRepository
	port.ReservationRepository
	port.TransactionRepository
	port.InvoiceRepository
	port.ShipmentRepository
	port.Directory
}

func (s *Storage) useRepositories(r repositories) {
	s.Products = r
	s.Reservations = r
	s.Transactions = r
	s.Invoices = r
	s.Shipments = r
	s.Directory = r
}

// Close releases connections in reverse order of opening.
func (s *Storage) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// logPublisher stands in for the event stream when Redis is not configured.
type logPublisher struct {
	logger *slog.Logger
}

func (p logPublisher) Publish(ctx context.Context, event domain.Event) error {
	p.logger.LogAttrs(ctx, slog.LevelInfo, "lifecycle event",
		slog.String("type", string(event.Type)),
		slog.String("transaction_id", event.TransactionID.String()),
		slog.String("status", string(event.Status)))
	return nil
}

type Services struct {
	Catalog    *service.CatalogService
	Ledger     *service.LedgerService
	Reconciler *service.ReconcilerService
	Shipments  *service.ShipmentService
	Lifecycle  *service.LifecycleService
	Sweeper    *service.Sweeper
	Dispatcher *service.EventDispatcher
}

// NewServices wires the core over st and starts the event workers.
func NewServices(cfg *config.Config, st *Storage, logger *slog.Logger) *Services {
	lc := cfg.Lifecycle

	dispatcher := service.NewEventDispatcher(st.Publisher, cfg.Events.QueueSize, logger)
	dispatcher.Start(cfg.Events.Workers)

	catalog := service.NewCatalogService(st.Products, st.Reservations, lc.ConflictRetries, logger)
	ledger := service.NewLedgerService(st.Transactions, catalog, dispatcher, service.LedgerConfig{
		MaxQuantity:        lc.MaxQuantity,
		MaxResubmissions:   lc.MaxResubmissions,
		PaymentWindow:      lc.PaymentWindow,
		VerificationWindow: lc.VerificationWindow,
		ReceiptWindow:      lc.ReceiptWindow,
		ConflictRetries:    lc.ConflictRetries,
	}, logger)
	reconciler := service.NewReconcilerService(st.Invoices, ledger, service.ReconcilerConfig{
		CodeRetries:     lc.CodeRetries,
		ConflictRetries: lc.ConflictRetries,
	}, logger)
	shipments := service.NewShipmentService(st.Shipments, ledger, logger)

	return &Services{
		Catalog:    catalog,
		Ledger:     ledger,
		Reconciler: reconciler,
		Shipments:  shipments,
		Lifecycle: service.NewLifecycleService(service.LifecycleDeps{
			Catalog:     catalog,
			Ledger:      ledger,
			Reconciler:  reconciler,
			Shipments:   shipments,
			Directory:   st.Directory,
			Idempotency: st.Idempotency,
			Events:      dispatcher,
		}, logger),
		Sweeper: service.NewSweeper(ledger, reconciler, service.SweeperConfig{
			Interval:  cfg.Sweeper.Interval,
			BatchSize: cfg.Sweeper.BatchSize,
			Workers:   cfg.Sweeper.Workers,
		}, logger),
		Dispatcher: dispatcher,
	}
}
