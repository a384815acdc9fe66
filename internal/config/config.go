package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

type Config struct {
	App struct {
		Name            string        `envconfig:"APP_NAME" default:"marketplace"`
		HTTPPort        int           `envconfig:"HTTP_PORT" default:"8080"`
		GRPCPort        int           `envconfig:"GRPC_PORT" default:"50051"`
		ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	}

	Storage struct {
		Driver string `envconfig:"STORAGE_DRIVER" default:"mysql"`
	}

	MySQL struct {
		DSN             string        `envconfig:"MYSQL_DSN" default:"root:root@tcp(localhost:3306)/marketplace?parseTime=true"`
		MaxOpenConns    int           `envconfig:"MYSQL_MAX_OPEN_CONNS" default:"50"`
		MaxIdleConns    int           `envconfig:"MYSQL_MAX_IDLE_CONNS" default:"25"`
		ConnMaxLifetime time.Duration `envconfig:"MYSQL_CONN_MAX_LIFETIME" default:"5m"`
		AutoMigrate     bool          `envconfig:"MYSQL_AUTO_MIGRATE" default:"true"`
	}

	// Redis is optional. An empty address falls back to in-process
	// idempotency claims and log-only events.
	Redis struct {
		Addr           string        `envconfig:"REDIS_ADDR" default:""`
		PoolSize       int           `envconfig:"REDIS_POOL_SIZE" default:"100"`
		EventStream    string        `envconfig:"REDIS_EVENT_STREAM" default:"marketplace:events"`
		StreamMaxLen   int64         `envconfig:"REDIS_STREAM_MAX_LEN" default:"100000"`
		IdempotencyTTL time.Duration `envconfig:"REDIS_IDEMPOTENCY_TTL" default:"24h"`
	}

	Lifecycle struct {
		MaxQuantity        int           `envconfig:"LIFECYCLE_MAX_QUANTITY" default:"100"`
		PaymentWindow      time.Duration `envconfig:"LIFECYCLE_PAYMENT_WINDOW" default:"24h"`
		VerificationWindow time.Duration `envconfig:"LIFECYCLE_VERIFICATION_WINDOW" default:"48h"`
		ReceiptWindow      time.Duration `envconfig:"LIFECYCLE_RECEIPT_WINDOW" default:"168h"`
		MaxResubmissions   int           `envconfig:"LIFECYCLE_MAX_RESUBMISSIONS" default:"3"`
		ConflictRetries    int           `envconfig:"LIFECYCLE_CONFLICT_RETRIES" default:"5"`
		CodeRetries        int           `envconfig:"LIFECYCLE_CODE_RETRIES" default:"5"`
	}

	Sweeper struct {
		Interval  time.Duration `envconfig:"SWEEPER_INTERVAL" default:"1m"`
		BatchSize int           `envconfig:"SWEEPER_BATCH_SIZE" default:"100"`
		Workers   int           `envconfig:"SWEEPER_WORKERS" default:"4"`
	}

	Events struct {
		Workers   int `envconfig:"EVENT_WORKERS" default:"4"`
		QueueSize int `envconfig:"EVENT_QUEUE_SIZE" default:"10000"`
	}

	Log struct {
		Level     string `envconfig:"LOG_LEVEL" default:"info"`
		Format    string `envconfig:"LOG_FORMAT" default:"text"`
		AddSource bool   `envconfig:"LOG_ADD_SOURCE" default:"false"`
	}
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.HTTPPort)
}

func (c *Config) GRPCAddr() string {
	return fmt.Sprintf(":%d", c.App.GRPCPort)
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, v int64) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}

	switch c.Storage.Driver {
	case DriverMySQL, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}

	positive("HTTP_PORT", int64(c.App.HTTPPort))
	positive("GRPC_PORT", int64(c.App.GRPCPort))
	positive("LIFECYCLE_MAX_QUANTITY", int64(c.Lifecycle.MaxQuantity))
	positive("LIFECYCLE_PAYMENT_WINDOW", int64(c.Lifecycle.PaymentWindow))
	positive("LIFECYCLE_VERIFICATION_WINDOW", int64(c.Lifecycle.VerificationWindow))
	positive("LIFECYCLE_RECEIPT_WINDOW", int64(c.Lifecycle.ReceiptWindow))
	positive("LIFECYCLE_CONFLICT_RETRIES", int64(c.Lifecycle.ConflictRetries))
	positive("SWEEPER_INTERVAL", int64(c.Sweeper.Interval))
	positive("SWEEPER_BATCH_SIZE", int64(c.Sweeper.BatchSize))
	positive("SWEEPER_WORKERS", int64(c.Sweeper.Workers))
	positive("EVENT_WORKERS", int64(c.Events.Workers))
	positive("EVENT_QUEUE_SIZE", int64(c.Events.QueueSize))

	if c.Lifecycle.MaxResubmissions < 0 {
		errs = append(errs, fmt.Errorf("LIFECYCLE_MAX_RESUBMISSIONS must not be negative"))
	}
	if c.Lifecycle.CodeRetries < 0 {
		errs = append(errs, fmt.Errorf("LIFECYCLE_CODE_RETRIES must not be negative"))
	}

	return errors.Join(errs...)
}
