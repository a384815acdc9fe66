package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverMySQL, cfg.Storage.Driver)
	assert.Equal(t, ":8080", cfg.HTTPAddr())
	assert.Equal(t, ":50051", cfg.GRPCAddr())
	assert.Equal(t, 24*time.Hour, cfg.Lifecycle.PaymentWindow)
	assert.Equal(t, 3, cfg.Lifecycle.MaxResubmissions)
	assert.Equal(t, time.Minute, cfg.Sweeper.Interval)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("LIFECYCLE_PAYMENT_WINDOW", "90m")
	t.Setenv("SWEEPER_WORKERS", "8")
	t.Setenv("REDIS_ADDR", "cache:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, 90*time.Minute, cfg.Lifecycle.PaymentWindow)
	assert.Equal(t, 8, cfg.Sweeper.Workers)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown driver", "STORAGE_DRIVER", "sqlite"},
		{"zero quantity bound", "LIFECYCLE_MAX_QUANTITY", "0"},
		{"negative resubmissions", "LIFECYCLE_MAX_RESUBMISSIONS", "-1"},
		{"zero sweep batch", "SWEEPER_BATCH_SIZE", "0"},
		{"unparsable window", "LIFECYCLE_RECEIPT_WINDOW", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
