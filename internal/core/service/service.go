package service

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

const defaultConflictRetries = 3

// Emitter accepts lifecycle events for asynchronous delivery.
type Emitter interface {
	Emit(event domain.Event) bool
}

// loadErr translates a repository read failure into the domain taxonomy.
func loadErr(err error, entity string, id any) error {
	if errors.Is(err, port.ErrNotFound) {
		return fmt.Errorf("%w: %s %v", domain.ErrNotFound, entity, id)
	}
	return fmt.Errorf("load %s %v: %w", entity, id, err)
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

func retries(n int) int {
	if n <= 0 {
		return defaultConflictRetries
	}
	return n
}

func utcNow() time.Time {
	return time.Now().UTC()
}

func ptr[T any](v T) *T {
	return &v
}

func idAttr(key string, id uuid.UUID) slog.Attr {
	return slog.String(key, id.String())
}
