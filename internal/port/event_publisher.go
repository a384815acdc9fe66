package port

import (
	"context"

	"github.com/rl1809/marketplace/internal/core/domain"
)

//go:generate mockgen -source=event_publisher.go -destination=mock/event_publisher_mock.go -package=mock
type EventPublisher interface {
	// Publish hands a lifecycle event to notification/analytics consumers
	Publish(ctx context.Context, event domain.Event) error
}
