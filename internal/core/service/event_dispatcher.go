package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

const publishTimeout = 5 * time.Second

// EventDispatcher delivers lifecycle events to the publisher from a bounded
// queue. Delivery is best effort: a full queue drops the event and publisher
// errors are only logged.
type EventDispatcher struct {
	publisher port.EventPublisher
	queue     chan domain.Event
	logger    *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewEventDispatcher(publisher port.EventPublisher, queueSize int, logger *slog.Logger) *EventDispatcher {
	return &EventDispatcher{
		publisher: publisher,
		queue:     make(chan domain.Event, queueSize),
		logger:    orDefault(logger),
	}
}

// Start launches the publishing workers.
func (d *EventDispatcher) Start(workers int) {
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.workerLoop(id)
		}(i)
	}
}

// Emit enqueues event without blocking and reports whether it was accepted.
func (d *EventDispatcher) Emit(event domain.Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return false
	}
	select {
	case d.queue <- event:
		return true
	default:
		d.logger.Warn("event queue full, dropping event",
			slog.String("event_type", string(event.Type)), idAttr("transaction_id", event.TransactionID))
		return false
	}
}

// Close stops accepting events and waits for the queue to drain.
func (d *EventDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *EventDispatcher) workerLoop(id int) {
	for event := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)

		if err := d.publisher.Publish(ctx, event); err != nil {
			d.logger.Error("publish event failed",
				slog.Int("worker", id),
				slog.String("event_type", string(event.Type)),
				idAttr("transaction_id", event.TransactionID),
				slog.Any("error", err))
		} else {
			d.logger.Debug("event published",
				slog.Int("worker", id), slog.String("event_type", string(event.Type)))
		}

		cancel()
	}
}
