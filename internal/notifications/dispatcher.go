package notifications

import (
	"context"
	"log/slog"
)

// Enqueuer hands a notification to the background queue.
type Enqueuer interface {
	EnqueueNotification(ctx context.Context, n Notification) error
}

// Dispatcher is the fire-and-forget entry point used by workflow services.
type Dispatcher struct {
	queue  Enqueuer
	logger *slog.Logger
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(queue Enqueuer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{queue: queue, logger: logger}
}

// Notify enqueues n. Invalid notifications are dropped with a warning.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) error {
	if err := n.Validate(); err != nil {
		d.logger.Warn("drop invalid notification", slog.String("type", string(n.Type)), slog.Any("error", err))
		return err
	}
	if d.queue == nil {
		return nil
	}
	return d.queue.EnqueueNotification(ctx, n)
}
