package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/atelier-b2b/atelier/internal/jobs"
	"github.com/atelier-b2b/atelier/internal/notifications"
)

// NotificationWriter persists delivered notifications.
type NotificationWriter interface {
	Insert(ctx context.Context, n notifications.Notification) (int64, error)
}

// NotificationDeliverJob stores queued notifications.
type NotificationDeliverJob struct {
	Store   NotificationWriter
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewNotificationDeliverJob initialises the delivery handler.
func NewNotificationDeliverJob(store NotificationWriter, logger *slog.Logger, metrics *jobmetrics.Metrics) *NotificationDeliverJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationDeliverJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle persists one notification. Malformed payloads are dropped.
func (j *NotificationDeliverJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("notification deliver: handler not configured")
	}
	var n notifications.Notification
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		return asynq.SkipRetry
	}
	if err := n.Validate(); err != nil {
		j.Logger.Warn("drop invalid notification", slog.Any("error", err))
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskNotificationDeliver)
	id, err := j.Store.Insert(ctx, n)
	if err != nil {
		return tracker.End(err)
	}
	j.Logger.Debug("notification delivered",
		slog.Int64("notification_id", id),
		slog.Int64("user_id", n.UserID),
		slog.String("type", string(n.Type)),
	)
	return tracker.End(nil)
}
