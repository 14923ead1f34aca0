package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/atelier-b2b/atelier/internal/notifications"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries fulfillment hand-offs.
	QueueCritical = "critical"

	// TaskExpirySweep expires overdue quotations and payments and sends reminders.
	TaskExpirySweep = "sweep:expiry"
	// TaskNotificationDeliver persists a queued notification.
	TaskNotificationDeliver = "notification:deliver"
	// TaskFulfillmentForward posts a forwarded order to fulfillment.
	TaskFulfillmentForward = "fulfillment:forward"
	// TaskIdempotencyCleanup prunes idempotency keys past retention.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// sweepUniqueTTL keeps a manual trigger from stacking on a queued sweep.
const sweepUniqueTTL = time.Minute

// ExpirySweepPayload describes one sweep run. Manual is set for runs
// requested through the API.
type ExpirySweepPayload struct {
	Manual bool `json:"manual"`
}

// NewExpirySweepTask builds a sweep task.
func NewExpirySweepTask(manual bool) (*asynq.Task, error) {
	body, err := json.Marshal(ExpirySweepPayload{Manual: manual})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExpirySweep, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

// NewNotificationTask wraps a notification for delivery.
func NewNotificationTask(n notifications.Notification) (*asynq.Task, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotificationDeliver, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// FulfillmentForwardPayload names the order to hand off.
type FulfillmentForwardPayload struct {
	OrderID int64 `json:"order_id"`
}

// NewFulfillmentForwardTask builds a hand-off task. The task id is derived
// from the order so a repeated enqueue is rejected by the queue.
func NewFulfillmentForwardTask(orderID int64) (*asynq.Task, error) {
	if orderID <= 0 {
		return nil, fmt.Errorf("jobs: invalid order id %d", orderID)
	}
	body, err := json.Marshal(FulfillmentForwardPayload{OrderID: orderID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFulfillmentForward, body,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(10),
		asynq.TaskID(forwardTaskID(orderID)),
	), nil
}

func forwardTaskID(orderID int64) string {
	return fmt.Sprintf("fulfillment-forward-%d", orderID)
}

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask builds a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}
