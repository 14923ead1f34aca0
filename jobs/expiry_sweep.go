package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/atelier-b2b/atelier/internal/jobs"
	"github.com/atelier-b2b/atelier/internal/platform/cache"
	"github.com/atelier-b2b/atelier/internal/sales"
)

// Sweeper runs one expiry pass.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (sales.SweepResult, error)
}

// ExpirySweepJob runs the sweep under a cluster-wide lock so overlapping
// schedules and manual triggers never sweep concurrently.
type ExpirySweepJob struct {
	Sweeper Sweeper
	Lock    cache.Lock
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewExpirySweepJob initialises the sweep handler.
func NewExpirySweepJob(sweeper Sweeper, lock cache.Lock, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExpirySweepJob {
	return &ExpirySweepJob{
		Sweeper: sweeper,
		Lock:    lock,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one sweep.
func (j *ExpirySweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sweeper == nil {
		return errors.New("expiry sweep: handler not configured")
	}
	var payload ExpirySweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	logger := j.logger().With(slog.Bool("manual", payload.Manual))

	if j.Lock != nil {
		ok, err := j.Lock.Acquire(ctx)
		if err != nil {
			return err
		}
		if !ok {
			logger.Info("expiry sweep already running, skipping")
			return nil
		}
		defer func() {
			if err := j.Lock.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("release sweep lock", slog.Any("error", err))
			}
		}()
	}

	tracker := j.Metrics.Track(TaskExpirySweep)
	result, err := j.Sweeper.Sweep(ctx, j.now())
	j.record(result)
	if err != nil {
		logger.Error("expiry sweep failed", slog.Any("error", err))
		return tracker.End(err)
	}
	_ = tracker.End(nil)

	logger.Info("completed expiry sweep",
		slog.Int("quotations_expired", result.QuotationsExpired),
		slog.Int("payments_expired", result.PaymentsExpired),
		slog.Int("orders_rechecked", result.OrdersRechecked),
		slog.Int("reminders_sent", result.RemindersSent),
		slog.Int("skipped", result.Skipped),
		slog.Int("failures", result.Failures),
	)
	return nil
}

func (j *ExpirySweepJob) record(r sales.SweepResult) {
	j.Metrics.AddSweepRecords("quotation", jobmetrics.OutcomeExpired, r.QuotationsExpired)
	j.Metrics.AddSweepRecords("payment", jobmetrics.OutcomeExpired, r.PaymentsExpired)
	j.Metrics.AddSweepRecords("reminder", jobmetrics.OutcomeReminded, r.RemindersSent)
	j.Metrics.AddSweepRecords("record", jobmetrics.OutcomeSkipped, r.Skipped)
	j.Metrics.AddSweepRecords("record", jobmetrics.OutcomeFailed, r.Failures)
}

func (j *ExpirySweepJob) now() time.Time {
	if j.clock == nil {
		return time.Now().UTC()
	}
	return j.clock()
}

func (j *ExpirySweepJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
