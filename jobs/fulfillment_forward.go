package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/atelier-b2b/atelier/internal/fulfillment"
	jobmetrics "github.com/atelier-b2b/atelier/internal/jobs"
	"github.com/atelier-b2b/atelier/internal/sales"
	"github.com/atelier-b2b/atelier/internal/shared"
)

// OrderReader loads orders for hand-off.
type OrderReader interface {
	GetOrder(ctx context.Context, id int64) (sales.Order, error)
}

// FulfillmentSender posts orders downstream.
type FulfillmentSender interface {
	Send(ctx context.Context, order fulfillment.Order) error
}

// FulfillmentForwardJob delivers forwarded orders to the fulfillment system.
type FulfillmentForwardJob struct {
	Orders  OrderReader
	Sender  FulfillmentSender
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewFulfillmentForwardJob initialises the hand-off handler.
func NewFulfillmentForwardJob(orders OrderReader, sender FulfillmentSender, logger *slog.Logger, metrics *jobmetrics.Metrics) *FulfillmentForwardJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &FulfillmentForwardJob{Orders: orders, Sender: sender, Logger: logger, Metrics: metrics}
}

// Handle posts one order. Orders that were never forwarded or no longer
// exist are dropped; client errors from the endpoint are not retried.
func (j *FulfillmentForwardJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Orders == nil || j.Sender == nil {
		return errors.New("fulfillment forward: handler not configured")
	}
	var payload FulfillmentForwardPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.OrderID <= 0 {
		return asynq.SkipRetry
	}
	logger := j.Logger.With(slog.Int64("order_id", payload.OrderID))

	tracker := j.Metrics.Track(TaskFulfillmentForward)
	o, err := j.Orders.GetOrder(ctx, payload.OrderID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			logger.Warn("forwarded order not found")
			return tracker.End(fmt.Errorf("%w: %v", asynq.SkipRetry, err))
		}
		return tracker.End(err)
	}
	if !o.Forwarded() {
		logger.Warn("order was not forwarded, dropping hand-off")
		return tracker.End(nil)
	}

	if err := j.Sender.Send(ctx, toFulfillmentOrder(o)); err != nil {
		var status *fulfillment.StatusError
		if errors.As(err, &status) && !status.Retryable() {
			logger.Error("fulfillment rejected order", slog.Int("status", status.Code), slog.Any("error", err))
			return tracker.End(fmt.Errorf("%w: %v", asynq.SkipRetry, err))
		}
		return tracker.End(err)
	}
	logger.Info("order handed to fulfillment", slog.String("order_number", o.OrderNumber))
	return tracker.End(nil)
}

func toFulfillmentOrder(o sales.Order) fulfillment.Order {
	out := fulfillment.Order{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		BuyerID:     o.BuyerID,
		TotalAmount: o.TotalAmount,
		PaidAmount:  o.PaidAmount,
		Lines:       make([]fulfillment.Line, 0, len(o.Lines)),
	}
	if o.ForwardedToOpsAt != nil {
		out.ForwardedAt = *o.ForwardedToOpsAt
	}
	for _, l := range o.Lines {
		out.Lines = append(out.Lines, fulfillment.Line{
			RequestItemID: l.RequestItemID,
			Quantity:      l.Quantity,
			UnitPrice:     l.UnitPrice,
		})
	}
	return out
}
