package sales

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atelier-b2b/atelier/internal/notifications"
)

func TestSweepExpiresQuotationsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req, q := f.sentQuotation(t)
	neg, err := f.svc.OpenNegotiation(ctx, buyerActor, q.ID, "")
	require.NoError(t, err)

	f.clock.Advance(47 * time.Hour)
	result, err := f.svc.Sweep(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Zero(t, result.QuotationsExpired)

	f.clock.Advance(2 * time.Hour)
	result, err = f.svc.Sweep(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, result.QuotationsExpired)

	q, err = f.svc.GetQuotation(ctx, sellerActor, q.ID)
	require.NoError(t, err)
	require.Equal(t, QuotationStatusExpired, q.Status)
	neg, err = f.svc.GetNegotiation(ctx, buyerActor, neg.ID)
	require.NoError(t, err)
	require.Equal(t, NegotiationStatusClosed, neg.Status)

	again, err := f.svc.Sweep(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Zero(t, again.QuotationsExpired)
	require.Len(t, f.notifier.ofType(notifications.TypeQuotationExpired), 2)

	// The request itself is untouched and can be quoted again.
	req, err = f.svc.GetRequest(ctx, sellerActor, req.ID)
	require.NoError(t, err)
	require.Equal(t, RequestStatusQuoted, req.Status)
}

func TestSweepRemindsOncePerDeadline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, q := f.sentQuotation(t)

	f.clock.Advance(40 * time.Hour)
	result, err := f.svc.Sweep(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, result.RemindersSent)

	f.clock.Advance(time.Hour)
	result, err = f.svc.Sweep(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Zero(t, result.RemindersSent)
	require.Equal(t, 1, result.Skipped)
	require.Len(t, f.notifier.ofType(notifications.TypeQuotationExpiring), 1)

	// An extension creates a new deadline, which gets its own reminder.
	q, err = f.svc.ExtendExpiry(ctx, sellerActor, q.ID)
	require.NoError(t, err)
	f.clock.Set(q.ExpiresAt.Add(-6 * time.Hour))
	result, err = f.svc.Sweep(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, result.RemindersSent)
}

func TestSweepRemindsAboutPayments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.pendingOrder(t)
	_, err := f.svc.SendPaymentLink(ctx, sellerActor, o.ID, PaymentLinkInput{})
	require.NoError(t, err)

	f.clock.Advance(65 * time.Hour)
	result, err := f.svc.Sweep(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, result.RemindersSent)
	sent := f.notifier.ofType(notifications.TypePaymentExpiring)
	require.Len(t, sent, 1)
	require.Equal(t, buyerActor.ID, sent[0].UserID)
}

func TestFailedReminderIsRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.sentQuotation(t)
	f.clock.Advance(40 * time.Hour)

	f.notifier.err = context.DeadlineExceeded
	result, err := f.svc.Sweep(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, result.Failures)
	require.ErrorIs(t, result.Err, context.DeadlineExceeded)

	f.notifier.err = nil
	result, err = f.svc.Sweep(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, result.RemindersSent)
}

func TestSweepLeavesPaidOrdersAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.pendingOrder(t)
	_, err := f.svc.SendPaymentLink(ctx, sellerActor, o.ID, PaymentLinkInput{Amount: price("1000.00")})
	require.NoError(t, err)
	_, err = f.svc.ConfirmPayment(ctx, sellerActor, o.ID, ConfirmPaymentInput{})
	require.NoError(t, err)
	_, err = f.svc.ForwardToFulfillment(ctx, sellerActor, o.ID)
	require.NoError(t, err)
	_, err = f.svc.RequestBalance(ctx, sellerActor, o.ID, f.clock.Now().Add(24*time.Hour))
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)
	result, err := f.svc.Sweep(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, result.PaymentsExpired)
	require.Zero(t, result.OrdersRechecked)

	o, err = f.svc.GetOrder(ctx, sellerActor, o.ID)
	require.NoError(t, err)
	require.Equal(t, OrderStatusInProcurement, o.Status)
}

func TestSweepWithoutIdempotencySkipsReminders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.svc.idempotency = nil
	f.sentQuotation(t)
	f.clock.Advance(40 * time.Hour)

	result, err := f.svc.Sweep(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Zero(t, result.RemindersSent)
	require.Empty(t, f.notifier.ofType(notifications.TypeQuotationExpiring))
}
