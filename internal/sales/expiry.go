package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/atelier-b2b/atelier/internal/notifications"
	"github.com/atelier-b2b/atelier/internal/shared"
)

// SweepResult counts what one sweep changed. Err aggregates per-record
// failures; they never stop the sweep.
type SweepResult struct {
	QuotationsExpired int   `json:"quotations_expired"`
	PaymentsExpired   int   `json:"payments_expired"`
	OrdersRechecked   int   `json:"orders_rechecked"`
	RemindersSent     int   `json:"reminders_sent"`
	Skipped           int   `json:"skipped"`
	Failures          int   `json:"failures"`
	Err               error `json:"-"`
}

func (r *SweepResult) fail(err error) {
	r.Failures++
	r.Err = multierr.Append(r.Err, err)
}

// Sweep expires overdue quotations and payments and sends reminders for
// deadlines within the reminder lead. Every record is re-checked under
// lock, so running the sweep again over the same records changes nothing.
// The returned error reports only failures to list candidates.
func (s *Service) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var result SweepResult

	quotationIDs, err := s.repo.ListOverdueQuotations(ctx, now, s.cfg.SweepBatch)
	if err != nil {
		return result, fmt.Errorf("list overdue quotations: %w", err)
	}
	for _, id := range quotationIDs {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		changed, err := s.expireQuotation(ctx, id, now)
		switch {
		case err != nil:
			result.fail(fmt.Errorf("quotation %d: %w", id, err))
		case changed:
			result.QuotationsExpired++
		default:
			result.Skipped++
		}
	}

	payments, err := s.repo.ListOverduePayments(ctx, now, s.cfg.SweepBatch)
	if err != nil {
		return result, fmt.Errorf("list overdue payments: %w", err)
	}
	for _, ref := range payments {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		expired, rechecked, err := s.expirePayment(ctx, ref.ID, ref.OrderID, now)
		switch {
		case err != nil:
			result.fail(fmt.Errorf("payment %d: %w", ref.ID, err))
		case expired:
			result.PaymentsExpired++
			if rechecked {
				result.OrdersRechecked++
			}
		default:
			result.Skipped++
		}
	}

	if err := s.sendReminders(ctx, now, &result); err != nil {
		return result, err
	}

	if result.Err != nil {
		s.logger.Warn("expiry sweep finished with failures",
			slog.Int("failures", result.Failures),
			slog.Any("error", result.Err))
	}
	return result, nil
}

// expireQuotation flips one overdue sent quotation to expired.
func (s *Service) expireQuotation(ctx context.Context, id int64, now time.Time) (bool, error) {
	fx := &effects{}
	var changed bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		*fx = effects{}
		changed = false
		q, err := tx.LockQuotation(ctx, id)
		if err != nil {
			return err
		}
		if q.Status != QuotationStatusSent || !q.Overdue(now) {
			return nil
		}
		req, err := tx.LockRequest(ctx, q.RequestID)
		if err != nil {
			return err
		}
		if err := s.markQuotationExpired(ctx, tx, shared.SystemActor, q, req, fx); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	s.flush(ctx, fx)
	return changed, nil
}

// expirePayment expires one overdue payment. An unpaid order that has not
// been forwarded goes to recheck and its request back to under_review.
func (s *Service) expirePayment(ctx context.Context, paymentID, orderID int64, now time.Time) (expired, rechecked bool, err error) {
	fx := &effects{}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		*fx = effects{}
		expired, rechecked = false, false
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		var p *Payment
		for i := range o.Payments {
			if o.Payments[i].ID == paymentID {
				p = &o.Payments[i]
			}
		}
		if p == nil || !p.Status.Open() || !now.After(p.ExpiresAt) {
			return nil
		}
		p.Status = PaymentStatusExpired
		if err := tx.UpdatePayment(ctx, *p); err != nil {
			return err
		}
		expired = true
		fx.notify(o.BuyerID, notifications.TypePaymentExpired,
			"Payment link expired",
			fmt.Sprintf("The payment link for order %s expired.", o.OrderNumber),
			orderLink(o.ID))

		if o.Forwarded() || o.FullyPaid() {
			return nil
		}
		if o.Status != OrderStatusPendingPayment && o.Status != OrderStatusConfirmed {
			return nil
		}
		from := o.Status
		o.Status = OrderStatusRecheck
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		req, err := tx.LockRequest(ctx, o.RequestID)
		if err != nil {
			return err
		}
		if req.Status == RequestStatusQuoted {
			req.Status = RequestStatusUnderReview
			if err := tx.UpdateRequest(ctx, req); err != nil {
				return err
			}
			fx.transition(shared.SystemActor, "request", req.ID, "recheck", string(RequestStatusQuoted), string(req.Status))
		}
		rechecked = true
		fx.transition(shared.SystemActor, "order", o.ID, "recheck", string(from), string(o.Status))
		fx.notify(salesRecipient(o), notifications.TypePaymentExpired,
			"Order needs recheck",
			fmt.Sprintf("Payment for order %s expired. The order is back in recheck.", o.OrderNumber),
			orderLink(o.ID))
		return nil
	})
	if err != nil {
		return false, false, err
	}
	s.flush(ctx, fx)
	return expired, rechecked, nil
}

// sendReminders announces deadlines inside the reminder lead once per
// deadline.
func (s *Service) sendReminders(ctx context.Context, now time.Time, result *SweepResult) error {
	if s.idempotency == nil || s.notifier == nil {
		return nil
	}
	until := now.Add(s.cfg.ReminderLead)

	quotations, err := s.repo.ListExpiringQuotations(ctx, now, until, s.cfg.SweepBatch)
	if err != nil {
		return fmt.Errorf("list expiring quotations: %w", err)
	}
	for _, q := range quotations {
		if q.ExpiresAt == nil {
			continue
		}
		req, err := s.repo.GetRequest(ctx, q.RequestID)
		if err != nil {
			result.fail(fmt.Errorf("quotation %d reminder: %w", q.ID, err))
			continue
		}
		n := notifications.Notification{
			UserID:  req.BuyerID,
			Type:    notifications.TypeQuotationExpiring,
			Title:   "Quotation expiring soon",
			Message: fmt.Sprintf("Quotation %s expires at %s.", q.Number, q.ExpiresAt.Format(time.RFC1123)),
			Link:    quotationLink(q.ID),
		}
		s.remind(ctx, shared.ReminderKey("quotation", q.ID, q.ExpiresAt.Unix()), n, result)
	}

	payments, err := s.repo.ListExpiringPayments(ctx, now, until, s.cfg.SweepBatch)
	if err != nil {
		return fmt.Errorf("list expiring payments: %w", err)
	}
	for _, p := range payments {
		n := notifications.Notification{
			UserID:  p.BuyerID,
			Type:    notifications.TypePaymentExpiring,
			Title:   "Payment link expiring soon",
			Message: fmt.Sprintf("The payment of %s expires at %s.", s.money.Format(p.Amount), p.ExpiresAt.Format(time.RFC1123)),
			Link:    orderLink(p.OrderID),
		}
		s.remind(ctx, shared.ReminderKey("payment", p.ID, p.ExpiresAt.Unix()), n, result)
	}
	return nil
}

// remind claims key and sends n. A failed send releases the key so the
// next sweep retries it.
func (s *Service) remind(ctx context.Context, key string, n notifications.Notification, result *SweepResult) {
	if err := s.idempotency.CheckAndInsert(ctx, key, shared.IdemReminder); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			result.Skipped++
			return
		}
		result.fail(fmt.Errorf("%s: %w", key, err))
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.releaseKey(ctx, key, shared.IdemReminder)
		result.fail(fmt.Errorf("%s: %w", key, err))
		return
	}
	result.RemindersSent++
}

// releaseKey frees a key after a failed operation so it can be retried.
func (s *Service) releaseKey(ctx context.Context, scoped, module string) {
	if scoped == "" {
		return
	}
	if err := s.idempotency.Delete(ctx, scoped, module); err != nil {
		s.logger.Warn("release idempotency key failed", slog.String("key", scoped), slog.Any("error", err))
	}
}
