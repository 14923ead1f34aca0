package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atelier-b2b/atelier/internal/notifications"
	"github.com/atelier-b2b/atelier/internal/sales/pricing"
	"github.com/atelier-b2b/atelier/internal/shared"
)

const defaultPaymentMethod = "bank_transfer"

// PaymentLinkInput describes a payment link request. A nil Amount asks for
// the whole outstanding balance.
type PaymentLinkInput struct {
	Amount         *decimal.Decimal
	Method         string
	IdempotencyKey string
}

// ConfirmPaymentInput describes a payment confirmation. PaymentID 0
// confirms the newest open payment.
type ConfirmPaymentInput struct {
	PaymentID      int64
	Source         string
	GatewayRef     string
	IdempotencyKey string
}

// canSendPaymentLink reports why an order cannot take a new or renewed
// payment link.
func canSendPaymentLink(o Order) error {
	switch {
	case o.Status == OrderStatusCancelled:
		return ErrOrderCancelled
	case o.OpsFinalCheckStatus == OpsCheckRejected:
		return ErrOpsRejected
	case o.FullyPaid():
		return ErrAlreadyPaid
	case o.Forwarded():
		return ErrAlreadyForwarded
	}
	return nil
}

// scopedKey scopes a client idempotency key to the order.
func scopedKey(orderID int64, key string) string {
	if key == "" {
		return ""
	}
	return fmt.Sprintf("order:%d:%s", orderID, key)
}

// claimKey reserves key inside the transaction so the claim commits or
// rolls back with the operation. replay is true when the key was used by a
// committed operation.
func claimKey(ctx context.Context, tx TxRepository, key, module string) (replay bool, err error) {
	if key == "" {
		return false, nil
	}
	claimed, err := tx.ClaimKey(ctx, key, module)
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return !claimed, nil
}

// reopen moves an order out of recheck once a new link is issued and puts
// its request back to quoted.
func reopen(ctx context.Context, tx TxRepository, o *Order) error {
	if o.Status != OrderStatusRecheck {
		return nil
	}
	o.Status = OrderStatusPendingPayment
	if o.PaidAmount.IsPositive() {
		o.Status = OrderStatusConfirmed
	}
	req, err := tx.LockRequest(ctx, o.RequestID)
	if err != nil {
		return err
	}
	if req.Status != RequestStatusUnderReview {
		return nil
	}
	req.Status = RequestStatusQuoted
	return tx.UpdateRequest(ctx, req)
}

// SendPaymentLink issues a payment link for the order. A replayed
// idempotency key returns the current order without issuing another link.
func (s *Service) SendPaymentLink(ctx context.Context, actor shared.Actor, orderID int64, in PaymentLinkInput) (*Order, error) {
	key := scopedKey(orderID, in.IdempotencyKey)
	fx := &effects{}
	var replay bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		*fx = effects{}
		var err error
		if replay, err = claimKey(ctx, tx, key, shared.IdemPaymentLink); err != nil || replay {
			return err
		}
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := requireOrderSeller(actor, o); err != nil {
			return err
		}
		if err := canSendPaymentLink(o); err != nil {
			return err
		}
		now := s.now()
		if o.livePayment(now) != nil {
			return ErrPaymentLinkActive
		}
		outstanding := o.Outstanding()
		amount := outstanding
		if in.Amount != nil {
			amount = *in.Amount
			if err := pricing.ValidatePrice(amount); err != nil || !amount.IsPositive() || amount.GreaterThan(outstanding) {
				return fmt.Errorf("%w: must be between 0 and %s", ErrInvalidAmount, outstanding.StringFixed(pricing.MoneyScale))
			}
		}
		kind := PaymentKindFull
		switch {
		case amount.LessThan(outstanding):
			kind = PaymentKindDeposit
		case o.PaidAmount.IsPositive():
			kind = PaymentKindBalance
		}
		p, err := s.issuePayment(ctx, tx, &o, kind, amount, in.Method, now.Add(s.cfg.PaymentWindow))
		if err != nil {
			return err
		}
		from := o.Status
		if err := reopen(ctx, tx, &o); err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		fx.transition(actor, "order", o.ID, "payment_link", string(from), string(o.Status))
		fx.notify(o.BuyerID, notifications.TypePaymentLinkSent,
			"Payment link ready",
			fmt.Sprintf("Pay %s for order %s before %s.", s.money.Format(p.Amount), o.OrderNumber, p.ExpiresAt.Format(time.RFC1123)),
			orderLink(o.ID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("send payment link: %w", err)
	}
	if replay {
		return s.GetOrder(ctx, actor, orderID)
	}
	s.flush(ctx, fx)
	return s.loadOrder(ctx, orderID)
}

// ResendPaymentLink renews the live link's window, or reissues the last
// link when it has expired.
func (s *Service) ResendPaymentLink(ctx context.Context, actor shared.Actor, orderID int64, idempotencyKey string) (*Order, error) {
	key := scopedKey(orderID, idempotencyKey)
	fx := &effects{}
	var replay bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		*fx = effects{}
		var err error
		if replay, err = claimKey(ctx, tx, key, shared.IdemPaymentLink); err != nil || replay {
			return err
		}
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := requireOrderSeller(actor, o); err != nil {
			return err
		}
		if err := canSendPaymentLink(o); err != nil {
			return err
		}
		if o.PaymentLinkSentAt == nil {
			return ErrPaymentLinkNotSent
		}
		now := s.now()
		expires := now.Add(s.cfg.PaymentWindow)
		var p Payment
		if live := o.livePayment(now); live != nil {
			live.ExpiresAt = expires
			if err := tx.UpdatePayment(ctx, *live); err != nil {
				return err
			}
			o.PaymentLinkSentAt = &now
			p = *live
		} else {
			kind, amount := PaymentKindFull, o.Outstanding()
			if last, ok := lastUnpaid(o); ok && last.Amount.LessThanOrEqual(amount) {
				kind, amount = last.Kind, last.Amount
			} else if o.PaidAmount.IsPositive() {
				kind = PaymentKindBalance
			}
			p, err = s.issuePayment(ctx, tx, &o, kind, amount, "", expires)
			if err != nil {
				return err
			}
		}
		from := o.Status
		if err := reopen(ctx, tx, &o); err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		fx.transition(actor, "order", o.ID, "payment_link_resend", string(from), string(o.Status))
		fx.notify(o.BuyerID, notifications.TypePaymentLinkSent,
			"Payment link renewed",
			fmt.Sprintf("Pay %s for order %s before %s.", s.money.Format(p.Amount), o.OrderNumber, p.ExpiresAt.Format(time.RFC1123)),
			orderLink(o.ID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resend payment link: %w", err)
	}
	if replay {
		return s.GetOrder(ctx, actor, orderID)
	}
	s.flush(ctx, fx)
	return s.loadOrder(ctx, orderID)
}

// lastUnpaid returns the newest payment that was never paid.
func lastUnpaid(o Order) (Payment, bool) {
	for i := len(o.Payments) - 1; i >= 0; i-- {
		if o.Payments[i].Status != PaymentStatusPaid {
			return o.Payments[i], true
		}
	}
	return Payment{}, false
}

// issuePayment inserts a pending payment and stamps the link time on o.
func (s *Service) issuePayment(ctx context.Context, tx TxRepository, o *Order, kind PaymentKind, amount decimal.Decimal, method string, expires time.Time) (Payment, error) {
	if method == "" {
		method = defaultPaymentMethod
	}
	now := s.now()
	p := Payment{
		OrderID:    o.ID,
		Kind:       kind,
		Amount:     amount,
		Method:     method,
		Status:     PaymentStatusPending,
		ExpiresAt:  expires,
		GatewayRef: "PL-" + uuid.NewString(),
	}
	id, err := tx.InsertPayment(ctx, p)
	if err != nil {
		return Payment{}, err
	}
	p.ID = id
	p.CreatedAt = now
	o.Payments = append(o.Payments, p)
	o.PaymentLinkSentAt = &now
	return p, nil
}

// ConfirmPayment marks an open payment as paid. Balance payments may be
// confirmed after the order was forwarded.
func (s *Service) ConfirmPayment(ctx context.Context, actor shared.Actor, orderID int64, in ConfirmPaymentInput) (*Order, error) {
	key := scopedKey(orderID, in.IdempotencyKey)
	fx := &effects{}
	var replay bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		*fx = effects{}
		var err error
		if replay, err = claimKey(ctx, tx, key, shared.IdemPaymentConfirm); err != nil || replay {
			return err
		}
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := requireOrderSeller(actor, o); err != nil {
			return err
		}
		switch {
		case o.Status == OrderStatusCancelled:
			return ErrOrderCancelled
		case o.PaymentLinkSentAt == nil:
			return ErrPaymentLinkNotSent
		case o.FullyPaid():
			return ErrAlreadyPaid
		}
		p := o.openPayment(in.PaymentID)
		if p == nil {
			return ErrNoOpenPayment
		}
		if o.Forwarded() && p.Kind != PaymentKindBalance {
			return ErrAlreadyForwarded
		}
		now := s.now()
		p.Status = PaymentStatusPaid
		p.PaidAt = &now
		if in.GatewayRef != "" {
			p.GatewayRef = in.GatewayRef
		}
		if err := tx.UpdatePayment(ctx, *p); err != nil {
			return err
		}
		source := in.Source
		if source == "" {
			source = "manual"
		}
		from := o.Status
		o.PaidAmount = o.PaidAmount.Add(p.Amount)
		o.PaymentConfirmedAt = &now
		o.PaymentConfirmationSource = source
		if !o.Forwarded() {
			o.Status = OrderStatusConfirmed
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		fx.transition(actor, "order", o.ID, "confirm_payment", string(from), string(o.Status))
		msg := fmt.Sprintf("Payment of %s received for order %s.", s.money.Format(p.Amount), o.OrderNumber)
		fx.notify(o.BuyerID, notifications.TypePaymentConfirmed, "Payment received", msg, orderLink(o.ID))
		fx.notify(salesRecipient(o), notifications.TypePaymentConfirmed, "Payment received", msg, orderLink(o.ID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("confirm payment: %w", err)
	}
	if replay {
		return s.GetOrder(ctx, actor, orderID)
	}
	s.flush(ctx, fx)
	return s.loadOrder(ctx, orderID)
}

// RequestBalance asks for the outstanding balance after a deposit, due at
// dueAt.
func (s *Service) RequestBalance(ctx context.Context, actor shared.Actor, orderID int64, dueAt time.Time) (*Order, error) {
	fx := &effects{}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		*fx = effects{}
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := requireOrderSeller(actor, o); err != nil {
			return err
		}
		now := s.now()
		switch {
		case o.Status == OrderStatusCancelled:
			return ErrOrderCancelled
		case o.OpsFinalCheckStatus == OpsCheckRejected:
			return ErrOpsRejected
		case o.FullyPaid():
			return ErrAlreadyPaid
		case o.PaymentConfirmedAt == nil || !o.PaidAmount.IsPositive():
			return ErrNoDeposit
		case !dueAt.After(now):
			return ErrInvalidDueAt
		case o.livePayment(now) != nil:
			return ErrPaymentLinkActive
		}
		p, err := s.issuePayment(ctx, tx, &o, PaymentKindBalance, o.Outstanding(), "", dueAt)
		if err != nil {
			return err
		}
		o.BalanceRequestedAt = &now
		o.BalanceDueAt = &dueAt
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		fx.transition(actor, "order", o.ID, "request_balance", string(o.Status), string(o.Status))
		fx.notify(o.BuyerID, notifications.TypeBalanceRequested,
			"Balance due",
			fmt.Sprintf("The balance of %s for order %s is due by %s.", s.money.Format(p.Amount), o.OrderNumber, dueAt.Format(time.RFC1123)),
			orderLink(o.ID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("request balance: %w", err)
	}
	s.flush(ctx, fx)
	return s.loadOrder(ctx, orderID)
}
