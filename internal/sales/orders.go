package sales

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/atelier-b2b/atelier/internal/notifications"
	"github.com/atelier-b2b/atelier/internal/shared"
)

// requireOrderSeller allows staff. Sales users only act on their own orders.
func requireOrderSeller(actor shared.Actor, o Order) error {
	if !actor.IsSeller() {
		return ErrNotAllowed
	}
	if actor.Role == shared.RoleSales && (o.SalesPersonID == nil || *o.SalesPersonID != actor.ID) {
		return ErrNotAllowed
	}
	return nil
}

func requireOrderParticipant(actor shared.Actor, o Order) error {
	if actor.IsBuyer() {
		if o.BuyerID != actor.ID {
			return ErrNotYours
		}
		return nil
	}
	return requireOrderSeller(actor, o)
}

func salesRecipient(o Order) int64 {
	if o.SalesPersonID == nil {
		return 0
	}
	return *o.SalesPersonID
}

// decideQuotation locks a quotation for a buyer decision. An overdue
// quotation is flipped to expired and expired is reported true so the
// caller commits the flip before failing.
func (s *Service) decideQuotation(ctx context.Context, tx TxRepository, actor shared.Actor, quotationID int64, fx *effects) (Quotation, Request, bool, error) {
	q, err := tx.LockQuotation(ctx, quotationID)
	if err != nil {
		return Quotation{}, Request{}, false, err
	}
	req, err := tx.LockRequest(ctx, q.RequestID)
	if err != nil {
		return Quotation{}, Request{}, false, err
	}
	if err := requireOwner(actor, req); err != nil {
		return Quotation{}, Request{}, false, err
	}
	if q.Status != QuotationStatusSent {
		return Quotation{}, Request{}, false, ErrNotAcceptable
	}
	if q.Overdue(s.now()) {
		if err := s.markQuotationExpired(ctx, tx, actor, q, req, fx); err != nil {
			return Quotation{}, Request{}, false, err
		}
		return q, req, true, nil
	}
	return q, req, false, nil
}

// markQuotationExpired flips a sent quotation to expired and closes its
// negotiation.
func (s *Service) markQuotationExpired(ctx context.Context, tx TxRepository, actor shared.Actor, q Quotation, req Request, fx *effects) error {
	q.Status = QuotationStatusExpired
	if err := tx.UpdateQuotation(ctx, q); err != nil {
		return err
	}
	if err := s.endNegotiation(ctx, tx, q.ID, NegotiationStatusClosed, "quotation expired"); err != nil {
		return err
	}
	fx.transition(actor, "quotation", q.ID, "expire", string(QuotationStatusSent), string(q.Status))
	msg := fmt.Sprintf("Quotation %s expired without a decision.", q.Number)
	fx.notify(req.BuyerID, notifications.TypeQuotationExpired, "Quotation expired", msg, quotationLink(q.ID))
	seller := q.CreatedBy
	if req.AssignedSalesID != nil {
		seller = *req.AssignedSalesID
	}
	fx.notify(seller, notifications.TypeQuotationExpired, "Quotation expired", msg, quotationLink(q.ID))
	return nil
}

// endNegotiation moves a live negotiation on the quotation to status.
func (s *Service) endNegotiation(ctx context.Context, tx TxRepository, quotationID int64, status NegotiationStatus, reason string) error {
	neg, found, err := tx.NegotiationForQuotation(ctx, quotationID)
	if err != nil || !found || neg.Status.Terminal() {
		return err
	}
	neg.Status = status
	neg.ClosedReason = reason
	return tx.UpdateNegotiation(ctx, neg)
}

// AcceptQuotation converts a sent quotation into an order awaiting payment.
func (s *Service) AcceptQuotation(ctx context.Context, actor shared.Actor, quotationID int64) (*Order, error) {
	fx := &effects{}
	var (
		orderID int64
		expired bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		*fx = effects{}
		orderID, expired = 0, false
		q, req, overdue, err := s.decideQuotation(ctx, tx, actor, quotationID, fx)
		if err != nil {
			return err
		}
		if overdue {
			expired = true
			return nil
		}
		q.Status = QuotationStatusAccepted
		if err := tx.UpdateQuotation(ctx, q); err != nil {
			return err
		}
		if err := s.endNegotiation(ctx, tx, q.ID, NegotiationStatusClosed, "quotation accepted"); err != nil {
			return err
		}
		salesPerson := q.CreatedBy
		if req.AssignedSalesID != nil {
			salesPerson = *req.AssignedSalesID
		}
		lines := make([]OrderLine, 0, len(q.Lines))
		for _, l := range q.Lines {
			lines = append(lines, OrderLine{
				RequestItemID: l.RequestItemID,
				UnitPrice:     l.UnitPrice,
				Quantity:      l.Quantity,
			})
		}
		order := Order{
			QuotationID:         q.ID,
			RequestID:           req.ID,
			BuyerID:             req.BuyerID,
			SalesPersonID:       &salesPerson,
			OrderNumber:         "ORD-" + ulid.Make().String(),
			Status:              OrderStatusPendingPayment,
			TotalAmount:         q.QuotedTotal,
			OpsFinalCheckStatus: OpsCheckPending,
			Lines:               lines,
		}
		orderID, err = tx.CreateOrder(ctx, order)
		if err != nil {
			return err
		}
		if req.Status != RequestStatusQuoted {
			req.Status = RequestStatusQuoted
			if err := tx.UpdateRequest(ctx, req); err != nil {
				return err
			}
		}
		fx.transition(actor, "quotation", q.ID, "accept", string(QuotationStatusSent), string(q.Status))
		fx.transition(actor, "order", orderID, "create", "", string(order.Status))
		fx.notify(req.BuyerID, notifications.TypeOrderCreated,
			"Order created",
			fmt.Sprintf("Order %s for %s awaits payment.", order.OrderNumber, s.money.Format(order.TotalAmount)),
			orderLink(orderID))
		fx.notify(salesPerson, notifications.TypeQuotationAccepted,
			"Quotation accepted",
			fmt.Sprintf("Quotation %s was accepted. Order %s created.", q.Number, order.OrderNumber),
			orderLink(orderID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("accept quotation: %w", err)
	}
	s.flush(ctx, fx)
	if expired {
		return nil, ErrQuotationExpired
	}
	return s.loadOrder(ctx, orderID)
}

// RejectQuotation records the buyer's refusal and reason.
func (s *Service) RejectQuotation(ctx context.Context, actor shared.Actor, quotationID int64, reason string) (*Quotation, error) {
	fx := &effects{}
	var expired bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		*fx = effects{}
		expired = false
		q, req, overdue, err := s.decideQuotation(ctx, tx, actor, quotationID, fx)
		if err != nil {
			return err
		}
		if overdue {
			expired = true
			return nil
		}
		q.Status = QuotationStatusRejected
		if reason != "" {
			q.Terms = appendTerms(q.Terms, declineReasonMarker+" "+reason)
		}
		if err := tx.UpdateQuotation(ctx, q); err != nil {
			return err
		}
		if err := s.endNegotiation(ctx, tx, q.ID, NegotiationStatusRejected, "quotation rejected"); err != nil {
			return err
		}
		seller := q.CreatedBy
		if req.AssignedSalesID != nil {
			seller = *req.AssignedSalesID
		}
		msg := fmt.Sprintf("Quotation %s was declined.", q.Number)
		if reason != "" {
			msg = fmt.Sprintf("Quotation %s was declined: %s", q.Number, reason)
		}
		fx.transition(actor, "quotation", q.ID, "reject", string(QuotationStatusSent), string(q.Status))
		fx.notify(seller, notifications.TypeQuotationRejected, "Quotation declined", msg, quotationLink(q.ID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reject quotation: %w", err)
	}
	s.flush(ctx, fx)
	if expired {
		return nil, ErrQuotationExpired
	}
	return s.loadQuotation(ctx, quotationID)
}

// RecordOpsFinalCheck stores the operations verdict on a paid order.
func (s *Service) RecordOpsFinalCheck(ctx context.Context, actor shared.Actor, orderID int64, approve bool, note string) (*Order, error) {
	if err := requireOperations(actor); err != nil {
		return nil, err
	}
	fx := &effects{}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		*fx = effects{}
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status == OrderStatusCancelled {
			return ErrOrderCancelled
		}
		if o.Forwarded() {
			return ErrAlreadyForwarded
		}
		from := o.OpsFinalCheckStatus
		o.OpsFinalCheckStatus = OpsCheckApproved
		if !approve {
			o.OpsFinalCheckStatus = OpsCheckRejected
		}
		o.OpsFinalCheckNote = note
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		fx.transition(actor, "order", o.ID, "ops_final_check", string(from), string(o.OpsFinalCheckStatus))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ops final check: %w", err)
	}
	s.flush(ctx, fx)
	return s.loadOrder(ctx, orderID)
}

// ForwardToFulfillment hands a paid order to fulfillment. Forwarding an
// already forwarded order leaves it unchanged but queues the hand-off
// again, which the queue deduplicates per order.
func (s *Service) ForwardToFulfillment(ctx context.Context, actor shared.Actor, orderID int64) (*Order, error) {
	fx := &effects{}
	var forwarded bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		*fx = effects{}
		forwarded = false
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := requireOrderSeller(actor, o); err != nil {
			return err
		}
		if o.Forwarded() {
			forwarded = true
			return nil
		}
		switch {
		case o.Status == OrderStatusCancelled:
			return ErrOrderCancelled
		case o.Status == OrderStatusRecheck:
			return ErrOrderInRecheck
		case o.PaymentConfirmedAt == nil:
			return ErrPaymentNotConfirmed
		case o.OpsFinalCheckStatus == OpsCheckRejected:
			return ErrOpsRejected
		}
		now := s.now()
		from := o.Status
		o.ForwardedToOpsAt = &now
		o.Status = OrderStatusInProcurement
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		forwarded = true
		fx.transition(actor, "order", o.ID, "forward", string(from), string(o.Status))
		fx.notify(o.BuyerID, notifications.TypeOrderForwarded,
			"Order in production",
			fmt.Sprintf("Order %s was handed to fulfillment.", o.OrderNumber),
			orderLink(o.ID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("forward order: %w", err)
	}
	s.flush(ctx, fx)
	if forwarded && s.fulfillment != nil {
		if err := s.fulfillment.Forward(ctx, orderID); err != nil {
			s.logger.Error("enqueue fulfillment failed", slog.Int64("order_id", orderID), slog.Any("error", err))
		}
	}
	return s.loadOrder(ctx, orderID)
}

// DeliveredLine reports the absolute delivered quantity of an order line.
type DeliveredLine struct {
	OrderLineID int64
	Quantity    int
}

// RecordFulfillmentMilestone records progress reported by fulfillment.
// Status only moves forward and delivered quantities never decrease. A
// delivered order closes its request and settles commission.
func (s *Service) RecordFulfillmentMilestone(ctx context.Context, actor shared.Actor, orderID int64, status OrderStatus, delivered []DeliveredLine) (*Order, error) {
	if err := requireOperations(actor); err != nil {
		return nil, err
	}
	target := progressionIndex(status)
	if target < 0 {
		return nil, ErrInvalidStatus
	}
	fx := &effects{}
	var completed bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		*fx = effects{}
		completed = false
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status == OrderStatusCancelled {
			return ErrOrderCancelled
		}
		if !o.Forwarded() {
			return ErrNotForwarded
		}
		if target < progressionIndex(o.Status) {
			return ErrMilestoneRegression
		}
		lines := make(map[int64]int, len(o.Lines))
		for i, l := range o.Lines {
			lines[l.ID] = i
		}
		for _, d := range delivered {
			i, ok := lines[d.OrderLineID]
			if !ok {
				return fmt.Errorf("%w: order line %d not found", ErrInvalidItem, d.OrderLineID)
			}
			line := &o.Lines[i]
			if d.Quantity > line.Quantity || d.Quantity < 0 {
				return fmt.Errorf("%w: delivered quantity %d out of range for line %d", ErrInvalidItem, d.Quantity, line.ID)
			}
			if d.Quantity < line.DeliveredQuantity {
				return ErrMilestoneRegression
			}
			line.DeliveredQuantity = d.Quantity
		}
		if status == OrderStatusDelivered && len(delivered) == 0 {
			for i := range o.Lines {
				o.Lines[i].DeliveredQuantity = o.Lines[i].Quantity
			}
		}
		for _, l := range o.Lines {
			if err := tx.UpdateOrderLine(ctx, l); err != nil {
				return err
			}
		}
		from := o.Status
		o.Status = status
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		if from != status {
			fx.transition(actor, "order", o.ID, "milestone", string(from), string(status))
		}
		if status == OrderStatusDelivered && from != status {
			req, err := tx.LockRequest(ctx, o.RequestID)
			if err != nil {
				return err
			}
			if req.Status != RequestStatusClosed {
				fx.transition(actor, "request", req.ID, "close", string(req.Status), string(RequestStatusClosed))
				req.Status = RequestStatusClosed
				if err := tx.UpdateRequest(ctx, req); err != nil {
					return err
				}
			}
			completed = true
			fx.notify(o.BuyerID, notifications.TypeOrderDelivered,
				"Order delivered",
				fmt.Sprintf("Order %s was delivered.", o.OrderNumber),
				orderLink(o.ID))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record milestone: %w", err)
	}
	s.flush(ctx, fx)
	if completed {
		if _, err := s.CalculateCommission(ctx, orderID); err != nil {
			s.logger.Error("commission settlement failed", slog.Int64("order_id", orderID), slog.Any("error", err))
		}
	}
	return s.loadOrder(ctx, orderID)
}

// CancelOrder cancels an order that has not been forwarded. Live payment
// links are expired and the request is closed.
func (s *Service) CancelOrder(ctx context.Context, actor shared.Actor, orderID int64, reason string) (*Order, error) {
	fx := &effects{}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		*fx = effects{}
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := requireOrderParticipant(actor, o); err != nil {
			return err
		}
		if o.Status == OrderStatusCancelled {
			return ErrOrderCancelled
		}
		if o.Forwarded() {
			return ErrAlreadyForwarded
		}
		for _, p := range o.Payments {
			if !p.Status.Open() {
				continue
			}
			p.Status = PaymentStatusExpired
			if err := tx.UpdatePayment(ctx, p); err != nil {
				return err
			}
		}
		from := o.Status
		o.Status = OrderStatusCancelled
		o.CancelReason = reason
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		req, err := tx.LockRequest(ctx, o.RequestID)
		if err != nil {
			return err
		}
		if req.Status != RequestStatusClosed {
			req.Status = RequestStatusClosed
			if err := tx.UpdateRequest(ctx, req); err != nil {
				return err
			}
		}
		fx.transition(actor, "order", o.ID, "cancel", string(from), string(o.Status))
		msg := fmt.Sprintf("Order %s was cancelled.", o.OrderNumber)
		if actor.IsBuyer() {
			fx.notify(salesRecipient(o), notifications.TypeOrderCancelled, "Order cancelled", msg, orderLink(o.ID))
		} else {
			fx.notify(o.BuyerID, notifications.TypeOrderCancelled, "Order cancelled", msg, orderLink(o.ID))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}
	s.flush(ctx, fx)
	return s.loadOrder(ctx, orderID)
}

// GetOrder returns an order visible to actor.
func (s *Service) GetOrder(ctx context.Context, actor shared.Actor, id int64) (*Order, error) {
	o, err := s.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireOrderParticipant(actor, *o); err != nil {
		return nil, err
	}
	return o, nil
}

// ListOrders lists orders scoped to the actor.
func (s *Service) ListOrders(ctx context.Context, actor shared.Actor, filter OrderFilter) ([]Order, int, error) {
	switch actor.Role {
	case shared.RoleBuyer:
		filter.BuyerID = actor.ID
	case shared.RoleSales:
		filter.SalesPersonID = actor.ID
	}
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	return s.repo.ListOrders(ctx, filter)
}

func (s *Service) loadOrder(ctx context.Context, id int64) (*Order, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
