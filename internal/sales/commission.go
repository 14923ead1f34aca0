package sales

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atelier-b2b/atelier/internal/notifications"
	"github.com/atelier-b2b/atelier/internal/sales/pricing"
	"github.com/atelier-b2b/atelier/internal/shared"
)

// CommissionResult is the outcome of CalculateCommission.
type CommissionResult struct {
	Commission    *Commission `json:"commission,omitempty"`
	Created       bool        `json:"created"`
	NotApplicable bool        `json:"not_applicable"`
}

// deliveredValue picks the commission base: delivered line value, then
// paid amount, then order total.
func deliveredValue(o Order) decimal.Decimal {
	if v := o.DeliveredValue(); v.IsPositive() {
		return v
	}
	if o.PaidAmount.IsPositive() {
		return o.PaidAmount
	}
	return o.TotalAmount
}

// CalculateCommission settles the sales commission of a forwarded order.
// It never posts twice: an existing commission is returned unchanged.
func (s *Service) CalculateCommission(ctx context.Context, orderID int64) (CommissionResult, error) {
	fx := &effects{}
	var result CommissionResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		*fx = effects{}
		result = CommissionResult{}
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.SalesPersonID == nil {
			result.NotApplicable = true
			return nil
		}
		if existing, found, err := tx.CommissionForOrder(ctx, orderID); err != nil {
			return err
		} else if found {
			result.Commission = &existing
			return nil
		}
		if !o.Forwarded() {
			return ErrNotForwarded
		}
		value := deliveredValue(o)
		structure, err := tx.ActiveCommissionStructure(ctx)
		if err != nil {
			return err
		}
		rate, tiered := structure.RateFor(value)
		if !tiered {
			seller, err := s.users.GetUser(ctx, *o.SalesPersonID)
			if err != nil {
				return fmt.Errorf("get sales person: %w", err)
			}
			rate = seller.CommissionRate
		}
		c, inserted, err := tx.InsertCommission(ctx, Commission{
			OrderID:        o.ID,
			SalesPersonID:  *o.SalesPersonID,
			Rate:           rate,
			DeliveredValue: pricing.Round(value),
			Amount:         pricing.Percent(value, rate),
			Status:         CommissionStatusPending,
		})
		if err != nil {
			return err
		}
		result.Commission = &c
		result.Created = inserted
		if inserted {
			fx.transition(shared.SystemActor, "commission", c.ID, "create", "", string(c.Status))
			fx.notify(c.SalesPersonID, notifications.TypeCommissionCreated,
				"Commission earned",
				fmt.Sprintf("Order %s earned a commission of %s.", o.OrderNumber, s.money.Format(c.Amount)),
				orderLink(o.ID))
		}
		return nil
	})
	if err != nil {
		return CommissionResult{}, fmt.Errorf("calculate commission: %w", err)
	}
	s.flush(ctx, fx)
	return result, nil
}

// MarkCommissionPaid settles a pending commission. Paying a paid
// commission returns it with ErrCommissionPaid.
func (s *Service) MarkCommissionPaid(ctx context.Context, actor shared.Actor, commissionID int64) (*Commission, error) {
	if actor.Role != shared.RoleAdmin {
		return nil, ErrNotAllowed
	}
	fx := &effects{}
	var (
		c       Commission
		already bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		*fx = effects{}
		already = false
		var err error
		c, err = tx.LockCommission(ctx, commissionID)
		if err != nil {
			return err
		}
		if c.Status == CommissionStatusPaid {
			already = true
			return nil
		}
		now := s.now()
		c.Status = CommissionStatusPaid
		c.PaidAt = &now
		fx.transition(actor, "commission", c.ID, "pay", string(CommissionStatusPending), string(c.Status))
		return tx.UpdateCommission(ctx, c)
	})
	if err != nil {
		return nil, fmt.Errorf("mark commission paid: %w", err)
	}
	s.flush(ctx, fx)
	if already {
		return &c, ErrCommissionPaid
	}
	return &c, nil
}

// GetCommissionForOrder returns the commission posted for an order.
func (s *Service) GetCommissionForOrder(ctx context.Context, actor shared.Actor, orderID int64) (*Commission, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := requireOrderSeller(actor, o); err != nil {
		return nil, err
	}
	c, err := s.repo.GetCommissionByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCommissions lists commissions. Sales users only see their own.
func (s *Service) ListCommissions(ctx context.Context, actor shared.Actor) ([]Commission, error) {
	if !actor.IsSeller() {
		return nil, ErrNotAllowed
	}
	var salesPersonID int64
	if actor.Role == shared.RoleSales {
		salesPersonID = actor.ID
	}
	return s.repo.ListCommissions(ctx, salesPersonID)
}
