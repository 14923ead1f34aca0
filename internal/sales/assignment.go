package sales

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/atelier-b2b/atelier/internal/notifications"
	"github.com/atelier-b2b/atelier/internal/shared"
	"github.com/atelier-b2b/atelier/internal/users"
)

// Assign binds a request to a sales person, replacing any earlier
// assignment until the request has been converted into an order.
func (s *Service) Assign(ctx context.Context, actor shared.Actor, requestID, salesPersonID int64) (*Request, error) {
	if err := requireOperations(actor); err != nil {
		return nil, err
	}
	assignee, err := s.users.GetUser(ctx, salesPersonID)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return nil, ErrInvalidAssignee
		}
		return nil, fmt.Errorf("get assignee: %w", err)
	}
	if !assignee.CanOwnSales() {
		return nil, ErrInvalidAssignee
	}

	fx := &effects{}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		*fx = effects{}
		req, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		converted, err := tx.OrderExistsForRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if converted {
			return ErrAlreadyConverted
		}
		if req.Status != RequestStatusSubmitted && req.Status != RequestStatusUnderReview {
			return ErrNotValidated
		}
		var previous string
		if req.AssignedSalesID != nil {
			previous = strconv.FormatInt(*req.AssignedSalesID, 10)
		}
		now := s.now()
		req.AssignedSalesID = &assignee.ID
		req.AssignedAt = &now
		if err := tx.UpdateRequest(ctx, req); err != nil {
			return err
		}
		fx.transition(actor, "request", req.ID, "assign", previous, strconv.FormatInt(assignee.ID, 10))
		fx.notify(assignee.ID, notifications.TypeRequestAssigned,
			"New request assigned",
			fmt.Sprintf("Request #%d with %d item(s) is assigned to you.", req.ID, len(req.Items)),
			requestLink(req.ID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("assign request: %w", err)
	}
	s.flush(ctx, fx)
	return s.loadRequest(ctx, requestID)
}
