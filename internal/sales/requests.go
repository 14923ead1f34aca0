package sales

import (
	"context"
	"fmt"

	"github.com/atelier-b2b/atelier/internal/catalog"
	"github.com/atelier-b2b/atelier/internal/shared"
)

// ItemInput describes a wishlist line.
type ItemInput struct {
	Product  catalog.Ref
	Quantity int
}

func (in ItemInput) validate() error {
	if err := in.Product.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	if in.Quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidItem)
	}
	return nil
}

// CreateRequest opens a draft request owned by the calling buyer.
func (s *Service) CreateRequest(ctx context.Context, actor shared.Actor, notes string) (*Request, error) {
	if !actor.IsBuyer() {
		return nil, ErrNotAllowed
	}
	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		id, err = tx.CreateRequest(ctx, Request{
			BuyerID: actor.ID,
			Status:  RequestStatusDraft,
			Notes:   notes,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return s.loadRequest(ctx, id)
}

// AddItem appends a line to a draft request.
func (s *Service) AddItem(ctx context.Context, actor shared.Actor, requestID int64, in ItemInput) (*Request, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := ensureEditable(actor, req); err != nil {
			return err
		}
		_, err = tx.InsertRequestItem(ctx, RequestItem{
			RequestID: requestID,
			Product:   in.Product,
			Quantity:  in.Quantity,
		})
		if err != nil {
			return err
		}
		return tx.UpdateRequest(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("add item: %w", err)
	}
	return s.loadRequest(ctx, requestID)
}

// UpdateItemQuantity changes the quantity of a draft line.
func (s *Service) UpdateItemQuantity(ctx context.Context, actor shared.Actor, requestID, itemID int64, quantity int) (*Request, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidItem)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := ensureEditable(actor, req); err != nil {
			return err
		}
		item, ok := req.Item(itemID)
		if !ok {
			return ErrRequestItemNotFound
		}
		item.Quantity = quantity
		if err := tx.UpdateRequestItem(ctx, item); err != nil {
			return err
		}
		return tx.UpdateRequest(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}
	return s.loadRequest(ctx, requestID)
}

// RemoveItem deletes a draft line.
func (s *Service) RemoveItem(ctx context.Context, actor shared.Actor, requestID, itemID int64) (*Request, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := ensureEditable(actor, req); err != nil {
			return err
		}
		if _, ok := req.Item(itemID); !ok {
			return ErrRequestItemNotFound
		}
		if err := tx.DeleteRequestItem(ctx, requestID, itemID); err != nil {
			return err
		}
		return tx.UpdateRequest(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("remove item: %w", err)
	}
	return s.loadRequest(ctx, requestID)
}

// UpdateNotes replaces the free-text notes of a draft request.
func (s *Service) UpdateNotes(ctx context.Context, actor shared.Actor, requestID int64, notes string) (*Request, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := ensureEditable(actor, req); err != nil {
			return err
		}
		req.Notes = notes
		return tx.UpdateRequest(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("update notes: %w", err)
	}
	return s.loadRequest(ctx, requestID)
}

// Submit freezes a draft request and hands it to operations.
func (s *Service) Submit(ctx context.Context, actor shared.Actor, requestID int64) (*Request, error) {
	fx := &effects{}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		*fx = effects{}
		req, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := ensureEditable(actor, req); err != nil {
			return err
		}
		if len(req.Items) == 0 {
			return ErrEmptyRequest
		}
		now := s.now()
		req.Status = RequestStatusSubmitted
		req.SubmittedAt = &now
		fx.transition(actor, "request", req.ID, "submit", string(RequestStatusDraft), string(req.Status))
		return tx.UpdateRequest(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("submit request: %w", err)
	}
	s.flush(ctx, fx)
	return s.loadRequest(ctx, requestID)
}

// GetRequest returns a request visible to actor.
func (s *Service) GetRequest(ctx context.Context, actor shared.Actor, id int64) (*Request, error) {
	req, err := s.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(actor, *req); err != nil {
		return nil, err
	}
	return req, nil
}

// ListRequests lists requests. Buyers only see their own and sales users
// only see requests assigned to them.
func (s *Service) ListRequests(ctx context.Context, actor shared.Actor, filter RequestFilter) ([]Request, int, error) {
	switch actor.Role {
	case shared.RoleBuyer:
		filter.BuyerID = actor.ID
	case shared.RoleSales:
		filter.AssignedSalesID = actor.ID
	}
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	return s.repo.ListRequests(ctx, filter)
}

// ensureEditable guards every draft mutation.
func ensureEditable(actor shared.Actor, req Request) error {
	if err := requireOwner(actor, req); err != nil {
		return err
	}
	if req.Status != RequestStatusDraft {
		return ErrRequestLocked
	}
	return nil
}

func (s *Service) loadRequest(ctx context.Context, id int64) (*Request, error) {
	req, err := s.repo.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	return &req, nil
}
