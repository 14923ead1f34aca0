package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atelier-b2b/atelier/internal/catalog"
	"github.com/atelier-b2b/atelier/internal/notifications"
	"github.com/atelier-b2b/atelier/internal/sales/pricing"
	"github.com/atelier-b2b/atelier/internal/shared"
)

const quotationSequence = "quotation"

// LineInput prices one request item. Quantity always comes from the item.
type LineInput struct {
	RequestItemID int64
	UnitPrice     *decimal.Decimal
}

// PriceSuggestion is an advisory unit price for a request item.
type PriceSuggestion struct {
	RequestItemID  int64           `json:"request_item_id"`
	Quantity       int             `json:"quantity"`
	Source         AvailableSource `json:"source"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	MarkupPercent  decimal.Decimal `json:"markup_percent"`
	SuggestedPrice decimal.Decimal `json:"suggested_unit_price"`
	Note           string          `json:"note,omitempty"`
}

// buildLines prices lines against the request items.
func buildLines(req Request, in []LineInput) ([]QuotationLine, decimal.Decimal, error) {
	if len(in) == 0 {
		return nil, decimal.Zero, fmt.Errorf("%w: at least one line is required", ErrInvalidLines)
	}
	seen := make(map[int64]struct{}, len(in))
	lines := make([]QuotationLine, 0, len(in))
	for i, l := range in {
		item, ok := req.Item(l.RequestItemID)
		if !ok {
			return nil, decimal.Zero, fmt.Errorf("%w: item %d is not part of request %d", ErrInvalidLines, l.RequestItemID, req.ID)
		}
		if _, dup := seen[item.ID]; dup {
			return nil, decimal.Zero, fmt.Errorf("%w: item %d quoted twice", ErrInvalidLines, item.ID)
		}
		seen[item.ID] = struct{}{}
		if l.UnitPrice == nil {
			return nil, decimal.Zero, fmt.Errorf("%w: item %d has no unit price", ErrInvalidLines, item.ID)
		}
		if err := pricing.ValidatePrice(*l.UnitPrice); err != nil {
			return nil, decimal.Zero, fmt.Errorf("%w: item %d: %v", ErrInvalidLines, item.ID, err)
		}
		lines = append(lines, QuotationLine{
			RequestItemID: item.ID,
			UnitPrice:     *l.UnitPrice,
			Quantity:      item.Quantity,
			LineOrder:     i + 1,
		})
	}
	total := totalOf(lines)
	return lines, total, nil
}

// CreateQuotation drafts a quotation for a reviewed request.
func (s *Service) CreateQuotation(ctx context.Context, actor shared.Actor, requestID int64, in []LineInput, terms string) (*Quotation, error) {
	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := requireSeller(actor, req); err != nil {
			return err
		}
		if req.Status != RequestStatusUnderReview && req.Status != RequestStatusQuoted {
			return ErrNotQuotable
		}
		converted, err := tx.OrderExistsForRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if converted {
			return ErrAlreadyConverted
		}
		if _, active, err := tx.ActiveQuotationFor(ctx, requestID); err != nil {
			return err
		} else if active {
			return ErrActiveQuotationExists
		}
		lines, total, err := buildLines(req, in)
		if err != nil {
			return err
		}
		year := s.now().Year()
		seq, err := tx.NextSequence(ctx, quotationSequence, year)
		if err != nil {
			return fmt.Errorf("reserve quotation number: %w", err)
		}
		id, err = tx.CreateQuotation(ctx, Quotation{
			RequestID:   requestID,
			CreatedBy:   actor.ID,
			Number:      fmt.Sprintf("QT-%d-%04d", year, seq),
			Status:      QuotationStatusDraft,
			QuotedTotal: total,
			Terms:       terms,
		})
		if err != nil {
			return err
		}
		return tx.ReplaceQuotationLines(ctx, id, lines)
	})
	if err != nil {
		return nil, fmt.Errorf("create quotation: %w", err)
	}
	return s.loadQuotation(ctx, id)
}

// ReviseQuotation replaces the lines of a draft or sent quotation. A sent
// quotation restarts its validity window.
func (s *Service) ReviseQuotation(ctx context.Context, actor shared.Actor, quotationID int64, in []LineInput) (*Quotation, error) {
	fx := &effects{}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		*fx = effects{}
		q, err := tx.LockQuotation(ctx, quotationID)
		if err != nil {
			return err
		}
		if !q.Status.Active() {
			return ErrNotDraftOrNotRevisable
		}
		req, err := tx.LockRequest(ctx, q.RequestID)
		if err != nil {
			return err
		}
		if err := requireSeller(actor, req); err != nil {
			return err
		}
		now := s.now()
		if q.Status == QuotationStatusSent && q.Overdue(now) {
			return ErrQuotationExpired
		}
		neg, found, err := tx.NegotiationForQuotation(ctx, q.ID)
		if err != nil {
			return err
		}
		if found && !neg.Status.Terminal() {
			if len(neg.Rounds) > 1 {
				return ErrNotDraftOrNotRevisable
			}
			neg.Status = NegotiationStatusClosed
			neg.ClosedReason = "quotation revised"
			if err := tx.UpdateNegotiation(ctx, neg); err != nil {
				return err
			}
		}
		lines, total, err := buildLines(req, in)
		if err != nil {
			return err
		}
		if err := tx.ReplaceQuotationLines(ctx, q.ID, lines); err != nil {
			return err
		}
		q.QuotedTotal = total
		if q.Status == QuotationStatusSent {
			expires := now.Add(s.cfg.QuotationValidity)
			q.ExpiresAt = &expires
			fx.notify(req.BuyerID, notifications.TypeQuotationRevised,
				"Quotation revised",
				fmt.Sprintf("Quotation %s was revised. New total %s.", q.Number, s.money.Format(total)),
				quotationLink(q.ID))
		}
		fx.transition(actor, "quotation", q.ID, "revise", string(q.Status), string(q.Status))
		return tx.UpdateQuotation(ctx, q)
	})
	if err != nil {
		return nil, fmt.Errorf("revise quotation: %w", err)
	}
	s.flush(ctx, fx)
	return s.loadQuotation(ctx, quotationID)
}

// SendQuotation publishes a draft to the buyer and starts its validity
// window.
func (s *Service) SendQuotation(ctx context.Context, actor shared.Actor, quotationID int64) (*Quotation, error) {
	fx := &effects{}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		*fx = effects{}
		q, err := tx.LockQuotation(ctx, quotationID)
		if err != nil {
			return err
		}
		req, err := tx.LockRequest(ctx, q.RequestID)
		if err != nil {
			return err
		}
		if err := requireSeller(actor, req); err != nil {
			return err
		}
		if q.Status != QuotationStatusDraft {
			return ErrAlreadySent
		}
		now := s.now()
		expires := now.Add(s.cfg.QuotationValidity)
		q.Status = QuotationStatusSent
		q.SentAt = &now
		q.ExpiresAt = &expires
		if err := tx.UpdateQuotation(ctx, q); err != nil {
			return err
		}
		if req.Status != RequestStatusQuoted {
			fx.transition(actor, "request", req.ID, "quote", string(req.Status), string(RequestStatusQuoted))
			req.Status = RequestStatusQuoted
			if err := tx.UpdateRequest(ctx, req); err != nil {
				return err
			}
		}
		fx.transition(actor, "quotation", q.ID, "send", string(QuotationStatusDraft), string(q.Status))
		fx.notify(req.BuyerID, notifications.TypeQuotationSent,
			"Quotation received",
			fmt.Sprintf("Quotation %s for %s is valid until %s.", q.Number, s.money.Format(q.QuotedTotal), expires.Format(time.RFC1123)),
			quotationLink(q.ID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("send quotation: %w", err)
	}
	s.flush(ctx, fx)
	return s.loadQuotation(ctx, quotationID)
}

// ExtendExpiry pushes a sent quotation's deadline out by one business day,
// once per quotation. A repeat returns the quotation with
// ErrExtensionAlreadyUsed.
func (s *Service) ExtendExpiry(ctx context.Context, actor shared.Actor, quotationID int64) (*Quotation, error) {
	fx := &effects{}
	var used bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		*fx = effects{}
		used = false
		q, err := tx.LockQuotation(ctx, quotationID)
		if err != nil {
			return err
		}
		req, err := tx.LockRequest(ctx, q.RequestID)
		if err != nil {
			return err
		}
		if err := requireSeller(actor, req); err != nil {
			return err
		}
		if q.Status != QuotationStatusSent || q.ExpiresAt == nil {
			return ErrNotSent
		}
		if q.Overdue(s.now()) {
			return ErrQuotationExpired
		}
		if q.ExtensionUsed() {
			used = true
			return nil
		}
		extended := addBusinessDay(*q.ExpiresAt)
		q.ExpiresAt = &extended
		q.Terms = appendTerms(q.Terms, extensionMarker)
		fx.transition(actor, "quotation", q.ID, "extend_expiry", string(q.Status), string(q.Status))
		fx.notify(req.BuyerID, notifications.TypeQuotationSent,
			"Quotation extended",
			fmt.Sprintf("Quotation %s is now valid until %s.", q.Number, extended.Format(time.RFC1123)),
			quotationLink(q.ID))
		return tx.UpdateQuotation(ctx, q)
	})
	if err != nil {
		return nil, fmt.Errorf("extend quotation: %w", err)
	}
	s.flush(ctx, fx)
	q, err := s.loadQuotation(ctx, quotationID)
	if err != nil {
		return nil, err
	}
	if used {
		return q, ErrExtensionAlreadyUsed
	}
	return q, nil
}

// addBusinessDay moves t forward one day, skipping Saturday and Sunday.
func addBusinessDay(t time.Time) time.Time {
	next := t.AddDate(0, 0, 1)
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// SuggestPrices derives advisory unit prices from catalog cost and the
// markup for the product category.
func (s *Service) SuggestPrices(ctx context.Context, actor shared.Actor, requestID int64) ([]PriceSuggestion, error) {
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	if err := requireSeller(actor, req); err != nil {
		return nil, err
	}
	if s.catalog == nil {
		return nil, errors.New("catalog unavailable")
	}
	out := make([]PriceSuggestion, 0, len(req.Items))
	for _, item := range req.Items {
		sug := PriceSuggestion{RequestItemID: item.ID, Quantity: item.Quantity, Source: SourceNone}
		product, err := s.catalog.Lookup(ctx, item.Product)
		if err != nil {
			sug.Note = fmt.Sprintf("catalog lookup failed: %v", err)
			out = append(out, sug)
			continue
		}
		sourceType := catalog.SourceInternal
		switch {
		case item.Product.Kind == catalog.RefInternal && product.OnHand > 0:
			sug.Source = SourceInternal
			sug.UnitCost = product.UnitCost
		case product.HasVerifiedSupplier():
			sug.Source = SourceExternal
			sug.UnitCost = product.Supplier.CostMax
			sourceType = catalog.SourceExternal
		default:
			sug.Note = "no source to price from"
			out = append(out, sug)
			continue
		}
		markup, err := s.catalog.Markup(ctx, product.Category, sourceType)
		if err != nil {
			sug.Note = fmt.Sprintf("markup lookup failed: %v", err)
		}
		sug.MarkupPercent = markup
		sug.SuggestedPrice = pricing.ApplyMarkup(sug.UnitCost, markup)
		out = append(out, sug)
	}
	return out, nil
}

// GetQuotation returns a quotation visible to actor. Buyers never see
// drafts.
func (s *Service) GetQuotation(ctx context.Context, actor shared.Actor, id int64) (*Quotation, error) {
	q, err := s.loadQuotation(ctx, id)
	if err != nil {
		return nil, err
	}
	req, err := s.repo.GetRequest(ctx, q.RequestID)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(actor, req); err != nil {
		return nil, err
	}
	if actor.IsBuyer() && q.Status == QuotationStatusDraft {
		return nil, ErrQuotationNotFound
	}
	return q, nil
}

// ListQuotations lists the quotations of a request, newest first.
func (s *Service) ListQuotations(ctx context.Context, actor shared.Actor, requestID int64) ([]Quotation, error) {
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(actor, req); err != nil {
		return nil, err
	}
	all, err := s.repo.ListQuotations(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !actor.IsBuyer() {
		return all, nil
	}
	visible := make([]Quotation, 0, len(all))
	for _, q := range all {
		if q.Status != QuotationStatusDraft {
			visible = append(visible, q)
		}
	}
	return visible, nil
}

func (s *Service) loadQuotation(ctx context.Context, id int64) (*Quotation, error) {
	q, err := s.repo.GetQuotation(ctx, id)
	if err != nil {
		return nil, err
	}
	return &q, nil
}
