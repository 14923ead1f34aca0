package sales

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atelier-b2b/atelier/internal/notifications"
	"github.com/atelier-b2b/atelier/internal/sales/pricing"
	"github.com/atelier-b2b/atelier/internal/shared"
)

// CounterLine proposes a new unit price for one quotation line.
type CounterLine struct {
	QuotationLineID int64
	UnitPrice       decimal.Decimal
}

// negotiationScope is the locked state a negotiation move works on.
type negotiationScope struct {
	quotation   Quotation
	negotiation Negotiation
	request     Request
}

// sellerUserID is who receives seller-side notifications.
func (sc negotiationScope) sellerUserID() int64 {
	if sc.request.AssignedSalesID != nil {
		return *sc.request.AssignedSalesID
	}
	return sc.quotation.CreatedBy
}

func (sc negotiationScope) counterpartOf(party Party) int64 {
	if party == PartyBuyer {
		return sc.sellerUserID()
	}
	return sc.request.BuyerID
}

// lockNegotiation locks quotation, negotiation and request in that order
// and checks that actor takes part.
func (s *Service) lockNegotiation(ctx context.Context, tx TxRepository, actor shared.Actor, negotiationID int64) (negotiationScope, error) {
	head, err := s.repo.GetNegotiation(ctx, negotiationID)
	if err != nil {
		return negotiationScope{}, err
	}
	q, err := tx.LockQuotation(ctx, head.QuotationID)
	if err != nil {
		return negotiationScope{}, err
	}
	neg, err := tx.LockNegotiation(ctx, negotiationID)
	if err != nil {
		return negotiationScope{}, err
	}
	req, err := tx.LockRequest(ctx, q.RequestID)
	if err != nil {
		return negotiationScope{}, err
	}
	if err := requireParticipant(actor, req); err != nil {
		return negotiationScope{}, err
	}
	return negotiationScope{quotation: q, negotiation: neg, request: req}, nil
}

// OpenNegotiation starts a negotiation on a sent quotation. Round 0 is the
// quotation's current prices, proposed by the seller.
func (s *Service) OpenNegotiation(ctx context.Context, actor shared.Actor, quotationID int64, message string) (*Negotiation, error) {
	fx := &effects{}
	var id int64
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
		if err := requireParticipant(actor, req); err != nil {
			return err
		}
		if _, exists, err := tx.NegotiationForQuotation(ctx, q.ID); err != nil {
			return err
		} else if exists {
			return ErrAlreadyOpen
		}
		if q.Status != QuotationStatusSent {
			return ErrNotSent
		}
		if q.Overdue(s.now()) {
			return ErrQuotationExpired
		}
		id, err = tx.CreateNegotiation(ctx, Negotiation{
			QuotationID: q.ID,
			OpenedBy:    actor.ID,
			Status:      NegotiationStatusOpen,
		})
		if err != nil {
			return err
		}
		baseline := make([]RoundLine, 0, len(q.Lines))
		for _, l := range q.Lines {
			baseline = append(baseline, RoundLine{
				QuotationLineID: l.ID,
				RequestItemID:   l.RequestItemID,
				UnitPrice:       l.UnitPrice,
				Quantity:        l.Quantity,
			})
		}
		_, err = tx.InsertRound(ctx, NegotiationRound{
			NegotiationID:  id,
			RoundNumber:    0,
			ProposedBy:     PartySeller,
			ProposedByUser: q.CreatedBy,
			ProposedTotal:  q.QuotedTotal,
			Message:        message,
			Lines:          baseline,
		})
		if err != nil {
			return err
		}
		sc := negotiationScope{quotation: q, request: req}
		fx.transition(actor, "negotiation", id, "open", "", string(NegotiationStatusOpen))
		fx.notify(sc.counterpartOf(partyOf(actor)), notifications.TypeNegotiationOpened,
			"Negotiation opened",
			fmt.Sprintf("A negotiation was opened on quotation %s.", q.Number),
			quotationLink(q.ID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("open negotiation: %w", err)
	}
	s.flush(ctx, fx)
	return s.loadNegotiation(ctx, id)
}

// Counter appends a round proposed by the party whose turn it is. Lines
// not mentioned carry their latest price forward.
func (s *Service) Counter(ctx context.Context, actor shared.Actor, negotiationID int64, in []CounterLine, message string) (*Negotiation, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInvalidLines)
	}
	fx := &effects{}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		*fx = effects{}
		sc, err := s.lockNegotiation(ctx, tx, actor, negotiationID)
		if err != nil {
			return err
		}
		neg := sc.negotiation
		party := partyOf(actor)
		if err := checkTurn(neg.Status, party); err != nil {
			return err
		}
		if sc.quotation.Overdue(s.now()) {
			return ErrQuotationExpired
		}
		latest, ok := neg.LatestRound()
		if !ok {
			return fmt.Errorf("negotiation %d has no baseline round", neg.ID)
		}
		lines, err := applyCounter(latest.Lines, in)
		if err != nil {
			return err
		}
		total := roundTotal(lines)
		_, err = tx.InsertRound(ctx, NegotiationRound{
			NegotiationID:  neg.ID,
			RoundNumber:    latest.RoundNumber + 1,
			ProposedBy:     party,
			ProposedByUser: actor.ID,
			ProposedTotal:  total,
			Message:        message,
			Lines:          lines,
		})
		if err != nil {
			return err
		}
		from := neg.Status
		neg.Status = statusAfter(party)
		if err := tx.UpdateNegotiation(ctx, neg); err != nil {
			return err
		}
		fx.transition(actor, "negotiation", neg.ID, "counter", string(from), string(neg.Status))
		fx.notify(sc.counterpartOf(party), notifications.TypeNegotiationCounter,
			"New counter-offer",
			fmt.Sprintf("Round %d on quotation %s proposes %s.", latest.RoundNumber+1, sc.quotation.Number, s.money.Format(total)),
			quotationLink(sc.quotation.ID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("counter negotiation: %w", err)
	}
	s.flush(ctx, fx)
	return s.loadNegotiation(ctx, negotiationID)
}

// applyCounter returns a copy of previous with the proposed prices applied.
func applyCounter(previous []RoundLine, in []CounterLine) ([]RoundLine, error) {
	lines := make([]RoundLine, len(previous))
	copy(lines, previous)
	index := make(map[int64]int, len(lines))
	for i, l := range lines {
		index[l.QuotationLineID] = i
	}
	seen := make(map[int64]struct{}, len(in))
	for _, c := range in {
		i, ok := index[c.QuotationLineID]
		if !ok {
			return nil, fmt.Errorf("%w: line %d is not on the quotation", ErrInvalidLines, c.QuotationLineID)
		}
		if _, dup := seen[c.QuotationLineID]; dup {
			return nil, fmt.Errorf("%w: line %d proposed twice", ErrInvalidLines, c.QuotationLineID)
		}
		seen[c.QuotationLineID] = struct{}{}
		if err := pricing.ValidatePrice(c.UnitPrice); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidLines, c.QuotationLineID, err)
		}
		lines[i].UnitPrice = c.UnitPrice
	}
	return lines, nil
}

// AcceptNegotiation settles on the latest round. Only the party whose turn
// it is may accept, which means accepting the other side's last offer; the
// party that proposed the round gets ErrWrongTurn. The round's prices are
// written onto the quotation, which stays sent with a fresh validity window
// so the buyer can accept or reject it as usual.
func (s *Service) AcceptNegotiation(ctx context.Context, actor shared.Actor, negotiationID int64) (*Negotiation, error) {
	fx := &effects{}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		*fx = effects{}
		sc, err := s.lockNegotiation(ctx, tx, actor, negotiationID)
		if err != nil {
			return err
		}
		neg, q := sc.negotiation, sc.quotation
		party := partyOf(actor)
		if err := checkTurn(neg.Status, party); err != nil {
			return err
		}
		now := s.now()
		if q.Status != QuotationStatusSent {
			return ErrNotSent
		}
		if q.Overdue(now) {
			return ErrQuotationExpired
		}
		latest, ok := neg.LatestRound()
		if !ok {
			return fmt.Errorf("negotiation %d has no rounds", neg.ID)
		}
		prices := make(map[int64]decimal.Decimal, len(latest.Lines))
		for _, l := range latest.Lines {
			prices[l.QuotationLineID] = l.UnitPrice
		}
		lines := make([]QuotationLine, 0, len(q.Lines))
		for _, l := range q.Lines {
			price, ok := prices[l.ID]
			if !ok {
				return fmt.Errorf("round %d does not price quotation line %d", latest.RoundNumber, l.ID)
			}
			l.UnitPrice = price
			lines = append(lines, l)
		}
		q.QuotedTotal = totalOf(lines)
		if err := tx.UpdateQuotationLinePrices(ctx, lines); err != nil {
			return err
		}
		expires := now.Add(s.cfg.QuotationValidity)
		q.ExpiresAt = &expires
		if err := tx.UpdateQuotation(ctx, q); err != nil {
			return err
		}
		from := neg.Status
		neg.Status = NegotiationStatusAccepted
		if err := tx.UpdateNegotiation(ctx, neg); err != nil {
			return err
		}
		fx.transition(actor, "negotiation", neg.ID, "accept", string(from), string(neg.Status))
		msg := fmt.Sprintf("Quotation %s now totals %s after round %d.", q.Number, s.money.Format(q.QuotedTotal), latest.RoundNumber)
		fx.notify(sc.counterpartOf(party), notifications.TypeNegotiationAccepted, "Negotiation accepted", msg, quotationLink(q.ID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("accept negotiation: %w", err)
	}
	s.flush(ctx, fx)
	return s.loadNegotiation(ctx, negotiationID)
}

// CloseNegotiation abandons a negotiation. The quotation is left as is.
func (s *Service) CloseNegotiation(ctx context.Context, actor shared.Actor, negotiationID int64, reason string) (*Negotiation, error) {
	fx := &effects{}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		*fx = effects{}
		sc, err := s.lockNegotiation(ctx, tx, actor, negotiationID)
		if err != nil {
			return err
		}
		neg := sc.negotiation
		if neg.Status.Terminal() {
			return ErrNegotiationClosed
		}
		from := neg.Status
		neg.Status = NegotiationStatusClosed
		neg.ClosedReason = reason
		if err := tx.UpdateNegotiation(ctx, neg); err != nil {
			return err
		}
		fx.transition(actor, "negotiation", neg.ID, "close", string(from), string(neg.Status))
		fx.notify(sc.counterpartOf(partyOf(actor)), notifications.TypeNegotiationClosed,
			"Negotiation closed",
			fmt.Sprintf("The negotiation on quotation %s was closed.", sc.quotation.Number),
			quotationLink(sc.quotation.ID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("close negotiation: %w", err)
	}
	s.flush(ctx, fx)
	return s.loadNegotiation(ctx, negotiationID)
}

// GetNegotiation returns a negotiation with its rounds.
func (s *Service) GetNegotiation(ctx context.Context, actor shared.Actor, id int64) (*Negotiation, error) {
	neg, err := s.loadNegotiation(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeQuotation(ctx, actor, neg.QuotationID); err != nil {
		return nil, err
	}
	return neg, nil
}

// GetNegotiationForQuotation returns the negotiation attached to a quotation.
func (s *Service) GetNegotiationForQuotation(ctx context.Context, actor shared.Actor, quotationID int64) (*Negotiation, error) {
	if err := s.authorizeQuotation(ctx, actor, quotationID); err != nil {
		return nil, err
	}
	neg, err := s.repo.GetNegotiationByQuotation(ctx, quotationID)
	if err != nil {
		return nil, err
	}
	neg.NextMover = NextMover(neg.Status)
	return &neg, nil
}

func (s *Service) authorizeQuotation(ctx context.Context, actor shared.Actor, quotationID int64) error {
	q, err := s.repo.GetQuotation(ctx, quotationID)
	if err != nil {
		return err
	}
	req, err := s.repo.GetRequest(ctx, q.RequestID)
	if err != nil {
		return err
	}
	return requireParticipant(actor, req)
}

func (s *Service) loadNegotiation(ctx context.Context, id int64) (*Negotiation, error) {
	neg, err := s.repo.GetNegotiation(ctx, id)
	if err != nil {
		return nil, err
	}
	neg.NextMover = NextMover(neg.Status)
	return &neg, nil
}
