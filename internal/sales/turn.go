package sales

import "github.com/atelier-b2b/atelier/internal/shared"

// NextMover returns the party allowed to write the next round, or
// PartyNone once the negotiation is terminal.
func NextMover(status NegotiationStatus) Party {
	switch status {
	case NegotiationStatusOpen, NegotiationStatusCounterSeller:
		return PartyBuyer
	case NegotiationStatusCounterBuyer:
		return PartySeller
	default:
		return PartyNone
	}
}

// statusAfter is the status recorded once party has written a round.
func statusAfter(party Party) NegotiationStatus {
	if party == PartyBuyer {
		return NegotiationStatusCounterBuyer
	}
	return NegotiationStatusCounterSeller
}

// partyOf maps an actor onto a negotiation side.
func partyOf(actor shared.Actor) Party {
	switch {
	case actor.IsBuyer():
		return PartyBuyer
	case actor.IsSeller():
		return PartySeller
	default:
		return PartyNone
	}
}

// checkTurn rejects moves by the party not awaited.
func checkTurn(status NegotiationStatus, party Party) error {
	if status.Terminal() {
		return ErrNegotiationClosed
	}
	if party == PartyNone || NextMover(status) != party {
		return ErrWrongTurn
	}
	return nil
}
