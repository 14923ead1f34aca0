package sales

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atelier-b2b/atelier/internal/shared"
)

func TestNextMoverAlternates(t *testing.T) {
	cases := []struct {
		status NegotiationStatus
		want   Party
	}{
		{NegotiationStatusOpen, PartyBuyer},
		{NegotiationStatusCounterBuyer, PartySeller},
		{NegotiationStatusCounterSeller, PartyBuyer},
		{NegotiationStatusAccepted, PartyNone},
		{NegotiationStatusRejected, PartyNone},
		{NegotiationStatusClosed, PartyNone},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			require.Equal(t, tc.want, NextMover(tc.status))
		})
	}
}

func TestCheckTurn(t *testing.T) {
	require.NoError(t, checkTurn(NegotiationStatusOpen, PartyBuyer))
	require.ErrorIs(t, checkTurn(NegotiationStatusOpen, PartySeller), ErrWrongTurn)
	require.NoError(t, checkTurn(statusAfter(PartyBuyer), PartySeller))
	require.ErrorIs(t, checkTurn(statusAfter(PartySeller), PartySeller), ErrWrongTurn)
	require.ErrorIs(t, checkTurn(NegotiationStatusOpen, PartyNone), ErrWrongTurn)
	require.ErrorIs(t, checkTurn(NegotiationStatusClosed, PartyBuyer), ErrNegotiationClosed)
}

func TestPartyOf(t *testing.T) {
	require.Equal(t, PartyBuyer, partyOf(shared.Actor{ID: 1, Role: shared.RoleBuyer}))
	require.Equal(t, PartySeller, partyOf(shared.Actor{ID: 2, Role: shared.RoleSales}))
	require.Equal(t, PartySeller, partyOf(shared.Actor{ID: 3, Role: shared.RoleOperations}))
	require.Equal(t, PartyNone, partyOf(shared.Actor{ID: 4, Role: "guest"}))
}

func TestApplyCounterCarriesUnmentionedLines(t *testing.T) {
	previous := []RoundLine{
		{QuotationLineID: 1, UnitPrice: dec("100.00"), Quantity: 2},
		{QuotationLineID: 2, UnitPrice: dec("50.00"), Quantity: 1},
	}
	lines, err := applyCounter(previous, []CounterLine{{QuotationLineID: 2, UnitPrice: dec("45.00")}})
	require.NoError(t, err)
	require.Equal(t, "100.00", lines[0].UnitPrice.StringFixed(2))
	require.Equal(t, "45.00", lines[1].UnitPrice.StringFixed(2))
	require.Equal(t, "50.00", previous[1].UnitPrice.StringFixed(2), "previous round is not mutated")
	require.Equal(t, "245.00", roundTotal(lines).StringFixed(2))

	_, err = applyCounter(previous, []CounterLine{{QuotationLineID: 9, UnitPrice: dec("1")}})
	require.ErrorIs(t, err, ErrInvalidLines)
	_, err = applyCounter(previous, []CounterLine{
		{QuotationLineID: 1, UnitPrice: dec("1")},
		{QuotationLineID: 1, UnitPrice: dec("2")},
	})
	require.ErrorIs(t, err, ErrInvalidLines)
	_, err = applyCounter(previous, []CounterLine{{QuotationLineID: 1, UnitPrice: dec("1.001")}})
	require.ErrorIs(t, err, ErrInvalidLines)
}
