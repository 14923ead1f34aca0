package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLineTotalIsExact(t *testing.T) {
	// 0.1 × 3 drifts in binary floating point.
	require.True(t, LineTotal(d("0.10"), 3).Equal(d("0.30")))
	require.True(t, LineTotal(d("1234.56"), 7).Equal(d("8641.92")))
}

func TestSum(t *testing.T) {
	require.True(t, Sum().Equal(decimal.Zero))
	require.True(t, Sum(d("0.1"), d("0.2")).Equal(d("0.3")))
}

func TestPercentRoundsToCents(t *testing.T) {
	require.Equal(t, "23.75", Percent(d("950"), d("2.5")).StringFixed(2))
	require.Equal(t, "0.01", Percent(d("0.25"), d("2.5")).StringFixed(2))
}

func TestApplyMarkup(t *testing.T) {
	require.Equal(t, "162.68", ApplyMarkup(d("120.50"), d("35")).StringFixed(2))
	require.True(t, ApplyMarkup(d("100"), decimal.Zero).Equal(d("100")))
}

func TestValidatePrice(t *testing.T) {
	require.NoError(t, ValidatePrice(d("0")))
	require.NoError(t, ValidatePrice(d("19.99")))
	require.ErrorIs(t, ValidatePrice(d("-1")), ErrNegativeAmount)
	require.Error(t, ValidatePrice(d("1.005")))
}

func TestMin(t *testing.T) {
	require.True(t, Min(d("1"), d("2")).Equal(d("1")))
	require.True(t, Min(d("3"), d("2")).Equal(d("2")))
}
