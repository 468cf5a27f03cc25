package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_CompletionPayout(t *testing.T) {
	payment, commission := Split(decimal.NewFromInt(120), DefaultCommissionRate)

	assert.Equal(t, "102.00", Format(payment))
	assert.Equal(t, "18.00", Format(commission))
}

func TestSplit_PartialDispute(t *testing.T) {
	payment, commission := Split(decimal.NewFromInt(60), DefaultCommissionRate)

	assert.Equal(t, "51.00", Format(payment))
	assert.Equal(t, "9.00", Format(commission))
}

func TestSplit_RoundsHalfUpAndConserves(t *testing.T) {
	cases := []struct {
		base    string
		payment string
	}{
		{base: "0.10", payment: "0.09"},  // 0.085 -> 0.09
		{base: "0.30", payment: "0.26"},  // 0.255 -> 0.26
		{base: "33.33", payment: "28.33"}, // 28.3305
		{base: "0.01", payment: "0.01"},  // 0.0085
		{base: "0", payment: "0.00"},
	}
	for _, tc := range cases {
		base := decimal.RequireFromString(tc.base)
		payment, commission := Split(base, DefaultCommissionRate)
		assert.Equal(t, tc.payment, Format(payment), "base %s", tc.base)
		assert.True(t, payment.Add(commission).Equal(base), "base %s must be conserved", tc.base)
		assert.False(t, commission.IsNegative(), "base %s commission negative", tc.base)
	}
}

func TestParse(t *testing.T) {
	d, err := Parse("150.50")
	require.NoError(t, err)
	assert.Equal(t, "150.50", Format(d))

	_, err = Parse("1.005")
	assert.Error(t, err)

	_, err = Parse("abc")
	assert.Error(t, err)
}

func TestIsCents(t *testing.T) {
	assert.True(t, IsCents(decimal.RequireFromString("10")))
	assert.True(t, IsCents(decimal.RequireFromString("10.1")))
	assert.True(t, IsCents(decimal.RequireFromString("10.12")))
	assert.False(t, IsCents(decimal.RequireFromString("10.123")))
}
