// Package money holds the currency arithmetic shared by the payout paths.
// Amounts are two-decimal currency values; rounding happens only where a
// credit or debit amount is computed.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultCommissionRate is the platform's cut of every payout.
var DefaultCommissionRate = decimal.RequireFromString("0.15")

// Round rounds to the cent, half-up for the non-negative amounts used here.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// IsCents reports whether d has at most two fractional digits.
func IsCents(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(2))
}

// Parse reads a currency amount and rejects sub-cent precision.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	if !IsCents(d) {
		return decimal.Decimal{}, fmt.Errorf("money: %q has more than two decimal places", s)
	}
	return d, nil
}

// Split divides a payout base into the specialist's share and the platform
// commission. The two parts always sum to base exactly.
func Split(base, rate decimal.Decimal) (payment, commission decimal.Decimal) {
	payment = Round(base.Mul(decimal.NewFromInt(1).Sub(rate)))
	commission = base.Sub(payment)
	return payment, commission
}

// Format renders d with exactly two decimals.
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}
