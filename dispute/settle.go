package dispute

import (
	"github.com/shopspring/decimal"

	"arcana/apperr"
	"arcana/money"
)

// Settlement splits a contract's final price between specialist, platform
// and requester. The three parts always sum to the final price.
type Settlement struct {
	PayoutBase        decimal.Decimal
	SpecialistPayment decimal.Decimal
	Commission        decimal.Decimal
	RequesterRefund   decimal.Decimal
}

// Settle computes the settlement for action. partial is required for, and
// only accepted with, ActionPartial, and must lie within [0, finalPrice].
func Settle(action Action, finalPrice decimal.Decimal, partial decimal.NullDecimal, rate decimal.Decimal) (Settlement, error) {
	const op = "dispute.settle"

	var base decimal.Decimal
	switch action {
	case ActionPay:
		base = finalPrice
	case ActionRefund:
		base = decimal.Zero
	case ActionPartial:
		if !partial.Valid {
			return Settlement{}, apperr.Validation(op, "partial resolutions need an amount")
		}
		base = partial.Decimal
		if base.IsNegative() || base.GreaterThan(finalPrice) {
			return Settlement{}, apperr.Validation(op, "partial amount must be between 0.00 and %s", money.Format(finalPrice))
		}
		if !money.IsCents(base) {
			return Settlement{}, apperr.Validation(op, "partial amount %s has sub-cent precision", base)
		}
	default:
		return Settlement{}, apperr.Validation(op, "unknown action %q", action)
	}
	if action != ActionPartial && partial.Valid {
		return Settlement{}, apperr.Validation(op, "an amount only applies to partial resolutions")
	}

	payment, commission := money.Split(base, rate)
	return Settlement{
		PayoutBase:        base,
		SpecialistPayment: payment,
		Commission:        commission,
		RequesterRefund:   finalPrice.Sub(base),
	}, nil
}
