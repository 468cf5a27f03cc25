package offer

import (
	"time"

	"github.com/shopspring/decimal"
)

// Offer is a specialist's bid on an open contract. Offers are never edited
// or withdrawn; the accepted one is identified by the contract's specialist
// and final price.
type Offer struct {
	ID           string
	ContractID   string
	SpecialistID string
	Price        decimal.Decimal
	Message      string
	CreatedAt    time.Time
}

type SubmitRequest struct {
	ContractID   string
	SpecialistID string
	Price        decimal.Decimal
	Message      string
}
