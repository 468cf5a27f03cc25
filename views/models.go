package views

import (
	"time"

	"github.com/shopspring/decimal"

	"arcana/auth"
	"arcana/contract"
	"arcana/dispute"
	"arcana/timeline"
)

// Party is the public slice of a user shown next to a contract.
type Party struct {
	ID       string
	FullName string
	Role     auth.Role
	Verified bool
}

// ContractWithParties is the detail view of one contract.
type ContractWithParties struct {
	Contract      contract.Contract
	Requester     Party
	Specialist    *Party
	OfferCount    int
	OpenDisputeID string
	Events        []timeline.Event
}

// ContractSummary is the part of a contract an adjudicator needs.
type ContractSummary struct {
	ID           string
	Title        string
	Status       contract.Status
	FinalPrice   decimal.NullDecimal
	PayoutIssued bool
	CompletedAt  *time.Time
	Requester    Party
	Specialist   Party
}

// DisputeWithContext is what the admin queue shows for one dispute.
type DisputeWithContext struct {
	Dispute   dispute.Dispute
	Contract  ContractSummary
	Initiator Party
}
