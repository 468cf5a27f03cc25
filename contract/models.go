package contract

import (
	"time"

	"github.com/shopspring/decimal"
)

type ServiceKind string

const (
	ServiceFull   ServiceKind = "full"
	ServiceReview ServiceKind = "review"
)

// Contract is a unit of requested work. FinalPrice is set once, when an
// offer is accepted; PayoutIssued is set once, by whichever of completion or
// dispute resolution settles the contract first.
type Contract struct {
	ID           string
	RequesterID  string
	SpecialistID string
	Title        string
	Description  string
	Tags         []string
	ServiceKind  ServiceKind
	InitialPrice decimal.Decimal
	FinalPrice   decimal.NullDecimal
	Status       Status
	PayoutIssued bool
	FileRefs     []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

// IsParty reports whether userID is the requester or the assigned specialist.
func (c Contract) IsParty(userID string) bool {
	return userID != "" && (userID == c.RequesterID || userID == c.SpecialistID)
}

type CreateRequest struct {
	RequesterID  string
	Title        string
	Description  string
	Tags         []string
	ServiceKind  ServiceKind
	InitialPrice decimal.Decimal
	FileRefs     []string
}

type Filters struct {
	RequesterID  string
	SpecialistID string
	Status       Status
	Page         int
	PageSize     int
}

type ListResult struct {
	Items []Contract
	Total int
}
