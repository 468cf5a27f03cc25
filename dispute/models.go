package dispute

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// Action is the admin's adjudication.
type Action string

const (
	ActionRefund  Action = "refund"
	ActionPay     Action = "pay"
	ActionPartial Action = "partial"
)

// Dispute mirrors the disputes table. Settlement is set once resolved;
// PayoutApplied is false when the contract had already been paid and the
// resolution could only be recorded.
type Dispute struct {
	ID              string
	ContractID      string
	InitiatorID     string
	Reason          string
	Status          Status
	Action          Action
	ResolutionNotes string
	ResolvedBy      string
	ResolvedAt      *time.Time
	Settlement      *Settlement
	PayoutApplied   bool
	CreatedAt       time.Time
}

type OpenRequest struct {
	ContractID  string
	InitiatorID string
	Reason      string
}

type ResolveRequest struct {
	DisputeID     string
	AdminID       string
	Action        Action
	Notes         string
	PartialAmount decimal.NullDecimal
}

// Resolution is what Store.Resolve writes.
type Resolution struct {
	Action        Action
	Notes         string
	ResolvedBy    string
	Settlement    Settlement
	PayoutApplied bool
}

type Filters struct {
	Status     Status
	ContractID string
	Page       int
	PageSize   int
}

type ListResult struct {
	Items []Dispute
	Total int
}
