package withdrawal

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
)

// Request is a specialist's ask to pay out part of their balance. It is
// decided once, by an admin.
type Request struct {
	ID           string
	SpecialistID string
	Amount       decimal.Decimal
	Status       Status
	ProcessedBy  string
	Notes        string
	CreatedAt    time.Time
	ProcessedAt  *time.Time
}

type ProcessRequest struct {
	RequestID string
	AdminID   string
	Decision  Status
	Notes     string
}

type Filters struct {
	SpecialistID string
	Status       Status
	Page         int
	PageSize     int
}

type ListResult struct {
	Items []Request
	Total int
}
