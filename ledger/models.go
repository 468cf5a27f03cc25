package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryKind string

const (
	KindCredit EntryKind = "credit"
	KindDebit  EntryKind = "debit"
)

// Reference types recorded on journal entries.
const (
	RefContract   = "contract"
	RefDispute    = "dispute"
	RefWithdrawal = "withdrawal"
)

// Posting is a single balance movement against one account.
type Posting struct {
	AccountID string
	Amount    decimal.Decimal
	RefType   string
	RefID     string
}

// Entry is a journal row written alongside every balance movement.
type Entry struct {
	ID           int64
	AccountID    string
	Kind         EntryKind
	Amount       decimal.Decimal
	BalanceAfter decimal.Decimal
	RefType      string
	RefID        string
	CreatedAt    time.Time
}
