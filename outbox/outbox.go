// Package outbox records notifications in the transaction of the transition
// that caused them and delivers them afterwards.
package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

const TopicNotification = "notification"

// Notification types.
const (
	TypeOfferReceived      = "offer_received"
	TypeOfferAccepted      = "offer_accepted"
	TypeDepositConfirmed   = "deposit_confirmed"
	TypeContractCompleted  = "contract_completed"
	TypeContractCancelled  = "contract_cancelled"
	TypeDisputeOpened      = "dispute_opened"
	TypeDisputeResolved    = "dispute_resolved"
	TypeWithdrawalDecided  = "withdrawal_decided"
	TypeWithdrawalReceived = "withdrawal_received"
)

// Notification is the message handed to the external delivery collaborator.
type Notification struct {
	UserID  string `json:"user_id"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Link    string `json:"link,omitempty"`
}

// Message is a stored outbox row.
type Message struct {
	ID        string
	Topic     string
	Payload   []byte
	Attempts  int
	CreatedAt time.Time
}

// Writer enqueues notifications. Enqueue failures never fail the caller's
// transaction: the insert runs in a savepoint that is rolled back on error.
type Writer struct {
	log *slog.Logger
}

func NewWriter(log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	return &Writer{log: log}
}

func (w *Writer) Notify(ctx context.Context, tx pgx.Tx, n Notification) {
	if n.UserID == "" {
		return
	}
	payload, err := json.Marshal(n)
	if err != nil {
		w.log.WarnContext(ctx, "outbox: marshal notification", "type", n.Type, "error", err)
		return
	}

	sp, err := tx.Begin(ctx)
	if err != nil {
		w.log.WarnContext(ctx, "outbox: open savepoint", "type", n.Type, "error", err)
		return
	}
	if _, err := sp.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, TopicNotification, string(payload)); err != nil {
		_ = sp.Rollback(ctx)
		w.log.WarnContext(ctx, "outbox: enqueue notification", "type", n.Type, "user_id", n.UserID, "error", err)
		return
	}
	if err := sp.Commit(ctx); err != nil {
		w.log.WarnContext(ctx, "outbox: release savepoint", "type", n.Type, "error", err)
	}
}
