// Package timeline appends contract history rows inside the transaction that
// performs the transition they describe.
package timeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"arcana/db"
)

// Event types written by the core services.
const (
	ContractCreated   = "CONTRACT_CREATED"
	OfferSubmitted    = "OFFER_SUBMITTED"
	OfferAccepted     = "OFFER_ACCEPTED"
	DepositConfirmed  = "DEPOSIT_CONFIRMED"
	ContractCompleted = "CONTRACT_COMPLETED"
	ContractCancelled = "CONTRACT_CANCELLED"
	DisputeOpened     = "DISPUTE_OPENED"
	DisputeResolved   = "DISPUTE_RESOLVED"
)

type Event struct {
	ID         int64
	ContractID string
	Type       string
	ActorID    string
	Payload    map[string]any
	CreatedAt  time.Time
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Append writes e. The table rejects updates and deletes.
func (r *Repository) Append(ctx context.Context, tx pgx.Tx, e Event) error {
	if e.ContractID == "" || e.Type == "" {
		return fmt.Errorf("timeline: contract id and type are required")
	}
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("timeline: marshal payload: %w", err)
	}

	var actorID any
	if e.ActorID != "" {
		actorID = e.ActorID
	}

	const insertSQL = `
INSERT INTO contract_events (contract_id, type, actor_id, payload)
VALUES ($1::uuid, $2, $3::uuid, $4::jsonb);
`
	if _, err := tx.Exec(ctx, insertSQL, e.ContractID, e.Type, actorID, string(payloadBytes)); err != nil {
		return fmt.Errorf("timeline: insert event: %w", err)
	}
	return nil
}

// List returns a contract's history in insertion order.
func (r *Repository) List(ctx context.Context, q db.Querier, contractID string) ([]Event, error) {
	const listSQL = `
SELECT id, contract_id::text, type, COALESCE(actor_id::text, ''), payload, created_at
FROM contract_events
WHERE contract_id = $1::uuid
ORDER BY id;
`
	rows, err := q.Query(ctx, listSQL, contractID)
	if err != nil {
		return nil, fmt.Errorf("timeline: list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e   Event
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.ContractID, &e.Type, &e.ActorID, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("timeline: scan event: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Payload); err != nil {
				return nil, fmt.Errorf("timeline: decode payload: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("timeline: iterate events: %w", err)
	}
	return events, nil
}
