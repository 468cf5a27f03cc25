package httpapi

import (
	"bytes"
	"time"

	"github.com/shopspring/decimal"

	"arcana/auth"
	"arcana/contract"
	"arcana/dispute"
	"arcana/ledger"
	"arcana/money"
	"arcana/offer"
	"arcana/views"
	"arcana/withdrawal"
)

// Amounts are rendered as two-decimal strings so clients never see floats.

// amount is a money field in a request body. It accepts a JSON string or
// number and refuses anything finer than a cent.
type amount struct{ decimal.Decimal }

func (a *amount) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	d, err := money.Parse(string(bytes.Trim(b, `"`)))
	if err != nil {
		return err
	}
	a.Decimal = d
	return nil
}

func (a *amount) nullable() decimal.NullDecimal {
	if a == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(a.Decimal)
}

type userJSON struct {
	ID       string    `json:"id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
	Role     auth.Role `json:"role"`
	Verified bool      `json:"verified"`
}

func toUser(u auth.User) userJSON {
	return userJSON{ID: u.ID, Email: u.Email, FullName: u.FullName, Role: u.Role, Verified: u.Verified}
}

type contractJSON struct {
	ID           string               `json:"id"`
	RequesterID  string               `json:"requester_id"`
	SpecialistID string               `json:"specialist_id,omitempty"`
	Title        string               `json:"title"`
	Description  string               `json:"description"`
	Tags         []string             `json:"tags"`
	ServiceKind  contract.ServiceKind `json:"service_kind"`
	InitialPrice string               `json:"initial_price"`
	FinalPrice   *string              `json:"final_price"`
	Status       contract.Status      `json:"status"`
	PayoutIssued bool                 `json:"payout_issued"`
	FileRefs     []string             `json:"file_refs"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
	CompletedAt  *time.Time           `json:"completed_at"`
}

func nullAmount(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := money.Format(d.Decimal)
	return &s
}

func toContract(c contract.Contract) contractJSON {
	return contractJSON{
		ID:           c.ID,
		RequesterID:  c.RequesterID,
		SpecialistID: c.SpecialistID,
		Title:        c.Title,
		Description:  c.Description,
		Tags:         nonNil(c.Tags),
		ServiceKind:  c.ServiceKind,
		InitialPrice: money.Format(c.InitialPrice),
		FinalPrice:   nullAmount(c.FinalPrice),
		Status:       c.Status,
		PayoutIssued: c.PayoutIssued,
		FileRefs:     nonNil(c.FileRefs),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		CompletedAt:  c.CompletedAt,
	}
}

type offerJSON struct {
	ID           string    `json:"id"`
	ContractID   string    `json:"contract_id"`
	SpecialistID string    `json:"specialist_id"`
	Price        string    `json:"price"`
	Message      string    `json:"message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func toOffer(o offer.Offer) offerJSON {
	return offerJSON{
		ID:           o.ID,
		ContractID:   o.ContractID,
		SpecialistID: o.SpecialistID,
		Price:        money.Format(o.Price),
		Message:      o.Message,
		CreatedAt:    o.CreatedAt,
	}
}

type settlementJSON struct {
	PayoutBase        string `json:"payout_base"`
	SpecialistPayment string `json:"specialist_payment"`
	Commission        string `json:"commission"`
	RequesterRefund   string `json:"requester_refund"`
}

type disputeJSON struct {
	ID              string          `json:"id"`
	ContractID      string          `json:"contract_id"`
	InitiatorID     string          `json:"initiator_id"`
	Reason          string          `json:"reason"`
	Status          dispute.Status  `json:"status"`
	Action          dispute.Action  `json:"action,omitempty"`
	ResolutionNotes string          `json:"resolution_notes,omitempty"`
	ResolvedBy      string          `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	Settlement      *settlementJSON `json:"settlement,omitempty"`
	PayoutApplied   bool            `json:"payout_applied"`
	CreatedAt       time.Time       `json:"created_at"`
}

func toDispute(d dispute.Dispute) disputeJSON {
	out := disputeJSON{
		ID:              d.ID,
		ContractID:      d.ContractID,
		InitiatorID:     d.InitiatorID,
		Reason:          d.Reason,
		Status:          d.Status,
		Action:          d.Action,
		ResolutionNotes: d.ResolutionNotes,
		ResolvedBy:      d.ResolvedBy,
		ResolvedAt:      d.ResolvedAt,
		PayoutApplied:   d.PayoutApplied,
		CreatedAt:       d.CreatedAt,
	}
	if s := d.Settlement; s != nil {
		out.Settlement = &settlementJSON{
			PayoutBase:        money.Format(s.PayoutBase),
			SpecialistPayment: money.Format(s.SpecialistPayment),
			Commission:        money.Format(s.Commission),
			RequesterRefund:   money.Format(s.RequesterRefund),
		}
	}
	return out
}

type withdrawalJSON struct {
	ID           string            `json:"id"`
	SpecialistID string            `json:"specialist_id"`
	Amount       string            `json:"amount"`
	Status       withdrawal.Status `json:"status"`
	ProcessedBy  string            `json:"processed_by,omitempty"`
	Notes        string            `json:"notes,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	ProcessedAt  *time.Time        `json:"processed_at,omitempty"`
}

func toWithdrawal(w withdrawal.Request) withdrawalJSON {
	return withdrawalJSON{
		ID:           w.ID,
		SpecialistID: w.SpecialistID,
		Amount:       money.Format(w.Amount),
		Status:       w.Status,
		ProcessedBy:  w.ProcessedBy,
		Notes:        w.Notes,
		CreatedAt:    w.CreatedAt,
		ProcessedAt:  w.ProcessedAt,
	}
}

type entryJSON struct {
	ID           int64            `json:"id"`
	Kind         ledger.EntryKind `json:"kind"`
	Amount       string           `json:"amount"`
	BalanceAfter string           `json:"balance_after"`
	RefType      string           `json:"reference_type"`
	RefID        string           `json:"reference_id"`
	CreatedAt    time.Time        `json:"created_at"`
}

func toEntry(e ledger.Entry) entryJSON {
	return entryJSON{
		ID:           e.ID,
		Kind:         e.Kind,
		Amount:       money.Format(e.Amount),
		BalanceAfter: money.Format(e.BalanceAfter),
		RefType:      e.RefType,
		RefID:        e.RefID,
		CreatedAt:    e.CreatedAt,
	}
}

type eventJSON struct {
	Type      string         `json:"type"`
	ActorID   string         `json:"actor_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type partyJSON struct {
	ID       string    `json:"id"`
	FullName string    `json:"full_name"`
	Role     auth.Role `json:"role"`
}

func toParty(p views.Party) partyJSON {
	return partyJSON{ID: p.ID, FullName: p.FullName, Role: p.Role}
}

type contractDetailJSON struct {
	Contract      contractJSON `json:"contract"`
	Requester     partyJSON    `json:"requester"`
	Specialist    *partyJSON   `json:"specialist"`
	OfferCount    int          `json:"offer_count"`
	OpenDisputeID string       `json:"open_dispute_id,omitempty"`
	Events        []eventJSON  `json:"events"`
}

func toContractDetail(v views.ContractWithParties) contractDetailJSON {
	out := contractDetailJSON{
		Contract:      toContract(v.Contract),
		Requester:     toParty(v.Requester),
		OfferCount:    v.OfferCount,
		OpenDisputeID: v.OpenDisputeID,
		Events:        make([]eventJSON, 0, len(v.Events)),
	}
	if v.Specialist != nil {
		p := toParty(*v.Specialist)
		out.Specialist = &p
	}
	for _, e := range v.Events {
		out.Events = append(out.Events, eventJSON{Type: e.Type, ActorID: e.ActorID, Payload: e.Payload, CreatedAt: e.CreatedAt})
	}
	return out
}

type disputeDetailJSON struct {
	Dispute   disputeJSON `json:"dispute"`
	Contract  summaryJSON `json:"contract"`
	Initiator partyJSON   `json:"initiator"`
}

type summaryJSON struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Status       contract.Status `json:"status"`
	FinalPrice   *string         `json:"final_price"`
	PayoutIssued bool            `json:"payout_issued"`
	CompletedAt  *time.Time      `json:"completed_at"`
	Requester    partyJSON       `json:"requester"`
	Specialist   partyJSON       `json:"specialist"`
}

func toDisputeDetail(v views.DisputeWithContext) disputeDetailJSON {
	s := v.Contract
	return disputeDetailJSON{
		Dispute: toDispute(v.Dispute),
		Contract: summaryJSON{
			ID:           s.ID,
			Title:        s.Title,
			Status:       s.Status,
			FinalPrice:   nullAmount(s.FinalPrice),
			PayoutIssued: s.PayoutIssued,
			CompletedAt:  s.CompletedAt,
			Requester:    toParty(s.Requester),
			Specialist:   toParty(s.Specialist),
		},
		Initiator: toParty(v.Initiator),
	}
}

type listJSON[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func mapList[S, T any](items []S, total int, f func(S) T) listJSON[T] {
	out := listJSON[T]{Items: make([]T, 0, len(items)), Total: total}
	for _, it := range items {
		out.Items = append(out.Items, f(it))
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
