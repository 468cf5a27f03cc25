package dispute

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"arcana/apperr"
	"arcana/auth"
	"arcana/config"
	"arcana/contract"
	"arcana/db"
	"arcana/ledger"
	"arcana/money"
	"arcana/outbox"
	"arcana/telemetry"
	"arcana/timeline"
)

// Store persists disputes.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, d Dispute) (Dispute, error)
	Get(ctx context.Context, q db.Querier, id string) (Dispute, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Dispute, error)
	Resolve(ctx context.Context, tx pgx.Tx, id string, res Resolution) (Dispute, error)
	List(ctx context.Context, q db.Querier, filters Filters) ([]Dispute, int, error)
}

// Contracts is the slice of the contract store a dispute needs.
type Contracts interface {
	Get(ctx context.Context, q db.Querier, id string) (contract.Contract, error)
	CompareAndSet(ctx context.Context, tx pgx.Tx, id string, t contract.Transition) (contract.Contract, error)
	MarkPayoutIssued(ctx context.Context, tx pgx.Tx, id string) (bool, error)
}

type Ledger interface {
	Credit(ctx context.Context, tx pgx.Tx, p ledger.Posting) (decimal.Decimal, error)
}

type Authorizer interface {
	Require(ctx context.Context, userID string, roles ...auth.Role) (auth.User, error)
}

type Timeline interface {
	Append(ctx context.Context, tx pgx.Tx, e timeline.Event) error
}

type Notifier interface {
	Notify(ctx context.Context, tx pgx.Tx, n outbox.Notification)
}

type Deps struct {
	Store     Store
	Contracts Contracts
	Ledger    Ledger
	Authz     Authorizer
	Timeline  Timeline
	Notifier  Notifier
}

// Service is the dispute resolution engine.
type Service struct {
	pool        db.Pool
	deps        Deps
	rules       config.Rules
	idGenerator func() string
	now         func() time.Time
}

func NewService(pool db.Pool, deps Deps, rules config.Rules) *Service {
	if deps.Store == nil {
		deps.Store = NewRepository()
	}
	return &Service{
		pool:        pool,
		deps:        deps,
		rules:       rules,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Open files a dispute by one of the contract's parties. An in-progress
// contract moves to disputed; a completed one keeps its status and is
// disputable only within the grace window.
func (s *Service) Open(ctx context.Context, req OpenRequest) (_ Dispute, err error) {
	ctx, span := telemetry.Start(ctx, "dispute.Open")
	defer telemetry.End(span, &err)

	const op = "dispute.open"
	if _, err := s.deps.Authz.Require(ctx, req.InitiatorID, auth.RoleStudent, auth.RoleSpecialist); err != nil {
		return Dispute{}, err
	}
	reason := strings.TrimSpace(req.Reason)
	if n := utf8.RuneCountInString(reason); n < s.rules.DisputeReasonMin || n > s.rules.DisputeReasonMax {
		return Dispute{}, apperr.Validation(op, "reason must be %d-%d characters", s.rules.DisputeReasonMin, s.rules.DisputeReasonMax)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.deps.Contracts.Get(ctx, tx, req.ContractID)
	if err != nil {
		return Dispute{}, err
	}
	if !c.IsParty(req.InitiatorID) {
		return Dispute{}, apperr.Authorization(op, "only the contract's parties can open a dispute")
	}

	switch c.Status {
	case contract.StatusInProgress:
		if _, err := s.deps.Contracts.CompareAndSet(ctx, tx, c.ID, contract.Transition{
			From: contract.StatusInProgress,
			To:   contract.StatusDisputed,
		}); err != nil {
			return Dispute{}, err
		}
	case contract.StatusCompleted:
		if c.CompletedAt == nil || s.now().Sub(*c.CompletedAt) > s.rules.DisputeWindow {
			return Dispute{}, apperr.State(op, "the dispute window for contract %s has closed", c.ID)
		}
	default:
		return Dispute{}, apperr.State(op, "contract %s is %s and cannot be disputed", c.ID, c.Status)
	}

	created, err := s.deps.Store.Insert(ctx, tx, Dispute{
		ID:          s.idGenerator(),
		ContractID:  c.ID,
		InitiatorID: req.InitiatorID,
		Reason:      reason,
		Status:      StatusOpen,
	})
	if err != nil {
		return Dispute{}, err
	}

	if err := s.deps.Timeline.Append(ctx, tx, timeline.Event{
		ContractID: c.ID,
		Type:       timeline.DisputeOpened,
		ActorID:    req.InitiatorID,
		Payload: map[string]any{
			"dispute_id":      created.ID,
			"contract_status": c.Status,
		},
	}); err != nil {
		return Dispute{}, err
	}
	counterparty := c.SpecialistID
	if req.InitiatorID == c.SpecialistID {
		counterparty = c.RequesterID
	}
	s.deps.Notifier.Notify(ctx, tx, outbox.Notification{
		UserID:  counterparty,
		Type:    outbox.TypeDisputeOpened,
		Message: "A dispute was opened on your contract",
		Link:    "/disputes/" + created.ID,
	})

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit tx: %w", err)
	}
	return created, nil
}

// Resolve records the admin's adjudication and settles the contract. The
// specialist is credited only if this resolution is what sets the
// contract's payout flag. A contract already paid on completion can only be
// closed with PAY, recorded with PayoutApplied false.
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (_ Dispute, err error) {
	ctx, span := telemetry.Start(ctx, "dispute.Resolve")
	defer telemetry.End(span, &err)

	const op = "dispute.resolve"
	if _, err := s.deps.Authz.Require(ctx, req.AdminID, auth.RoleAdmin); err != nil {
		return Dispute{}, err
	}
	switch req.Action {
	case ActionRefund, ActionPay, ActionPartial:
	default:
		return Dispute{}, apperr.Validation(op, "unknown action %q", req.Action)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.deps.Store.GetForUpdate(ctx, tx, req.DisputeID)
	if err != nil {
		return Dispute{}, err
	}
	if d.Status != StatusOpen {
		return Dispute{}, apperr.State(op, "dispute %s is already resolved", d.ID)
	}

	c, err := s.deps.Contracts.Get(ctx, tx, d.ContractID)
	if err != nil {
		return Dispute{}, err
	}
	if !c.FinalPrice.Valid || c.SpecialistID == "" {
		return Dispute{}, fmt.Errorf("dispute: contract %s has no agreed price", c.ID)
	}

	settlement, err := Settle(req.Action, c.FinalPrice.Decimal, req.PartialAmount, s.rules.CommissionRate)
	if err != nil {
		return Dispute{}, err
	}

	applied, err := s.deps.Contracts.MarkPayoutIssued(ctx, tx, c.ID)
	if err != nil {
		return Dispute{}, err
	}
	// The specialist already holds the completion payout and the escrow is
	// released, so only PAY describes what happened to the money.
	if !applied && req.Action != ActionPay {
		return Dispute{}, apperr.State(op, "contract %s was already paid out; only %s can close this dispute", c.ID, ActionPay)
	}
	if applied && settlement.SpecialistPayment.IsPositive() {
		if _, err := s.deps.Ledger.Credit(ctx, tx, ledger.Posting{
			AccountID: c.SpecialistID,
			Amount:    settlement.SpecialistPayment,
			RefType:   ledger.RefDispute,
			RefID:     d.ID,
		}); err != nil {
			return Dispute{}, err
		}
	}

	resolved, err := s.deps.Store.Resolve(ctx, tx, d.ID, Resolution{
		Action:        req.Action,
		Notes:         strings.TrimSpace(req.Notes),
		ResolvedBy:    req.AdminID,
		Settlement:    settlement,
		PayoutApplied: applied,
	})
	if err != nil {
		return Dispute{}, err
	}

	if err := s.deps.Timeline.Append(ctx, tx, timeline.Event{
		ContractID: c.ID,
		Type:       timeline.DisputeResolved,
		ActorID:    req.AdminID,
		Payload: map[string]any{
			"dispute_id":         d.ID,
			"action":             req.Action,
			"payout_base":        money.Format(settlement.PayoutBase),
			"specialist_payment": money.Format(settlement.SpecialistPayment),
			"commission":         money.Format(settlement.Commission),
			"requester_refund":   money.Format(settlement.RequesterRefund),
			"payout_applied":     applied,
		},
	}); err != nil {
		return Dispute{}, err
	}
	for _, userID := range []string{c.RequesterID, c.SpecialistID} {
		s.deps.Notifier.Notify(ctx, tx, outbox.Notification{
			UserID:  userID,
			Type:    outbox.TypeDisputeResolved,
			Message: fmt.Sprintf("Dispute resolved: %s", req.Action),
			Link:    "/disputes/" + d.ID,
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit tx: %w", err)
	}
	return resolved, nil
}

// Get returns a dispute to its contract's parties and to admins.
func (s *Service) Get(ctx context.Context, callerID, disputeID string) (_ Dispute, err error) {
	ctx, span := telemetry.Start(ctx, "dispute.Get")
	defer telemetry.End(span, &err)

	caller, err := s.deps.Authz.Require(ctx, callerID)
	if err != nil {
		return Dispute{}, err
	}
	d, err := s.deps.Store.Get(ctx, s.pool, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	if caller.Role == auth.RoleAdmin {
		return d, nil
	}
	c, err := s.deps.Contracts.Get(ctx, s.pool, d.ContractID)
	if err != nil {
		return Dispute{}, err
	}
	if !c.IsParty(callerID) {
		return Dispute{}, apperr.Authorization("dispute.get", "dispute %s is not visible to this account", disputeID)
	}
	return d, nil
}

// List is the admin adjudication queue.
func (s *Service) List(ctx context.Context, adminID string, filters Filters) (_ ListResult, err error) {
	ctx, span := telemetry.Start(ctx, "dispute.List")
	defer telemetry.End(span, &err)

	if _, err := s.deps.Authz.Require(ctx, adminID, auth.RoleAdmin); err != nil {
		return ListResult{}, err
	}
	if filters.Status != "" && filters.Status != StatusOpen && filters.Status != StatusResolved {
		return ListResult{}, apperr.Validation("dispute.list", "unknown status %q", filters.Status)
	}
	items, total, err := s.deps.Store.List(ctx, s.pool, filters)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}
