package withdrawal

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"arcana/apperr"
	"arcana/auth"
	"arcana/config"
	"arcana/db"
	"arcana/ledger"
	"arcana/money"
	"arcana/outbox"
	"arcana/telemetry"
)

// Store persists withdrawal requests.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, w Request) (Request, error)
	Get(ctx context.Context, q db.Querier, id string) (Request, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, error)
	Decide(ctx context.Context, tx pgx.Tx, id string, status Status, adminID, notes string) (Request, error)
	List(ctx context.Context, q db.Querier, filters Filters) ([]Request, int, error)
}

type Ledger interface {
	Balance(ctx context.Context, q db.Querier, accountID string) (decimal.Decimal, error)
	Debit(ctx context.Context, tx pgx.Tx, p ledger.Posting) (decimal.Decimal, error)
}

type Authorizer interface {
	Require(ctx context.Context, userID string, roles ...auth.Role) (auth.User, error)
}

type Notifier interface {
	Notify(ctx context.Context, tx pgx.Tx, n outbox.Notification)
}

type Deps struct {
	Store    Store
	Ledger   Ledger
	Authz    Authorizer
	Notifier Notifier
}

// Service is the withdrawal processor, the only path that debits a balance.
type Service struct {
	pool        db.Pool
	deps        Deps
	rules       config.Rules
	idGenerator func() string
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
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// Request files a pending withdrawal. The amount is checked against the
// balance now and again when an admin processes it.
func (s *Service) Request(ctx context.Context, specialistID string, amount decimal.Decimal) (_ Request, err error) {
	ctx, span := telemetry.Start(ctx, "withdrawal.Request")
	defer telemetry.End(span, &err)

	const op = "withdrawal.request"
	if _, err := s.deps.Authz.Require(ctx, specialistID, auth.RoleSpecialist); err != nil {
		return Request{}, err
	}
	if !money.IsCents(amount) {
		return Request{}, apperr.Validation(op, "amount %s has sub-cent precision", amount)
	}
	if amount.LessThan(s.rules.MinWithdrawal) {
		return Request{}, apperr.Validation(op, "minimum withdrawal is %s", money.Format(s.rules.MinWithdrawal))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("withdrawal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	balance, err := s.deps.Ledger.Balance(ctx, tx, specialistID)
	if err != nil {
		return Request{}, err
	}
	if amount.GreaterThan(balance) {
		return Request{}, apperr.Validation(op, "amount %s exceeds the available balance of %s", money.Format(amount), money.Format(balance))
	}

	created, err := s.deps.Store.Insert(ctx, tx, Request{
		ID:           s.idGenerator(),
		SpecialistID: specialistID,
		Amount:       amount,
		Status:       StatusPending,
	})
	if err != nil {
		return Request{}, err
	}
	s.deps.Notifier.Notify(ctx, tx, outbox.Notification{
		UserID:  specialistID,
		Type:    outbox.TypeWithdrawalReceived,
		Message: fmt.Sprintf("Withdrawal of %s is awaiting processing", money.Format(amount)),
		Link:    "/withdrawals/" + created.ID,
	})

	if err := tx.Commit(ctx); err != nil {
		return Request{}, fmt.Errorf("withdrawal: commit tx: %w", err)
	}
	return created, nil
}

// Process decides a pending request. Completing it debits the ledger; if
// the balance no longer covers the amount the call fails with an
// InsufficientBalance error and the request stays pending.
func (s *Service) Process(ctx context.Context, req ProcessRequest) (_ Request, err error) {
	ctx, span := telemetry.Start(ctx, "withdrawal.Process")
	defer telemetry.End(span, &err)

	const op = "withdrawal.process"
	if _, err := s.deps.Authz.Require(ctx, req.AdminID, auth.RoleAdmin); err != nil {
		return Request{}, err
	}
	if req.Decision != StatusCompleted && req.Decision != StatusRejected {
		return Request{}, apperr.Validation(op, "decision must be %q or %q", StatusCompleted, StatusRejected)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("withdrawal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	w, err := s.deps.Store.GetForUpdate(ctx, tx, req.RequestID)
	if err != nil {
		return Request{}, err
	}
	if w.Status != StatusPending {
		return Request{}, apperr.State(op, "withdrawal request %s was already %s", w.ID, w.Status)
	}

	if req.Decision == StatusCompleted {
		if _, err := s.deps.Ledger.Debit(ctx, tx, ledger.Posting{
			AccountID: w.SpecialistID,
			Amount:    w.Amount,
			RefType:   ledger.RefWithdrawal,
			RefID:     w.ID,
		}); err != nil {
			return Request{}, err
		}
	}

	decided, err := s.deps.Store.Decide(ctx, tx, w.ID, req.Decision, req.AdminID, strings.TrimSpace(req.Notes))
	if err != nil {
		return Request{}, err
	}
	s.deps.Notifier.Notify(ctx, tx, outbox.Notification{
		UserID:  w.SpecialistID,
		Type:    outbox.TypeWithdrawalDecided,
		Message: fmt.Sprintf("Withdrawal of %s %s", money.Format(w.Amount), req.Decision),
		Link:    "/withdrawals/" + w.ID,
	})

	if err := tx.Commit(ctx); err != nil {
		return Request{}, fmt.Errorf("withdrawal: commit tx: %w", err)
	}
	return decided, nil
}

// List shows specialists their own requests and admins any.
func (s *Service) List(ctx context.Context, callerID string, filters Filters) (_ ListResult, err error) {
	ctx, span := telemetry.Start(ctx, "withdrawal.List")
	defer telemetry.End(span, &err)

	caller, err := s.deps.Authz.Require(ctx, callerID, auth.RoleSpecialist, auth.RoleAdmin)
	if err != nil {
		return ListResult{}, err
	}
	if caller.Role != auth.RoleAdmin {
		filters.SpecialistID = caller.ID
	}
	switch filters.Status {
	case "", StatusPending, StatusCompleted, StatusRejected:
	default:
		return ListResult{}, apperr.Validation("withdrawal.list", "unknown status %q", filters.Status)
	}
	items, total, err := s.deps.Store.List(ctx, s.pool, filters)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}
