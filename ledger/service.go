package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"arcana/apperr"
	"arcana/auth"
	"arcana/db"
	"arcana/telemetry"
)

// Reader is the read side of Repository.
type Reader interface {
	Balance(ctx context.Context, q db.Querier, accountID string) (decimal.Decimal, error)
	Entries(ctx context.Context, q db.Querier, accountID string, limit int) ([]Entry, error)
}

// Authorizer resolves the calling account.
type Authorizer interface {
	Require(ctx context.Context, userID string, roles ...auth.Role) (auth.User, error)
}

const defaultEntriesLimit = 50

// Service exposes balances to their owners and to admins.
type Service struct {
	pool  db.Querier
	repo  Reader
	authz Authorizer
}

func NewService(pool db.Querier, repo Reader, authz Authorizer) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{pool: pool, repo: repo, authz: authz}
}

// BalanceOf returns accountID's balance. Callers other than the owner need the admin role.
func (s *Service) BalanceOf(ctx context.Context, callerID, accountID string) (_ decimal.Decimal, err error) {
	ctx, span := telemetry.Start(ctx, "ledger.BalanceOf")
	defer telemetry.End(span, &err)

	if err := s.canRead(ctx, callerID, accountID); err != nil {
		return decimal.Decimal{}, err
	}
	return s.repo.Balance(ctx, s.pool, accountID)
}

// Entries returns up to limit journal rows for accountID, newest first.
func (s *Service) Entries(ctx context.Context, callerID, accountID string, limit int) (_ []Entry, err error) {
	ctx, span := telemetry.Start(ctx, "ledger.Entries")
	defer telemetry.End(span, &err)

	if err := s.canRead(ctx, callerID, accountID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = defaultEntriesLimit
	}
	return s.repo.Entries(ctx, s.pool, accountID, limit)
}

func (s *Service) canRead(ctx context.Context, callerID, accountID string) error {
	caller, err := s.authz.Require(ctx, callerID)
	if err != nil {
		return err
	}
	if caller.ID != accountID && caller.Role != auth.RoleAdmin {
		return apperr.Authorization("ledger.read", "balance of %s is not visible to this account", accountID)
	}
	return nil
}
