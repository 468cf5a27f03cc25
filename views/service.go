package views

import (
	"context"

	"arcana/apperr"
	"arcana/auth"
	"arcana/contract"
	"arcana/db"
	"arcana/telemetry"
	"arcana/timeline"
)

// Reader abstracts the join queries for the service.
type Reader interface {
	ContractWithParties(ctx context.Context, q db.Querier, contractID string) (ContractWithParties, error)
	DisputeWithContext(ctx context.Context, q db.Querier, disputeID string) (DisputeWithContext, error)
}

type EventLister interface {
	List(ctx context.Context, q db.Querier, contractID string) ([]timeline.Event, error)
}

type Authorizer interface {
	Require(ctx context.Context, userID string, roles ...auth.Role) (auth.User, error)
}

// Service serves the detail views to the parties of a contract and to admins.
type Service struct {
	pool   db.Querier
	repo   Reader
	events EventLister
	authz  Authorizer
}

func NewService(pool db.Querier, repo Reader, events EventLister, authz Authorizer) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	if events == nil {
		events = timeline.NewRepository()
	}
	return &Service{pool: pool, repo: repo, events: events, authz: authz}
}

// Contract returns the contract detail with its timeline. While a contract
// is open any verified specialist may see it, so they can make an offer.
func (s *Service) Contract(ctx context.Context, callerID, contractID string) (_ ContractWithParties, err error) {
	ctx, span := telemetry.Start(ctx, "views.Contract")
	defer telemetry.End(span, &err)

	caller, err := s.authz.Require(ctx, callerID)
	if err != nil {
		return ContractWithParties{}, err
	}
	view, err := s.repo.ContractWithParties(ctx, s.pool, contractID)
	if err != nil {
		return ContractWithParties{}, err
	}
	c := view.Contract
	visible := caller.Role == auth.RoleAdmin || c.IsParty(caller.ID) ||
		(caller.Role == auth.RoleSpecialist && c.Status == contract.StatusOpen)
	if !visible {
		return ContractWithParties{}, apperr.Authorization("views.contract", "contract %s is not visible to this account", contractID)
	}

	events, err := s.events.List(ctx, s.pool, contractID)
	if err != nil {
		return ContractWithParties{}, err
	}
	view.Events = events
	return view, nil
}

// Dispute returns a dispute with its contract context.
func (s *Service) Dispute(ctx context.Context, callerID, disputeID string) (_ DisputeWithContext, err error) {
	ctx, span := telemetry.Start(ctx, "views.Dispute")
	defer telemetry.End(span, &err)

	caller, err := s.authz.Require(ctx, callerID)
	if err != nil {
		return DisputeWithContext{}, err
	}
	view, err := s.repo.DisputeWithContext(ctx, s.pool, disputeID)
	if err != nil {
		return DisputeWithContext{}, err
	}
	sum := view.Contract
	if caller.Role != auth.RoleAdmin && caller.ID != sum.Requester.ID && caller.ID != sum.Specialist.ID {
		return DisputeWithContext{}, apperr.Authorization("views.dispute", "dispute %s is not visible to this account", disputeID)
	}
	return view, nil
}
