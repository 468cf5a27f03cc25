package offer

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"arcana/apperr"
	"arcana/auth"
	"arcana/config"
	"arcana/db"
	"arcana/money"
	"arcana/outbox"
	"arcana/telemetry"
	"arcana/timeline"
)

// Store persists offers.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, o Offer) (Offer, error)
	Get(ctx context.Context, q db.Querier, id string) (Offer, error)
	ListByContract(ctx context.Context, q db.Querier, contractID string) ([]Offer, error)
}

// ContractGate holds a contract open for the duration of a submission and
// returns its requester.
type ContractGate interface {
	HoldOpen(ctx context.Context, tx pgx.Tx, contractID string) (string, error)
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
	Contracts ContractGate
	Authz     Authorizer
	Timeline  Timeline
	Notifier  Notifier
}

// Service is the offer book.
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

// Submit records a verified specialist's bid on an open contract.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (_ Offer, err error) {
	ctx, span := telemetry.Start(ctx, "offer.Submit")
	defer telemetry.End(span, &err)

	const op = "offer.submit"
	if _, err := s.deps.Authz.Require(ctx, req.SpecialistID, auth.RoleSpecialist); err != nil {
		return Offer{}, err
	}
	if req.ContractID == "" {
		return Offer{}, apperr.Validation(op, "contract id is required")
	}
	if err := s.validatePrice(op, req.Price); err != nil {
		return Offer{}, err
	}
	message := strings.TrimSpace(req.Message)
	if utf8.RuneCountInString(message) > s.rules.MaxOfferMessage {
		return Offer{}, apperr.Validation(op, "message exceeds %d characters", s.rules.MaxOfferMessage)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Offer{}, fmt.Errorf("offer: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	requesterID, err := s.deps.Contracts.HoldOpen(ctx, tx, req.ContractID)
	if err != nil {
		return Offer{}, err
	}

	created, err := s.deps.Store.Insert(ctx, tx, Offer{
		ID:           s.idGenerator(),
		ContractID:   req.ContractID,
		SpecialistID: req.SpecialistID,
		Price:        req.Price,
		Message:      message,
	})
	if err != nil {
		return Offer{}, err
	}

	if err := s.deps.Timeline.Append(ctx, tx, timeline.Event{
		ContractID: req.ContractID,
		Type:       timeline.OfferSubmitted,
		ActorID:    req.SpecialistID,
		Payload: map[string]any{
			"offer_id": created.ID,
			"price":    money.Format(created.Price),
		},
	}); err != nil {
		return Offer{}, err
	}
	s.deps.Notifier.Notify(ctx, tx, outbox.Notification{
		UserID:  requesterID,
		Type:    outbox.TypeOfferReceived,
		Message: fmt.Sprintf("New offer of %s on your contract", money.Format(created.Price)),
		Link:    "/contracts/" + req.ContractID,
	})

	if err := tx.Commit(ctx); err != nil {
		return Offer{}, fmt.Errorf("offer: commit tx: %w", err)
	}
	return created, nil
}

// List returns the offers on a contract to any verified account.
func (s *Service) List(ctx context.Context, callerID, contractID string) (_ []Offer, err error) {
	ctx, span := telemetry.Start(ctx, "offer.List")
	defer telemetry.End(span, &err)

	if _, err := s.deps.Authz.Require(ctx, callerID); err != nil {
		return nil, err
	}
	return s.deps.Store.ListByContract(ctx, s.pool, contractID)
}

func (s *Service) validatePrice(op string, price decimal.Decimal) error {
	if !money.IsCents(price) {
		return apperr.Validation(op, "price %s has sub-cent precision", price)
	}
	if price.LessThan(s.rules.MinPrice) || price.GreaterThan(s.rules.MaxPrice) {
		return apperr.Validation(op, "price must be between %s and %s", money.Format(s.rules.MinPrice), money.Format(s.rules.MaxPrice))
	}
	return nil
}
