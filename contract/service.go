package contract

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
	"arcana/ledger"
	"arcana/money"
	"arcana/offer"
	"arcana/outbox"
	"arcana/telemetry"
	"arcana/timeline"
)

// Store persists contracts.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, c Contract) (Contract, error)
	Get(ctx context.Context, q db.Querier, id string) (Contract, error)
	CompareAndSet(ctx context.Context, tx pgx.Tx, id string, t Transition) (Contract, error)
	List(ctx context.Context, q db.Querier, filters Filters) ([]Contract, int, error)
}

type OfferReader interface {
	Get(ctx context.Context, q db.Querier, id string) (offer.Offer, error)
	ListByContract(ctx context.Context, q db.Querier, contractID string) ([]offer.Offer, error)
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
	Store    Store
	Offers   OfferReader
	Ledger   Ledger
	Authz    Authorizer
	Timeline Timeline
	Notifier Notifier
}

// Service is the contract state machine. Every transition is one
// transaction: the compare-and-set on the contract row, any ledger credit,
// the timeline row and the notification commit or roll back together.
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

// Create opens a new contract for a verified student.
func (s *Service) Create(ctx context.Context, req CreateRequest) (_ Contract, err error) {
	ctx, span := telemetry.Start(ctx, "contract.Create")
	defer telemetry.End(span, &err)

	if _, err := s.deps.Authz.Require(ctx, req.RequesterID, auth.RoleStudent); err != nil {
		return Contract{}, err
	}
	c, err := s.validateCreate(req)
	if err != nil {
		return Contract{}, err
	}
	c.ID = s.idGenerator()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Contract{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.deps.Store.Insert(ctx, tx, c)
	if err != nil {
		return Contract{}, err
	}
	if err := s.deps.Timeline.Append(ctx, tx, timeline.Event{
		ContractID: created.ID,
		Type:       timeline.ContractCreated,
		ActorID:    req.RequesterID,
		Payload: map[string]any{
			"initial_price": money.Format(created.InitialPrice),
			"service_kind":  created.ServiceKind,
		},
	}); err != nil {
		return Contract{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Contract{}, fmt.Errorf("contract: commit tx: %w", err)
	}
	return created, nil
}

// AcceptOffer assigns the offer's specialist at the offer's price and moves
// the contract to pending_deposit, closing the offer book.
func (s *Service) AcceptOffer(ctx context.Context, contractID, offerID, requesterID string) (_ Contract, err error) {
	ctx, span := telemetry.Start(ctx, "contract.AcceptOffer")
	defer telemetry.End(span, &err)

	const op = "contract.accept_offer"
	if _, err := s.deps.Authz.Require(ctx, requesterID, auth.RoleStudent); err != nil {
		return Contract{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Contract{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.deps.Store.Get(ctx, tx, contractID)
	if err != nil {
		return Contract{}, err
	}
	if current.RequesterID != requesterID {
		return Contract{}, apperr.Authorization(op, "only the requester can accept offers")
	}
	if current.Status != StatusOpen {
		return Contract{}, apperr.State(op, "contract %s is %s, offers can no longer be accepted", contractID, current.Status)
	}

	o, err := s.deps.Offers.Get(ctx, tx, offerID)
	if err != nil {
		return Contract{}, err
	}
	if o.ContractID != contractID {
		return Contract{}, apperr.Validation(op, "offer %s does not belong to contract %s", offerID, contractID)
	}

	updated, err := s.deps.Store.CompareAndSet(ctx, tx, contractID, Transition{
		From:         StatusOpen,
		To:           StatusPendingDeposit,
		SpecialistID: o.SpecialistID,
		FinalPrice:   decimal.NewNullDecimal(o.Price),
	})
	if err != nil {
		return Contract{}, err
	}

	if err := s.deps.Timeline.Append(ctx, tx, timeline.Event{
		ContractID: contractID,
		Type:       timeline.OfferAccepted,
		ActorID:    requesterID,
		Payload: map[string]any{
			"offer_id":      o.ID,
			"specialist_id": o.SpecialistID,
			"final_price":   money.Format(o.Price),
		},
	}); err != nil {
		return Contract{}, err
	}
	s.deps.Notifier.Notify(ctx, tx, outbox.Notification{
		UserID:  o.SpecialistID,
		Type:    outbox.TypeOfferAccepted,
		Message: fmt.Sprintf("Your offer of %s was accepted", money.Format(o.Price)),
		Link:    link(contractID),
	})

	if err := tx.Commit(ctx); err != nil {
		return Contract{}, fmt.Errorf("contract: commit tx: %w", err)
	}
	return updated, nil
}

// ConfirmDeposit records an admin's attestation that the requester paid.
func (s *Service) ConfirmDeposit(ctx context.Context, contractID, adminID string) (_ Contract, err error) {
	ctx, span := telemetry.Start(ctx, "contract.ConfirmDeposit")
	defer telemetry.End(span, &err)

	if _, err := s.deps.Authz.Require(ctx, adminID, auth.RoleAdmin); err != nil {
		return Contract{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Contract{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	updated, err := s.deps.Store.CompareAndSet(ctx, tx, contractID, Transition{
		From: StatusPendingDeposit,
		To:   StatusInProgress,
	})
	if err != nil {
		return Contract{}, err
	}

	if err := s.deps.Timeline.Append(ctx, tx, timeline.Event{
		ContractID: contractID,
		Type:       timeline.DepositConfirmed,
		ActorID:    adminID,
		Payload:    map[string]any{"final_price": money.Format(updated.FinalPrice.Decimal)},
	}); err != nil {
		return Contract{}, err
	}
	for _, userID := range []string{updated.RequesterID, updated.SpecialistID} {
		s.deps.Notifier.Notify(ctx, tx, outbox.Notification{
			UserID:  userID,
			Type:    outbox.TypeDepositConfirmed,
			Message: "Deposit confirmed, work can start",
			Link:    link(contractID),
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return Contract{}, fmt.Errorf("contract: commit tx: %w", err)
	}
	return updated, nil
}

// MarkCompleted closes an in-progress contract and pays the specialist the
// final price less commission. The status change, the payout flag and the
// credit are one unit of work.
func (s *Service) MarkCompleted(ctx context.Context, contractID, requesterID string) (_ Contract, err error) {
	ctx, span := telemetry.Start(ctx, "contract.MarkCompleted")
	defer telemetry.End(span, &err)

	const op = "contract.complete"
	if _, err := s.deps.Authz.Require(ctx, requesterID, auth.RoleStudent); err != nil {
		return Contract{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Contract{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.deps.Store.Get(ctx, tx, contractID)
	if err != nil {
		return Contract{}, err
	}
	if current.RequesterID != requesterID {
		return Contract{}, apperr.Authorization(op, "only the requester can confirm completion")
	}

	updated, err := s.deps.Store.CompareAndSet(ctx, tx, contractID, Transition{
		From:        StatusInProgress,
		To:          StatusCompleted,
		Complete:    true,
		IssuePayout: true,
	})
	if err != nil {
		return Contract{}, err
	}
	if !updated.FinalPrice.Valid || updated.SpecialistID == "" {
		return Contract{}, fmt.Errorf("contract: %s completed without an assignment", contractID)
	}

	payment, commission := money.Split(updated.FinalPrice.Decimal, s.rules.CommissionRate)
	if payment.IsPositive() {
		if _, err := s.deps.Ledger.Credit(ctx, tx, ledger.Posting{
			AccountID: updated.SpecialistID,
			Amount:    payment,
			RefType:   ledger.RefContract,
			RefID:     contractID,
		}); err != nil {
			return Contract{}, err
		}
	}

	if err := s.deps.Timeline.Append(ctx, tx, timeline.Event{
		ContractID: contractID,
		Type:       timeline.ContractCompleted,
		ActorID:    requesterID,
		Payload: map[string]any{
			"final_price":        money.Format(updated.FinalPrice.Decimal),
			"specialist_payment": money.Format(payment),
			"commission":         money.Format(commission),
		},
	}); err != nil {
		return Contract{}, err
	}
	s.deps.Notifier.Notify(ctx, tx, outbox.Notification{
		UserID:  updated.SpecialistID,
		Type:    outbox.TypeContractCompleted,
		Message: fmt.Sprintf("Contract completed, %s credited to your balance", money.Format(payment)),
		Link:    link(contractID),
	})

	if err := tx.Commit(ctx); err != nil {
		return Contract{}, fmt.Errorf("contract: commit tx: %w", err)
	}
	return updated, nil
}

// Cancel withdraws an open contract. Nothing has been paid at that point.
func (s *Service) Cancel(ctx context.Context, contractID, requesterID string) (_ Contract, err error) {
	ctx, span := telemetry.Start(ctx, "contract.Cancel")
	defer telemetry.End(span, &err)

	const op = "contract.cancel"
	if _, err := s.deps.Authz.Require(ctx, requesterID, auth.RoleStudent); err != nil {
		return Contract{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Contract{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.deps.Store.Get(ctx, tx, contractID)
	if err != nil {
		return Contract{}, err
	}
	if current.RequesterID != requesterID {
		return Contract{}, apperr.Authorization(op, "only the requester can cancel")
	}

	updated, err := s.deps.Store.CompareAndSet(ctx, tx, contractID, Transition{
		From: StatusOpen,
		To:   StatusCancelled,
	})
	if err != nil {
		return Contract{}, err
	}
	if err := s.deps.Timeline.Append(ctx, tx, timeline.Event{
		ContractID: contractID,
		Type:       timeline.ContractCancelled,
		ActorID:    requesterID,
	}); err != nil {
		return Contract{}, err
	}

	// HoldOpen share-locks the row for every offer insert, so the book read
	// here is final once the transition above has committed.
	bids, err := s.deps.Offers.ListByContract(ctx, tx, contractID)
	if err != nil {
		return Contract{}, err
	}
	for _, b := range bids {
		s.deps.Notifier.Notify(ctx, tx, outbox.Notification{
			UserID:  b.SpecialistID,
			Type:    outbox.TypeContractCancelled,
			Message: fmt.Sprintf("Contract %q was cancelled, your offer is closed", updated.Title),
			Link:    link(contractID),
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return Contract{}, fmt.Errorf("contract: commit tx: %w", err)
	}
	return updated, nil
}

func (s *Service) Get(ctx context.Context, callerID, contractID string) (_ Contract, err error) {
	ctx, span := telemetry.Start(ctx, "contract.Get")
	defer telemetry.End(span, &err)

	if _, err := s.deps.Authz.Require(ctx, callerID); err != nil {
		return Contract{}, err
	}
	return s.deps.Store.Get(ctx, s.pool, contractID)
}

func (s *Service) List(ctx context.Context, callerID string, filters Filters) (_ ListResult, err error) {
	ctx, span := telemetry.Start(ctx, "contract.List")
	defer telemetry.End(span, &err)

	if _, err := s.deps.Authz.Require(ctx, callerID); err != nil {
		return ListResult{}, err
	}
	if filters.Status != "" && !filters.Status.Valid() {
		return ListResult{}, apperr.Validation("contract.list", "unknown status %q", filters.Status)
	}
	items, total, err := s.deps.Store.List(ctx, s.pool, filters)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}

func (s *Service) validateCreate(req CreateRequest) (Contract, error) {
	const op = "contract.create"
	r := s.rules

	title := strings.TrimSpace(req.Title)
	if n := utf8.RuneCountInString(title); n < r.TitleMinLen || n > r.TitleMaxLen {
		return Contract{}, apperr.Validation(op, "title must be %d-%d characters", r.TitleMinLen, r.TitleMaxLen)
	}
	description := strings.TrimSpace(req.Description)
	if n := utf8.RuneCountInString(description); n < r.DescriptionMinLen || n > r.DescriptionMaxLen {
		return Contract{}, apperr.Validation(op, "description must be %d-%d characters", r.DescriptionMinLen, r.DescriptionMaxLen)
	}

	tags, err := normalizeTags(req.Tags, r.MaxTags, r.MaxTagLen)
	if err != nil {
		return Contract{}, err
	}

	switch req.ServiceKind {
	case ServiceFull, ServiceReview:
	default:
		return Contract{}, apperr.Validation(op, "service kind must be %q or %q", ServiceFull, ServiceReview)
	}

	price := req.InitialPrice
	if !money.IsCents(price) {
		return Contract{}, apperr.Validation(op, "price %s has sub-cent precision", price)
	}
	if price.LessThan(r.MinPrice) || price.GreaterThan(r.MaxPrice) {
		return Contract{}, apperr.Validation(op, "price must be between %s and %s", money.Format(r.MinPrice), money.Format(r.MaxPrice))
	}

	return Contract{
		RequesterID:  req.RequesterID,
		Title:        title,
		Description:  description,
		Tags:         tags,
		ServiceKind:  req.ServiceKind,
		InitialPrice: price,
		Status:       StatusOpen,
		FileRefs:     req.FileRefs,
	}, nil
}

// normalizeTags trims, lowercases and de-duplicates tags, keeping order.
func normalizeTags(in []string, maxTags, maxLen int) ([]string, error) {
	const op = "contract.create"
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		tag := strings.ToLower(strings.TrimSpace(raw))
		if tag == "" {
			continue
		}
		if utf8.RuneCountInString(tag) > maxLen {
			return nil, apperr.Validation(op, "tag %q exceeds %d characters", tag, maxLen)
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) > maxTags {
		return nil, apperr.Validation(op, "at most %d tags are allowed", maxTags)
	}
	return out, nil
}

func link(contractID string) string {
	return "/contracts/" + contractID
}
