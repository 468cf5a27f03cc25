package fakes

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"arcana/apperr"
	"arcana/contract"
	"arcana/db"
	"arcana/dispute"
	"arcana/offer"
	"arcana/withdrawal"
)

// Contracts is an in-memory contract store with compare-and-set semantics.
type Contracts struct {
	mu   sync.Mutex
	rows map[string]contract.Contract
	Now  func() time.Time
}

func NewContracts() *Contracts {
	return &Contracts{rows: make(map[string]contract.Contract), Now: time.Now}
}

// Put stores c as is, for seeding.
func (s *Contracts) Put(c contract.Contract) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[c.ID] = c
}

func (s *Contracts) restore(tx pgx.Tx, id string, prev contract.Contract, existed bool) {
	OnRollback(tx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existed {
			s.rows[id] = prev
		} else {
			delete(s.rows, id)
		}
	})
}

func (s *Contracts) Insert(_ context.Context, tx pgx.Tx, c contract.Contract) (contract.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now().UTC()
	c.Status = contract.StatusOpen
	c.CreatedAt, c.UpdatedAt = now, now
	if c.Tags == nil {
		c.Tags = []string{}
	}
	if c.FileRefs == nil {
		c.FileRefs = []string{}
	}
	s.rows[c.ID] = c
	s.restore(tx, c.ID, contract.Contract{}, false)
	return c, nil
}

func (s *Contracts) Get(_ context.Context, _ db.Querier, id string) (contract.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[id]
	if !ok {
		return contract.Contract{}, apperr.NotFound("contract.get", "contract %s not found", id)
	}
	return c, nil
}

func (s *Contracts) CompareAndSet(_ context.Context, tx pgx.Tx, id string, t contract.Transition) (contract.Contract, error) {
	const op = "contract.transition"
	if !contract.CanTransition(t.From, t.To) {
		return contract.Contract{}, apperr.State(op, "transition %s -> %s is not allowed", t.From, t.To)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[id]
	if !ok {
		return contract.Contract{}, apperr.NotFound("contract.get", "contract %s not found", id)
	}
	if c.Status != t.From {
		return contract.Contract{}, apperr.State(op, "contract %s is %s, expected %s", id, c.Status, t.From)
	}
	if t.IssuePayout && c.PayoutIssued {
		return contract.Contract{}, apperr.State(op, "contract %s has already been paid out", id)
	}
	prev := c
	now := s.Now().UTC()
	c.Status = t.To
	if t.SpecialistID != "" {
		c.SpecialistID = t.SpecialistID
	}
	if t.FinalPrice.Valid {
		c.FinalPrice = t.FinalPrice
	}
	if t.Complete {
		c.CompletedAt = &now
	}
	if t.IssuePayout {
		c.PayoutIssued = true
	}
	c.UpdatedAt = now
	s.rows[id] = c
	s.restore(tx, id, prev, true)
	return c, nil
}

func (s *Contracts) MarkPayoutIssued(_ context.Context, tx pgx.Tx, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[id]
	if !ok || c.PayoutIssued {
		return false, nil
	}
	prev := c
	c.PayoutIssued = true
	s.rows[id] = c
	s.restore(tx, id, prev, true)
	return true, nil
}

func (s *Contracts) HoldOpen(_ context.Context, _ pgx.Tx, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[id]
	if !ok {
		return "", apperr.NotFound("contract.hold", "contract %s not found", id)
	}
	if c.Status != contract.StatusOpen {
		return "", apperr.State("contract.hold", "contract %s is no longer accepting offers", id)
	}
	return c.RequesterID, nil
}

func (s *Contracts) List(_ context.Context, _ db.Querier, f contract.Filters) ([]contract.Contract, int, error) {
	s.mu.Lock()
	var out []contract.Contract
	for _, c := range s.rows {
		if f.RequesterID != "" && c.RequesterID != f.RequesterID {
			continue
		}
		if f.SpecialistID != "" && c.SpecialistID != f.SpecialistID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, c)
	}
	s.mu.Unlock()
	sortByTime(out, func(c contract.Contract) time.Time { return c.CreatedAt }, true)
	return page(out, f.Page, f.PageSize), len(out), nil
}

// Offers is an in-memory offer store.
type Offers struct {
	mu   sync.Mutex
	rows map[string]offer.Offer
}

func NewOffers() *Offers {
	return &Offers{rows: make(map[string]offer.Offer)}
}

func (s *Offers) Insert(_ context.Context, tx pgx.Tx, o offer.Offer) (offer.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.rows {
		if existing.ContractID == o.ContractID && existing.SpecialistID == o.SpecialistID {
			return offer.Offer{}, apperr.DuplicateOffer("offer.submit", "specialist already bid on contract %s", o.ContractID)
		}
	}
	o.CreatedAt = time.Now().UTC()
	s.rows[o.ID] = o
	OnRollback(tx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.rows, o.ID)
	})
	return o, nil
}

func (s *Offers) Get(_ context.Context, _ db.Querier, id string) (offer.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.rows[id]
	if !ok {
		return offer.Offer{}, apperr.NotFound("offer.get", "offer %s not found", id)
	}
	return o, nil
}

func (s *Offers) ListByContract(_ context.Context, _ db.Querier, contractID string) ([]offer.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []offer.Offer{}
	for _, o := range s.rows {
		if o.ContractID == contractID {
			out = append(out, o)
		}
	}
	sortByTime(out, func(o offer.Offer) time.Time { return o.CreatedAt }, false)
	return out, nil
}

// Disputes is an in-memory dispute store.
type Disputes struct {
	mu    sync.Mutex
	rows  map[string]dispute.Dispute
	locks rowLocks
}

func NewDisputes() *Disputes {
	return &Disputes{rows: make(map[string]dispute.Dispute)}
}

func (s *Disputes) Insert(_ context.Context, tx pgx.Tx, d dispute.Dispute) (dispute.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.rows {
		if existing.ContractID == d.ContractID && existing.Status == dispute.StatusOpen {
			return dispute.Dispute{}, apperr.State("dispute.open", "contract %s already has an open dispute", d.ContractID)
		}
	}
	d.Status = dispute.StatusOpen
	d.CreatedAt = time.Now().UTC()
	s.rows[d.ID] = d
	OnRollback(tx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.rows, d.ID)
	})
	return d, nil
}

func (s *Disputes) Get(_ context.Context, _ db.Querier, id string) (dispute.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.rows[id]
	if !ok {
		return dispute.Dispute{}, apperr.NotFound("dispute.get", "dispute %s not found", id)
	}
	return d, nil
}

func (s *Disputes) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (dispute.Dispute, error) {
	s.locks.lock(tx, id)
	return s.Get(ctx, tx, id)
}

func (s *Disputes) Resolve(_ context.Context, tx pgx.Tx, id string, res dispute.Resolution) (dispute.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.rows[id]
	if !ok || d.Status != dispute.StatusOpen {
		return dispute.Dispute{}, apperr.State("dispute.resolve", "dispute %s is already resolved", id)
	}
	prev := d
	now := time.Now().UTC()
	settlement := res.Settlement
	d.Status = dispute.StatusResolved
	d.Action = res.Action
	d.ResolutionNotes = res.Notes
	d.ResolvedBy = res.ResolvedBy
	d.ResolvedAt = &now
	d.Settlement = &settlement
	d.PayoutApplied = res.PayoutApplied
	s.rows[id] = d
	OnRollback(tx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.rows[id] = prev
	})
	return d, nil
}

func (s *Disputes) List(_ context.Context, _ db.Querier, f dispute.Filters) ([]dispute.Dispute, int, error) {
	s.mu.Lock()
	var out []dispute.Dispute
	for _, d := range s.rows {
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.ContractID != "" && d.ContractID != f.ContractID {
			continue
		}
		out = append(out, d)
	}
	s.mu.Unlock()
	sortByTime(out, func(d dispute.Dispute) time.Time { return d.CreatedAt }, true)
	return page(out, f.Page, f.PageSize), len(out), nil
}

// Withdrawals is an in-memory withdrawal request store.
type Withdrawals struct {
	mu    sync.Mutex
	rows  map[string]withdrawal.Request
	locks rowLocks
}

func NewWithdrawals() *Withdrawals {
	return &Withdrawals{rows: make(map[string]withdrawal.Request)}
}

func (s *Withdrawals) Insert(_ context.Context, tx pgx.Tx, w withdrawal.Request) (withdrawal.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.Status = withdrawal.StatusPending
	w.CreatedAt = time.Now().UTC()
	s.rows[w.ID] = w
	OnRollback(tx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.rows, w.ID)
	})
	return w, nil
}

func (s *Withdrawals) Get(_ context.Context, _ db.Querier, id string) (withdrawal.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.rows[id]
	if !ok {
		return withdrawal.Request{}, apperr.NotFound("withdrawal.get", "withdrawal request %s not found", id)
	}
	return w, nil
}

func (s *Withdrawals) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (withdrawal.Request, error) {
	s.locks.lock(tx, id)
	return s.Get(ctx, tx, id)
}

func (s *Withdrawals) Decide(_ context.Context, tx pgx.Tx, id string, status withdrawal.Status, adminID, notes string) (withdrawal.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.rows[id]
	if !ok || w.Status != withdrawal.StatusPending {
		return withdrawal.Request{}, apperr.State("withdrawal.process", "withdrawal request %s was already processed", id)
	}
	prev := w
	now := time.Now().UTC()
	w.Status = status
	w.ProcessedBy = adminID
	w.Notes = notes
	w.ProcessedAt = &now
	s.rows[id] = w
	OnRollback(tx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.rows[id] = prev
	})
	return w, nil
}

func (s *Withdrawals) List(_ context.Context, _ db.Querier, f withdrawal.Filters) ([]withdrawal.Request, int, error) {
	s.mu.Lock()
	var out []withdrawal.Request
	for _, w := range s.rows {
		if f.SpecialistID != "" && w.SpecialistID != f.SpecialistID {
			continue
		}
		if f.Status != "" && w.Status != f.Status {
			continue
		}
		out = append(out, w)
	}
	s.mu.Unlock()
	sortByTime(out, func(w withdrawal.Request) time.Time { return w.CreatedAt }, false)
	return page(out, f.Page, f.PageSize), len(out), nil
}
