package fakes

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"arcana/auth"
	"arcana/contract"
)

// World bundles one set of fakes so tests can wire several services over
// shared state.
type World struct {
	Pool        *Pool
	Users       *Users
	Authz       *auth.Authorizer
	Ledger      *Ledger
	Timeline    *Timeline
	Notifier    *Notifier
	Contracts   *Contracts
	Offers      *Offers
	Disputes    *Disputes
	Withdrawals *Withdrawals
}

func NewWorld() *World {
	users := NewUsers()
	return &World{
		Pool:        &Pool{},
		Users:       users,
		Authz:       auth.NewAuthorizer(users),
		Ledger:      NewLedger(),
		Timeline:    &Timeline{},
		Notifier:    &Notifier{},
		Contracts:   NewContracts(),
		Offers:      NewOffers(),
		Disputes:    NewDisputes(),
		Withdrawals: NewWithdrawals(),
	}
}

// SeedContract stores a contract in status with requester and, past open,
// an assigned specialist at finalPrice.
func (w *World) SeedContract(status contract.Status, requesterID, specialistID string, finalPrice decimal.Decimal) contract.Contract {
	now := time.Now().UTC()
	c := contract.Contract{
		ID:           uuid.NewString(),
		RequesterID:  requesterID,
		Title:        "Statistics essay",
		Description:  "Two thousand words on regression analysis",
		Tags:         []string{"statistics"},
		ServiceKind:  contract.ServiceFull,
		InitialPrice: decimal.NewFromInt(150),
		Status:       status,
		FileRefs:     []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if status != contract.StatusOpen && status != contract.StatusCancelled {
		c.SpecialistID = specialistID
		c.FinalPrice = decimal.NewNullDecimal(finalPrice)
	}
	if status == contract.StatusCompleted {
		c.CompletedAt = &now
		c.PayoutIssued = true
	}
	w.Contracts.Put(c)
	return c
}
