package main

import (
	"log/slog"

	"arcana/auth"
	"arcana/config"
	"arcana/contract"
	"arcana/db"
	"arcana/dispute"
	"arcana/httpapi"
	"arcana/ledger"
	"arcana/offer"
	"arcana/outbox"
	"arcana/timeline"
	"arcana/views"
	"arcana/withdrawal"
)

// buildServices wires the domain services over one pool. Every service
// shares the same ledger, timeline and outbox writer.
func buildServices(pool db.Pool, authSvc *auth.Service, authz *auth.Authorizer, rules config.Rules, log *slog.Logger) httpapi.Services {
	var (
		ledgerRepo   = ledger.NewRepository()
		timelineRepo = timeline.NewRepository()
		contracts    = contract.NewRepository()
		offers       = offer.NewRepository()
		notifier     = outbox.NewWriter(log)
	)
	return httpapi.Services{
		Auth: authSvc,
		Contracts: contract.NewService(pool, contract.Deps{
			Store:    contracts,
			Offers:   offers,
			Ledger:   ledgerRepo,
			Authz:    authz,
			Timeline: timelineRepo,
			Notifier: notifier,
		}, rules),
		Offers: offer.NewService(pool, offer.Deps{
			Store:     offers,
			Contracts: contracts,
			Authz:     authz,
			Timeline:  timelineRepo,
			Notifier:  notifier,
		}, rules),
		Disputes: dispute.NewService(pool, dispute.Deps{
			Store:     dispute.NewRepository(),
			Contracts: contracts,
			Ledger:    ledgerRepo,
			Authz:     authz,
			Timeline:  timelineRepo,
			Notifier:  notifier,
		}, rules),
		Withdrawals: withdrawal.NewService(pool, withdrawal.Deps{
			Store:    withdrawal.NewRepository(),
			Ledger:   ledgerRepo,
			Authz:    authz,
			Notifier: notifier,
		}, rules),
		Ledger: ledger.NewService(pool, ledgerRepo, authz),
		Views:  views.NewService(pool, views.NewRepository(), timelineRepo, authz),
	}
}
