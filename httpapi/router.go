// Package httpapi exposes the engine's operations as a JSON API under /api/v1.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"arcana/auth"
	"arcana/contract"
	"arcana/dispute"
	"arcana/ledger"
	"arcana/offer"
	"arcana/views"
	"arcana/withdrawal"
)

// Services are the domain services the API dispatches to.
type Services struct {
	Auth        *auth.Service
	Contracts   *contract.Service
	Offers      *offer.Service
	Disputes    *dispute.Service
	Withdrawals *withdrawal.Service
	Ledger      *ledger.Service
	Views       *views.Service
}

// Pinger reports database reachability for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type handler struct {
	svc Services
	db  Pinger
	log *slog.Logger
}

const requestTimeout = 30 * time.Second

// NewRouter builds the HTTP handler. db may be nil, in which case /health
// only reports that the process is up.
func NewRouter(svc Services, db Pinger, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &handler{svc: svc, db: db, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", h.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", h.register)
		r.Post("/auth/login", h.login)

		r.Group(func(r chi.Router) {
			r.Use(authenticate(svc.Auth))

			r.Put("/admin/users/{userID}/verification", h.setVerified)

			r.Post("/contracts", h.createContract)
			r.Get("/contracts", h.listContracts)
			r.Get("/contracts/{contractID}", h.getContract)
			r.Get("/contracts/{contractID}/detail", h.contractDetail)
			r.Post("/contracts/{contractID}/offers", h.submitOffer)
			r.Get("/contracts/{contractID}/offers", h.listOffers)
			r.Post("/contracts/{contractID}/accept", h.acceptOffer)
			r.Post("/contracts/{contractID}/deposit", h.confirmDeposit)
			r.Post("/contracts/{contractID}/complete", h.markCompleted)
			r.Post("/contracts/{contractID}/cancel", h.cancelContract)
			r.Post("/contracts/{contractID}/disputes", h.openDispute)

			r.Get("/disputes", h.listDisputes)
			r.Get("/disputes/{disputeID}", h.getDispute)
			r.Get("/disputes/{disputeID}/detail", h.disputeDetail)
			r.Post("/disputes/{disputeID}/resolve", h.resolveDispute)

			r.Post("/withdrawals", h.requestWithdrawal)
			r.Get("/withdrawals", h.listWithdrawals)
			r.Post("/withdrawals/{requestID}/process", h.processWithdrawal)

			r.Get("/accounts/{accountID}/balance", h.balance)
			r.Get("/accounts/{accountID}/entries", h.entries)
		})
	})
	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.log.WarnContext(r.Context(), "health: database unreachable", "error", err)
			writeErrorBody(w, r, http.StatusServiceUnavailable, "unavailable", "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
