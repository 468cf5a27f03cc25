package actors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"arcana/apperr"
	"arcana/auth"
	"arcana/config"
	"arcana/contract"
	"arcana/dispute"
	"arcana/ledger"
	"arcana/offer"
	"arcana/outbox"
	"arcana/timeline"
	"arcana/withdrawal"
)

// World is the set of real services the actors drive, plus the seeded
// accounts they act as.
type World struct {
	Pool        *pgxpool.Pool
	Contracts   *contract.Service
	Offers      *offer.Service
	Disputes    *dispute.Service
	Withdrawals *withdrawal.Service

	Admin       string
	Students    []string
	Specialists []string

	// Tolerant makes actors swallow infrastructure errors, for runs where
	// backends are being terminated underneath them.
	Tolerant bool
}

// NewWorld wires the services over pool the same way the API process does.
func NewWorld(pool *pgxpool.Pool, rules config.Rules, log *slog.Logger) *World {
	var (
		users        = auth.NewRepository(pool)
		authz        = auth.NewAuthorizer(users)
		ledgerRepo   = ledger.NewRepository()
		timelineRepo = timeline.NewRepository()
		contracts    = contract.NewRepository()
		offers       = offer.NewRepository()
		notifier     = outbox.NewWriter(log)
	)
	return &World{
		Pool: pool,
		Contracts: contract.NewService(pool, contract.Deps{
			Store: contracts, Offers: offers, Ledger: ledgerRepo,
			Authz: authz, Timeline: timelineRepo, Notifier: notifier,
		}, rules),
		Offers: offer.NewService(pool, offer.Deps{
			Store: offers, Contracts: contracts,
			Authz: authz, Timeline: timelineRepo, Notifier: notifier,
		}, rules),
		Disputes: dispute.NewService(pool, dispute.Deps{
			Store: dispute.NewRepository(), Contracts: contracts, Ledger: ledgerRepo,
			Authz: authz, Timeline: timelineRepo, Notifier: notifier,
		}, rules),
		Withdrawals: withdrawal.NewService(pool, withdrawal.Deps{
			Store: withdrawal.NewRepository(), Ledger: ledgerRepo,
			Authz: authz, Notifier: notifier,
		}, rules),
	}
}

// Seed inserts one verified admin plus the given number of verified
// students and specialists.
func (w *World) Seed(ctx context.Context, students, specialists int) error {
	insert := func(role auth.Role, i int) (string, error) {
		var id string
		err := w.Pool.QueryRow(ctx, `
			INSERT INTO users (email, full_name, role, verified)
			VALUES ($1, $2, $3::user_role, true) RETURNING id::text`,
			fmt.Sprintf("%s-%d-%d@stress.test", role, i, rand.Int63()),
			fmt.Sprintf("Stress %s %d", role, i), string(role),
		).Scan(&id)
		return id, err
	}

	id, err := insert(auth.RoleAdmin, 0)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	w.Admin = id
	for i := 0; i < students; i++ {
		id, err := insert(auth.RoleStudent, i)
		if err != nil {
			return fmt.Errorf("seed student: %w", err)
		}
		w.Students = append(w.Students, id)
	}
	for i := 0; i < specialists; i++ {
		id, err := insert(auth.RoleSpecialist, i)
		if err != nil {
			return fmt.Errorf("seed specialist: %w", err)
		}
		w.Specialists = append(w.Specialists, id)
	}
	return nil
}

// check classifies an actor's error. Domain refusals are the expected
// outcome of contention and are dropped.
func (w *World) check(what string, err error) error {
	if err == nil || apperr.KindOf(err) != "" {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if w.Tolerant {
		return nil
	}
	return fmt.Errorf("%s: %w", what, err)
}

// pick returns the id of a random row matched by query, or "" when none.
func (w *World) pick(ctx context.Context, query string, args ...any) (string, error) {
	var id string
	err := w.Pool.QueryRow(ctx, query, args...).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return id, err
}

func pickOne(ids []string) string {
	return ids[rand.Intn(len(ids))]
}

func price(min, max int) decimal.Decimal {
	return decimal.New(int64(min*100+rand.Intn((max-min)*100+1)), -2)
}

func loop(ctx context.Context, stop <-chan struct{}, pause func() time.Duration, step func() error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := step(); err != nil {
			return err
		}
		time.Sleep(pause())
	}
}

func jitter(base, spread int) func() time.Duration {
	return func() time.Duration {
		return time.Duration(base+rand.Intn(spread)) * time.Millisecond
	}
}

// Requester posts new contracts as a random student.
func Requester(ctx context.Context, w *World, stop <-chan struct{}) error {
	return loop(ctx, stop, jitter(40, 60), func() error {
		_, err := w.Contracts.Create(ctx, contract.CreateRequest{
			RequesterID:  pickOne(w.Students),
			Title:        fmt.Sprintf("Stress contract %d", rand.Intn(1_000_000)),
			Description:  "Concurrency run contract with enough description text.",
			Tags:         []string{"stress"},
			ServiceKind:  contract.ServiceFull,
			InitialPrice: price(20, 400),
		})
		return w.check("requester create", err)
	})
}

// Bidder has a random specialist bid on a random open contract. Repeat
// bids by the same specialist collide on the one-offer rule.
func Bidder(ctx context.Context, w *World, stop <-chan struct{}) error {
	return loop(ctx, stop, jitter(10, 30), func() error {
		contractID, err := w.pick(ctx, `SELECT id::text FROM contracts WHERE status = 'open' ORDER BY random() LIMIT 1`)
		if err != nil || contractID == "" {
			return w.check("bidder pick", err)
		}
		_, err = w.Offers.Submit(ctx, offer.SubmitRequest{
			ContractID:   contractID,
			SpecialistID: pickOne(w.Specialists),
			Price:        price(20, 400),
		})
		return w.check("bidder submit", err)
	})
}

// Acceptor accepts a random offer on a random open contract. Several
// acceptors racing on the same contract leave exactly one winner.
func Acceptor(ctx context.Context, w *World, stop <-chan struct{}) error {
	return loop(ctx, stop, jitter(15, 30), func() error {
		var contractID, offerID, requesterID string
		err := w.Pool.QueryRow(ctx, `
			SELECT c.id::text, o.id::text, c.requester_id::text
			FROM contracts c JOIN offers o ON o.contract_id = c.id
			WHERE c.status = 'open' ORDER BY random() LIMIT 1`).Scan(&contractID, &offerID, &requesterID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return w.check("acceptor pick", err)
		}
		_, err = w.Contracts.AcceptOffer(ctx, contractID, offerID, requesterID)
		return w.check("acceptor accept", err)
	})
}

// Depositor confirms deposits on pending contracts as the admin.
func Depositor(ctx context.Context, w *World, stop <-chan struct{}) error {
	return loop(ctx, stop, jitter(20, 40), func() error {
		contractID, err := w.pick(ctx, `SELECT id::text FROM contracts WHERE status = 'pending_deposit' ORDER BY random() LIMIT 1`)
		if err != nil || contractID == "" {
			return w.check("depositor pick", err)
		}
		_, err = w.Contracts.ConfirmDeposit(ctx, contractID, w.Admin)
		return w.check("depositor confirm", err)
	})
}

// Completer confirms completion of in-progress work, racing disputers
// for the same contracts.
func Completer(ctx context.Context, w *World, stop <-chan struct{}) error {
	return loop(ctx, stop, jitter(20, 40), func() error {
		var contractID, requesterID string
		err := w.Pool.QueryRow(ctx, `
			SELECT id::text, requester_id::text FROM contracts
			WHERE status = 'in_progress' ORDER BY random() LIMIT 1`).Scan(&contractID, &requesterID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return w.check("completer pick", err)
		}
		_, err = w.Contracts.MarkCompleted(ctx, contractID, requesterID)
		return w.check("completer complete", err)
	})
}

// Disputer opens disputes on funded or recently completed contracts as
// one of the parties.
func Disputer(ctx context.Context, w *World, stop <-chan struct{}) error {
	return loop(ctx, stop, jitter(40, 80), func() error {
		var contractID, requesterID, specialistID string
		err := w.Pool.QueryRow(ctx, `
			SELECT id::text, requester_id::text, specialist_id::text FROM contracts
			WHERE status IN ('in_progress', 'completed') ORDER BY random() LIMIT 1`).
			Scan(&contractID, &requesterID, &specialistID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return w.check("disputer pick", err)
		}
		initiator := requesterID
		if rand.Intn(2) == 0 {
			initiator = specialistID
		}
		_, err = w.Disputes.Open(ctx, dispute.OpenRequest{
			ContractID:  contractID,
			InitiatorID: initiator,
			Reason:      "Work does not match what was agreed.",
		})
		return w.check("disputer open", err)
	})
}

// Resolver settles open disputes with a random action. Concurrent
// resolvers on one dispute must pay out at most once.
func Resolver(ctx context.Context, w *World, stop <-chan struct{}) error {
	return loop(ctx, stop, jitter(30, 50), func() error {
		var disputeID string
		var finalPrice decimal.Decimal
		var raw string
		err := w.Pool.QueryRow(ctx, `
			SELECT d.id::text, c.final_price::text FROM disputes d
			JOIN contracts c ON c.id = d.contract_id
			WHERE d.status = 'open' ORDER BY random() LIMIT 1`).Scan(&disputeID, &raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return w.check("resolver pick", err)
		}
		if finalPrice, err = decimal.NewFromString(raw); err != nil {
			return fmt.Errorf("resolver price %q: %w", raw, err)
		}

		req := dispute.ResolveRequest{DisputeID: disputeID, AdminID: w.Admin, Notes: "stress"}
		switch rand.Intn(3) {
		case 0:
			req.Action = dispute.ActionRefund
		case 1:
			req.Action = dispute.ActionPay
		default:
			req.Action = dispute.ActionPartial
			part := finalPrice.Mul(decimal.NewFromFloat(rand.Float64())).Truncate(2)
			req.PartialAmount = decimal.NewNullDecimal(part)
		}
		_, err = w.Disputes.Resolve(ctx, req)
		return w.check("resolver resolve", err)
	})
}

// Withdrawer requests payouts from specialist balances, sometimes above
// what the balance holds.
func Withdrawer(ctx context.Context, w *World, stop <-chan struct{}) error {
	return loop(ctx, stop, jitter(50, 80), func() error {
		_, err := w.Withdrawals.Request(ctx, pickOne(w.Specialists), price(50, 250))
		return w.check("withdrawer request", err)
	})
}

// Processor approves or rejects pending withdrawals. Approval races with
// other approvals against the same balance.
func Processor(ctx context.Context, w *World, stop <-chan struct{}) error {
	return loop(ctx, stop, jitter(20, 40), func() error {
		requestID, err := w.pick(ctx, `SELECT id::text FROM withdrawal_requests WHERE status = 'pending' ORDER BY random() LIMIT 1`)
		if err != nil || requestID == "" {
			return w.check("processor pick", err)
		}
		decision := withdrawal.StatusCompleted
		if rand.Intn(5) == 0 {
			decision = withdrawal.StatusRejected
		}
		_, err = w.Withdrawals.Process(ctx, withdrawal.ProcessRequest{
			RequestID: requestID,
			AdminID:   w.Admin,
			Decision:  decision,
		})
		return w.check("processor process", err)
	})
}

// OutboxDrainer delivers pending notifications the way the API process does.
func OutboxDrainer(ctx context.Context, d *outbox.Dispatcher, stop <-chan struct{}) error {
	return loop(ctx, stop, jitter(100, 50), func() error {
		_, err := d.DrainOnce(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})
}
