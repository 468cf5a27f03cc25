package test

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcana/apperr"
	"arcana/auth"
	"arcana/config"
	"arcana/contract"
	"arcana/dispute"
	"arcana/ledger"
	"arcana/money"
	"arcana/offer"
	"arcana/outbox"
	"arcana/test/actors"
	"arcana/test/infra"
	"arcana/test/oracles"
	"arcana/timeline"
	"arcana/views"
	"arcana/withdrawal"
)

// funded drives a fresh contract through offer, acceptance and deposit.
func funded(t *testing.T, ctx context.Context, w *actors.World, student, specialist string, price string) contract.Contract {
	t.Helper()
	c, err := w.Contracts.Create(ctx, contract.CreateRequest{
		RequesterID:  student,
		Title:        "Thesis chapter review",
		Description:  "Review chapter three for structure and citations.",
		ServiceKind:  contract.ServiceReview,
		InitialPrice: decimal.RequireFromString("100.00"),
	})
	require.NoError(t, err)
	o, err := w.Offers.Submit(ctx, offer.SubmitRequest{
		ContractID:   c.ID,
		SpecialistID: specialist,
		Price:        decimal.RequireFromString(price),
	})
	require.NoError(t, err)
	_, err = w.Contracts.AcceptOffer(ctx, c.ID, o.ID, student)
	require.NoError(t, err)
	c, err = w.Contracts.ConfirmDeposit(ctx, c.ID, w.Admin)
	require.NoError(t, err)
	require.Equal(t, contract.StatusInProgress, c.Status)
	return c
}

func TestLifecycle_Postgres(t *testing.T) {
	h := infra.Open(t)
	ctx := context.Background()
	pool := h.Pool()
	quiet := slog.New(slog.DiscardHandler)

	w := actors.NewWorld(pool, config.DefaultRules(), quiet)
	require.NoError(t, w.Seed(ctx, 1, 2))
	student, specialist, rival := w.Students[0], w.Specialists[0], w.Specialists[1]
	ledgerRepo := ledger.NewRepository()

	t.Run("completion pays the specialist once", func(t *testing.T) {
		c := funded(t, ctx, w, student, specialist, "120.00")

		done, err := w.Contracts.MarkCompleted(ctx, c.ID, student)
		require.NoError(t, err)
		assert.True(t, done.PayoutIssued)
		assert.NotNil(t, done.CompletedAt)

		_, err = w.Contracts.MarkCompleted(ctx, c.ID, student)
		assert.ErrorIs(t, err, apperr.ErrState)

		balance, err := ledgerRepo.Balance(ctx, pool, specialist)
		require.NoError(t, err)
		assert.Equal(t, "102.00", money.Format(balance))

		events, err := timeline.NewRepository().List(ctx, pool, c.ID)
		require.NoError(t, err)
		types := make([]string, 0, len(events))
		for _, e := range events {
			types = append(types, e.Type)
		}
		assert.Equal(t, []string{
			timeline.ContractCreated, timeline.OfferSubmitted, timeline.OfferAccepted,
			timeline.DepositConfirmed, timeline.ContractCompleted,
		}, types)

		d, err := w.Disputes.Open(ctx, dispute.OpenRequest{ContractID: c.ID, InitiatorID: student, Reason: "Found plagiarised sections after delivery."})
		require.NoError(t, err)
		_, err = w.Disputes.Resolve(ctx, dispute.ResolveRequest{DisputeID: d.ID, AdminID: w.Admin, Action: dispute.ActionRefund})
		assert.ErrorIs(t, err, apperr.ErrState)

		closed, err := w.Disputes.Resolve(ctx, dispute.ResolveRequest{DisputeID: d.ID, AdminID: w.Admin, Action: dispute.ActionPay})
		require.NoError(t, err)
		assert.False(t, closed.PayoutApplied)
		require.NotNil(t, closed.Settlement)
		assert.Equal(t, "0.00", money.Format(closed.Settlement.RequesterRefund))

		balance, err = ledgerRepo.Balance(ctx, pool, specialist)
		require.NoError(t, err)
		assert.Equal(t, "102.00", money.Format(balance))
	})

	t.Run("duplicate offers hit the unique constraint", func(t *testing.T) {
		c, err := w.Contracts.Create(ctx, contract.CreateRequest{
			RequesterID:  student,
			Title:        "Lab report proofreading",
			Description:  "Proofread a twelve page lab report before Friday.",
			ServiceKind:  contract.ServiceFull,
			InitialPrice: decimal.RequireFromString("40.00"),
		})
		require.NoError(t, err)

		_, err = w.Offers.Submit(ctx, offer.SubmitRequest{ContractID: c.ID, SpecialistID: rival, Price: decimal.RequireFromString("45.00")})
		require.NoError(t, err)
		_, err = w.Offers.Submit(ctx, offer.SubmitRequest{ContractID: c.ID, SpecialistID: rival, Price: decimal.RequireFromString("39.00")})
		assert.ErrorIs(t, err, apperr.ErrDuplicateOffer)
	})

	t.Run("partial resolution conserves the price", func(t *testing.T) {
		c := funded(t, ctx, w, student, rival, "80.00")
		before, err := ledgerRepo.Balance(ctx, pool, rival)
		require.NoError(t, err)

		d, err := w.Disputes.Open(ctx, dispute.OpenRequest{ContractID: c.ID, InitiatorID: student, Reason: "Half the sections are missing."})
		require.NoError(t, err)
		_, err = w.Disputes.Open(ctx, dispute.OpenRequest{ContractID: c.ID, InitiatorID: rival, Reason: "Second dispute on same contract."})
		assert.ErrorIs(t, err, apperr.ErrState)

		resolved, err := w.Disputes.Resolve(ctx, dispute.ResolveRequest{
			DisputeID:     d.ID,
			AdminID:       w.Admin,
			Action:        dispute.ActionPartial,
			PartialAmount: decimal.NewNullDecimal(decimal.RequireFromString("50.00")),
		})
		require.NoError(t, err)
		assert.True(t, resolved.PayoutApplied)
		require.NotNil(t, resolved.Settlement)
		assert.Equal(t, "42.50", money.Format(resolved.Settlement.SpecialistPayment))
		assert.Equal(t, "7.50", money.Format(resolved.Settlement.Commission))
		assert.Equal(t, "30.00", money.Format(resolved.Settlement.RequesterRefund))

		after, err := ledgerRepo.Balance(ctx, pool, rival)
		require.NoError(t, err)
		assert.Equal(t, "42.50", money.Format(after.Sub(before)))

		detail, err := views.NewService(pool, nil, nil, auth.NewAuthorizer(auth.NewRepository(pool))).Dispute(ctx, student, d.ID)
		require.NoError(t, err)
		assert.Equal(t, c.ID, detail.Contract.ID)
		assert.Equal(t, student, detail.Initiator.ID)
	})

	t.Run("concurrent withdrawals never overdraw", func(t *testing.T) {
		var reqs []withdrawal.Request
		for i := 0; i < 3; i++ {
			r, err := w.Withdrawals.Request(ctx, specialist, decimal.RequireFromString("50.00"))
			require.NoError(t, err)
			reqs = append(reqs, r)
		}

		var wg sync.WaitGroup
		errs := make([]error, len(reqs))
		for i, r := range reqs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = w.Withdrawals.Process(ctx, withdrawal.ProcessRequest{
					RequestID: r.ID, AdminID: w.Admin, Decision: withdrawal.StatusCompleted,
				})
			}()
		}
		wg.Wait()

		var ok, short int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case apperr.KindOf(err) == apperr.KindInsufficientBalance:
				short++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 2, ok)
		assert.Equal(t, 1, short)

		balance, err := ledgerRepo.Balance(ctx, pool, specialist)
		require.NoError(t, err)
		assert.Equal(t, "2.00", money.Format(balance))
	})

	t.Run("outbox drains and invariants hold", func(t *testing.T) {
		d := outbox.NewDispatcher(pool, outbox.LogNotifier{Log: quiet}, outbox.DispatcherConfig{BatchSize: 100}, quiet)
		n, err := d.DrainOnce(ctx)
		require.NoError(t, err)
		assert.Positive(t, n)

		name, row, err := oracles.Run(ctx, pool)
		require.NoError(t, err)
		assert.Empty(t, name, "oracle row: %s", row)
	})
}
