package dispute_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcana/apperr"
	"arcana/auth"
	"arcana/config"
	"arcana/contract"
	"arcana/dispute"
	"arcana/test/fakes"
	"arcana/timeline"
)

type harness struct {
	w          *fakes.World
	disputes   *dispute.Service
	contracts  *contract.Service
	student    auth.User
	specialist auth.User
	admin      auth.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	w := fakes.NewWorld()
	rules := config.DefaultRules()
	return &harness{
		w: w,
		disputes: dispute.NewService(w.Pool, dispute.Deps{
			Store:     w.Disputes,
			Contracts: w.Contracts,
			Ledger:    w.Ledger,
			Authz:     w.Authz,
			Timeline:  w.Timeline,
			Notifier:  w.Notifier,
		}, rules),
		contracts: contract.NewService(w.Pool, contract.Deps{
			Store:    w.Contracts,
			Offers:   w.Offers,
			Ledger:   w.Ledger,
			Authz:    w.Authz,
			Timeline: w.Timeline,
			Notifier: w.Notifier,
		}, rules),
		student:    w.Users.Add(auth.RoleStudent, true),
		specialist: w.Users.Add(auth.RoleSpecialist, true),
		admin:      w.Users.Add(auth.RoleAdmin, true),
	}
}

const reason = "The delivered work does not follow the brief"

func (h *harness) open(t *testing.T, contractID, initiatorID string) dispute.Dispute {
	t.Helper()
	d, err := h.disputes.Open(context.Background(), dispute.OpenRequest{ContractID: contractID, InitiatorID: initiatorID, Reason: reason})
	require.NoError(t, err)
	return d
}

func (h *harness) balance(t *testing.T) string {
	t.Helper()
	b, err := h.w.Ledger.Balance(context.Background(), nil, h.specialist.ID)
	require.NoError(t, err)
	return b.StringFixed(2)
}

func TestService_PartialResolutionFromInProgress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.w.SeedContract(contract.StatusInProgress, h.student.ID, h.specialist.ID, decimal.NewFromInt(120))

	d := h.open(t, c.ID, h.student.ID)
	assert.Equal(t, dispute.StatusOpen, d.Status)

	disputed, _ := h.w.Contracts.Get(ctx, nil, c.ID)
	assert.Equal(t, contract.StatusDisputed, disputed.Status)

	resolved, err := h.disputes.Resolve(ctx, dispute.ResolveRequest{
		DisputeID:     d.ID,
		AdminID:       h.admin.ID,
		Action:        dispute.ActionPartial,
		Notes:         "Half of the brief was delivered",
		PartialAmount: decimal.NewNullDecimal(decimal.NewFromInt(60)),
	})
	require.NoError(t, err)

	assert.Equal(t, dispute.StatusResolved, resolved.Status)
	assert.Equal(t, h.admin.ID, resolved.ResolvedBy)
	assert.NotNil(t, resolved.ResolvedAt)
	assert.True(t, resolved.PayoutApplied)
	require.NotNil(t, resolved.Settlement)
	assert.Equal(t, "51.00", resolved.Settlement.SpecialistPayment.StringFixed(2))
	assert.Equal(t, "60.00", resolved.Settlement.RequesterRefund.StringFixed(2))
	assert.Equal(t, "51.00", h.balance(t))

	after, _ := h.w.Contracts.Get(ctx, nil, c.ID)
	assert.Equal(t, contract.StatusDisputed, after.Status)
	assert.True(t, after.PayoutIssued)

	_, err = h.contracts.MarkCompleted(ctx, c.ID, h.student.ID)
	assert.True(t, errors.Is(err, apperr.ErrState), "a resolved dispute never reaches completion, got %v", err)
	assert.Equal(t, "51.00", h.balance(t))

	types := h.w.Timeline.Types()
	assert.Equal(t, []string{timeline.DisputeOpened, timeline.DisputeResolved}, types)
	assert.NotEmpty(t, h.w.Notifier.SentTo(h.specialist.ID))
}

func TestService_ResolveActions(t *testing.T) {
	tests := []struct {
		action  dispute.Action
		partial decimal.NullDecimal
		balance string
	}{
		{action: dispute.ActionPay, balance: "102.00"},
		{action: dispute.ActionRefund, balance: "0.00"},
		{action: dispute.ActionPartial, partial: decimal.NewNullDecimal(decimal.Zero), balance: "0.00"},
	}
	for _, tc := range tests {
		t.Run(string(tc.action), func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			c := h.w.SeedContract(contract.StatusInProgress, h.student.ID, h.specialist.ID, decimal.NewFromInt(120))
			d := h.open(t, c.ID, h.specialist.ID)

			resolved, err := h.disputes.Resolve(ctx, dispute.ResolveRequest{
				DisputeID: d.ID, AdminID: h.admin.ID, Action: tc.action, PartialAmount: tc.partial,
			})
			require.NoError(t, err)
			assert.Equal(t, tc.balance, h.balance(t))

			s := resolved.Settlement
			total := s.SpecialistPayment.Add(s.Commission).Add(s.RequesterRefund)
			assert.True(t, total.Equal(decimal.NewFromInt(120)))

			after, _ := h.w.Contracts.Get(ctx, nil, c.ID)
			assert.True(t, after.PayoutIssued, "every resolution settles the contract")
		})
	}
}

func TestService_ResolveOnlyOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.w.SeedContract(contract.StatusInProgress, h.student.ID, h.specialist.ID, decimal.NewFromInt(120))
	d := h.open(t, c.ID, h.student.ID)

	req := dispute.ResolveRequest{DisputeID: d.ID, AdminID: h.admin.ID, Action: dispute.ActionPay}
	_, err := h.disputes.Resolve(ctx, req)
	require.NoError(t, err)

	_, err = h.disputes.Resolve(ctx, req)
	assert.True(t, errors.Is(err, apperr.ErrState), "got %v", err)
	assert.Equal(t, "102.00", h.balance(t))
	assert.Len(t, h.w.Ledger.Journal(), 1)
}

func TestService_ConcurrentResolvePaysOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.w.SeedContract(contract.StatusInProgress, h.student.ID, h.specialist.ID, decimal.NewFromInt(120))
	d := h.open(t, c.ID, h.student.ID)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.disputes.Resolve(ctx, dispute.ResolveRequest{DisputeID: d.ID, AdminID: h.admin.ID, Action: dispute.ActionPay})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, apperr.ErrState) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, "102.00", h.balance(t))
}

func TestService_PostCompletionDispute(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.w.SeedContract(contract.StatusCompleted, h.student.ID, h.specialist.ID, decimal.NewFromInt(120))
	h.w.Ledger.Seed(h.specialist.ID, decimal.RequireFromString("102.00"))

	d := h.open(t, c.ID, h.student.ID)

	still, _ := h.w.Contracts.Get(ctx, nil, c.ID)
	assert.Equal(t, contract.StatusCompleted, still.Status, "post-completion disputes keep the completed status")

	_, err := h.disputes.Open(ctx, dispute.OpenRequest{ContractID: c.ID, InitiatorID: h.specialist.ID, Reason: reason})
	assert.True(t, errors.Is(err, apperr.ErrState), "one open dispute per contract, got %v", err)

	_, err = h.disputes.Resolve(ctx, dispute.ResolveRequest{DisputeID: d.ID, AdminID: h.admin.ID, Action: dispute.ActionRefund})
	assert.True(t, errors.Is(err, apperr.ErrState), "refund after the completion payout, got %v", err)
	_, err = h.disputes.Resolve(ctx, dispute.ResolveRequest{
		DisputeID: d.ID, AdminID: h.admin.ID, Action: dispute.ActionPartial,
		PartialAmount: decimal.NewNullDecimal(decimal.NewFromInt(60)),
	})
	assert.True(t, errors.Is(err, apperr.ErrState), "partial after the completion payout, got %v", err)

	pending, err := h.disputes.Get(ctx, h.admin.ID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, dispute.StatusOpen, pending.Status, "rejected resolutions leave the dispute open")

	resolved, err := h.disputes.Resolve(ctx, dispute.ResolveRequest{DisputeID: d.ID, AdminID: h.admin.ID, Action: dispute.ActionPay})
	require.NoError(t, err)
	assert.False(t, resolved.PayoutApplied)
	require.NotNil(t, resolved.Settlement)
	assert.Equal(t, "102.00", resolved.Settlement.SpecialistPayment.StringFixed(2))
	assert.Equal(t, "18.00", resolved.Settlement.Commission.StringFixed(2))
	assert.Equal(t, "0.00", resolved.Settlement.RequesterRefund.StringFixed(2))
	assert.Equal(t, "102.00", h.balance(t), "no second payout after completion")
	assert.Empty(t, h.w.Ledger.Journal())
}

func TestService_RefundAfterCompletionKeepsConservation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.w.SeedContract(contract.StatusInProgress, h.student.ID, h.specialist.ID, decimal.NewFromInt(120))

	_, err := h.contracts.MarkCompleted(ctx, c.ID, h.student.ID)
	require.NoError(t, err)
	require.Equal(t, "102.00", h.balance(t))

	d := h.open(t, c.ID, h.student.ID)
	_, err = h.disputes.Resolve(ctx, dispute.ResolveRequest{DisputeID: d.ID, AdminID: h.admin.ID, Action: dispute.ActionRefund})
	require.True(t, errors.Is(err, apperr.ErrState), "got %v", err)

	resolved, err := h.disputes.Resolve(ctx, dispute.ResolveRequest{DisputeID: d.ID, AdminID: h.admin.ID, Action: dispute.ActionPay})
	require.NoError(t, err)
	s := resolved.Settlement
	require.NotNil(t, s)

	paid := decimal.RequireFromString(h.balance(t))
	assert.True(t, paid.Add(s.Commission).Add(s.RequesterRefund).Equal(decimal.NewFromInt(120)),
		"paid %s + commission %s + refund %s must equal the final price", paid, s.Commission, s.RequesterRefund)
}

func TestService_DisputeWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.w.SeedContract(contract.StatusCompleted, h.student.ID, h.specialist.ID, decimal.NewFromInt(120))
	completedAt := *c.CompletedAt

	h.disputes.WithClock(func() time.Time { return completedAt.Add(7*24*time.Hour + time.Minute) })
	_, err := h.disputes.Open(ctx, dispute.OpenRequest{ContractID: c.ID, InitiatorID: h.student.ID, Reason: reason})
	assert.True(t, errors.Is(err, apperr.ErrState), "got %v", err)

	h.disputes.WithClock(func() time.Time { return completedAt.Add(7*24*time.Hour - time.Minute) })
	_, err = h.disputes.Open(ctx, dispute.OpenRequest{ContractID: c.ID, InitiatorID: h.student.ID, Reason: reason})
	assert.NoError(t, err)
}

func TestService_OpenRejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	running := h.w.SeedContract(contract.StatusInProgress, h.student.ID, h.specialist.ID, decimal.NewFromInt(120))
	pending := h.w.SeedContract(contract.StatusPendingDeposit, h.student.ID, h.specialist.ID, decimal.NewFromInt(120))
	outsider := h.w.Users.Add(auth.RoleStudent, true)

	_, err := h.disputes.Open(ctx, dispute.OpenRequest{ContractID: running.ID, InitiatorID: h.student.ID, Reason: "bad"})
	assert.True(t, errors.Is(err, apperr.ErrValidation), "got %v", err)

	_, err = h.disputes.Open(ctx, dispute.OpenRequest{ContractID: running.ID, InitiatorID: outsider.ID, Reason: reason})
	assert.True(t, errors.Is(err, apperr.ErrAuthorization), "got %v", err)

	_, err = h.disputes.Open(ctx, dispute.OpenRequest{ContractID: running.ID, InitiatorID: h.admin.ID, Reason: reason})
	assert.True(t, errors.Is(err, apperr.ErrAuthorization), "got %v", err)

	_, err = h.disputes.Open(ctx, dispute.OpenRequest{ContractID: pending.ID, InitiatorID: h.student.ID, Reason: reason})
	assert.True(t, errors.Is(err, apperr.ErrState), "got %v", err)

	h.open(t, running.ID, h.student.ID)
	_, err = h.disputes.Open(ctx, dispute.OpenRequest{ContractID: running.ID, InitiatorID: h.specialist.ID, Reason: reason})
	assert.True(t, errors.Is(err, apperr.ErrState), "a disputed contract cannot be re-disputed, got %v", err)
}

func TestService_ResolveRejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.w.SeedContract(contract.StatusInProgress, h.student.ID, h.specialist.ID, decimal.NewFromInt(120))
	d := h.open(t, c.ID, h.student.ID)

	_, err := h.disputes.Resolve(ctx, dispute.ResolveRequest{DisputeID: d.ID, AdminID: h.student.ID, Action: dispute.ActionRefund})
	assert.True(t, errors.Is(err, apperr.ErrAuthorization), "got %v", err)

	_, err = h.disputes.Resolve(ctx, dispute.ResolveRequest{
		DisputeID: d.ID, AdminID: h.admin.ID, Action: dispute.ActionPartial,
		PartialAmount: decimal.NewNullDecimal(decimal.RequireFromString("120.01")),
	})
	assert.True(t, errors.Is(err, apperr.ErrValidation), "got %v", err)

	_, err = h.disputes.Resolve(ctx, dispute.ResolveRequest{DisputeID: d.ID, AdminID: h.admin.ID, Action: "void"})
	assert.True(t, errors.Is(err, apperr.ErrValidation), "got %v", err)

	_, err = h.disputes.Resolve(ctx, dispute.ResolveRequest{DisputeID: "missing", AdminID: h.admin.ID, Action: dispute.ActionPay})
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "got %v", err)

	after, _ := h.w.Contracts.Get(ctx, nil, c.ID)
	assert.False(t, after.PayoutIssued, "failed resolutions leave the payout flag untouched")
	assert.Equal(t, "0.00", h.balance(t))
}

func TestService_GetAndList(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.w.SeedContract(contract.StatusInProgress, h.student.ID, h.specialist.ID, decimal.NewFromInt(120))
	d := h.open(t, c.ID, h.student.ID)

	for _, caller := range []string{h.student.ID, h.specialist.ID, h.admin.ID} {
		got, err := h.disputes.Get(ctx, caller, d.ID)
		require.NoError(t, err)
		assert.Equal(t, d.ID, got.ID)
	}
	outsider := h.w.Users.Add(auth.RoleSpecialist, true)
	_, err := h.disputes.Get(ctx, outsider.ID, d.ID)
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))

	queue, err := h.disputes.List(ctx, h.admin.ID, dispute.Filters{Status: dispute.StatusOpen})
	require.NoError(t, err)
	assert.Equal(t, 1, queue.Total)

	_, err = h.disputes.List(ctx, h.student.ID, dispute.Filters{})
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))
}
