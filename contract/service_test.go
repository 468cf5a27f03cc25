package contract_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcana/apperr"
	"arcana/auth"
	"arcana/config"
	"arcana/contract"
	"arcana/offer"
	"arcana/outbox"
	"arcana/test/fakes"
	"arcana/timeline"
)

type harness struct {
	w          *fakes.World
	contracts  *contract.Service
	offers     *offer.Service
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
		contracts: contract.NewService(w.Pool, contract.Deps{
			Store:    w.Contracts,
			Offers:   w.Offers,
			Ledger:   w.Ledger,
			Authz:    w.Authz,
			Timeline: w.Timeline,
			Notifier: w.Notifier,
		}, rules),
		offers: offer.NewService(w.Pool, offer.Deps{
			Store:     w.Offers,
			Contracts: w.Contracts,
			Authz:     w.Authz,
			Timeline:  w.Timeline,
			Notifier:  w.Notifier,
		}, rules),
		student:    w.Users.Add(auth.RoleStudent, true),
		specialist: w.Users.Add(auth.RoleSpecialist, true),
		admin:      w.Users.Add(auth.RoleAdmin, true),
	}
}

func (h *harness) create(t *testing.T, price string) contract.Contract {
	t.Helper()
	c, err := h.contracts.Create(context.Background(), contract.CreateRequest{
		RequesterID:  h.student.ID,
		Title:        "Linear algebra problem set",
		Description:  "Twelve exercises on eigenvalues and diagonalisation",
		Tags:         []string{"Math", " linear-algebra ", "math"},
		ServiceKind:  contract.ServiceFull,
		InitialPrice: decimal.RequireFromString(price),
	})
	require.NoError(t, err)
	return c
}

func (h *harness) bid(t *testing.T, contractID string, specialistID string, price string) offer.Offer {
	t.Helper()
	o, err := h.offers.Submit(context.Background(), offer.SubmitRequest{
		ContractID:   contractID,
		SpecialistID: specialistID,
		Price:        decimal.RequireFromString(price),
	})
	require.NoError(t, err)
	return o
}

func TestService_HappyPathCompletesAndPaysOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c := h.create(t, "150")
	assert.Equal(t, contract.StatusOpen, c.Status)
	assert.Equal(t, []string{"math", "linear-algebra"}, c.Tags)

	o := h.bid(t, c.ID, h.specialist.ID, "120")

	accepted, err := h.contracts.AcceptOffer(ctx, c.ID, o.ID, h.student.ID)
	require.NoError(t, err)
	assert.Equal(t, contract.StatusPendingDeposit, accepted.Status)
	assert.Equal(t, h.specialist.ID, accepted.SpecialistID)
	assert.Equal(t, "120.00", accepted.FinalPrice.Decimal.StringFixed(2))
	assert.Equal(t, "150.00", accepted.InitialPrice.StringFixed(2))

	inProgress, err := h.contracts.ConfirmDeposit(ctx, c.ID, h.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, contract.StatusInProgress, inProgress.Status)

	completed, err := h.contracts.MarkCompleted(ctx, c.ID, h.student.ID)
	require.NoError(t, err)
	assert.Equal(t, contract.StatusCompleted, completed.Status)
	assert.NotNil(t, completed.CompletedAt)
	assert.True(t, completed.PayoutIssued)

	balance, _ := h.w.Ledger.Balance(ctx, nil, h.specialist.ID)
	assert.Equal(t, "102.00", balance.StringFixed(2))

	_, err = h.contracts.MarkCompleted(ctx, c.ID, h.student.ID)
	assert.True(t, errors.Is(err, apperr.ErrState), "second completion must fail with a state error, got %v", err)

	balance, _ = h.w.Ledger.Balance(ctx, nil, h.specialist.ID)
	assert.Equal(t, "102.00", balance.StringFixed(2))
	assert.Len(t, h.w.Ledger.Journal(), 1)

	assert.Equal(t, []string{
		timeline.ContractCreated,
		timeline.OfferSubmitted,
		timeline.OfferAccepted,
		timeline.DepositConfirmed,
		timeline.ContractCompleted,
	}, h.w.Timeline.Types())
	assert.NotEmpty(t, h.w.Notifier.SentTo(h.specialist.ID))
}

func TestService_CreateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	base := contract.CreateRequest{
		RequesterID:  h.student.ID,
		Title:        "Chemistry lab report",
		Description:  "Titration experiment write-up with error analysis",
		ServiceKind:  contract.ServiceReview,
		InitialPrice: decimal.NewFromInt(40),
	}

	tests := []struct {
		name   string
		mutate func(*contract.CreateRequest)
	}{
		{name: "short title", mutate: func(r *contract.CreateRequest) { r.Title = "Lab" }},
		{name: "long title", mutate: func(r *contract.CreateRequest) { r.Title = strings.Repeat("x", 151) }},
		{name: "short description", mutate: func(r *contract.CreateRequest) { r.Description = "too short" }},
		{name: "price below band", mutate: func(r *contract.CreateRequest) { r.InitialPrice = decimal.RequireFromString("0.99") }},
		{name: "price above band", mutate: func(r *contract.CreateRequest) { r.InitialPrice = decimal.RequireFromString("100000.01") }},
		{name: "sub-cent price", mutate: func(r *contract.CreateRequest) { r.InitialPrice = decimal.RequireFromString("10.005") }},
		{name: "unknown kind", mutate: func(r *contract.CreateRequest) { r.ServiceKind = "ghostwriting" }},
		{name: "too many tags", mutate: func(r *contract.CreateRequest) {
			for i := 0; i < 11; i++ {
				r.Tags = append(r.Tags, strings.Repeat("t", i+1))
			}
		}},
		{name: "tag too long", mutate: func(r *contract.CreateRequest) { r.Tags = []string{strings.Repeat("t", 33)} }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			tc.mutate(&req)
			_, err := h.contracts.Create(ctx, req)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	assert.Zero(t, h.w.Pool.Committed())
}

func TestService_CreateRequiresVerifiedStudent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pending := h.w.Users.Add(auth.RoleStudent, false)

	for _, userID := range []string{pending.ID, h.specialist.ID, "missing"} {
		_, err := h.contracts.Create(ctx, contract.CreateRequest{
			RequesterID:  userID,
			Title:        "History essay",
			Description:  "The causes of the first world war in context",
			ServiceKind:  contract.ServiceFull,
			InitialPrice: decimal.NewFromInt(80),
		})
		if !errors.Is(err, apperr.ErrAuthorization) {
			t.Fatalf("user %s: expected authorization error, got %v", userID, err)
		}
	}
}

func TestService_AcceptOfferGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c := h.create(t, "150")
	other := h.create(t, "90")
	o := h.bid(t, c.ID, h.specialist.ID, "120")
	foreign := h.bid(t, other.ID, h.specialist.ID, "85")

	intruder := h.w.Users.Add(auth.RoleStudent, true)
	_, err := h.contracts.AcceptOffer(ctx, c.ID, o.ID, intruder.ID)
	assert.True(t, errors.Is(err, apperr.ErrAuthorization), "got %v", err)

	_, err = h.contracts.AcceptOffer(ctx, c.ID, foreign.ID, h.student.ID)
	assert.True(t, errors.Is(err, apperr.ErrValidation), "got %v", err)

	_, err = h.contracts.AcceptOffer(ctx, c.ID, "missing-offer", h.student.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "got %v", err)

	_, err = h.contracts.AcceptOffer(ctx, c.ID, o.ID, h.student.ID)
	require.NoError(t, err)

	_, err = h.contracts.AcceptOffer(ctx, c.ID, o.ID, h.student.ID)
	assert.True(t, errors.Is(err, apperr.ErrState), "second accept must be a state error, got %v", err)
}

func TestService_ConcurrentAcceptHasOneWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c := h.create(t, "150")
	var offers []offer.Offer
	for i := 0; i < 8; i++ {
		sp := h.w.Users.Add(auth.RoleSpecialist, true)
		offers = append(offers, h.bid(t, c.ID, sp.ID, "100"))
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		stateErrs int
	)
	for _, o := range offers {
		wg.Add(1)
		go func(offerID string) {
			defer wg.Done()
			_, err := h.contracts.AcceptOffer(ctx, c.ID, offerID, h.student.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperr.ErrState):
				stateErrs++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(o.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, len(offers)-1, stateErrs)
}

func TestService_ConfirmDepositRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.w.SeedContract(contract.StatusPendingDeposit, h.student.ID, h.specialist.ID, decimal.NewFromInt(120))

	_, err := h.contracts.ConfirmDeposit(ctx, c.ID, h.student.ID)
	assert.True(t, errors.Is(err, apperr.ErrAuthorization), "got %v", err)

	revoked := h.w.Users.Add(auth.RoleAdmin, true)
	revoked.Role = auth.RoleStudent
	h.w.Users.Put(revoked)
	_, err = h.contracts.ConfirmDeposit(ctx, c.ID, revoked.ID)
	assert.True(t, errors.Is(err, apperr.ErrAuthorization), "demoted admin must be refused, got %v", err)

	open := h.create(t, "60")
	_, err = h.contracts.ConfirmDeposit(ctx, open.ID, h.admin.ID)
	assert.True(t, errors.Is(err, apperr.ErrState), "got %v", err)
}

func TestService_MarkCompletedGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pending := h.w.SeedContract(contract.StatusPendingDeposit, h.student.ID, h.specialist.ID, decimal.NewFromInt(120))
	_, err := h.contracts.MarkCompleted(ctx, pending.ID, h.student.ID)
	assert.True(t, errors.Is(err, apperr.ErrState), "got %v", err)

	running := h.w.SeedContract(contract.StatusInProgress, h.student.ID, h.specialist.ID, decimal.NewFromInt(120))
	stranger := h.w.Users.Add(auth.RoleStudent, true)
	_, err = h.contracts.MarkCompleted(ctx, running.ID, stranger.ID)
	assert.True(t, errors.Is(err, apperr.ErrAuthorization), "got %v", err)

	disputed := h.w.SeedContract(contract.StatusDisputed, h.student.ID, h.specialist.ID, decimal.NewFromInt(120))
	_, err = h.contracts.MarkCompleted(ctx, disputed.ID, h.student.ID)
	assert.True(t, errors.Is(err, apperr.ErrState), "disputed contracts never complete, got %v", err)

	balance, _ := h.w.Ledger.Balance(ctx, nil, h.specialist.ID)
	assert.True(t, balance.IsZero())
}

func TestService_MarkCompletedRollsBackWhenCreditFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.w.SeedContract(contract.StatusInProgress, h.student.ID, h.specialist.ID, decimal.NewFromInt(120))
	h.w.Ledger.CreditErr = errors.New("ledger unavailable")

	_, err := h.contracts.MarkCompleted(ctx, c.ID, h.student.ID)
	require.Error(t, err)

	after, err := h.w.Contracts.Get(ctx, nil, c.ID)
	require.NoError(t, err)
	assert.Equal(t, contract.StatusInProgress, after.Status)
	assert.False(t, after.PayoutIssued)
	assert.Nil(t, after.CompletedAt)
	assert.Empty(t, h.w.Notifier.Sent())

	h.w.Ledger.CreditErr = nil
	_, err = h.contracts.MarkCompleted(ctx, c.ID, h.student.ID)
	require.NoError(t, err)
	balance, _ := h.w.Ledger.Balance(ctx, nil, h.specialist.ID)
	assert.Equal(t, "102.00", balance.StringFixed(2))
}

func TestService_CancelClosesOfferBook(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.create(t, "150")
	rival := h.w.Users.Add(auth.RoleSpecialist, true)
	h.bid(t, c.ID, h.specialist.ID, "140")
	h.bid(t, c.ID, rival.ID, "130")

	cancelled, err := h.contracts.Cancel(ctx, c.ID, h.student.ID)
	require.NoError(t, err)
	assert.Equal(t, contract.StatusCancelled, cancelled.Status)
	assert.True(t, cancelled.Status.Terminal())

	for _, bidder := range []string{h.specialist.ID, rival.ID} {
		var closed int
		for _, n := range h.w.Notifier.SentTo(bidder) {
			if n.Type == outbox.TypeContractCancelled {
				closed++
				assert.Equal(t, "/contracts/"+c.ID, n.Link)
			}
		}
		assert.Equal(t, 1, closed, "bidder %s should hear about the cancellation once", bidder)
	}

	_, err = h.offers.Submit(ctx, offer.SubmitRequest{ContractID: c.ID, SpecialistID: h.specialist.ID, Price: decimal.NewFromInt(100)})
	assert.True(t, errors.Is(err, apperr.ErrState), "got %v", err)

	_, err = h.contracts.Cancel(ctx, c.ID, h.student.ID)
	assert.True(t, errors.Is(err, apperr.ErrState), "got %v", err)

	assigned := h.w.SeedContract(contract.StatusPendingDeposit, h.student.ID, h.specialist.ID, decimal.NewFromInt(90))
	_, err = h.contracts.Cancel(ctx, assigned.ID, h.student.ID)
	assert.True(t, errors.Is(err, apperr.ErrState), "only open contracts can be cancelled, got %v", err)
}

func TestService_GetAndList(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.create(t, "150")
	h.create(t, "75")

	got, err := h.contracts.Get(ctx, h.specialist.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = h.contracts.Get(ctx, h.specialist.ID, "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	res, err := h.contracts.List(ctx, h.specialist.ID, contract.Filters{Status: contract.StatusOpen})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)

	mine, err := h.contracts.List(ctx, h.student.ID, contract.Filters{RequesterID: h.student.ID, PageSize: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, mine.Total)
	assert.Len(t, mine.Items, 1)

	_, err = h.contracts.List(ctx, h.student.ID, contract.Filters{Status: "archived"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}
