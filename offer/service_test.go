package offer_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"arcana/apperr"
	"arcana/auth"
	"arcana/config"
	"arcana/contract"
	"arcana/offer"
	"arcana/outbox"
	"arcana/test/fakes"
)

func newService(w *fakes.World) *offer.Service {
	return offer.NewService(w.Pool, offer.Deps{
		Store:     w.Offers,
		Contracts: w.Contracts,
		Authz:     w.Authz,
		Timeline:  w.Timeline,
		Notifier:  w.Notifier,
	}, config.DefaultRules()).WithIDGenerator(func() string { return "offer-1" })
}

func TestService_Submit(t *testing.T) {
	w := fakes.NewWorld()
	svc := newService(w)
	student := w.Users.Add(auth.RoleStudent, true)
	specialist := w.Users.Add(auth.RoleSpecialist, true)
	c := w.SeedContract(contract.StatusOpen, student.ID, "", decimal.Zero)

	o, err := svc.Submit(context.Background(), offer.SubmitRequest{
		ContractID:   c.ID,
		SpecialistID: specialist.ID,
		Price:        decimal.NewFromInt(120),
		Message:      "  Can deliver in three days  ",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if o.ID != "offer-1" || o.Message != "Can deliver in three days" {
		t.Fatalf("unexpected offer %+v", o)
	}

	notes := w.Notifier.SentTo(student.ID)
	if len(notes) != 1 || notes[0].Type != outbox.TypeOfferReceived {
		t.Fatalf("expected one offer notification to the requester, got %+v", notes)
	}

	list, err := svc.List(context.Background(), student.ID, c.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one offer, got %d", len(list))
	}
}

func TestService_SubmitDuplicate(t *testing.T) {
	w := fakes.NewWorld()
	student := w.Users.Add(auth.RoleStudent, true)
	specialist := w.Users.Add(auth.RoleSpecialist, true)
	c := w.SeedContract(contract.StatusOpen, student.ID, "", decimal.Zero)

	n := 0
	svc := newService(w).WithIDGenerator(func() string {
		n++
		return strings.Repeat("o", n)
	})

	req := offer.SubmitRequest{ContractID: c.ID, SpecialistID: specialist.ID, Price: decimal.NewFromInt(100)}
	if _, err := svc.Submit(context.Background(), req); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	req.Price = decimal.NewFromInt(90)
	if _, err := svc.Submit(context.Background(), req); !errors.Is(err, apperr.ErrDuplicateOffer) {
		t.Fatalf("expected duplicate offer error, got %v", err)
	}

	list, _ := w.Offers.ListByContract(context.Background(), nil, c.ID)
	if len(list) != 1 {
		t.Fatalf("expected exactly one offer, got %d", len(list))
	}
	if got := len(w.Notifier.SentTo(student.ID)); got != 1 {
		t.Fatalf("rolled back submission must not notify, got %d notifications", got)
	}
}

func TestService_SubmitRejects(t *testing.T) {
	w := fakes.NewWorld()
	svc := newService(w)
	student := w.Users.Add(auth.RoleStudent, true)
	specialist := w.Users.Add(auth.RoleSpecialist, true)
	unverified := w.Users.Add(auth.RoleSpecialist, false)
	open := w.SeedContract(contract.StatusOpen, student.ID, "", decimal.Zero)
	assigned := w.SeedContract(contract.StatusPendingDeposit, student.ID, specialist.ID, decimal.NewFromInt(100))

	tests := []struct {
		name string
		req  offer.SubmitRequest
		want error
	}{
		{
			name: "below band",
			req:  offer.SubmitRequest{ContractID: open.ID, SpecialistID: specialist.ID, Price: decimal.RequireFromString("0.50")},
			want: apperr.ErrValidation,
		},
		{
			name: "above band",
			req:  offer.SubmitRequest{ContractID: open.ID, SpecialistID: specialist.ID, Price: decimal.NewFromInt(100001)},
			want: apperr.ErrValidation,
		},
		{
			name: "message too long",
			req:  offer.SubmitRequest{ContractID: open.ID, SpecialistID: specialist.ID, Price: decimal.NewFromInt(10), Message: strings.Repeat("m", 1001)},
			want: apperr.ErrValidation,
		},
		{
			name: "book closed",
			req:  offer.SubmitRequest{ContractID: assigned.ID, SpecialistID: specialist.ID, Price: decimal.NewFromInt(10)},
			want: apperr.ErrState,
		},
		{
			name: "unknown contract",
			req:  offer.SubmitRequest{ContractID: "missing", SpecialistID: specialist.ID, Price: decimal.NewFromInt(10)},
			want: apperr.ErrNotFound,
		},
		{
			name: "unverified specialist",
			req:  offer.SubmitRequest{ContractID: open.ID, SpecialistID: unverified.ID, Price: decimal.NewFromInt(10)},
			want: apperr.ErrAuthorization,
		},
		{
			name: "students cannot bid",
			req:  offer.SubmitRequest{ContractID: open.ID, SpecialistID: student.ID, Price: decimal.NewFromInt(10)},
			want: apperr.ErrAuthorization,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Submit(context.Background(), tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
