package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcana/apperr"
	"arcana/auth"
	"arcana/ledger"
	"arcana/test/fakes"
)

func TestService_BalanceVisibility(t *testing.T) {
	w := fakes.NewWorld()
	svc := ledger.NewService(w.Pool, w.Ledger, w.Authz)
	ctx := context.Background()

	owner := w.Users.Add(auth.RoleSpecialist, true)
	other := w.Users.Add(auth.RoleSpecialist, true)
	admin := w.Users.Add(auth.RoleAdmin, true)
	w.Ledger.Seed(owner.ID, decimal.RequireFromString("102.00"))

	b, err := svc.BalanceOf(ctx, owner.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "102.00", b.StringFixed(2))

	b, err = svc.BalanceOf(ctx, admin.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "102.00", b.StringFixed(2))

	_, err = svc.BalanceOf(ctx, other.ID, owner.ID)
	assert.True(t, errors.Is(err, apperr.ErrAuthorization), "got %v", err)

	b, err = svc.BalanceOf(ctx, other.ID, other.ID)
	require.NoError(t, err)
	assert.True(t, b.IsZero(), "accounts without postings read as zero")
}

func TestService_Entries(t *testing.T) {
	w := fakes.NewWorld()
	svc := ledger.NewService(w.Pool, w.Ledger, w.Authz)
	ctx := context.Background()
	owner := w.Users.Add(auth.RoleSpecialist, true)

	tx, err := w.Pool.Begin(ctx)
	require.NoError(t, err)
	_, err = w.Ledger.Credit(ctx, tx, ledger.Posting{AccountID: owner.ID, Amount: decimal.RequireFromString("102.00"), RefType: ledger.RefContract, RefID: "c1"})
	require.NoError(t, err)
	_, err = w.Ledger.Debit(ctx, tx, ledger.Posting{AccountID: owner.ID, Amount: decimal.RequireFromString("60.00"), RefType: ledger.RefWithdrawal, RefID: "w1"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	entries, err := svc.Entries(ctx, owner.ID, owner.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.KindDebit, entries[0].Kind)
	assert.Equal(t, "42.00", entries[0].BalanceAfter.StringFixed(2))
	assert.Equal(t, ledger.KindCredit, entries[1].Kind)

	_, err = svc.Entries(ctx, "", owner.ID, 10)
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))
}

func TestLedger_RollbackRestoresBalance(t *testing.T) {
	w := fakes.NewWorld()
	ctx := context.Background()
	w.Ledger.Seed("acct", decimal.RequireFromString("10.00"))

	tx, err := w.Pool.Begin(ctx)
	require.NoError(t, err)
	_, err = w.Ledger.Debit(ctx, tx, ledger.Posting{AccountID: "acct", Amount: decimal.RequireFromString("20.00"), RefType: ledger.RefWithdrawal, RefID: "w1"})
	assert.True(t, errors.Is(err, apperr.ErrInsufficientBalance))

	_, err = w.Ledger.Credit(ctx, tx, ledger.Posting{AccountID: "acct", Amount: decimal.RequireFromString("5.00"), RefType: ledger.RefContract, RefID: "c1"})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	b, _ := w.Ledger.Balance(ctx, nil, "acct")
	assert.Equal(t, "10.00", b.StringFixed(2))
	assert.Empty(t, w.Ledger.Journal())
}
