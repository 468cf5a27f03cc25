package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"arcana/apperr"
	"arcana/db"
	"arcana/money"
)

// Repository implements the balance primitives. Both mutations are a single
// conditional statement so concurrent postings never lose an update and a
// balance can never go below zero.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Credit adds p.Amount to the account, creating it at zero if needed, and
// returns the new balance.
func (r *Repository) Credit(ctx context.Context, tx pgx.Tx, p Posting) (decimal.Decimal, error) {
	if err := validatePosting("ledger.credit", p); err != nil {
		return decimal.Decimal{}, err
	}

	const creditSQL = `
INSERT INTO ledger_accounts (user_id, balance)
VALUES ($1::uuid, $2::numeric)
ON CONFLICT (user_id) DO UPDATE
SET balance = ledger_accounts.balance + EXCLUDED.balance,
    updated_at = now()
RETURNING balance::text;
`
	var balanceStr string
	if err := tx.QueryRow(ctx, creditSQL, p.AccountID, p.Amount.String()).Scan(&balanceStr); err != nil {
		return decimal.Decimal{}, fmt.Errorf("ledger: credit %s: %w", p.AccountID, err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("ledger: parse balance: %w", err)
	}
	if err := r.journal(ctx, tx, KindCredit, p, balance); err != nil {
		return decimal.Decimal{}, err
	}
	return balance, nil
}

// Debit subtracts p.Amount when the balance covers it. A debit that would
// overdraw fails with an InsufficientBalance error and changes nothing.
func (r *Repository) Debit(ctx context.Context, tx pgx.Tx, p Posting) (decimal.Decimal, error) {
	if err := validatePosting("ledger.debit", p); err != nil {
		return decimal.Decimal{}, err
	}

	const debitSQL = `
UPDATE ledger_accounts
SET balance = balance - $2::numeric,
    updated_at = now()
WHERE user_id = $1::uuid
  AND balance >= $2::numeric
RETURNING balance::text;
`
	var balanceStr string
	err := tx.QueryRow(ctx, debitSQL, p.AccountID, p.Amount.String()).Scan(&balanceStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Decimal{}, apperr.InsufficientBalance("ledger.debit",
			"debit of %s exceeds the available balance", money.Format(p.Amount))
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("ledger: debit %s: %w", p.AccountID, err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("ledger: parse balance: %w", err)
	}
	if err := r.journal(ctx, tx, KindDebit, p, balance); err != nil {
		return decimal.Decimal{}, err
	}
	return balance, nil
}

// Balance returns the committed balance; an account never credited reads zero.
func (r *Repository) Balance(ctx context.Context, q db.Querier, accountID string) (decimal.Decimal, error) {
	var balanceStr string
	err := q.QueryRow(ctx, `SELECT balance::text FROM ledger_accounts WHERE user_id = $1::uuid`, accountID).Scan(&balanceStr)
	if errors.Is(err, pgx.ErrNoRows) || db.IsInvalidText(err) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("ledger: balance %s: %w", accountID, err)
	}
	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("ledger: parse balance: %w", err)
	}
	return balance, nil
}

// Entries lists an account's journal, newest first.
func (r *Repository) Entries(ctx context.Context, q db.Querier, accountID string, limit int) ([]Entry, error) {
	const listSQL = `
SELECT id, account_id::text, kind, amount::text, balance_after::text, reference_type, reference_id::text, created_at
FROM ledger_entries
WHERE account_id = $1::uuid
ORDER BY id DESC
LIMIT $2;
`
	rows, err := q.Query(ctx, listSQL, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                     Entry
			kind                  string
			amountStr, balanceStr string
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &kind, &amountStr, &balanceStr, &e.RefType, &e.RefID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan entry: %w", err)
		}
		e.Kind = EntryKind(kind)
		if e.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("ledger: parse amount: %w", err)
		}
		if e.BalanceAfter, err = decimal.NewFromString(balanceStr); err != nil {
			return nil, fmt.Errorf("ledger: parse balance: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate entries: %w", err)
	}
	return entries, nil
}

func (r *Repository) journal(ctx context.Context, tx pgx.Tx, kind EntryKind, p Posting, balance decimal.Decimal) error {
	_, err := tx.Exec(ctx, `
INSERT INTO ledger_entries (account_id, kind, amount, balance_after, reference_type, reference_id)
VALUES ($1::uuid, $2, $3::numeric, $4::numeric, $5, $6::uuid)
`, p.AccountID, string(kind), p.Amount.String(), balance.String(), p.RefType, p.RefID)
	if err != nil {
		return fmt.Errorf("ledger: append journal: %w", err)
	}
	return nil
}

func validatePosting(op string, p Posting) error {
	if p.AccountID == "" {
		return apperr.Validation(op, "account id is required")
	}
	if !p.Amount.IsPositive() {
		return apperr.Validation(op, "amount must be positive")
	}
	if !money.IsCents(p.Amount) {
		return apperr.Validation(op, "amount %s has sub-cent precision", p.Amount)
	}
	if p.RefType == "" || p.RefID == "" {
		return apperr.Validation(op, "posting reference is required")
	}
	return nil
}
