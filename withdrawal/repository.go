package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"arcana/apperr"
	"arcana/db"
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const requestColumns = `id::text, specialist_id::text, amount::text, status::text, COALESCE(processed_by::text, ''),
COALESCE(notes, ''), created_at, processed_at`

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, w Request) (Request, error) {
	created, err := scanRequest(tx.QueryRow(ctx, `
INSERT INTO withdrawal_requests (id, specialist_id, amount, status)
VALUES ($1::uuid, $2::uuid, $3::numeric, 'pending')
RETURNING `+requestColumns, w.ID, w.SpecialistID, w.Amount.String()))
	if err != nil {
		return Request{}, fmt.Errorf("withdrawal: insert: %w", err)
	}
	return created, nil
}

func (r *Repository) Get(ctx context.Context, q db.Querier, id string) (Request, error) {
	return r.get(ctx, q, id, "")
}

// GetForUpdate locks the request row for the rest of tx.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, error) {
	return r.get(ctx, tx, id, " FOR UPDATE")
}

func (r *Repository) get(ctx context.Context, q db.Querier, id, suffix string) (Request, error) {
	w, err := scanRequest(q.QueryRow(ctx, `SELECT `+requestColumns+` FROM withdrawal_requests WHERE id = $1::uuid`+suffix, id))
	if errors.Is(err, pgx.ErrNoRows) || db.IsInvalidText(err) {
		return Request{}, apperr.NotFound("withdrawal.get", "withdrawal request %s not found", id)
	}
	if err != nil {
		return Request{}, fmt.Errorf("withdrawal: get: %w", err)
	}
	return w, nil
}

// Decide moves a pending request to status.
func (r *Repository) Decide(ctx context.Context, tx pgx.Tx, id string, status Status, adminID, notes string) (Request, error) {
	var notesArg any
	if notes != "" {
		notesArg = notes
	}
	w, err := scanRequest(tx.QueryRow(ctx, `
UPDATE withdrawal_requests
SET status = $2::withdrawal_status, processed_by = $3::uuid, notes = $4, processed_at = now()
WHERE id = $1::uuid AND status = 'pending'
RETURNING `+requestColumns, id, string(status), adminID, notesArg))
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, apperr.State("withdrawal.process", "withdrawal request %s was already processed", id)
	}
	if err != nil {
		return Request{}, fmt.Errorf("withdrawal: decide: %w", err)
	}
	return w, nil
}

func (r *Repository) List(ctx context.Context, q db.Querier, filters Filters) ([]Request, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := []string{"1=1"}
	args := []any{}
	if filters.SpecialistID != "" {
		args = append(args, filters.SpecialistID)
		where = append(where, fmt.Sprintf("specialist_id = $%d::uuid", len(args)))
	}
	if filters.Status != "" {
		args = append(args, string(filters.Status))
		where = append(where, fmt.Sprintf("status = $%d::withdrawal_status", len(args)))
	}
	whereClause := " WHERE " + strings.Join(where, " AND ")

	offset := (filters.Page - 1) * filters.PageSize
	query := fmt.Sprintf(`SELECT %s FROM withdrawal_requests%s ORDER BY created_at, id LIMIT %d OFFSET %d`,
		requestColumns, whereClause, filters.PageSize, offset)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("withdrawal: list: %w", err)
	}
	defer rows.Close()

	out := []Request{}
	for rows.Next() {
		w, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("withdrawal: scan: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("withdrawal: iterate: %w", err)
	}

	var total int
	if err := q.QueryRow(ctx, "SELECT COUNT(*) FROM withdrawal_requests"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("withdrawal: count: %w", err)
	}
	return out, total, nil
}

func scanRequest(row pgx.Row) (Request, error) {
	var (
		w         Request
		amountStr string
		status    string
	)
	if err := row.Scan(&w.ID, &w.SpecialistID, &amountStr, &status, &w.ProcessedBy, &w.Notes, &w.CreatedAt, &w.ProcessedAt); err != nil {
		return Request{}, err
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return Request{}, fmt.Errorf("withdrawal: parse amount: %w", err)
	}
	w.Amount = amount
	w.Status = Status(status)
	return w, nil
}
