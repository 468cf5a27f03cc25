package contract

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

// Transition describes one compare-and-set on a contract row. The update
// applies only while the row is still in From, and when IssuePayout is set,
// only while no payout has been issued.
type Transition struct {
	From         Status
	To           Status
	SpecialistID string
	FinalPrice   decimal.NullDecimal
	Complete     bool
	IssuePayout  bool
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Columns is the contract projection, qualified so it can sit in a join.
const Columns = `contracts.id::text, contracts.requester_id::text, COALESCE(contracts.specialist_id::text, ''),
contracts.title, contracts.description, contracts.tags, contracts.service_kind::text,
contracts.initial_price::text, contracts.final_price::text, contracts.status::text, contracts.payout_issued,
contracts.file_refs, contracts.created_at, contracts.updated_at, contracts.completed_at`

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, c Contract) (Contract, error) {
	insertSQL := `
INSERT INTO contracts (id, requester_id, title, description, tags, service_kind, initial_price, file_refs)
VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6::service_kind, $7::numeric, $8)
RETURNING ` + Columns

	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	files := c.FileRefs
	if files == nil {
		files = []string{}
	}
	created, err := scanContract(tx.QueryRow(ctx, insertSQL,
		c.ID, c.RequesterID, c.Title, c.Description, tags, string(c.ServiceKind), c.InitialPrice.String(), files))
	if err != nil {
		return Contract{}, fmt.Errorf("contract: insert: %w", err)
	}
	return created, nil
}

func (r *Repository) Get(ctx context.Context, q db.Querier, id string) (Contract, error) {
	c, err := scanContract(q.QueryRow(ctx, `SELECT `+Columns+` FROM contracts WHERE id = $1::uuid`, id))
	if errors.Is(err, pgx.ErrNoRows) || db.IsInvalidText(err) {
		return Contract{}, apperr.NotFound("contract.get", "contract %s not found", id)
	}
	if err != nil {
		return Contract{}, fmt.Errorf("contract: get: %w", err)
	}
	return c, nil
}

// CompareAndSet applies t atomically. A lost race surfaces as a State error
// naming the status the contract is actually in.
func (r *Repository) CompareAndSet(ctx context.Context, tx pgx.Tx, id string, t Transition) (Contract, error) {
	const op = "contract.transition"
	if !CanTransition(t.From, t.To) {
		return Contract{}, apperr.State(op, "transition %s -> %s is not allowed", t.From, t.To)
	}

	var specialistID, finalPrice any
	if t.SpecialistID != "" {
		specialistID = t.SpecialistID
	}
	if t.FinalPrice.Valid {
		finalPrice = t.FinalPrice.Decimal.String()
	}

	updateSQL := `
UPDATE contracts
SET status = $3::contract_status,
    specialist_id = COALESCE($4::uuid, specialist_id),
    final_price = COALESCE($5::numeric, final_price),
    completed_at = CASE WHEN $6::boolean THEN now() ELSE completed_at END,
    payout_issued = payout_issued OR $7::boolean,
    updated_at = now()
WHERE id = $1::uuid
  AND status = $2::contract_status
  AND NOT (payout_issued AND $7::boolean)
RETURNING ` + Columns

	updated, err := scanContract(tx.QueryRow(ctx, updateSQL,
		id, string(t.From), string(t.To), specialistID, finalPrice, t.Complete, t.IssuePayout))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Contract{}, fmt.Errorf("contract: compare and set: %w", err)
	}

	current, getErr := r.Get(ctx, tx, id)
	if getErr != nil {
		return Contract{}, getErr
	}
	if current.Status != t.From {
		return Contract{}, apperr.State(op, "contract %s is %s, expected %s", id, current.Status, t.From)
	}
	return Contract{}, apperr.State(op, "contract %s has already been paid out", id)
}

// MarkPayoutIssued sets the payout flag and reports whether this call set it.
func (r *Repository) MarkPayoutIssued(ctx context.Context, tx pgx.Tx, id string) (bool, error) {
	var got string
	err := tx.QueryRow(ctx, `
UPDATE contracts SET payout_issued = true, updated_at = now()
WHERE id = $1::uuid AND NOT payout_issued
RETURNING id::text`, id).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("contract: mark payout issued: %w", err)
	}
	return true, nil
}

// HoldOpen share-locks the contract for the rest of tx and returns its
// requester, failing unless the contract is open. Acceptance and
// cancellation wait for the lock, so an offer that gets in is never late.
func (r *Repository) HoldOpen(ctx context.Context, tx pgx.Tx, id string) (string, error) {
	var status, requesterID string
	err := tx.QueryRow(ctx, `SELECT status::text, requester_id::text FROM contracts WHERE id = $1::uuid FOR SHARE`, id).
		Scan(&status, &requesterID)
	if errors.Is(err, pgx.ErrNoRows) || db.IsInvalidText(err) {
		return "", apperr.NotFound("contract.hold", "contract %s not found", id)
	}
	if err != nil {
		return "", fmt.Errorf("contract: lock for offer: %w", err)
	}
	if Status(status) != StatusOpen {
		return "", apperr.State("contract.hold", "contract %s is no longer accepting offers", id)
	}
	return requesterID, nil
}

func (r *Repository) List(ctx context.Context, q db.Querier, filters Filters) ([]Contract, int, error) {
	filters = normalizeFilters(filters)

	where := []string{"1=1"}
	args := []any{}
	if filters.RequesterID != "" {
		args = append(args, filters.RequesterID)
		where = append(where, fmt.Sprintf("requester_id = $%d::uuid", len(args)))
	}
	if filters.SpecialistID != "" {
		args = append(args, filters.SpecialistID)
		where = append(where, fmt.Sprintf("specialist_id = $%d::uuid", len(args)))
	}
	if filters.Status != "" {
		args = append(args, string(filters.Status))
		where = append(where, fmt.Sprintf("status = $%d::contract_status", len(args)))
	}
	whereClause := " WHERE " + strings.Join(where, " AND ")

	offset := (filters.Page - 1) * filters.PageSize
	query := fmt.Sprintf(`SELECT %s FROM contracts%s ORDER BY created_at DESC, id LIMIT %d OFFSET %d`,
		Columns, whereClause, filters.PageSize, offset)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("contract: query list: %w", err)
	}
	defer rows.Close()

	list := []Contract{}
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("contract: scan list: %w", err)
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("contract: iterate list: %w", err)
	}

	var total int
	if err := q.QueryRow(ctx, "SELECT COUNT(*) FROM contracts"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("contract: count list: %w", err)
	}
	return list, total, nil
}

func normalizeFilters(f Filters) Filters {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > 100 {
		f.PageSize = 20
	}
	return f
}

func scanContract(row pgx.Row) (Contract, error) {
	return ScanRow(row)
}

// ScanRow reads a row that starts with Columns; extra receives any
// trailing columns.
func ScanRow(row pgx.Row, extra ...any) (Contract, error) {
	var (
		c          Contract
		kind       string
		status     string
		initialStr string
		finalStr   *string
	)
	dest := []any{
		&c.ID,
		&c.RequesterID,
		&c.SpecialistID,
		&c.Title,
		&c.Description,
		&c.Tags,
		&kind,
		&initialStr,
		&finalStr,
		&status,
		&c.PayoutIssued,
		&c.FileRefs,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.CompletedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	if err != nil {
		return Contract{}, err
	}
	c.ServiceKind = ServiceKind(kind)
	c.Status = Status(status)
	if c.InitialPrice, err = decimal.NewFromString(initialStr); err != nil {
		return Contract{}, fmt.Errorf("contract: parse initial price: %w", err)
	}
	if finalStr != nil {
		d, err := decimal.NewFromString(*finalStr)
		if err != nil {
			return Contract{}, fmt.Errorf("contract: parse final price: %w", err)
		}
		c.FinalPrice = decimal.NewNullDecimal(d)
	}
	return c, nil
}
