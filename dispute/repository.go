package dispute

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

const openDisputeIndex = "disputes_one_open_per_contract"

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Columns is the dispute projection, qualified so it can sit in a join.
const Columns = `disputes.id::text, disputes.contract_id::text, disputes.initiator_id::text, disputes.reason,
disputes.status::text, COALESCE(disputes.action, ''), COALESCE(disputes.resolution_notes, ''),
COALESCE(disputes.resolved_by::text, ''), disputes.resolved_at, disputes.payout_base::text,
disputes.specialist_payment::text, disputes.commission::text, disputes.requester_refund::text,
COALESCE(disputes.payout_applied, false), disputes.created_at`

// Insert stores an open dispute. The partial unique index allows one open
// dispute per contract; a second one fails with a State error.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, d Dispute) (Dispute, error) {
	created, err := scanDispute(tx.QueryRow(ctx, `
INSERT INTO disputes (id, contract_id, initiator_id, reason, status)
VALUES ($1::uuid, $2::uuid, $3::uuid, $4, 'open')
RETURNING `+Columns, d.ID, d.ContractID, d.InitiatorID, d.Reason))
	if err != nil {
		if db.IsUniqueViolation(err, openDisputeIndex) {
			return Dispute{}, apperr.State("dispute.open", "contract %s already has an open dispute", d.ContractID)
		}
		return Dispute{}, fmt.Errorf("dispute: insert: %w", err)
	}
	return created, nil
}

func (r *Repository) Get(ctx context.Context, q db.Querier, id string) (Dispute, error) {
	return r.get(ctx, q, id, "")
}

// GetForUpdate locks the dispute row for the rest of tx.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Dispute, error) {
	return r.get(ctx, tx, id, " FOR UPDATE")
}

func (r *Repository) get(ctx context.Context, q db.Querier, id, suffix string) (Dispute, error) {
	d, err := scanDispute(q.QueryRow(ctx, `SELECT `+Columns+` FROM disputes WHERE id = $1::uuid`+suffix, id))
	if errors.Is(err, pgx.ErrNoRows) || db.IsInvalidText(err) {
		return Dispute{}, apperr.NotFound("dispute.get", "dispute %s not found", id)
	}
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: get: %w", err)
	}
	return d, nil
}

// Resolve moves an open dispute to resolved and stores the settlement.
func (r *Repository) Resolve(ctx context.Context, tx pgx.Tx, id string, res Resolution) (Dispute, error) {
	var notes any
	if res.Notes != "" {
		notes = res.Notes
	}
	s := res.Settlement
	resolved, err := scanDispute(tx.QueryRow(ctx, `
UPDATE disputes
SET status = 'resolved',
    action = $2,
    resolution_notes = $3,
    resolved_by = $4::uuid,
    resolved_at = now(),
    payout_base = $5::numeric,
    specialist_payment = $6::numeric,
    commission = $7::numeric,
    requester_refund = $8::numeric,
    payout_applied = $9
WHERE id = $1::uuid AND status = 'open'
RETURNING `+Columns,
		id, string(res.Action), notes, res.ResolvedBy,
		s.PayoutBase.String(), s.SpecialistPayment.String(), s.Commission.String(), s.RequesterRefund.String(),
		res.PayoutApplied))
	if errors.Is(err, pgx.ErrNoRows) {
		return Dispute{}, apperr.State("dispute.resolve", "dispute %s is already resolved", id)
	}
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: resolve: %w", err)
	}
	return resolved, nil
}

func (r *Repository) List(ctx context.Context, q db.Querier, filters Filters) ([]Dispute, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := []string{"1=1"}
	args := []any{}
	if filters.Status != "" {
		args = append(args, string(filters.Status))
		where = append(where, fmt.Sprintf("status = $%d::dispute_status", len(args)))
	}
	if filters.ContractID != "" {
		args = append(args, filters.ContractID)
		where = append(where, fmt.Sprintf("contract_id = $%d::uuid", len(args)))
	}
	whereClause := " WHERE " + strings.Join(where, " AND ")

	offset := (filters.Page - 1) * filters.PageSize
	query := fmt.Sprintf(`SELECT %s FROM disputes%s ORDER BY created_at DESC, id LIMIT %d OFFSET %d`,
		Columns, whereClause, filters.PageSize, offset)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Dispute, 0, 8)
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("dispute: iterate: %w", err)
	}

	var total int
	if err := q.QueryRow(ctx, "SELECT COUNT(*) FROM disputes"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("dispute: count: %w", err)
	}
	return out, total, nil
}

func scanDispute(row pgx.Row) (Dispute, error) {
	return ScanRow(row)
}

// ScanRow reads a row that starts with Columns; extra receives any
// trailing columns.
func ScanRow(row pgx.Row, extra ...any) (Dispute, error) {
	var (
		d                                 Dispute
		status, action                    string
		base, payment, commission, refund *string
	)
	dest := []any{
		&d.ID,
		&d.ContractID,
		&d.InitiatorID,
		&d.Reason,
		&status,
		&action,
		&d.ResolutionNotes,
		&d.ResolvedBy,
		&d.ResolvedAt,
		&base,
		&payment,
		&commission,
		&refund,
		&d.PayoutApplied,
		&d.CreatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	if err != nil {
		return Dispute{}, err
	}
	d.Status = Status(status)
	d.Action = Action(action)

	if base != nil {
		var s Settlement
		for _, f := range []struct {
			dst *decimal.Decimal
			src *string
		}{
			{&s.PayoutBase, base},
			{&s.SpecialistPayment, payment},
			{&s.Commission, commission},
			{&s.RequesterRefund, refund},
		} {
			if f.src == nil {
				continue
			}
			v, err := decimal.NewFromString(*f.src)
			if err != nil {
				return Dispute{}, fmt.Errorf("dispute: parse settlement: %w", err)
			}
			*f.dst = v
		}
		d.Settlement = &s
	}
	return d, nil
}
