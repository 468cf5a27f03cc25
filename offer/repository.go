package offer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"arcana/apperr"
	"arcana/db"
)

const uniqueOfferConstraint = "offers_one_per_specialist"

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const offerColumns = `id::text, contract_id::text, specialist_id::text, price::text, COALESCE(message, ''), created_at`

// Insert stores o. A second offer from the same specialist on the same
// contract fails with a DuplicateOffer error.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, o Offer) (Offer, error) {
	var message any
	if o.Message != "" {
		message = o.Message
	}
	created, err := scanOffer(tx.QueryRow(ctx, `
INSERT INTO offers (id, contract_id, specialist_id, price, message)
VALUES ($1::uuid, $2::uuid, $3::uuid, $4::numeric, $5)
RETURNING `+offerColumns,
		o.ID, o.ContractID, o.SpecialistID, o.Price.String(), message))
	if err != nil {
		if db.IsUniqueViolation(err, uniqueOfferConstraint) {
			return Offer{}, apperr.DuplicateOffer("offer.submit", "specialist already bid on contract %s", o.ContractID)
		}
		return Offer{}, fmt.Errorf("offer: insert: %w", err)
	}
	return created, nil
}

func (r *Repository) Get(ctx context.Context, q db.Querier, id string) (Offer, error) {
	o, err := scanOffer(q.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1::uuid`, id))
	if errors.Is(err, pgx.ErrNoRows) || db.IsInvalidText(err) {
		return Offer{}, apperr.NotFound("offer.get", "offer %s not found", id)
	}
	if err != nil {
		return Offer{}, fmt.Errorf("offer: get: %w", err)
	}
	return o, nil
}

// ListByContract returns a contract's offers, lowest price first.
func (r *Repository) ListByContract(ctx context.Context, q db.Querier, contractID string) ([]Offer, error) {
	rows, err := q.Query(ctx, `SELECT `+offerColumns+` FROM offers WHERE contract_id = $1::uuid ORDER BY price, created_at`, contractID)
	if err != nil {
		return nil, fmt.Errorf("offer: list: %w", err)
	}
	defer rows.Close()

	list := []Offer{}
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("offer: scan: %w", err)
		}
		list = append(list, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("offer: iterate: %w", err)
	}
	return list, nil
}

func scanOffer(row pgx.Row) (Offer, error) {
	var (
		o        Offer
		priceStr string
	)
	if err := row.Scan(&o.ID, &o.ContractID, &o.SpecialistID, &priceStr, &o.Message, &o.CreatedAt); err != nil {
		return Offer{}, err
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return Offer{}, fmt.Errorf("offer: parse price: %w", err)
	}
	o.Price = price
	return o, nil
}
