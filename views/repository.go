package views

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"arcana/apperr"
	"arcana/auth"
	"arcana/contract"
	"arcana/db"
	"arcana/dispute"
)

// Repository assembles the read-side aggregates with join queries.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// ContractWithParties loads a contract with its requester, specialist,
// offer count and any open dispute. Events are left empty.
func (r *Repository) ContractWithParties(ctx context.Context, q db.Querier, contractID string) (ContractWithParties, error) {
	query := `
SELECT ` + contract.Columns + `,
       req.full_name, req.role::text, req.verified,
       COALESCE(spec.full_name, ''), COALESCE(spec.role::text, ''), COALESCE(spec.verified, false),
       (SELECT COUNT(*) FROM offers o WHERE o.contract_id = contracts.id),
       COALESCE((SELECT d.id::text FROM disputes d WHERE d.contract_id = contracts.id AND d.status = 'open'), '')
FROM contracts
JOIN users req ON req.id = contracts.requester_id
LEFT JOIN users spec ON spec.id = contracts.specialist_id
WHERE contracts.id = $1::uuid`

	var (
		view              ContractWithParties
		reqRole, specRole string
		specName          string
		specVerified      bool
	)
	c, err := contract.ScanRow(q.QueryRow(ctx, query, contractID),
		&view.Requester.FullName, &reqRole, &view.Requester.Verified,
		&specName, &specRole, &specVerified,
		&view.OfferCount, &view.OpenDisputeID,
	)
	if errors.Is(err, pgx.ErrNoRows) || db.IsInvalidText(err) {
		return ContractWithParties{}, apperr.NotFound("views.contract", "contract %s not found", contractID)
	}
	if err != nil {
		return ContractWithParties{}, fmt.Errorf("views: contract with parties: %w", err)
	}

	view.Contract = c
	view.Requester.ID = c.RequesterID
	view.Requester.Role = auth.Role(reqRole)
	if c.SpecialistID != "" {
		view.Specialist = &Party{ID: c.SpecialistID, FullName: specName, Role: auth.Role(specRole), Verified: specVerified}
	}
	return view, nil
}

// DisputeWithContext loads a dispute with the contract it concerns and
// the names of everyone involved.
func (r *Repository) DisputeWithContext(ctx context.Context, q db.Querier, disputeID string) (DisputeWithContext, error) {
	query := `
SELECT ` + dispute.Columns + `,
       contracts.title, contracts.status::text, contracts.final_price::text, contracts.payout_issued,
       contracts.completed_at, contracts.requester_id::text, COALESCE(contracts.specialist_id::text, ''),
       req.full_name, COALESCE(spec.full_name, ''),
       ini.full_name, ini.role::text
FROM disputes
JOIN contracts ON contracts.id = disputes.contract_id
JOIN users req ON req.id = contracts.requester_id
LEFT JOIN users spec ON spec.id = contracts.specialist_id
JOIN users ini ON ini.id = disputes.initiator_id
WHERE disputes.id = $1::uuid`

	var (
		view       DisputeWithContext
		status     string
		finalPrice *string
		iniRole    string
	)
	sum := &view.Contract
	d, err := dispute.ScanRow(q.QueryRow(ctx, query, disputeID),
		&sum.Title, &status, &finalPrice, &sum.PayoutIssued,
		&sum.CompletedAt, &sum.Requester.ID, &sum.Specialist.ID,
		&sum.Requester.FullName, &sum.Specialist.FullName,
		&view.Initiator.FullName, &iniRole,
	)
	if errors.Is(err, pgx.ErrNoRows) || db.IsInvalidText(err) {
		return DisputeWithContext{}, apperr.NotFound("views.dispute", "dispute %s not found", disputeID)
	}
	if err != nil {
		return DisputeWithContext{}, fmt.Errorf("views: dispute with context: %w", err)
	}

	view.Dispute = d
	sum.ID = d.ContractID
	sum.Status = contract.Status(status)
	sum.Requester.Role = auth.RoleStudent
	sum.Specialist.Role = auth.RoleSpecialist
	if finalPrice != nil {
		price, err := decimal.NewFromString(*finalPrice)
		if err != nil {
			return DisputeWithContext{}, fmt.Errorf("views: parse final price: %w", err)
		}
		sum.FinalPrice = decimal.NewNullDecimal(price)
	}
	view.Initiator.ID = d.InitiatorID
	view.Initiator.Role = auth.Role(iniRole)
	return view, nil
}
