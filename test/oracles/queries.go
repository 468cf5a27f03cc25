package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariants checked against a live database. Each query
// returns the offending rows, so an empty result means the invariant holds.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_no_negative_balance",
			SQL:  `SELECT user_id, balance FROM ledger_accounts WHERE balance < 0`,
		},
		{
			Name: "O2_balance_matches_journal",
			SQL: `SELECT a.user_id, a.balance, COALESCE(j.net, 0) AS journal
                  FROM ledger_accounts a
                  LEFT JOIN (
                      SELECT account_id,
                             SUM(CASE WHEN kind = 'credit' THEN amount ELSE -amount END) AS net
                      FROM ledger_entries GROUP BY account_id) j ON j.account_id = a.user_id
                  WHERE a.balance <> COALESCE(j.net, 0)`,
		},
		{
			Name: "O3_journal_running_balance",
			SQL: `WITH chain AS (
                      SELECT account_id, id, kind, amount, balance_after,
                             LAG(balance_after, 1, 0) OVER (PARTITION BY account_id ORDER BY id) AS prev
                      FROM ledger_entries)
                  SELECT * FROM chain
                  WHERE balance_after <> prev + CASE WHEN kind = 'credit' THEN amount ELSE -amount END`,
		},
		{
			Name: "O4_one_open_dispute",
			SQL: `SELECT contract_id, COUNT(*) FROM disputes
                  WHERE status = 'open' GROUP BY contract_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O5_single_payout_per_contract",
			SQL: `WITH payouts AS (
                      SELECT reference_id AS contract_id, account_id FROM ledger_entries
                      WHERE kind = 'credit' AND reference_type = 'contract'
                      UNION ALL
                      SELECT d.contract_id, e.account_id FROM ledger_entries e
                      JOIN disputes d ON d.id = e.reference_id
                      JOIN contracts c ON c.id = d.contract_id
                      WHERE e.kind = 'credit' AND e.reference_type = 'dispute'
                        AND e.account_id = c.specialist_id)
                  SELECT contract_id, COUNT(*) FROM payouts
                  GROUP BY contract_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O6_payout_flag_matches_journal",
			SQL: `SELECT c.id FROM contracts c
                  WHERE c.status = 'completed' AND c.payout_issued = false
                     OR c.payout_issued = true AND NOT EXISTS (
                        SELECT 1 FROM disputes d WHERE d.contract_id = c.id AND d.payout_applied)
                        AND NOT EXISTS (
                        SELECT 1 FROM ledger_entries e
                        WHERE e.reference_type = 'contract' AND e.reference_id = c.id)`,
		},
		{
			Name: "O7_settlement_conserves_price",
			SQL: `SELECT d.id, d.payout_applied FROM disputes d
                  JOIN contracts c ON c.id = d.contract_id
                  WHERE d.status = 'resolved'
                    AND (d.specialist_payment + d.commission + d.requester_refund <> c.final_price
                         OR NOT d.payout_applied AND (d.action <> 'pay' OR d.requester_refund <> 0))`,
		},
		{
			Name: "O8_withdrawal_debited_once",
			SQL: `SELECT w.id, COUNT(e.id) FROM withdrawal_requests w
                  LEFT JOIN ledger_entries e
                         ON e.reference_type = 'withdrawal' AND e.reference_id = w.id AND e.kind = 'debit'
                  GROUP BY w.id, w.status
                  HAVING (w.status = 'completed') <> (COUNT(e.id) = 1) OR COUNT(e.id) > 1`,
		},
		{
			Name: "O9_funded_contracts_assigned",
			SQL: `SELECT id FROM contracts
                  WHERE status IN ('in_progress', 'completed', 'disputed')
                    AND (specialist_id IS NULL OR final_price IS NULL)`,
		},
		{
			Name: "O10_timeline_append_only_guard",
			SQL: `SELECT 'missing_contract_events_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'contract_events_no_update')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
