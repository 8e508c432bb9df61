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

// All returns the invariant probes run between actor rounds. Each query must
// return zero rows on a healthy database; any row is a violation sample.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_one_live_contract_per_property",
			SQL: `SELECT property_id, COUNT(*) FROM contracts
                  WHERE status IN ('pending_signatures','signed_by_owner','signed_by_counterparty','active')
                  GROUP BY property_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_active_requires_both_signatures",
			SQL: `SELECT id, status FROM contracts
                  WHERE status = 'active'
                    AND (owner_signature IS NULL OR counterparty_signature IS NULL)`,
		},
		{
			Name: "O3_occupied_property_has_active_contract",
			SQL: `SELECT p.id, p.availability_status FROM properties p
                  WHERE p.availability_status IN ('rented','sold')
                    AND NOT EXISTS (
                        SELECT 1 FROM contracts c
                        WHERE c.property_id = p.id AND c.status = 'active')`,
		},
		{
			Name: "O4_rejection_carries_message",
			SQL: `SELECT id FROM properties
                  WHERE approval_status = 'rejected'
                    AND (rejection_message IS NULL OR rejection_message = '')`,
		},
		{
			Name: "O5_terminal_contracts_keep_history",
			SQL: `SELECT c.id FROM contracts c
                  WHERE c.status IN ('cancelled','completed')
                    AND NOT EXISTS (SELECT 1 FROM contract_events e WHERE e.contract_id = c.id)`,
		},
		{
			Name: "O6_signed_status_matches_signatures",
			SQL: `SELECT id, status FROM contracts
                  WHERE (status = 'signed_by_owner' AND owner_signature IS NULL)
                     OR (status = 'signed_by_counterparty' AND counterparty_signature IS NULL)`,
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
	}
	return "", "", nil
}
