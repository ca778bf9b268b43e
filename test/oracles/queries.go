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

// All returns the invariant checks run against a live database while the
// actors race. Any returned row is a violation.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_winning_response",
			SQL: `SELECT placement_request_id, COUNT(*) FROM placement_responses
                  WHERE status = 'accepted'
                  GROUP BY placement_request_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_pet_has_active_owner",
			SQL: `SELECT p.id FROM pets p
                  WHERE NOT EXISTS (
                      SELECT 1 FROM pet_relationships r
                      WHERE r.pet_id = p.id
                        AND r.relationship_type = 'owner'
                        AND r.end_at IS NULL)`,
		},
		{
			Name: "O3_no_duplicate_active_edges",
			SQL: `SELECT user_id, pet_id, relationship_type, COUNT(*)
                  FROM pet_relationships
                  WHERE end_at IS NULL
                  GROUP BY user_id, pet_id, relationship_type
                  HAVING COUNT(*) > 1`,
		},
		{
			Name: "O4_confirmed_transfer_settles_placement",
			SQL: `SELECT t.id FROM transfer_requests t
                  JOIN placement_requests pr ON pr.id = t.placement_request_id
                  WHERE t.status = 'confirmed'
                    AND (pr.status NOT IN ('active','finalized')
                         OR pr.fulfilled_by_transfer_request_id IS NULL)`,
		},
		{
			Name: "O5_single_live_transfer_per_placement",
			SQL: `SELECT placement_request_id, COUNT(*) FROM transfer_requests
                  WHERE status IN ('pending','accepted','confirmed')
                  GROUP BY placement_request_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O6_accepted_transfer_has_handover",
			SQL: `SELECT t.id FROM transfer_requests t
                  WHERE t.status IN ('accepted','confirmed')
                    AND t.accepted_at IS NOT NULL
                    AND NOT EXISTS (
                        SELECT 1 FROM transfer_handovers h
                        WHERE h.transfer_request_id = t.id)`,
		},
		{
			Name: "O7_confirmed_transfer_has_ledger_edge",
			SQL: `SELECT t.id FROM transfer_requests t
                  WHERE t.status = 'confirmed'
                    AND NOT EXISTS (
                        SELECT 1 FROM pet_relationships r
                        WHERE r.pet_id = t.pet_id
                          AND r.user_id = t.to_user_id
                          AND r.relationship_type IN ('owner','foster')
                          AND r.end_at IS NULL)`,
		},
		{
			Name: "O8_outbox_not_stale",
			SQL: `SELECT id::text FROM outbox
                  WHERE status = 'pending'
                    AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O9_closed_transfer_reopens_placement",
			SQL: `SELECT pr.id FROM placement_requests pr
                  WHERE pr.status = 'pending_transfer'
                    AND NOT EXISTS (
                        SELECT 1 FROM transfer_requests t
                        WHERE t.placement_request_id = pr.id
                          AND t.status = 'pending')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or empty name if all pass.
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
