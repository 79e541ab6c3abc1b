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

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_dispute_resolved_once",
			SQL: `SELECT payload->>'dispute_id', COUNT(*) FROM outbox
                  WHERE topic = 'team.dispute_resolved'
                  GROUP BY 1 HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_dispute_resolution_stamp",
			SQL: `SELECT id, status, resolved_at FROM team_disputes
                  WHERE (status = 'OPEN') <> (resolved_at IS NULL)`,
		},
		{
			Name: "O3_separation_executed_once",
			SQL: `SELECT entity_id, COUNT(*) FROM audit_logs
                  WHERE action = 'SEPARATION_EXECUTED'
                  GROUP BY entity_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O4_executed_snapshot_written",
			SQL: `SELECT id FROM team_separations
                  WHERE status = 'EXECUTED' AND (executed_at IS NULL OR execution_results IS NULL)`,
		},
		{
			Name: "O5_final_attempt_fully_applied",
			SQL: `SELECT s.id, st.seq, st.status FROM team_separations s
                  JOIN separation_steps st ON st.separation_id = s.id AND st.attempt = s.execution_attempts
                  WHERE s.status = 'EXECUTED' AND st.status <> 'APPLIED'`,
		},
		{
			Name: "O6_vote_after_close",
			SQL: `SELECT v.dispute_id, v.user_id FROM dispute_votes v
                  JOIN team_disputes d ON d.id = v.dispute_id
                  WHERE d.resolved_at IS NOT NULL AND v.updated_at > d.resolved_at`,
		},
		{
			Name: "O7_member_status_stamp",
			SQL: `SELECT team_id, user_id FROM team_members
                  WHERE (status = 'ACTIVE') <> (left_at IS NULL)`,
		},
		{
			Name: "O8_outbox_stale",
			SQL: `SELECT id FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
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
