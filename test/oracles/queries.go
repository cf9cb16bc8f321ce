package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
	Args []any
}

// All returns the invariant queries; each must return zero rows.
func All(counterQuota int) []Oracle {
	return []Oracle{
		{
			Name: "O1_one_initial_per_side",
			SQL: `SELECT case_id, side, COUNT(*) FROM case_arguments
                  WHERE type = 'initial'
                  GROUP BY case_id, side HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_counter_quota",
			SQL: `SELECT case_id, side, COUNT(*) FROM case_arguments
                  WHERE type = 'counter'
                  GROUP BY case_id, side HAVING COUNT(*) > $1`,
			Args: []any{counterQuota},
		},
		{
			Name: "O3_counter_follows_initial",
			SQL: `SELECT c.id FROM case_arguments c
                  WHERE c.type = 'counter'
                    AND NOT EXISTS (
                        SELECT 1 FROM case_arguments i
                        WHERE i.case_id = c.case_id AND i.side = c.side
                          AND i.type = 'initial' AND i.created_at <= c.created_at)`,
		},
		{
			Name: "O4_no_argument_after_close",
			SQL: `SELECT a.id FROM case_arguments a
                  JOIN case_decisions d ON d.case_id = a.case_id AND d.final
                  WHERE a.created_at > d.created_at`,
		},
		{
			Name: "O5_single_final_decision",
			SQL: `SELECT case_id, COUNT(*) FROM case_decisions
                  WHERE final GROUP BY case_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O6_closed_iff_final",
			SQL: `SELECT c.id, c.phase, c.status FROM cases c
                  WHERE (c.phase = 'closed') <> EXISTS (
                      SELECT 1 FROM case_decisions d WHERE d.case_id = c.id AND d.final)`,
		},
		{
			Name: "O7_timeline_seq_dense",
			SQL: `SELECT case_id, MAX(seq), COUNT(*) FROM case_timeline
                  GROUP BY case_id HAVING MAX(seq) <> COUNT(*)`,
		},
		{
			Name: "O8_append_only_guard",
			SQL: `SELECT 'missing_append_only_trigger' AS detail
                  WHERE (SELECT COUNT(*) FROM pg_trigger
                         WHERE tgname IN ('case_arguments_append_only',
                                          'case_decisions_append_only',
                                          'case_timeline_append_only')) < 3`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool, counterQuota int) (string, string, error) {
	for _, o := range All(counterQuota) {
		rows, err := pool.Query(ctx, o.SQL, o.Args...)
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
		err = rows.Err()
		rows.Close()
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
