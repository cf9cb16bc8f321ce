package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TerminateRandomBackend periodically kills one backend of the current
// database, so in-flight case transactions fail midway and must roll back.
func TerminateRandomBackend(ctx context.Context, pool *pgxpool.Pool, every time.Duration, stop <-chan struct{}) {
	if every <= 0 {
		every = 2 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.Intn(5) == 0 {
				_, _ = pool.Exec(ctx, `SELECT pg_terminate_backend(pid) FROM pg_stat_activity
                                       WHERE datname = current_database() AND pid <> pg_backend_pid()
                                         AND backend_type = 'client backend'
                                       ORDER BY random() LIMIT 1`)
			}
		}
	}
}
