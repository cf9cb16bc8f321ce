package db

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Migrate applies every .sql file of fsys in lexical order. Files must be
// idempotent; there is no version table.
func Migrate(ctx context.Context, db Execer, fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("db: read migrations: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	applied := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}

		data, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return applied, fmt.Errorf("db: read %s: %w", e.Name(), err)
		}
		if _, err := db.Exec(ctx, string(data)); err != nil {
			return applied, fmt.Errorf("db: apply %s: %w", e.Name(), err)
		}
		applied = append(applied, e.Name())
	}

	return applied, nil
}
