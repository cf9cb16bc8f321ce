package infra

import (
	"context"
	"fmt"
	"time"

	"jurisflow/db"
	"jurisflow/migrations"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Harness owns the lifecycle of the stress database and its pgx pool.
type Harness struct {
	container *PGContainer
	pool      *pgxpool.Pool
	dsn       string
	teardown  func(context.Context) error
}

// NewHarness boots or reuses Postgres and applies the embedded schema. A reused
// database gets a per-run schema so concurrent runs do not collide.
func NewHarness(ctx context.Context, overrideDSN string) (*Harness, error) {
	pgC, dsn, shared, err := StartPostgres(ctx, overrideDSN)
	if err != nil {
		return nil, fmt.Errorf("start postgres: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	cfg.MaxConns = 64
	cfg.MaxConnIdleTime = 30 * time.Second
	cfg.MaxConnLifetime = 5 * time.Minute

	h := &Harness{
		container: pgC,
		dsn:       dsn,
		teardown:  func(context.Context) error { return nil },
	}

	if shared {
		schema := fmt.Sprintf("stress_run_%d", time.Now().UnixNano())
		if err := h.isolate(ctx, cfg, schema); err != nil {
			_ = pgC.Terminate(ctx)
			return nil, err
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		h.Close(ctx)
		return nil, fmt.Errorf("create pool: %w", err)
	}
	h.pool = pool

	if _, err := db.Migrate(ctx, pool, migrations.Files); err != nil {
		h.Close(ctx)
		return nil, err
	}
	return h, nil
}

func (h *Harness) isolate(ctx context.Context, cfg *pgxpool.Config, schema string) error {
	ident := pgx.Identifier{schema}.Sanitize()

	conn, err := pgx.Connect(ctx, h.dsn)
	if err != nil {
		return fmt.Errorf("connect for schema: %w", err)
	}
	defer conn.Close(ctx)
	if _, err := conn.Exec(ctx, "CREATE SCHEMA "+ident); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	setPath := "SET search_path TO " + ident + ", public"
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, setPath)
		return err
	}

	dsn := h.dsn
	h.teardown = func(ctx context.Context) error {
		dropConn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return err
		}
		defer dropConn.Close(ctx)
		_, err = dropConn.Exec(ctx, "DROP SCHEMA IF EXISTS "+ident+" CASCADE")
		return err
	}
	return nil
}

// Pool exposes the configured pgx pool.
func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// DSN returns the connection string for direct connections.
func (h *Harness) DSN() string {
	return h.dsn
}

// Close drops any per-run schema and tears down resources.
func (h *Harness) Close(ctx context.Context) {
	if h.pool != nil {
		h.pool.Close()
	}
	if h.teardown != nil {
		_ = h.teardown(ctx)
	}
	if h.container != nil {
		_ = h.container.Terminate(ctx)
	}
}

// Reset truncates the case tables to give the next epoch a clean slate.
func (h *Harness) Reset(ctx context.Context) error {
	tables := []string{
		"case_timeline",
		"case_decisions",
		"case_arguments",
		"case_documents",
		"cases",
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, tbl := range tables {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+tbl+" CASCADE"); err != nil {
			return fmt.Errorf("truncate %s: %w", tbl, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reset commit: %w", err)
	}
	return nil
}
