package infra

import (
	"context"
	"os"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// DSNEnv names the variable that points the stress run at an existing database.
const DSNEnv = "JURISFLOW_STRESS_DSN"

type PGContainer struct {
	C *postgres.PostgresContainer
}

// StartPostgres starts a Postgres 16 container and returns its DSN. When
// overrideDSN or JURISFLOW_STRESS_DSN is set that database is reused and shared
// reports true.
func StartPostgres(ctx context.Context, overrideDSN string) (pg *PGContainer, dsn string, shared bool, err error) {
	if overrideDSN != "" {
		return &PGContainer{}, overrideDSN, true, nil
	}
	if dsn := os.Getenv(DSNEnv); dsn != "" {
		return &PGContainer{}, dsn, true, nil
	}

	pgC, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("jurisflow"),
		postgres.WithUsername("jurisflow"),
		postgres.WithPassword("jurisflow"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, "", false, err
	}

	dsn, err = pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, "", false, err
	}
	return &PGContainer{C: pgC}, dsn, false, nil
}

func (p *PGContainer) Terminate(ctx context.Context) error {
	if p == nil || p.C == nil {
		return nil
	}
	return p.C.Terminate(ctx)
}
