package infra

import (
	"context"
	"fmt"
	"os"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// DSNEnv names an existing database the harness reuses instead of starting a container.
const DSNEnv = "STRESS_TEST_PG_DSN"

const (
	containerImage    = "postgres:16-alpine"
	containerDatabase = "founders"
	containerUser     = "founders"
	containerPassword = "founders"
)

// PGContainer owns the Postgres container started for a run. The zero value
// stands for a database the harness did not start and must not stop.
type PGContainer struct {
	C *postgres.PostgresContainer
}

// StartPostgres returns a DSN for the run, starting a container unless
// overrideDSN or DSNEnv points at an existing database. Connections opened
// from the DSN carry AppName.
func StartPostgres(ctx context.Context, overrideDSN string) (*PGContainer, string, error) {
	for _, dsn := range []string{overrideDSN, os.Getenv(DSNEnv)} {
		if dsn != "" {
			return &PGContainer{}, dsn, nil
		}
	}

	pgC, err := postgres.Run(ctx, containerImage,
		postgres.WithDatabase(containerDatabase),
		postgres.WithUsername(containerUser),
		postgres.WithPassword(containerPassword),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, "", fmt.Errorf("start %s: %w", containerImage, err)
	}

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable", "application_name="+AppName)
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, "", fmt.Errorf("container dsn: %w", err)
	}
	return &PGContainer{C: pgC}, dsn, nil
}

func (p *PGContainer) Terminate(ctx context.Context) error {
	if p == nil || p.C == nil {
		return nil
	}
	return p.C.Terminate(ctx)
}
