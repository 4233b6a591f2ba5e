package testutil

import (
	"context"
	"os/exec"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/workbridge/escrow/internal/store"
)

type PostgresContainer struct {
	Pool      *pgxpool.Pool
	DSN       string
	Terminate func()
}

// StartPostgresContainer runs a migrated postgres in docker. The test is skipped when docker is
// not available, so the memory store tests still run on a bare machine.
func StartPostgresContainer(t *testing.T) PostgresContainer {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container skipped in -short mode")
	}

	cmd := exec.Command("docker", "info", "--format", "{{.ServerVersion}}")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("docker not available: %s", out)
	}

	container, err := postgres.Run(t.Context(),
		"postgres:17-alpine",
		postgres.WithDatabase("escrow-test"),
		postgres.WithUsername("escrow"),
		postgres.WithPassword("pwd"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "start postgres container")

	dsn, err := container.ConnectionString(t.Context(), "sslmode=disable")
	require.NoError(t, err, "postgres connection string")
	t.Logf("Container with pg started, DSN=%v", dsn)

	pool, err := store.ConnectAndMigrate(t.Context(), dsn)
	require.NoError(t, err, "connect and migrate")

	return PostgresContainer{
		Pool: pool,
		DSN:  dsn,
		Terminate: func() {
			pool.Close()
			testcontainers.CleanupContainer(t, container)
		},
	}
}

type beginner interface {
	Begin(context.Context) (pgx.Tx, error)
}

// WithTx runs testFunc in a transaction that is rolled back afterwards.
func WithTx(db beginner, t *testing.T, testFunc func(tx pgx.Tx)) {
	t.Helper()
	tx, err := db.Begin(t.Context())
	require.NoError(t, err)

	defer func() {
		require.NoError(t, tx.Rollback(context.WithoutCancel(t.Context())))
	}()

	testFunc(tx)
}
