package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/guillermoBallester/rowguard/internal/adapter/postgres"
	"github.com/guillermoBallester/rowguard/internal/core/domain"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const testSchema = `
	CREATE TABLE users (
		id         SERIAL PRIMARY KEY,
		email      TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	INSERT INTO users (email)
	SELECT 'user' || i || '@example.com' FROM generate_series(1, 10) AS i;
`

// setupTestDB starts PostgreSQL and returns a pool whose tracer feeds the
// context registry, the same way the server wires it.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := postgres.NewPool(ctx, connStr, postgres.PoolOptions{
		MaxConns: 4,
		Listener: domain.RegistryListener{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	_, err = pool.Exec(ctx, testSchema)
	require.NoError(t, err)

	return pool
}
