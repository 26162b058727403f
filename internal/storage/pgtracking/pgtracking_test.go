package pgtracking

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/parcelwatch/internal/storage"
	"github.com/BearBump/parcelwatch/internal/storage/storagetest"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPGTracking_Store(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "parcelwatch_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/parcelwatch_test?sslmode=disable"
	st, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	require.NoError(t, st.Ping(ctx))

	// Schema creation must be repeatable.
	require.NoError(t, st.initSchema(ctx))

	storagetest.Run(t, func(t *testing.T) storage.Store {
		_, err := st.db.Exec(ctx, `TRUNCATE subscriptions, packages RESTART IDENTITY CASCADE`)
		require.NoError(t, err)
		return st
	})
}
