// Package containers starts disposable backing services for integration
// tests.
package containers

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresImage = "postgres:16-alpine"
	auctionDB     = "auction_test"
)

// Postgres starts an empty auction database and returns its connection
// string. The test is skipped in -short mode or when no container runtime is
// reachable; the container is removed when the test ends.
func Postgres(ctx context.Context, t testing.TB) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres integration test in short mode")
	}

	c, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase(auctionDB),
		postgres.WithUsername("auction"),
		postgres.WithPassword("auction"),
		testcontainers.WithWaitStrategy(
			// Postgres logs readiness twice: once for the init run, once for
			// the real server.
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, c)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("postgres connection string: %v", err)
	}
	return dsn
}
