package persistence

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/live-auction-backend/internal/domain/auction"
	"github.com/davidleathers/live-auction-backend/internal/infrastructure/config"
	"github.com/davidleathers/live-auction-backend/internal/testutil"
	"github.com/davidleathers/live-auction-backend/internal/testutil/containers"
	"github.com/davidleathers/live-auction-backend/internal/testutil/fixtures"
)

func setupPostgres(t *testing.T) (*PostgresGateway, *PostgresScoreStore, *sql.DB) {
	t.Helper()
	ctx := testutil.TestContext(t)
	dsn := containers.Postgres(ctx, t)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, MigrateUp(db))

	logger := zaptest.NewLogger(t)
	pool, err := NewPool(ctx, config.DatabaseConfig{URL: dsn, MaxConns: 4}, logger)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewPostgresGateway(pool, logger), NewPostgresScoreStore(pool), db
}

func TestPostgresGateway_RoundTrip(t *testing.T) {
	g, _, _ := setupPostgres(t)
	ctx := testutil.TestContext(t)

	a1 := fixtures.NewAuctionBuilder().WithLeader("c@x", "b@x").Build()
	a1.CurrentPrice = decimal.RequireFromString("110.55")
	a1.Version = 3
	a2 := fixtures.NewAuctionBuilder().WithID("A2").WithEndsAt(testutil.Epoch.Add(time.Hour)).Finalized().Build()

	require.NoError(t, g.SaveAll(ctx, []auction.Auction{a1, a2}))

	loaded, err := g.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	got := loaded[0]
	assert.Equal(t, "A1", got.ID)
	assert.True(t, got.CurrentPrice.Equal(a1.CurrentPrice))
	assert.Equal(t, []string{"b@x", "c@x"}, got.Participants)
	assert.Equal(t, "c@x", got.HighestBidder)
	assert.Equal(t, uint64(3), got.Version)
	assert.Nil(t, got.EndsAt)

	assert.Equal(t, auction.StatusFinalized, loaded[1].Status)
	require.NotNil(t, loaded[1].EndsAt)
	assert.True(t, loaded[1].EndsAt.Equal(testutil.Epoch.Add(time.Hour)))

	stale := a1.Clone()
	stale.Version = 2
	stale.HighestBidder = "b@x"
	require.NoError(t, g.SaveAll(ctx, []auction.Auction{stale}))

	loaded, err = g.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c@x", loaded[0].HighestBidder, "older versions never overwrite newer rows")
}

func TestPostgresScoreStore(t *testing.T) {
	_, s, db := setupPostgres(t)
	ctx := testutil.TestContext(t)

	_, err := db.ExecContext(ctx, `INSERT INTO users (email) VALUES ('b@x'), ('c@x')`)
	require.NoError(t, err)

	ok, err := s.IncrementWin(ctx, "C@x")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IncrementWin(ctx, "ghost@x")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.AddCurrentWin(ctx, "c@x", "A1", testutil.Epoch)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.AddCurrentWin(ctx, "c@x", "A1", testutil.Epoch)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.AddCurrentWin(ctx, "ghost@x", "A1", testutil.Epoch)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.IncrementLose(ctx, []string{"b@x", "c@x", "ghost@x"}, []string{"c@x"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var win, lose int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT win, lose FROM users WHERE email = 'c@x'`).Scan(&win, &lose))
	assert.Equal(t, 1, win)
	assert.Zero(t, lose)
	require.NoError(t, db.QueryRowContext(ctx, `SELECT win, lose FROM users WHERE email = 'b@x'`).Scan(&win, &lose))
	assert.Zero(t, win)
	assert.Equal(t, 1, lose)
}
