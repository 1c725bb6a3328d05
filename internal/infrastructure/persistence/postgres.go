package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/davidleathers/live-auction-backend/internal/domain/auction"
	"github.com/davidleathers/live-auction-backend/internal/infrastructure/config"
)

// NewPool opens and pings a pgx pool.
func NewPool(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	poolCfg.HealthCheckPeriod = time.Minute

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database pool ready",
		zap.Int32("max_conns", poolCfg.MaxConns),
		zap.Int32("min_conns", poolCfg.MinConns),
	)
	return pool, nil
}

// PostgresGateway stores auctions in the auctions table.
type PostgresGateway struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresGateway(pool *pgxpool.Pool, logger *zap.Logger) *PostgresGateway {
	return &PostgresGateway{pool: pool, logger: logger}
}

const selectAuctions = `
	SELECT id, title, description, category,
	       current_price::text, increment::text, price_cap::text,
	       owner, highest_bidder, participants, bid_count,
	       started_at, ends_at, finalized_at, status, version
	FROM auctions
	ORDER BY id`

func (g *PostgresGateway) LoadAll(ctx context.Context) ([]auction.Auction, error) {
	rows, err := g.pool.Query(ctx, selectAuctions)
	if err != nil {
		return nil, fmt.Errorf("failed to query auctions: %w", err)
	}
	defer rows.Close()

	var out []auction.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read auctions: %w", err)
	}
	return out, nil
}

func scanAuction(row pgx.Row) (auction.Auction, error) {
	var (
		a                          auction.Auction
		price, increment, priceCap string
		status                     string
		version                    int64
	)
	err := row.Scan(
		&a.ID, &a.Title, &a.Description, &a.Category,
		&price, &increment, &priceCap,
		&a.Owner, &a.HighestBidder, &a.Participants, &a.BidCount,
		&a.StartedAt, &a.EndsAt, &a.FinalizedAt, &status, &version,
	)
	if err != nil {
		return a, fmt.Errorf("failed to scan auction: %w", err)
	}

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{{&a.CurrentPrice, price}, {&a.Increment, increment}, {&a.PriceCap, priceCap}} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return a, fmt.Errorf("auction %s: invalid numeric %q: %w", a.ID, f.src, err)
		}
	}
	if err := a.Status.UnmarshalText([]byte(status)); err != nil {
		return a, err
	}
	a.Version = uint64(version)
	if a.Participants == nil {
		a.Participants = []string{}
	}
	return a, nil
}

// upsertAuction never lets an older version replace a newer row.
const upsertAuction = `
	INSERT INTO auctions (
		id, title, description, category,
		current_price, increment, price_cap,
		owner, highest_bidder, participants, bid_count,
		started_at, ends_at, finalized_at, status, version
	) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title,
		description = EXCLUDED.description,
		category = EXCLUDED.category,
		current_price = EXCLUDED.current_price,
		increment = EXCLUDED.increment,
		price_cap = EXCLUDED.price_cap,
		owner = EXCLUDED.owner,
		highest_bidder = EXCLUDED.highest_bidder,
		participants = EXCLUDED.participants,
		bid_count = EXCLUDED.bid_count,
		started_at = EXCLUDED.started_at,
		ends_at = EXCLUDED.ends_at,
		finalized_at = EXCLUDED.finalized_at,
		status = EXCLUDED.status,
		version = EXCLUDED.version
	WHERE auctions.version <= EXCLUDED.version`

// SaveAll upserts every auction in one transaction.
func (g *PostgresGateway) SaveAll(ctx context.Context, auctions []auction.Auction) error {
	if len(auctions) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, a := range auctions {
		participants := a.Participants
		if participants == nil {
			participants = []string{}
		}
		batch.Queue(upsertAuction,
			a.ID, a.Title, a.Description, a.Category,
			a.CurrentPrice.String(), a.Increment.String(), a.PriceCap.String(),
			a.Owner, a.HighestBidder, participants, a.BidCount,
			a.StartedAt, a.EndsAt, a.FinalizedAt, a.Status.String(), int64(a.Version),
		)
	}

	err := pgx.BeginFunc(ctx, g.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("failed to save auctions: %w", err)
	}

	g.logger.Debug("auctions saved", zap.Int("count", len(auctions)))
	return nil
}

// PostgresScoreStore updates the users and user_wins tables.
type PostgresScoreStore struct {
	pool *pgxpool.Pool
}

func NewPostgresScoreStore(pool *pgxpool.Pool) *PostgresScoreStore {
	return &PostgresScoreStore{pool: pool}
}

func (s *PostgresScoreStore) IncrementWin(ctx context.Context, identity string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET win = win + 1 WHERE email = $1`,
		auction.NormalizeIdentity(identity))
	if err != nil {
		return false, fmt.Errorf("failed to increment win: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresScoreStore) AddCurrentWin(ctx context.Context, identity, auctionID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO user_wins (email, auction_id, won_at)
		SELECT email, $2, $3 FROM users WHERE email = $1
		ON CONFLICT (email, auction_id) DO NOTHING`,
		auction.NormalizeIdentity(identity), auctionID, at)
	if err != nil {
		return false, fmt.Errorf("failed to record current win: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresScoreStore) IncrementLose(ctx context.Context, identities []string, exclude []string) (int, error) {
	skip := identitySet(exclude)
	ids := make([]string, 0, len(identities))
	for id := range identitySet(identities) {
		if !skip[id] {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	tag, err := s.pool.Exec(ctx, `UPDATE users SET lose = lose + 1 WHERE email = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to increment lose: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
