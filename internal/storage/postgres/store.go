package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nftLend/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS lending_pools (
	chain_id BIGINT NOT NULL,
	pool_address TEXT NOT NULL,
	pool_index INTEGER NOT NULL,
	collection TEXT NOT NULL,
	name TEXT NOT NULL,
	symbol TEXT NOT NULL,
	oracle TEXT NOT NULL,
	owner TEXT NOT NULL,
	ltv NUMERIC NOT NULL,
	max_price NUMERIC NOT NULL,
	max_loan_length BIGINT NOT NULL,
	shutdown BOOLEAN NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (chain_id, pool_address)
);
CREATE TABLE IF NOT EXISTS pool_events (
	chain_id BIGINT NOT NULL,
	pool_address TEXT NOT NULL,
	seq BIGINT NOT NULL,
	event_name TEXT NOT NULL,
	event_ts BIGINT NOT NULL,
	data JSONB NOT NULL,
	PRIMARY KEY (chain_id, pool_address, event_name, seq)
);
CREATE TABLE IF NOT EXISTS pool_window_metrics (
	chain_id BIGINT NOT NULL,
	pool_address TEXT NOT NULL,
	window_size_seconds BIGINT NOT NULL,
	window_start_ts TIMESTAMPTZ NOT NULL,
	window_end_ts TIMESTAMPTZ NOT NULL,
	event_count BIGINT NOT NULL,
	deposited NUMERIC NOT NULL,
	withdrawn NUMERIC NOT NULL,
	borrowed NUMERIC NOT NULL,
	repaid NUMERIC NOT NULL,
	interest NUMERIC NOT NULL,
	fees NUMERIC NOT NULL,
	liquidated_principal NUMERIC NOT NULL,
	loans_opened BIGINT NOT NULL,
	loans_repaid BIGINT NOT NULL,
	loans_liquidated BIGINT NOT NULL,
	utilization NUMERIC,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (chain_id, pool_address, window_size_seconds, window_start_ts)
);
CREATE TABLE IF NOT EXISTS journal_state (
	name TEXT PRIMARY KEY,
	last_event_ts BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// Store provides Postgres persistence for the pool registry and event journal.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables the store writes to.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// UpsertPools inserts or updates pool registry records.
func (s *Store) UpsertPools(ctx context.Context, pools []model.Pool) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range pools {
		batch.Queue(`
			INSERT INTO lending_pools (
				chain_id, pool_address, pool_index, collection, name, symbol, oracle, owner,
				ltv, max_price, max_loan_length, shutdown, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now(),now())
			ON CONFLICT (chain_id, pool_address)
			DO UPDATE SET
				max_price = EXCLUDED.max_price,
				shutdown = EXCLUDED.shutdown,
				updated_at = now()
		`,
			int64(p.ChainID),
			p.Address,
			p.Index,
			p.Collection,
			p.Name,
			p.Symbol,
			p.Oracle,
			p.Owner,
			p.LTV,
			p.MaxPrice,
			int64(p.MaxLoanLength),
			p.Shutdown,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range pools {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// InsertEvents appends journal records. Records already stored are skipped.
func (s *Store) InsertEvents(ctx context.Context, events []model.PoolEventRecord) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(`
			INSERT INTO pool_events (chain_id, pool_address, seq, event_name, event_ts, data)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT DO NOTHING
		`,
			int64(e.ChainID),
			e.Pool,
			int64(e.Seq),
			e.EventName,
			int64(e.Timestamp),
			[]byte(e.Data),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpsertWindowMetrics writes activity windows, replacing recomputed ones.
func (s *Store) UpsertWindowMetrics(ctx context.Context, metrics []model.PoolWindowMetrics) error {
	if len(metrics) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range metrics {
		batch.Queue(`
			INSERT INTO pool_window_metrics (
				chain_id, pool_address, window_size_seconds, window_start_ts, window_end_ts,
				event_count, deposited, withdrawn, borrowed, repaid, interest, fees,
				liquidated_principal, loans_opened, loans_repaid, loans_liquidated, utilization,
				created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,now(),now())
			ON CONFLICT (chain_id, pool_address, window_size_seconds, window_start_ts)
			DO UPDATE SET
				window_end_ts = EXCLUDED.window_end_ts,
				event_count = EXCLUDED.event_count,
				deposited = EXCLUDED.deposited,
				withdrawn = EXCLUDED.withdrawn,
				borrowed = EXCLUDED.borrowed,
				repaid = EXCLUDED.repaid,
				interest = EXCLUDED.interest,
				fees = EXCLUDED.fees,
				liquidated_principal = EXCLUDED.liquidated_principal,
				loans_opened = EXCLUDED.loans_opened,
				loans_repaid = EXCLUDED.loans_repaid,
				loans_liquidated = EXCLUDED.loans_liquidated,
				utilization = COALESCE(EXCLUDED.utilization, pool_window_metrics.utilization),
				updated_at = now()
		`,
			int64(m.ChainID),
			m.PoolAddress,
			m.WindowSizeSecs,
			m.WindowStart,
			m.WindowEnd,
			int64(m.EventCount),
			m.Deposited,
			m.Withdrawn,
			m.Borrowed,
			m.Repaid,
			m.Interest,
			m.Fees,
			m.LiquidatedPrincipal,
			int64(m.LoansOpened),
			int64(m.LoansRepaid),
			int64(m.LoansLiquidated),
			m.Utilization,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range metrics {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadState returns the last journaled event time for a run name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var ts int64
	row := s.pool.QueryRow(ctx, `SELECT last_event_ts FROM journal_state WHERE name=$1`, name)
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(ts), true, nil
}

// SaveState upserts the last journaled event time for a run name.
func (s *Store) SaveState(ctx context.Context, name string, ts uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO journal_state (name, last_event_ts, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_event_ts = EXCLUDED.last_event_ts, updated_at = now()
	`, name, int64(ts))
	return err
}

// Journal adapts the store to storage.Storage for a fixed context.
type Journal struct {
	ctx   context.Context
	store *Store
}

func (s *Store) Journal(ctx context.Context) *Journal {
	return &Journal{ctx: ctx, store: s}
}

func (j *Journal) PutEventBatch(events []model.PoolEventRecord) error {
	if err := j.store.InsertEvents(j.ctx, events); err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	return nil
}
