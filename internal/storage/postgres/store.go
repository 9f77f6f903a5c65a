package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"liquidityEngine/internal/engine"
	"liquidityEngine/internal/model"
	"liquidityEngine/internal/pool"
	"liquidityEngine/internal/position"
	"liquidityEngine/internal/tick"
)

// Schema creates the tables the store writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS pools (
	pool_id TEXT PRIMARY KEY,
	token_mint_a TEXT NOT NULL,
	token_mint_b TEXT NOT NULL,
	fee_rate INTEGER NOT NULL,
	tick_spacing INTEGER NOT NULL,
	first_seen_ts BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS pool_records (
	pool_id TEXT PRIMARY KEY,
	record BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS tick_pages (
	pool_id TEXT NOT NULL,
	start_tick_index INTEGER NOT NULL,
	record BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (pool_id, start_tick_index)
);
CREATE TABLE IF NOT EXISTS positions (
	position_id TEXT PRIMARY KEY,
	pool_id TEXT NOT NULL,
	record BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS positions_pool_id_idx ON positions (pool_id);
CREATE TABLE IF NOT EXISTS engine_events (
	event_id TEXT PRIMARY KEY,
	pool_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	ts BIGINT NOT NULL,
	payload JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS pool_window_metrics (
	pool_id TEXT NOT NULL,
	window_size_seconds BIGINT NOT NULL,
	window_start_ts TIMESTAMPTZ NOT NULL,
	window_end_ts TIMESTAMPTZ NOT NULL,
	swap_count BIGINT NOT NULL,
	volume_a NUMERIC NOT NULL,
	volume_b NUMERIC NOT NULL,
	fee_a NUMERIC NOT NULL,
	fee_b NUMERIC NOT NULL,
	protocol_fee_a NUMERIC NOT NULL,
	protocol_fee_b NUMERIC NOT NULL,
	fee_rate_a NUMERIC,
	fee_rate_b NUMERIC,
	tvl_a NUMERIC,
	tvl_b NUMERIC,
	apr NUMERIC,
	fee_method TEXT NOT NULL,
	tvl_method TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (pool_id, window_size_seconds, window_start_ts)
);
CREATE TABLE IF NOT EXISTS indexer_state (
	name TEXT PRIMARY KEY,
	last_processed_ts BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store provides Postgres persistence for pool state, events and metrics.
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

// Migrate creates missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// SavePoolState writes the pool record, its pages and its positions in one
// transaction. Positions no longer present in st are removed.
func (s *Store) SavePoolState(ctx context.Context, st *engine.State) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	poolID := st.Pool.ID.Hex()
	record, err := st.Pool.MarshalBinary()
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO pool_records (pool_id, record, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (pool_id) DO UPDATE
		SET record = EXCLUDED.record, updated_at = now()
	`, poolID, record)
	for start, page := range st.Pages {
		data, err := page.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encode page %d: %w", start, err)
		}
		batch.Queue(`
			INSERT INTO tick_pages (pool_id, start_tick_index, record, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (pool_id, start_tick_index) DO UPDATE
			SET record = EXCLUDED.record, updated_at = now()
		`, poolID, start, data)
	}
	batch.Queue(`DELETE FROM positions WHERE pool_id = $1`, poolID)
	for id, pos := range st.Positions {
		data, err := pos.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encode position %s: %w", id.Hex(), err)
		}
		batch.Queue(`
			INSERT INTO positions (position_id, pool_id, record, updated_at)
			VALUES ($1, $2, $3, now())
		`, id.Hex(), poolID, data)
	}

	if err := execBatch(ctx, tx, batch); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// LoadPoolState reads a pool and everything stored for it.
func (s *Store) LoadPoolState(ctx context.Context, poolID common.Hash) (*engine.State, bool, error) {
	var record []byte
	row := s.pool.QueryRow(ctx, `SELECT record FROM pool_records WHERE pool_id=$1`, poolID.Hex())
	if err := row.Scan(&record); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var p pool.Pool
	if err := p.UnmarshalBinary(record); err != nil {
		return nil, false, err
	}
	st := engine.NewState(p)

	rows, err := s.pool.Query(ctx, `SELECT record FROM tick_pages WHERE pool_id=$1`, poolID.Hex())
	if err != nil {
		return nil, false, err
	}
	pages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*tick.Page, error) {
		var data []byte
		if err := row.Scan(&data); err != nil {
			return nil, err
		}
		page := new(tick.Page)
		return page, page.UnmarshalBinary(data)
	})
	if err != nil {
		return nil, false, fmt.Errorf("load pages: %w", err)
	}
	for _, page := range pages {
		if err := st.AddPage(page); err != nil {
			return nil, false, err
		}
	}

	rows, err = s.pool.Query(ctx, `SELECT record FROM positions WHERE pool_id=$1`, poolID.Hex())
	if err != nil {
		return nil, false, err
	}
	positions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*position.Position, error) {
		var data []byte
		if err := row.Scan(&data); err != nil {
			return nil, err
		}
		pos := new(position.Position)
		return pos, pos.UnmarshalBinary(data)
	})
	if err != nil {
		return nil, false, fmt.Errorf("load positions: %w", err)
	}
	for _, pos := range positions {
		if err := st.AddPosition(pos); err != nil {
			return nil, false, err
		}
	}
	return st, true, nil
}

// PutEvents stores engine events; replays of the same event id are ignored.
func (s *Store) PutEvents(ctx context.Context, events []model.EngineEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO engine_events (event_id, pool_id, kind, ts, payload)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (event_id) DO NOTHING
		`, ev.ID, ev.PoolID, ev.Kind, int64(ev.Timestamp), payload)
	}
	return sendBatch(ctx, s.pool, batch)
}

// UpsertPools inserts or updates pool catalog entries.
func (s *Store) UpsertPools(ctx context.Context, pools []model.Pool) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range pools {
		batch.Queue(`
			INSERT INTO pools (
				pool_id, token_mint_a, token_mint_b, fee_rate, tick_spacing, first_seen_ts, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, now(), now())
			ON CONFLICT (pool_id)
			DO UPDATE SET
				token_mint_a = EXCLUDED.token_mint_a,
				token_mint_b = EXCLUDED.token_mint_b,
				fee_rate = EXCLUDED.fee_rate,
				tick_spacing = EXCLUDED.tick_spacing,
				first_seen_ts = LEAST(pools.first_seen_ts, EXCLUDED.first_seen_ts),
				updated_at = now()
		`,
			p.PoolID,
			p.TokenMintA,
			p.TokenMintB,
			int32(p.FeeRate),
			int32(p.TickSpacing),
			int64(p.FirstSeenTS),
		)
	}
	return sendBatch(ctx, s.pool, batch)
}

// UpsertWindowMetrics inserts or updates window metrics.
func (s *Store) UpsertWindowMetrics(ctx context.Context, metrics []model.PoolWindowMetrics) error {
	if len(metrics) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range metrics {
		batch.Queue(`
			INSERT INTO pool_window_metrics (
				pool_id, window_size_seconds, window_start_ts, window_end_ts,
				swap_count, volume_a, volume_b, fee_a, fee_b, protocol_fee_a, protocol_fee_b,
				fee_rate_a, fee_rate_b, tvl_a, tvl_b, apr, fee_method, tvl_method, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,now(),now())
			ON CONFLICT (pool_id, window_size_seconds, window_start_ts)
			DO UPDATE SET
				window_end_ts = EXCLUDED.window_end_ts,
				swap_count = EXCLUDED.swap_count,
				volume_a = EXCLUDED.volume_a,
				volume_b = EXCLUDED.volume_b,
				fee_a = EXCLUDED.fee_a,
				fee_b = EXCLUDED.fee_b,
				protocol_fee_a = EXCLUDED.protocol_fee_a,
				protocol_fee_b = EXCLUDED.protocol_fee_b,
				fee_rate_a = EXCLUDED.fee_rate_a,
				fee_rate_b = EXCLUDED.fee_rate_b,
				tvl_a = EXCLUDED.tvl_a,
				tvl_b = EXCLUDED.tvl_b,
				apr = EXCLUDED.apr,
				fee_method = EXCLUDED.fee_method,
				tvl_method = EXCLUDED.tvl_method,
				updated_at = now()
		`,
			m.PoolID,
			m.WindowSizeSecs,
			m.WindowStart,
			m.WindowEnd,
			int64(m.SwapCount),
			m.VolumeA,
			m.VolumeB,
			m.FeeA,
			m.FeeB,
			m.ProtocolFeeA,
			m.ProtocolFeeB,
			m.FeeRateA,
			m.FeeRateB,
			m.TVLA,
			m.TVLB,
			m.APR,
			m.FeeMethod,
			m.TVLMethod,
		)
	}
	return sendBatch(ctx, s.pool, batch)
}

// LoadState returns last_processed_ts for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var ts int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_ts FROM indexer_state WHERE name=$1`, name)
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(ts), true, nil
}

// SaveState upserts last_processed_ts for a name.
func (s *Store) SaveState(ctx context.Context, name string, ts uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, last_processed_ts, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_ts = EXCLUDED.last_processed_ts, updated_at = now()
	`, name, int64(ts))
	return err
}

type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func sendBatch(ctx context.Context, conn batchSender, batch *pgx.Batch) error {
	br := conn.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	return br.Close()
}
