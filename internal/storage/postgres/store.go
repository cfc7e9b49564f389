package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"delex/internal/model"
)

//go:embed schema.sql
var schema string

// Store persists snapshots, intents and client state in Postgres.
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

// EnsureSchema creates the tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// PutSnapshot inserts every pool of a committed snapshot. Re-inserting the
// same generation overwrites it.
func (s *Store) PutSnapshot(ctx context.Context, rec model.SnapshotRecord) error {
	if len(rec.Pools) == 0 {
		return nil
	}
	fetchedAt, err := time.Parse(time.RFC3339Nano, rec.FetchedAt)
	if err != nil {
		return fmt.Errorf("parse fetched_at: %w", err)
	}

	batch := &pgx.Batch{}
	for _, p := range rec.Pools {
		batch.Queue(`
			INSERT INTO pool_snapshots (
				chain_id, generation, pool_id, account, token_a, token_b,
				reserve_a, reserve_b, total_liquidity, total_borrowed_a, total_borrowed_b,
				interest_rate_a, interest_rate_b, fetched_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			ON CONFLICT (chain_id, generation, pool_id)
			DO UPDATE SET
				account = EXCLUDED.account,
				reserve_a = EXCLUDED.reserve_a,
				reserve_b = EXCLUDED.reserve_b,
				total_liquidity = EXCLUDED.total_liquidity,
				total_borrowed_a = EXCLUDED.total_borrowed_a,
				total_borrowed_b = EXCLUDED.total_borrowed_b,
				interest_rate_a = EXCLUDED.interest_rate_a,
				interest_rate_b = EXCLUDED.interest_rate_b,
				fetched_at = EXCLUDED.fetched_at
		`,
			int64(rec.ChainID),
			int64(rec.Generation),
			p.PoolID,
			rec.Account,
			p.TokenA,
			p.TokenB,
			p.ReserveA,
			p.ReserveB,
			p.TotalLiquidity,
			p.TotalBorrowedA,
			p.TotalBorrowedB,
			p.InterestRateA,
			p.InterestRateB,
			fetchedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range rec.Pools {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// PutIntent upserts a finished intent.
func (s *Store) PutIntent(ctx context.Context, rec model.IntentRecord) error {
	hashes := rec.TxHashes
	if hashes == nil {
		hashes = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tx_intents (
			id, kind, status, chain_id, account, pool_id, tx_hashes, error_kind, error, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			tx_hashes = EXCLUDED.tx_hashes,
			error_kind = EXCLUDED.error_kind,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at
	`,
		rec.ID,
		rec.Kind,
		rec.Status,
		int64(rec.ChainID),
		rec.Account,
		rec.PoolID,
		hashes,
		rec.ErrorKind,
		rec.Error,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	return err
}

// LoadState returns last_generation for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var gen int64
	row := s.pool.QueryRow(ctx, `SELECT last_generation FROM client_state WHERE name=$1`, name)
	if err := row.Scan(&gen); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(gen), true, nil
}

// SaveState upserts last_generation for a name. The stored value never
// decreases.
func (s *Store) SaveState(ctx context.Context, name string, generation uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO client_state (name, last_generation, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_generation = GREATEST(client_state.last_generation, EXCLUDED.last_generation), updated_at = now()
	`, name, int64(generation))
	return err
}
