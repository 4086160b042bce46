package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perchlabs-io/balance-bot/internal/feed"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrConnection wraps failures to reach or query the data store.
	ErrConnection = errors.New("connection error")
	// ErrUnknownQuery is returned for a QueryID without SQL.
	ErrUnknownQuery = errors.New("storage: unknown query")
)

// QueryID names one read-only query against the balance schema.
type QueryID string

const (
	QueryBlocksForged QueryID = "blocks_forged"
	QueryDelegators   QueryID = "delegator_list"
	QueryLiveStake    QueryID = "live_stake"
	QueryAddressValue QueryID = "address_value"
	QueryPoolStats    QueryID = "pool_stats"
)

var querySQL = map[QueryID]string{
	QueryBlocksForged: `SELECT epoch_no, blocks_forged FROM balance.bot_blocks_forged;`,
	QueryDelegators:   `SELECT addr_view FROM balance.bot_delegator_list;`,
	QueryLiveStake:    `SELECT live_stake FROM balance.bot_live_stake;`,
	QueryAddressValue: `SELECT stake_address, ada_value, from_pool, to_pool FROM balance.bot_address_value($1);`,
	QueryPoolStats:    `SELECT * FROM balance.bot_pool_stats;`,
}

const (
	pingSQL            = `SELECT 1;`
	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RowQuerier runs a named query and returns its decoded rows.
type RowQuerier interface {
	Query(ctx context.Context, id QueryID, args ...any) ([]feed.Row, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store runs the bot's read-only queries over a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Ping checks that the data store answers.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, pingSQL); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrConnection, err)
	}
	return nil
}

// Query runs the SQL registered for id and decodes every row.
func (s *Store) Query(ctx context.Context, id QueryID, args ...any) ([]feed.Row, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	sql, ok := querySQL[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuery, id)
	}

	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %w", ErrConnection, id, err)
	}
	defer rows.Close()

	out, err := collectRows(rows, string(id))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("%w: acquire connection: %w", ErrConnection, err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("%w: try advisory lock: %w", ErrConnection, err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// A failed unlock still releases the lock when the connection closes.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func collectRows(rows pgx.Rows, source string) ([]feed.Row, error) {
	fields := rows.FieldDescriptions()
	out := make([]feed.Row, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, &feed.DecodeError{Source: source, Reason: err.Error()}
		}
		cols := make([]Column, len(fields))
		for i, f := range fields {
			cols[i] = Column{Name: f.Name, OID: f.DataTypeOID, Value: values[i]}
		}
		row, err := DecodeRow(source, cols)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrConnection, source, err)
	}
	return out, nil
}

var (
	_ RowQuerier     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
