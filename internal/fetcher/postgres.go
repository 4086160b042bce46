package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/perchlabs-io/balance-bot/internal/feed"
	"github.com/perchlabs-io/balance-bot/internal/storage"
)

// PostgresOptions parameterise the data store fetcher.
type PostgresOptions struct {
	Timeout time.Duration
}

// Postgres fetches feeds from the balance schema and decodes them into typed rows.
type Postgres struct {
	db     storage.RowQuerier
	opts   PostgresOptions
	logger zerolog.Logger
}

// NewPostgres builds a fetcher over db.
func NewPostgres(db storage.RowQuerier, opts PostgresOptions, logger zerolog.Logger) *Postgres {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Postgres{db: db, opts: opts, logger: logger.With().Str("component", "feed_fetcher").Logger()}
}

func (p *Postgres) query(ctx context.Context, id storage.QueryID, args ...any) ([]feed.Row, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	rows, err := p.db.Query(ctx, id, args...)
	if err != nil {
		return nil, err
	}
	p.logger.Debug().Str("query", string(id)).Int("rows", len(rows)).Msg("query returned")
	return rows, nil
}

// FetchBlocks returns forged-block counts per epoch.
func (p *Postgres) FetchBlocks(ctx context.Context) ([]feed.BlockRow, error) {
	rows, err := p.query(ctx, storage.QueryBlocksForged)
	if err != nil {
		return nil, err
	}
	return feed.DecodeBlocks(rows)
}

// FetchDelegators returns the current delegator roster.
func (p *Postgres) FetchDelegators(ctx context.Context) ([]feed.DelegatorRow, error) {
	rows, err := p.query(ctx, storage.QueryDelegators)
	if err != nil {
		return nil, err
	}
	return feed.DecodeDelegators(rows)
}

// FetchPoolStake returns the live stake singleton.
func (p *Postgres) FetchPoolStake(ctx context.Context) (feed.PoolStake, error) {
	rows, err := p.query(ctx, storage.QueryLiveStake)
	if err != nil {
		return feed.PoolStake{}, err
	}
	return feed.DecodePoolStake(rows)
}

// LookupAddress returns the delegation details of one stake address.
func (p *Postgres) LookupAddress(ctx context.Context, stakeAddress string) (feed.AddressDetails, error) {
	if stakeAddress == "" {
		return feed.AddressDetails{}, fmt.Errorf("empty stake address")
	}
	rows, err := p.query(ctx, storage.QueryAddressValue, stakeAddress)
	if err != nil {
		return feed.AddressDetails{}, err
	}
	return feed.DecodeAddress(rows)
}

// FetchPoolStats returns the first row of the pool statistics view.
func (p *Postgres) FetchPoolStats(ctx context.Context) (feed.Row, error) {
	rows, err := p.query(ctx, storage.QueryPoolStats)
	if err != nil {
		return feed.Row{}, err
	}
	if len(rows) == 0 {
		return feed.Row{}, &feed.DecodeError{Source: string(storage.QueryPoolStats), Reason: "no rows"}
	}
	return rows[0], nil
}

var (
	_ FeedFetcher   = (*Postgres)(nil)
	_ AddressLookup = (*Postgres)(nil)
	_ StatsFetcher  = (*Postgres)(nil)
)
