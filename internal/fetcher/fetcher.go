// Package fetcher reads the monitored feeds from the pool's data store.
package fetcher

import (
	"context"

	"github.com/perchlabs-io/balance-bot/internal/feed"
)

// FeedFetcher returns the full current state of each monitored feed.
type FeedFetcher interface {
	FetchBlocks(ctx context.Context) ([]feed.BlockRow, error)
	FetchDelegators(ctx context.Context) ([]feed.DelegatorRow, error)
	FetchPoolStake(ctx context.Context) (feed.PoolStake, error)
}

// AddressLookup resolves one stake address outside the full-feed fetches.
type AddressLookup interface {
	LookupAddress(ctx context.Context, stakeAddress string) (feed.AddressDetails, error)
}

// StatsFetcher serves the ad-hoc status command. The row shape is whatever
// the statistics view returns.
type StatsFetcher interface {
	FetchPoolStats(ctx context.Context) (feed.Row, error)
}
