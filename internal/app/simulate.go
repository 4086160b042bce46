package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perchlabs-io/balance-bot/internal/alerting"
	"github.com/perchlabs-io/balance-bot/internal/baseline"
	"github.com/perchlabs-io/balance-bot/internal/feed"
	"github.com/perchlabs-io/balance-bot/internal/fetcher"
	"github.com/perchlabs-io/balance-bot/internal/service"
)

// SimulateOptions describe one simulated live stake move.
type SimulateOptions struct {
	Previous decimal.Decimal
	Current  decimal.Decimal
	DryRun   bool
}

// SimulateAlert runs a single stake cycle from Previous to Current through the
// configured notifier. Only moves outside the threshold produce a message.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !opts.DryRun {
		if err := a.Config.ValidateChat(); err != nil {
			return err
		}
	}
	notifier, err := a.newNotifier(opts.DryRun)
	if err != nil {
		return err
	}
	return a.simulate(ctx, opts, notifier)
}

func (a *App) simulate(ctx context.Context, opts SimulateOptions, notifier alerting.Notifier) error {
	svcOpts, err := a.serviceOptions()
	if err != nil {
		return err
	}
	svcOpts.LockKey = 0

	baselines := baseline.New()
	baselines.Stake.Store(feed.PoolStake{LiveStake: opts.Previous})

	svc := service.New(svcOpts, service.Deps{
		Feeds:     &staticFeeds{stake: feed.PoolStake{LiveStake: opts.Current}},
		Lookup:    &staticFeeds{},
		Notifier:  notifier,
		Baselines: baselines,
	}, a.Logger)

	return svc.ProcessTick(ctx, time.Now().UTC())
}

// staticFeeds serves a fixed stake and empty block and roster snapshots.
type staticFeeds struct {
	stake feed.PoolStake
}

func (s *staticFeeds) FetchBlocks(context.Context) ([]feed.BlockRow, error) {
	return nil, nil
}

func (s *staticFeeds) FetchDelegators(context.Context) ([]feed.DelegatorRow, error) {
	return nil, nil
}

func (s *staticFeeds) FetchPoolStake(context.Context) (feed.PoolStake, error) {
	return s.stake, nil
}

func (s *staticFeeds) LookupAddress(_ context.Context, addr string) (feed.AddressDetails, error) {
	return feed.AddressDetails{StakeAddress: addr}, nil
}

var (
	_ fetcher.FeedFetcher   = (*staticFeeds)(nil)
	_ fetcher.AddressLookup = (*staticFeeds)(nil)
)
