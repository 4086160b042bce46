package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/perchlabs-io/balance-bot/internal/alerting"
	"github.com/perchlabs-io/balance-bot/internal/baseline"
	"github.com/perchlabs-io/balance-bot/internal/feed"
	"github.com/perchlabs-io/balance-bot/internal/fetcher"
	"github.com/perchlabs-io/balance-bot/internal/metrics"
	"github.com/perchlabs-io/balance-bot/internal/policy"
	"github.com/perchlabs-io/balance-bot/internal/scheduler"
	"github.com/perchlabs-io/balance-bot/internal/storage"
)

// Options carry the per-cycle settings.
type Options struct {
	SlotsAssigned int
	Threshold     policy.Threshold
	// FeedTimeout bounds each fetch, lookup and send of a cycle.
	FeedTimeout time.Duration
	LockKey     int64
}

// Deps are the collaborators of the service. Locker and Metrics are optional.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Feeds     fetcher.FeedFetcher
	Lookup    fetcher.AddressLookup
	Notifier  alerting.Notifier
	Baselines *baseline.Store
	Locker    storage.AdvisoryLocker
	Metrics   *metrics.Metrics
}

// Service runs the three feed cycles on every scheduler tick.
type Service struct {
	scheduler *scheduler.Scheduler
	feeds     fetcher.FeedFetcher
	lookup    fetcher.AddressLookup
	notifier  alerting.Notifier
	baselines *baseline.Store
	locker    storage.AdvisoryLocker
	metrics   *metrics.Metrics
	opts      Options
	logger    zerolog.Logger
}

// New constructs the monitoring service.
func New(opts Options, deps Deps, logger zerolog.Logger) *Service {
	if opts.FeedTimeout <= 0 {
		opts.FeedTimeout = 30 * time.Second
	}
	if opts.Threshold == (policy.Threshold{}) {
		opts.Threshold = policy.DefaultThreshold
	}
	baselines := deps.Baselines
	if baselines == nil {
		baselines = baseline.New()
	}
	return &Service{
		scheduler: deps.Scheduler,
		feeds:     deps.Feeds,
		lookup:    deps.Lookup,
		notifier:  deps.Notifier,
		baselines: baselines,
		locker:    deps.Locker,
		metrics:   deps.Metrics,
		opts:      opts,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Baselines exposes the per-feed baseline store.
func (s *Service) Baselines() *baseline.Store {
	return s.baselines
}

// Run begins the polling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick runs one cycle per feed concurrently and returns once all of
// them have finished. The returned error joins the failed cycles; a failure
// in one feed never affects the others.
func (s *Service) ProcessTick(ctx context.Context, tick time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", tick).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	results := s.RunCycles(ctx)
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Feed, r.Err))
		}
	}
	return errors.Join(errs...)
}

// RunCycles executes the blocks, roster and stake cycles concurrently and
// waits for all three.
func (s *Service) RunCycles(ctx context.Context) []CycleResult {
	cycles := []struct {
		kind feed.Kind
		run  func(context.Context) CycleResult
	}{
		{feed.BlocksForged, s.blocksCycle},
		{feed.DelegatorRoster, s.rosterCycle},
		{feed.PoolStakeFeed, s.stakeCycle},
	}

	results := make([]CycleResult, len(cycles))
	var g errgroup.Group
	for i, c := range cycles {
		g.Go(func() error {
			results[i] = s.guard(ctx, c.kind, c.run)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// guard times one cycle, records it and turns a panic into a failed cycle.
func (s *Service) guard(ctx context.Context, kind feed.Kind, run func(context.Context) CycleResult) (res CycleResult) {
	started := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res = CycleResult{Feed: kind, Outcome: metrics.OutcomeFailed, Err: fmt.Errorf("cycle panicked: %v", p)}
		}
		s.observe(res, time.Since(started))
	}()
	return run(ctx)
}

func (s *Service) observe(res CycleResult, elapsed time.Duration) {
	log := s.logger.Info()
	if res.Err != nil {
		log = s.logger.Error().Err(res.Err)
	}
	log.Str("feed", string(res.Feed)).
		Str("outcome", res.Outcome).
		Int("sent", res.Sent).
		Int("send_failures", res.SendFailures).
		Dur("elapsed", elapsed).
		Msg("feed cycle finished")

	if s.metrics == nil {
		return
	}
	s.metrics.FeedCycles.WithLabelValues(string(res.Feed), res.Outcome).Inc()
	s.metrics.CycleDuration.WithLabelValues(string(res.Feed)).Observe(elapsed.Seconds())
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
