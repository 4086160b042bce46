package service

import (
	"context"
	"fmt"

	"github.com/perchlabs-io/balance-bot/internal/alerting"
	"github.com/perchlabs-io/balance-bot/internal/feed"
	"github.com/perchlabs-io/balance-bot/internal/metrics"
	"github.com/perchlabs-io/balance-bot/internal/policy"
)

// CycleResult summarises one feed cycle.
type CycleResult struct {
	Feed         feed.Kind
	Outcome      string
	Sent         int
	SendFailures int
	// Err is set when the fetch failed and the cycle was abandoned.
	Err error
}

func (s *Service) blocksCycle(ctx context.Context) CycleResult {
	kind := feed.BlocksForged
	current, err := fetchWithTimeout(ctx, s, s.feeds.FetchBlocks)
	if err != nil {
		return failed(kind, fmt.Errorf("fetch: %w", err))
	}

	previous, _ := s.baselines.Blocks.Load()
	if len(previous) == 0 {
		s.baselines.Blocks.Store(current)
		return CycleResult{Feed: kind, Outcome: metrics.OutcomeColdStart}
	}

	decision := policy.Blocks(feed.Diff(previous, current), s.opts.SlotsAssigned)
	return s.apply(ctx, kind, decision, func() { s.baselines.Blocks.Store(current) })
}

func (s *Service) rosterCycle(ctx context.Context) CycleResult {
	kind := feed.DelegatorRoster
	current, err := fetchWithTimeout(ctx, s, s.feeds.FetchDelegators)
	if err != nil {
		return failed(kind, fmt.Errorf("fetch: %w", err))
	}

	previous, _ := s.baselines.Delegators.Load()
	if len(previous) == 0 {
		s.baselines.Delegators.Store(current)
		return CycleResult{Feed: kind, Outcome: metrics.OutcomeColdStart}
	}

	lookup := func(ctx context.Context, addr string) (feed.AddressDetails, error) {
		ctx, cancel := context.WithTimeout(ctx, s.opts.FeedTimeout)
		defer cancel()
		return s.lookup.LookupAddress(ctx, addr)
	}
	decision, err := policy.Roster(ctx, feed.Diff(previous, current), lookup)
	if err != nil {
		s.logger.Warn().Err(err).Str("feed", string(kind)).Msg("address lookup failed; messages dropped")
	}
	return s.apply(ctx, kind, decision, func() { s.baselines.Delegators.Store(current) })
}

func (s *Service) stakeCycle(ctx context.Context) CycleResult {
	kind := feed.PoolStakeFeed
	current, err := fetchWithTimeout(ctx, s, s.feeds.FetchPoolStake)
	if err != nil {
		return failed(kind, fmt.Errorf("fetch: %w", err))
	}
	if s.metrics != nil {
		s.metrics.LiveStake.Set(current.LiveStake.InexactFloat64())
	}

	previous, ok := s.baselines.Stake.Load()
	delta := feed.DiffStake(previous, ok, current)
	if delta.Cold {
		s.baselines.Stake.Store(current)
		return CycleResult{Feed: kind, Outcome: metrics.OutcomeColdStart}
	}

	decision := policy.Stake(delta, s.opts.Threshold)
	if decision.NoOp() && !delta.Change.IsZero() {
		s.logger.Debug().Str("change", delta.Change.String()).Msg("live stake change inside noise buffer")
	}
	return s.apply(ctx, kind, decision, func() { s.baselines.Stake.Store(current) })
}

// apply sends the decision's messages in order and commits the baseline when
// asked to. Send failures are logged and counted but never block the commit.
func (s *Service) apply(ctx context.Context, kind feed.Kind, d policy.Decision, commit func()) CycleResult {
	res := CycleResult{Feed: kind, Outcome: metrics.OutcomeNoOp}
	if d.NoOp() {
		return res
	}

	for _, text := range d.Messages {
		if err := s.send(ctx, alerting.Notification{Feed: kind, Text: text}); err != nil {
			res.SendFailures++
			s.logger.Error().Err(err).Str("feed", string(kind)).Msg("failed to dispatch notification")
			continue
		}
		res.Sent++
	}

	if d.Commit {
		commit()
	}
	switch {
	case len(d.Messages) > 0:
		res.Outcome = metrics.OutcomeNotified
	case d.Commit:
		res.Outcome = metrics.OutcomeCommitted
	}
	return res
}

func (s *Service) send(ctx context.Context, note alerting.Notification) error {
	if s.notifier == nil {
		return fmt.Errorf("%w: no notifier configured", alerting.ErrSend)
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.FeedTimeout)
	defer cancel()

	err := s.notifier.Notify(ctx, note)
	if s.metrics != nil {
		result := metrics.ResultSent
		if err != nil {
			result = metrics.ResultFailed
		}
		s.metrics.Notifications.WithLabelValues(string(note.Feed), result).Inc()
	}
	return err
}

func fetchWithTimeout[T any](ctx context.Context, s *Service, fetch func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.FeedTimeout)
	defer cancel()
	return fetch(ctx)
}

func failed(kind feed.Kind, err error) CycleResult {
	return CycleResult{Feed: kind, Outcome: metrics.OutcomeFailed, Err: err}
}
