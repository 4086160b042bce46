package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"
)

// TickFunc is invoked once per interval. Ticks never overlap: the next wait
// starts only after the previous tick has returned.
type TickFunc func(ctx context.Context, tick time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	// RunOnStart fires one tick right after the startup delay instead of
	// waiting a full interval.
	RunOnStart bool
	Clock      clock.Clock
}

// Scheduler drives periodic execution of the feed cycles.
type Scheduler struct {
	opts   Options
	clock  clock.Clock
	logger zerolog.Logger
}

// ErrInterval is returned by New for a non-positive interval.
var ErrInterval = errors.New("scheduler interval must be positive")

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Interval <= 0 {
		return nil, ErrInterval
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	return &Scheduler{opts: opts, clock: clk, logger: logger.With().Str("component", "scheduler").Logger()}, nil
}

// Run blocks, invoking the tick function every interval until ctx is cancelled.
// Tick errors are logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := s.wait(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.RunOnStart {
		s.fire(ctx, tick, s.clock.Now().UTC())
	}

	next := s.nextTick(s.clock.Now().UTC())
	for {
		delay := next.Sub(s.clock.Now())
		if delay < 0 {
			// The previous tick overran; skip the missed slots.
			next = s.nextTick(s.clock.Now().UTC())
			delay = next.Sub(s.clock.Now())
		}

		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")
		if err := s.wait(ctx, delay); err != nil {
			return err
		}

		s.fire(ctx, tick, s.tickStart(next))
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) fire(ctx context.Context, tick TickFunc, at time.Time) {
	s.logger.Debug().Time("tick", at).Msg("executing scheduled tick")
	if err := tick(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("tick", at).Msg("tick execution failed")
	}
}

func (s *Scheduler) wait(ctx context.Context, d time.Duration) error {
	timer := s.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	next := now.Truncate(s.opts.Interval)
	if !next.After(now) {
		next = next.Add(s.opts.Interval)
	}
	return next
}

func (s *Scheduler) tickStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
