package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchlabs-io/balance-bot/internal/alerting"
	"github.com/perchlabs-io/balance-bot/internal/feed"
	"github.com/perchlabs-io/balance-bot/internal/metrics"
	"github.com/perchlabs-io/balance-bot/internal/storage"
)

type stubFeeds struct {
	mu         sync.Mutex
	blocks     []feed.BlockRow
	blocksErr  error
	hangBlocks bool
	delegators []feed.DelegatorRow
	stake      feed.PoolStake
	stakeErr   error
}

func (f *stubFeeds) FetchBlocks(ctx context.Context) ([]feed.BlockRow, error) {
	f.mu.Lock()
	hang := f.hangBlocks
	blocks, err := f.blocks, f.blocksErr
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return blocks, err
}

func (f *stubFeeds) FetchDelegators(context.Context) ([]feed.DelegatorRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delegators, nil
}

func (f *stubFeeds) FetchPoolStake(context.Context) (feed.PoolStake, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stake, f.stakeErr
}

func (f *stubFeeds) set(fn func(*stubFeeds)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type stubLookup map[string]feed.AddressDetails

func (l stubLookup) LookupAddress(_ context.Context, addr string) (feed.AddressDetails, error) {
	d, ok := l[addr]
	if !ok {
		return feed.AddressDetails{}, errors.New("address not found")
	}
	return d, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
	err   error
}

func (n *recordingNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("notify without deadline")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return n.err
}

func (n *recordingNotifier) byFeed(kind feed.Kind) []alerting.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []alerting.Notification
	for _, note := range n.notes {
		if note.Feed == kind {
			out = append(out, note)
		}
	}
	return out
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notes)
}

func ada(v int64) feed.PoolStake {
	return feed.PoolStake{LiveStake: decimal.NewFromInt(v)}
}

func newTestService(feeds *stubFeeds, lookup stubLookup, notifier alerting.Notifier, m *metrics.Metrics) *Service {
	return New(Options{SlotsAssigned: 5, FeedTimeout: time.Second}, Deps{
		Feeds:    feeds,
		Lookup:   lookup,
		Notifier: notifier,
		Metrics:  m,
	}, zerolog.Nop())
}

func TestColdStartSendsNothingAndRecordsBaselines(t *testing.T) {
	feeds := &stubFeeds{
		blocks:     []feed.BlockRow{{Epoch: 411, Forged: 3}},
		delegators: []feed.DelegatorRow{{Address: "A"}},
		stake:      ada(1_000_000),
	}
	notifier := &recordingNotifier{}
	svc := newTestService(feeds, nil, notifier, nil)

	require.NoError(t, svc.ProcessTick(context.Background(), time.Now()))
	assert.Zero(t, notifier.count())

	blocks, ok := svc.Baselines().Blocks.Load()
	require.True(t, ok)
	assert.Equal(t, feeds.blocks, blocks)
	roster, _ := svc.Baselines().Delegators.Load()
	assert.Equal(t, feeds.delegators, roster)
	stake, ok := svc.Baselines().Stake.Load()
	require.True(t, ok)
	assert.True(t, stake.LiveStake.Equal(decimal.NewFromInt(1_000_000)))
}

func TestUnchangedStateIsNoOp(t *testing.T) {
	feeds := &stubFeeds{
		blocks:     []feed.BlockRow{{Epoch: 411, Forged: 3}},
		delegators: []feed.DelegatorRow{{Address: "A"}},
		stake:      ada(1_000_000),
	}
	notifier := &recordingNotifier{}
	svc := newTestService(feeds, nil, notifier, nil)

	require.NoError(t, svc.ProcessTick(context.Background(), time.Now()))
	results := svc.RunCycles(context.Background())

	for _, r := range results {
		assert.Equal(t, metrics.OutcomeNoOp, r.Outcome, r.Feed)
	}
	assert.Zero(t, notifier.count())
}

func TestRosterChangeNotifiesDeparturesThenArrivals(t *testing.T) {
	feeds := &stubFeeds{delegators: []feed.DelegatorRow{{Address: "A"}, {Address: "B"}}, stake: ada(1)}
	lookup := stubLookup{
		"A": {StakeAddress: "stake1aaaaaaaaaaaa", ADAValue: decimal.NewFromInt(1500), ToPool: "OTHER"},
		"C": {StakeAddress: "stake1cccccccccccc", ADAValue: decimal.NewFromInt(2500), FromPool: "PREV"},
	}
	notifier := &recordingNotifier{}
	svc := newTestService(feeds, lookup, notifier, nil)
	ctx := context.Background()

	require.NoError(t, svc.ProcessTick(ctx, time.Now()))
	feeds.set(func(f *stubFeeds) { f.delegators = []feed.DelegatorRow{{Address: "B"}, {Address: "C"}} })
	require.NoError(t, svc.ProcessTick(ctx, time.Now()))

	notes := notifier.byFeed(feed.DelegatorRoster)
	require.Len(t, notes, 2)
	assert.Contains(t, notes[0].Text, "Departing")
	assert.Contains(t, notes[0].Text, "stake1aaaa")
	assert.Contains(t, notes[1].Text, "Arriving")
	assert.Contains(t, notes[1].Text, "From  PREV")

	roster, _ := svc.Baselines().Delegators.Load()
	assert.Equal(t, []feed.DelegatorRow{{Address: "B"}, {Address: "C"}}, roster)
}

func TestRosterLookupFailureDropsOnlyThatMessage(t *testing.T) {
	feeds := &stubFeeds{delegators: []feed.DelegatorRow{{Address: "A"}}, stake: ada(1)}
	notifier := &recordingNotifier{}
	svc := newTestService(feeds, stubLookup{"B": {StakeAddress: "B", ADAValue: decimal.NewFromInt(1)}}, notifier, nil)
	ctx := context.Background()

	require.NoError(t, svc.ProcessTick(ctx, time.Now()))
	feeds.set(func(f *stubFeeds) { f.delegators = []feed.DelegatorRow{{Address: "B"}} })
	require.NoError(t, svc.ProcessTick(ctx, time.Now()))

	require.Len(t, notifier.byFeed(feed.DelegatorRoster), 1)
	roster, _ := svc.Baselines().Delegators.Load()
	assert.Equal(t, []feed.DelegatorRow{{Address: "B"}}, roster)
}

func TestStakeNoiseKeepsBaseline(t *testing.T) {
	feeds := &stubFeeds{stake: ada(1_000_000)}
	notifier := &recordingNotifier{}
	svc := newTestService(feeds, nil, notifier, nil)
	ctx := context.Background()

	require.NoError(t, svc.ProcessTick(ctx, time.Now()))
	feeds.set(func(f *stubFeeds) { f.stake = ada(1_050_000) })
	require.NoError(t, svc.ProcessTick(ctx, time.Now()))

	assert.Empty(t, notifier.byFeed(feed.PoolStakeFeed))
	stake, _ := svc.Baselines().Stake.Load()
	assert.True(t, stake.LiveStake.Equal(decimal.NewFromInt(1_000_000)))

	// Drift accumulates against the retained baseline.
	feeds.set(func(f *stubFeeds) { f.stake = ada(1_150_000) })
	require.NoError(t, svc.ProcessTick(ctx, time.Now()))
	notes := notifier.byFeed(feed.PoolStakeFeed)
	require.Len(t, notes, 1)
	assert.Equal(t, "✅   Live Stake   ⬆️   150,000.00 ₳", notes[0].Text)
}

func TestStakeIncreaseNotifiesAndCommits(t *testing.T) {
	feeds := &stubFeeds{stake: ada(1_000_000)}
	notifier := &recordingNotifier{}
	svc := newTestService(feeds, nil, notifier, nil)
	ctx := context.Background()

	require.NoError(t, svc.ProcessTick(ctx, time.Now()))
	feeds.set(func(f *stubFeeds) { f.stake = ada(1_200_000) })
	require.NoError(t, svc.ProcessTick(ctx, time.Now()))

	notes := notifier.byFeed(feed.PoolStakeFeed)
	require.Len(t, notes, 1)
	assert.Equal(t, "✅   Live Stake   ⬆️   200,000.00 ₳", notes[0].Text)
	stake, _ := svc.Baselines().Stake.Load()
	assert.True(t, stake.LiveStake.Equal(decimal.NewFromInt(1_200_000)))
}

func TestFetchFailureIsIsolatedPerFeed(t *testing.T) {
	feeds := &stubFeeds{
		blocks:     []feed.BlockRow{{Epoch: 411, Forged: 1}},
		delegators: []feed.DelegatorRow{{Address: "A"}},
		stake:      ada(1_000_000),
	}
	notifier := &recordingNotifier{}
	m := metrics.New()
	svc := newTestService(feeds, stubLookup{"B": {StakeAddress: "B", ADAValue: decimal.NewFromInt(7)}}, notifier, m)
	ctx := context.Background()

	require.NoError(t, svc.ProcessTick(ctx, time.Now()))
	feeds.set(func(f *stubFeeds) {
		f.blocksErr = storage.ErrConnection
		f.delegators = []feed.DelegatorRow{{Address: "A"}, {Address: "B"}}
		f.stake = ada(800_000)
	})

	err := svc.ProcessTick(ctx, time.Now())
	require.ErrorIs(t, err, storage.ErrConnection)

	blocks, _ := svc.Baselines().Blocks.Load()
	assert.Equal(t, []feed.BlockRow{{Epoch: 411, Forged: 1}}, blocks)
	assert.Len(t, notifier.byFeed(feed.DelegatorRoster), 1)
	assert.Len(t, notifier.byFeed(feed.PoolStakeFeed), 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedCycles.WithLabelValues(string(feed.BlocksForged), metrics.OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedCycles.WithLabelValues(string(feed.PoolStakeFeed), metrics.OutcomeNotified)))
	assert.Equal(t, 800_000.0, testutil.ToFloat64(m.LiveStake))

	// The failed feed recovers on the next tick against its old baseline.
	feeds.set(func(f *stubFeeds) {
		f.blocksErr = nil
		f.blocks = []feed.BlockRow{{Epoch: 411, Forged: 1}, {Epoch: 412, Forged: 2}}
	})
	require.NoError(t, svc.ProcessTick(ctx, time.Now()))
	notes := notifier.byFeed(feed.BlocksForged)
	require.Len(t, notes, 1)
	assert.Equal(t, "⚒️   2 / 5  blocks forged for epoch  412", notes[0].Text)
}

func TestNotifyFailureStillCommits(t *testing.T) {
	feeds := &stubFeeds{blocks: []feed.BlockRow{{Epoch: 411, Forged: 1}}, stake: ada(1)}
	notifier := &recordingNotifier{}
	m := metrics.New()
	svc := newTestService(feeds, nil, notifier, m)
	ctx := context.Background()

	require.NoError(t, svc.ProcessTick(ctx, time.Now()))
	notifier.err = alerting.ErrSend
	feeds.set(func(f *stubFeeds) { f.blocks = []feed.BlockRow{{Epoch: 411, Forged: 2}} })

	results := svc.RunCycles(ctx)
	assert.Equal(t, 1, results[0].SendFailures)
	assert.NoError(t, results[0].Err)

	blocks, _ := svc.Baselines().Blocks.Load()
	assert.Equal(t, []feed.BlockRow{{Epoch: 411, Forged: 2}}, blocks)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues(string(feed.BlocksForged), metrics.ResultFailed)))
}

type stubLocker struct {
	acquired bool
	unlocked bool
}

func (l *stubLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	return func() { l.unlocked = true }, l.acquired, nil
}

func TestProcessTickSkipsWithoutAdvisoryLock(t *testing.T) {
	feeds := &stubFeeds{stake: ada(1)}
	locker := &stubLocker{}
	svc := New(Options{LockKey: 42}, Deps{Feeds: feeds, Locker: locker}, zerolog.Nop())

	require.NoError(t, svc.ProcessTick(context.Background(), time.Now()))
	_, ok := svc.Baselines().Stake.Load()
	assert.False(t, ok)

	locker.acquired = true
	require.NoError(t, svc.ProcessTick(context.Background(), time.Now()))
	_, ok = svc.Baselines().Stake.Load()
	assert.True(t, ok)
	assert.True(t, locker.unlocked)
}

func TestHungFeedIsCutOffWhileOthersCommit(t *testing.T) {
	feeds := &stubFeeds{
		blocks:     []feed.BlockRow{{Epoch: 411, Forged: 3}},
		delegators: []feed.DelegatorRow{{Address: "A"}},
		stake:      ada(1_000_000),
	}
	notifier := &recordingNotifier{}
	svc := New(Options{SlotsAssigned: 5, FeedTimeout: 50 * time.Millisecond}, Deps{
		Feeds:    feeds,
		Lookup:   stubLookup{},
		Notifier: notifier,
	}, zerolog.Nop())
	require.NoError(t, svc.ProcessTick(context.Background(), time.Now()))

	feeds.set(func(f *stubFeeds) {
		f.hangBlocks = true
		f.stake = ada(1_200_000)
	})

	started := time.Now()
	results := svc.RunCycles(context.Background())
	assert.Less(t, time.Since(started), 5*time.Second)

	require.Len(t, results, 3)
	assert.Equal(t, metrics.OutcomeFailed, results[0].Outcome)
	require.ErrorIs(t, results[0].Err, context.DeadlineExceeded)
	assert.Equal(t, metrics.OutcomeNoOp, results[1].Outcome)
	assert.Equal(t, metrics.OutcomeNotified, results[2].Outcome)

	blocks, _ := svc.Baselines().Blocks.Load()
	assert.Equal(t, []feed.BlockRow{{Epoch: 411, Forged: 3}}, blocks)
	stake, _ := svc.Baselines().Stake.Load()
	assert.True(t, stake.LiveStake.Equal(decimal.NewFromInt(1_200_000)))
	assert.Len(t, notifier.byFeed(feed.PoolStakeFeed), 1)
}
