// Package policy decides which feed deltas are worth a chat message and
// renders those messages.
package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/perchlabs-io/balance-bot/internal/alerting"
	"github.com/perchlabs-io/balance-bot/internal/feed"
)

// Decision is the outcome of one feed cycle: the messages to send and
// whether the fetched snapshot replaces the baseline.
type Decision struct {
	Messages []string
	Commit   bool
}

// NoOp reports whether the decision neither notifies nor commits.
func (d Decision) NoOp() bool {
	return len(d.Messages) == 0 && !d.Commit
}

// Blocks emits one message per arrival. Departures only move the baseline:
// the view is append-only per epoch, so a departure is always the stale side
// of an updated row.
func Blocks(delta feed.SetDelta[feed.BlockRow], slotsAssigned int) Decision {
	if delta.Empty() {
		return Decision{}
	}
	msgs := make([]string, 0, len(delta.Arrivals))
	for _, row := range delta.Arrivals {
		msgs = append(msgs, alerting.RenderBlocks(row, slotsAssigned))
	}
	return Decision{Messages: msgs, Commit: true}
}

// AddressLookup resolves the current delegation details of one stake address.
type AddressLookup func(ctx context.Context, stakeAddress string) (feed.AddressDetails, error)

// Roster renders one message per departure followed by one per arrival. A
// failed lookup drops that message only; the failures are returned joined.
func Roster(ctx context.Context, delta feed.SetDelta[feed.DelegatorRow], lookup AddressLookup) (Decision, error) {
	if delta.Empty() {
		return Decision{}, nil
	}

	var (
		msgs []string
		errs []error
	)
	for _, row := range delta.Departures {
		details, err := lookup(ctx, row.Address)
		if err != nil {
			errs = append(errs, fmt.Errorf("lookup departing %s: %w", row.Address, err))
			continue
		}
		msgs = append(msgs, alerting.RenderDeparture(details))
	}
	for _, row := range delta.Arrivals {
		details, err := lookup(ctx, row.Address)
		if err != nil {
			errs = append(errs, fmt.Errorf("lookup arriving %s: %w", row.Address, err))
			continue
		}
		msgs = append(msgs, alerting.RenderArrival(details))
	}
	return Decision{Messages: msgs, Commit: true}, errors.Join(errs...)
}

// Threshold is the noise buffer around the last reported live stake. A change
// is significant only when strictly above High or strictly below Low.
type Threshold struct {
	Low  decimal.Decimal
	High decimal.Decimal
}

// DefaultThreshold is a symmetric 100,000 ADA buffer.
var DefaultThreshold = Threshold{
	Low:  decimal.NewFromInt(-100_000),
	High: decimal.NewFromInt(100_000),
}

// Significant reports whether change leaves the buffer.
func (t Threshold) Significant(change decimal.Decimal) bool {
	return change.GreaterThan(t.High) || change.LessThan(t.Low)
}

// Stake emits one message when the change leaves the buffer. Changes inside
// the buffer keep the old baseline, so drift is measured from the last
// reported value.
func Stake(delta feed.ScalarDelta, threshold Threshold) Decision {
	if delta.Empty() || !threshold.Significant(delta.Change) {
		return Decision{}
	}
	return Decision{Messages: []string{alerting.RenderStakeMove(delta.Change)}, Commit: true}
}
