package feed

import (
	"github.com/shopspring/decimal"
)

// SetDelta is the difference between two snapshots of a set-style feed.
type SetDelta[R comparable] struct {
	Arrivals   []R
	Departures []R
}

// Empty reports whether nothing arrived or departed.
func (d SetDelta[R]) Empty() bool {
	return len(d.Arrivals) == 0 && len(d.Departures) == 0
}

// Diff compares two snapshots by structural row equality. Rows present in
// current but not previous are arrivals, rows present in previous but not
// current are departures. Each distinct row is reported once, in snapshot
// order. An empty previous snapshot yields an empty delta.
func Diff[R comparable](previous, current []R) SetDelta[R] {
	if len(previous) == 0 {
		return SetDelta[R]{}
	}

	prev := toSet(previous)
	cur := toSet(current)

	return SetDelta[R]{
		Arrivals:   missingFrom(current, prev),
		Departures: missingFrom(previous, cur),
	}
}

func toSet[R comparable](rows []R) map[R]struct{} {
	set := make(map[R]struct{}, len(rows))
	for _, r := range rows {
		set[r] = struct{}{}
	}
	return set
}

func missingFrom[R comparable](rows []R, other map[R]struct{}) []R {
	var out []R
	seen := make(map[R]struct{})
	for _, r := range rows {
		if _, ok := other[r]; ok {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// ScalarDelta is the signed change of the pool stake between two polls.
type ScalarDelta struct {
	Previous decimal.Decimal
	Current  decimal.Decimal
	Change   decimal.Decimal
	// Cold marks a delta computed without a previous value.
	Cold bool
}

// Empty reports whether the delta carries no change.
func (d ScalarDelta) Empty() bool {
	return d.Cold || d.Change.IsZero()
}

// DiffStake subtracts the previous live stake from the current one.
func DiffStake(previous PoolStake, hasPrevious bool, current PoolStake) ScalarDelta {
	if !hasPrevious {
		return ScalarDelta{Current: current.LiveStake, Change: decimal.Zero, Cold: true}
	}
	return ScalarDelta{
		Previous: previous.LiveStake,
		Current:  current.LiveStake,
		Change:   current.LiveStake.Sub(previous.LiveStake),
	}
}
