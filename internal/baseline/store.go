// Package baseline keeps the last committed snapshot of every monitored feed.
//
// Each Cell is owned by exactly one feed task. Cells are never shared between
// tasks, so no lock guards them; the scheduler's per-tick barrier orders the
// accesses of consecutive ticks.
package baseline

import (
	"github.com/perchlabs-io/balance-bot/internal/feed"
)

// Cell holds at most one baseline value.
type Cell[T any] struct {
	value T
	set   bool
}

// Load returns the baseline and whether one has been stored.
func (c *Cell[T]) Load() (T, bool) {
	return c.value, c.set
}

// Store replaces the baseline.
func (c *Cell[T]) Store(v T) {
	c.value = v
	c.set = true
}

// Reset forgets the baseline so the next cycle is a cold start.
func (c *Cell[T]) Reset() {
	var zero T
	c.value = zero
	c.set = false
}

// Store partitions baselines by feed.
type Store struct {
	Blocks     Cell[[]feed.BlockRow]
	Delegators Cell[[]feed.DelegatorRow]
	Stake      Cell[feed.PoolStake]
}

// New returns an empty store.
func New() *Store {
	return &Store{}
}
