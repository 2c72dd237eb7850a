// Package sharedstate holds the per-aerodrome runtime overlay: the
// pending/confirmed value cells, deferred-reset timers, and the
// reference-counted TrackingRecord lifecycle, per spec.md §3 and §4.3.
package sharedstate

import (
	"time"

	"github.com/barsnet/stopbars/internal/model"
)

// Cell is the State<T> overlay: current is the last server-confirmed
// value, pending is an optional locally-applied value not yet
// confirmed. The effective value is pending if set, else current.
type Cell[T any] struct {
	Current T
	Pending *T
}

// Effective returns pending if set, else current.
func (c Cell[T]) Effective() T {
	if c.Pending != nil {
		return *c.Pending
	}
	return c.Current
}

// SetPending assigns a local, unconfirmed value.
func (c *Cell[T]) SetPending(v T) {
	c.Pending = &v
}

// HasPending reports whether a pending value is outstanding.
func (c Cell[T]) HasPending() bool {
	return c.Pending != nil
}

// Confirm applies a server-confirmed value, discarding any pending
// overlay regardless of whether it matched or was superseded — either
// way the cell is no longer in disagreement with the server (spec.md
// §3 lifecycle note).
func (c *Cell[T]) Confirm(v T) {
	c.Current = v
	c.Pending = nil
}

// TimerKind discriminates what a deferred timer fires against.
type TimerKind int

const (
	TimerNode TimerKind = iota
	TimerBlock
)

// Timer is a single deferred-reset deadline.
type Timer struct {
	Kind     TimerKind
	Index    int
	Deadline time.Time
}

// SharedState is the mutable runtime overlay for one tracked Aerodrome.
type SharedState struct {
	ProfileIndex int

	Nodes  []Cell[bool]
	Blocks []Cell[model.BlockState]

	nodeTimers  map[int]time.Time
	blockTimers map[int]time.Time
}

// New constructs a SharedState sized for an aerodrome with the given
// node/block counts, profile index 0.
func New(nodeCount, blockCount int) *SharedState {
	return &SharedState{
		Nodes:       make([]Cell[bool], nodeCount),
		Blocks:      make([]Cell[model.BlockState], blockCount),
		nodeTimers:  make(map[int]time.Time),
		blockTimers: make(map[int]time.Time),
	}
}

// SetProfile switches the active profile. Per spec.md §4.4, a profile
// change cancels every outstanding deferred timer.
func (s *SharedState) SetProfile(i int) {
	s.ProfileIndex = i
	s.nodeTimers = make(map[int]time.Time)
	s.blockTimers = make(map[int]time.Time)
}

// ScheduleNodeTimer arms (replacing any prior) a deferred re-enable
// deadline for a node.
func (s *SharedState) ScheduleNodeTimer(node int, deadline time.Time) {
	s.nodeTimers[node] = deadline
}

// CancelNodeTimer clears a node's deferred timer, if any.
func (s *SharedState) CancelNodeTimer(node int) {
	delete(s.nodeTimers, node)
}

// ScheduleBlockTimer arms (replacing any prior) a deferred revert-to-
// Clear deadline for a block.
func (s *SharedState) ScheduleBlockTimer(block int, deadline time.Time) {
	s.blockTimers[block] = deadline
}

// CancelBlockTimer clears a block's deferred timer, if any.
func (s *SharedState) CancelBlockTimer(block int) {
	delete(s.blockTimers, block)
}

// Fire pops every timer whose deadline has elapsed as of now, in
// arbitrary order (callers sort the handful of results if ordering
// matters; map iteration order is otherwise irrelevant here since each
// timer acts on a disjoint cell).
func (s *SharedState) Fire(now time.Time) []Timer {
	var fired []Timer
	for idx, dl := range s.nodeTimers {
		if !dl.After(now) {
			fired = append(fired, Timer{Kind: TimerNode, Index: idx, Deadline: dl})
			delete(s.nodeTimers, idx)
		}
	}
	for idx, dl := range s.blockTimers {
		if !dl.After(now) {
			fired = append(fired, Timer{Kind: TimerBlock, Index: idx, Deadline: dl})
			delete(s.blockTimers, idx)
		}
	}
	return fired
}
