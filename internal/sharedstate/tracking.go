package sharedstate

import (
	"context"

	"github.com/barsnet/stopbars/internal/model"
)

// UpstreamHandle is the subset of the Upstream Network Protocol
// Driver's API the Aerodrome Manager needs; kept as a narrow interface
// here so this package never imports internal/upstream.
type UpstreamHandle interface {
	SendPatch(ctx context.Context, p model.Patch) error
	SendControl(ctx context.Context, controlling bool) error
	SendScenery(ctx context.Context, objectID string, state bool) error
	Close() error
}

// TrackingRecord is the per-aerodrome bookkeeping the Aerodrome Manager
// keeps on the server side: refcount, control flag, upstream socket
// handle, lazily loaded authoritative config, and the last-known
// authoritative Patch snapshot (spec.md §3, §4.3).
type TrackingRecord struct {
	Trackers    uint32
	Controlling bool

	Socket UpstreamHandle

	Config     *model.Aerodrome
	ConfigHash uint64

	Authoritative model.Patch

	State *SharedState
}

// Track increments the refcount and reports whether this was the
// transition from 0 to 1 (the caller opens the upstream socket only on
// that transition).
func (r *TrackingRecord) Track() (becameActive bool) {
	r.Trackers++
	return r.Trackers == 1
}

// Untrack decrements the refcount and reports whether this was the
// transition to 0 (the caller closes the socket and drops local state
// on that transition, and Controlling is forced false). If the refcount
// is already 0 it is left at 0 and Untrack also reports true.
func (r *TrackingRecord) Untrack() (becameIdle bool) {
	if r.Trackers == 0 {
		return true
	}
	r.Trackers--
	if r.Trackers == 0 {
		r.Controlling = false
		return true
	}
	return false
}
