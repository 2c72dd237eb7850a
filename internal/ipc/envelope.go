// Package ipc implements the Local IPC Broker: one bidirectional
// channel per client, with an in-process backend and a loopback-TCP
// backend that behave identically modulo latency (spec.md §4.2). The
// TCP accept-loop/WaitGroup/closeCh/sync.Once shutdown shape is
// grounded on internal/listener.TCPListener from the teacher repo.
package ipc

import "github.com/barsnet/stopbars/internal/model"

// UpstreamKind discriminates a client-to-broker envelope.
type UpstreamKind int

const (
	UpstreamInit UpstreamKind = iota
	UpstreamTrack
	UpstreamControl
	UpstreamPatch
	UpstreamScenery
)

// Upstream is a client-originated envelope. Only the fields relevant
// to Kind are populated; callers that don't recognize Kind must skip
// it rather than treat it as fatal (spec.md §4.2).
type Upstream struct {
	Kind    UpstreamKind
	ICAO    string
	Bool    bool // Track/Control payload
	Patch   model.Patch
	Scenery map[string]bool
}

// DownstreamKind discriminates a broker-to-client envelope.
type DownstreamKind int

const (
	DownstreamConfig DownstreamKind = iota
	DownstreamControl
	DownstreamPatch
	DownstreamAircraft
	DownstreamError
)

// Downstream is a broker-originated envelope.
type Downstream struct {
	Kind       DownstreamKind
	ICAO       string
	Config     *model.Aerodrome
	Bool       bool // Control payload
	Patch      model.Patch
	Callsigns  []string
	Message    string
	Disconnect bool
}

// ServerChannel is the broker-side half of a Channel: receive
// client-originated envelopes, send broker-originated ones. Both
// *TCPChannel and *InProcessChannel satisfy this as well as Channel,
// since each backend is fully bidirectional (spec.md §4.2).
type ServerChannel interface {
	SendDownstream(Downstream) error
	RecvUpstream() (Upstream, bool, error)
	Close() error
}
