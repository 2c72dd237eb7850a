// Package client implements the Client Core: the single-threaded
// per-process engine that holds each tracked aerodrome's SharedState,
// accepts user intents (track, preset, node/block/route mutation),
// and exchanges Upstream/Downstream envelopes with the Aerodrome
// Manager over a Local IPC Broker channel (spec.md §4.1).
package client

import (
	"time"

	"go.uber.org/zap"

	coreerrors "github.com/barsnet/stopbars/internal/errors"
	"github.com/barsnet/stopbars/internal/derive"
	"github.com/barsnet/stopbars/internal/ipc"
	"github.com/barsnet/stopbars/internal/model"
	"github.com/barsnet/stopbars/internal/sharedstate"
)

// Channel is the subset of an ipc backend the Client Core drives:
// send user intents upstream, drain broker-originated envelopes. Both
// *ipc.InProcessChannel and *ipc.TCPChannel satisfy this.
type Channel interface {
	SendUpstream(ipc.Upstream) error
	RecvDownstream() (ipc.Downstream, bool, error)
	Close() error
}

// aerodromeState is everything the Client Core keeps for one tracked
// ICAO.
type aerodromeState struct {
	trackers    uint32
	controlling bool

	config *model.Aerodrome
	state  *sharedstate.SharedState

	dirtyNodes   map[int]bool
	dirtyBlocks  map[int]bool
	dirtyProfile bool

	scenery      map[string]bool
	dirtyScenery map[string]bool
}

func newAerodromeState() *aerodromeState {
	return &aerodromeState{
		dirtyNodes:   make(map[int]bool),
		dirtyBlocks:  make(map[int]bool),
		scenery:      make(map[string]bool),
		dirtyScenery: make(map[string]bool),
	}
}

// Core is the Client Core (spec.md §4.1). Not safe for concurrent use;
// every method must be called from the single owning goroutine.
type Core struct {
	channel Channel
	logger  *zap.Logger

	aerodromes map[string]*aerodromeState
	messages   []string
	poisoned   bool
}

// New constructs a Core driving channel.
func New(channel Channel, logger *zap.Logger) *Core {
	return &Core{
		channel:    channel,
		logger:     logger,
		aerodromes: make(map[string]*aerodromeState),
	}
}

// Poisoned reports whether a fatal IPC error has already been observed;
// once true every operation fails and tick is a no-op.
func (c *Core) Poisoned() bool {
	return c.poisoned
}

func (c *Core) tracked(icao string) (*aerodromeState, error) {
	if c.poisoned {
		return nil, coreerrors.New(coreerrors.KindTransportFatal, "client core is poisoned")
	}
	as, ok := c.aerodromes[icao]
	if !ok {
		return nil, coreerrors.New(coreerrors.KindProtocol, "aerodrome not tracked: "+icao)
	}
	return as, nil
}

func (as *aerodromeState) activeProfile() (*model.Profile, error) {
	if as.config == nil {
		return nil, coreerrors.New(coreerrors.KindProtocol, "aerodrome config not yet received")
	}
	idx := as.state.ProfileIndex
	if idx < 0 || idx >= len(as.config.Profiles) {
		return nil, coreerrors.New(coreerrors.KindProtocol, "no active profile")
	}
	return &as.config.Profiles[idx], nil
}

// Track applies a reference-count change for icao. Per spec.md §4.1,
// Track is always forwarded upstream regardless of whether the local
// refcount transition was a no-op duplicate, and the local Aerodrome
// and SharedState are discarded on the 1->0 transition.
func (c *Core) Track(icao string, want bool) error {
	if c.poisoned {
		return coreerrors.New(coreerrors.KindTransportFatal, "client core is poisoned")
	}
	as, ok := c.aerodromes[icao]
	if !ok {
		as = newAerodromeState()
		c.aerodromes[icao] = as
	}

	if want {
		as.trackers++
	} else if as.trackers > 0 {
		as.trackers--
		if as.trackers == 0 {
			delete(c.aerodromes, icao)
		}
	}

	return c.channel.SendUpstream(ipc.Upstream{Kind: ipc.UpstreamTrack, ICAO: icao, Bool: want})
}

// SetControlling forwards a controlling/observing transition. Valid
// only if icao is tracked.
func (c *Core) SetControlling(icao string, controlling bool) error {
	as, err := c.tracked(icao)
	if err != nil {
		return err
	}
	as.controlling = controlling
	return c.channel.SendUpstream(ipc.Upstream{Kind: ipc.UpstreamControl, ICAO: icao, Bool: controlling})
}

// ApplyPreset expands preset presetIndex of the active profile: direct
// entries set the named index, and an AllUnset entry (if present)
// fills every index of that kind not named by another entry of the
// same preset, wherever that entry sits in the list (spec.md §3, §4.1).
func (c *Core) ApplyPreset(icao string, presetIndex int) error {
	as, err := c.tracked(icao)
	if err != nil {
		return err
	}
	profile, err := as.activeProfile()
	if err != nil {
		return err
	}
	if presetIndex < 0 || presetIndex >= len(profile.Presets) {
		return coreerrors.New(coreerrors.KindProtocol, "preset index out of range")
	}
	preset := profile.Presets[presetIndex]

	touchedNodes := make(map[int]bool, len(preset.Nodes))
	var allUnsetNode *bool
	for _, pn := range preset.Nodes {
		if pn.Index == model.AllUnset {
			v := pn.Value
			allUnsetNode = &v
			continue
		}
		as.setNodePending(pn.Index, pn.Value)
		touchedNodes[pn.Index] = true
	}
	if allUnsetNode != nil {
		for i := range as.state.Nodes {
			if touchedNodes[i] {
				continue
			}
			as.setNodePending(i, *allUnsetNode)
		}
	}

	touchedBlocks := make(map[int]bool, len(preset.Blocks))
	var allUnsetBlock *model.BlockState
	for _, pb := range preset.Blocks {
		if pb.Index == model.AllUnset {
			v := pb.Value
			allUnsetBlock = &v
			continue
		}
		as.setBlockPending(pb.Index, pb.Value)
		touchedBlocks[pb.Index] = true
	}
	if allUnsetBlock != nil {
		for i := range as.state.Blocks {
			if touchedBlocks[i] {
				continue
			}
			as.setBlockPending(i, *allUnsetBlock)
		}
	}
	return nil
}

func (as *aerodromeState) setNodePending(i int, v bool) {
	as.state.Nodes[i].SetPending(v)
	as.state.CancelNodeTimer(i)
	as.dirtyNodes[i] = true
}

func (as *aerodromeState) setBlockPending(i int, v model.BlockState) {
	as.state.Blocks[i].SetPending(v)
	as.state.CancelBlockTimer(i)
	as.dirtyBlocks[i] = true
}

// SetNode applies a Direct-node mutation, valid only when the active
// profile's NodeCondition for nodeIndex is Direct. A transition to
// false under a TimeSecs(n) reset policy arms a deferred re-enable
// (spec.md §4.1).
func (c *Core) SetNode(icao string, nodeIndex int, value bool) error {
	as, err := c.tracked(icao)
	if err != nil {
		return err
	}
	profile, err := as.activeProfile()
	if err != nil {
		return err
	}
	if nodeIndex < 0 || nodeIndex >= len(profile.Nodes) {
		return coreerrors.New(coreerrors.KindProtocol, "node index out of range")
	}
	nc := profile.Nodes[nodeIndex]
	if nc.Kind != model.Direct {
		return coreerrors.New(coreerrors.KindProtocol, "node is not Direct under the active profile")
	}

	as.setNodePending(nodeIndex, value)
	if !value && nc.Reset.Kind == model.ResetTimeSecs {
		as.state.ScheduleNodeTimer(nodeIndex, time.Now().Add(time.Duration(nc.Reset.Secs)*time.Second))
	}
	return nil
}

// SetBlock applies state to blockIndex and cascades it to every block
// reachable solely through statically Fixed-false nodes (spec.md
// §4.1). On a non-Clear transition, each cascaded block whose own
// BlockCondition declares a TimeSecs(n) reset policy gets a deferred
// revert-to-Clear timer.
func (c *Core) SetBlock(icao string, blockIndex int, state model.BlockState) error {
	as, err := c.tracked(icao)
	if err != nil {
		return err
	}
	profile, err := as.activeProfile()
	if err != nil {
		return err
	}
	if blockIndex < 0 || blockIndex >= len(as.config.Blocks) {
		return coreerrors.New(coreerrors.KindProtocol, "block index out of range")
	}
	c.cascadeSetBlock(as, profile, blockIndex, state)
	return nil
}

func (c *Core) cascadeSetBlock(as *aerodromeState, profile *model.Profile, start int, state model.BlockState) {
	visited := map[int]bool{start: true}
	queue := []int{start}

	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]

		as.setBlockPending(b, state)
		if state.Kind != model.Clear && b < len(profile.Blocks) {
			if bc := profile.Blocks[b]; bc.Reset.Kind == model.ResetTimeSecs {
				as.state.ScheduleBlockTimer(b, time.Now().Add(time.Duration(bc.Reset.Secs)*time.Second))
			}
		}

		for _, n := range as.config.Blocks[b].Nodes {
			if n < 0 || n >= len(profile.Nodes) {
				continue
			}
			nc := profile.Nodes[n]
			if nc.Kind != model.Fixed || nc.Fixed {
				continue // only propagates through a statically Fixed-false node
			}
			for _, ob := range as.config.NodeBlocks(n) {
				if !visited[ob] {
					visited[ob] = true
					queue = append(queue, ob)
				}
			}
		}
	}
}

// SetRoute runs the route-assignment algorithm (spec.md §4.4) from
// origin to destination and applies the resulting block Route states.
// A routing failure is logged at Debug as a KindTimerLogic error and
// swallowed: it returns nil and causes no local mutation.
func (c *Core) SetRoute(icao string, origin, destination int) error {
	as, err := c.tracked(icao)
	if err != nil {
		return err
	}
	routes, rerr := derive.AssignRoute(as.config, as.state, origin, destination)
	if rerr != nil {
		c.logger.Debug("client: set_route aborted",
			zap.Error(coreerrors.Wrap(coreerrors.KindTimerLogic, "route assignment failed", rerr)))
		return nil
	}
	for block, rs := range routes {
		as.setBlockPending(block, rs)
	}
	return nil
}

// SetScenery queues an out-of-band scenery toggle for the next tick.
func (c *Core) SetScenery(icao, objectID string, state bool) error {
	as, err := c.tracked(icao)
	if err != nil {
		return err
	}
	as.scenery[objectID] = state
	as.dirtyScenery[objectID] = true
	return nil
}

// Tick drains inbound IPC messages, fires elapsed timers, flushes
// coalesced outgoing patches, and returns any user-facing server error
// strings produced this tick (spec.md §4.1). An IPC receive error is
// fatal: Core transitions to Poisoned and every later call fails.
func (c *Core) Tick() []string {
	if c.poisoned {
		return nil
	}

	for {
		msg, ok, err := c.channel.RecvDownstream()
		if err != nil {
			c.poisoned = true
			c.logger.Error("client: ipc receive failed, poisoned", zap.Error(err))
			return []string{coreerrors.UserMessage("", "local connection lost")}
		}
		if !ok {
			break
		}
		c.applyDownstream(msg)
	}

	now := time.Now()
	for icao, as := range c.aerodromes {
		if as.config == nil {
			continue
		}
		profile, err := as.activeProfile()
		if err != nil {
			continue
		}
		for _, t := range as.state.Fire(now) {
			switch t.Kind {
			case sharedstate.TimerNode:
				_ = c.SetNode(icao, t.Index, true)
			case sharedstate.TimerBlock:
				c.cascadeSetBlock(as, profile, t.Index, model.BlockState{Kind: model.Clear})
			}
		}
	}

	c.flushOutgoing()

	msgs := c.messages
	c.messages = nil
	return msgs
}

func (c *Core) applyDownstream(msg ipc.Downstream) {
	as, ok := c.aerodromes[msg.ICAO]
	if !ok {
		return // not tracked locally (anymore); drop silently
	}

	switch msg.Kind {
	case ipc.DownstreamConfig:
		if msg.Config == nil {
			return
		}
		// The loopback-TCP backend gob-encodes Config, which drops
		// Aerodrome's unexported lookup tables; rebuild them here so
		// both ipc backends behave identically (spec.md §4.2).
		msg.Config.BuildIndex()
		as.config = msg.Config
		as.state = sharedstate.New(len(msg.Config.Nodes), len(msg.Config.Blocks))

	case ipc.DownstreamControl:
		as.controlling = msg.Bool

	case ipc.DownstreamPatch:
		c.applyConfirmedPatch(as, msg.Patch)

	case ipc.DownstreamAircraft:
		// No renderable state derives from callsigns; nothing to do.

	case ipc.DownstreamError:
		c.messages = append(c.messages, coreerrors.UserMessage(msg.ICAO, msg.Message))
		if msg.Disconnect {
			delete(c.aerodromes, msg.ICAO)
		}

	default:
		// Unknown kind: skip, never fatal (spec.md §4.2).
	}
}

// applyConfirmedPatch applies a server-authoritative Patch, clearing
// any timer on every cell it touches regardless of whether the
// confirmed value matched the pending one (spec.md §4.4).
func (c *Core) applyConfirmedPatch(as *aerodromeState, p model.Patch) {
	if as.config == nil || as.state == nil {
		return
	}
	if p.ProfileID != nil {
		if idx, ok := as.config.ProfileByID(*p.ProfileID); ok {
			as.state.SetProfile(idx)
		}
	}
	for id, v := range p.Nodes {
		if idx, ok := as.config.NodeByID(id); ok {
			as.state.Nodes[idx].Confirm(v)
			as.state.CancelNodeTimer(idx)
		}
	}
	for id, v := range p.Blocks {
		if idx, ok := as.config.BlockByID(id); ok {
			as.state.Blocks[idx].Confirm(v)
			as.state.CancelBlockTimer(idx)
		}
	}
}

// flushOutgoing coalesces every aerodrome's dirty cells into at most
// one Patch envelope and one scenery envelope per aerodrome this tick.
func (c *Core) flushOutgoing() {
	for icao, as := range c.aerodromes {
		if len(as.dirtyNodes) > 0 || len(as.dirtyBlocks) > 0 || as.dirtyProfile {
			p := model.NewPatch()
			for idx := range as.dirtyNodes {
				p.Nodes[as.config.Nodes[idx].ID] = as.state.Nodes[idx].Effective()
			}
			for idx := range as.dirtyBlocks {
				p.Blocks[as.config.Blocks[idx].ID] = as.state.Blocks[idx].Effective()
			}
			if !p.IsEmpty() {
				_ = c.channel.SendUpstream(ipc.Upstream{Kind: ipc.UpstreamPatch, ICAO: icao, Patch: p})
			}
			as.dirtyNodes = make(map[int]bool)
			as.dirtyBlocks = make(map[int]bool)
			as.dirtyProfile = false
		}

		if len(as.dirtyScenery) > 0 {
			out := make(map[string]bool, len(as.dirtyScenery))
			for id := range as.dirtyScenery {
				out[id] = as.scenery[id]
			}
			_ = c.channel.SendUpstream(ipc.Upstream{Kind: ipc.UpstreamScenery, ICAO: icao, Scenery: out})
			as.dirtyScenery = make(map[string]bool)
		}
	}
}
