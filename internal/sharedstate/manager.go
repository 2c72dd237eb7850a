// Manager implements the Aerodrome Manager (spec.md §4.3): the
// server-side owner of one aerodrome's authoritative shared state, its
// upstream socket lifecycle, and the local broadcast bus fanning
// Config/Control/Patch/Aircraft/Error to every subscribed client
// stream. The registry/mutex/bounded-broadcast shape mirrors
// internal/authserver.Server, generalized from the WebSocket session
// fan-out to the Local IPC Broker's client streams.
package sharedstate

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/barsnet/stopbars/internal/ipc"
	"github.com/barsnet/stopbars/internal/model"
	"github.com/barsnet/stopbars/internal/wire"
)

// busCapacity is the bounded per-aerodrome broadcast channel size
// (spec.md §4.3, §5); overflow is logged and dropped, never blocks.
const busCapacity = 16

// ConfigLoader resolves an ICAO to its (immutable, process-cached)
// Aerodrome config. The real implementation fetches and decodes a
// compiled config package, an external collaborator out of this
// core's scope (spec.md §1); Manager only needs the narrow interface.
type ConfigLoader interface {
	Load(icao string) (*model.Aerodrome, error)
}

// DownstreamHandler receives raw decoded wire envelopes from an open
// upstream socket. *Manager implements this; upstream.Driver's Handler
// parameter is satisfied structurally without sharedstate importing
// the upstream package (spec.md §9 "avoid ownership cycles").
type DownstreamHandler interface {
	HandleDownstream(icao string, env wire.Envelope)
}

// SocketFactory opens an upstream socket for icao when its tracker
// refcount transitions 0->1. The returned UpstreamHandle is used to
// send outgoing mutations; calling the returned context.CancelFunc
// tears the background connection down (spec.md §4.3's socket state
// machine Open -> Closing -> Closed).
type SocketFactory func(icao string, handler DownstreamHandler) (UpstreamHandle, context.CancelFunc)

type aerodromeEntry struct {
	mu sync.Mutex
	TrackingRecord

	cancel context.CancelFunc
	subs   map[chan ipc.Downstream]struct{}
}

func newAerodromeEntry() *aerodromeEntry {
	return &aerodromeEntry{subs: make(map[chan ipc.Downstream]struct{})}
}

func (e *aerodromeEntry) subscribe() chan ipc.Downstream {
	ch := make(chan ipc.Downstream, busCapacity)
	e.mu.Lock()
	e.subs[ch] = struct{}{}
	e.mu.Unlock()
	return ch
}

// unsubscribe removes and closes ch. It holds the same lock broadcast
// does, so broadcast can never send on an already-closed channel.
func (e *aerodromeEntry) unsubscribe(ch chan ipc.Downstream) {
	e.mu.Lock()
	if _, ok := e.subs[ch]; ok {
		delete(e.subs, ch)
		close(ch)
	}
	e.mu.Unlock()
}

func (e *aerodromeEntry) broadcast(msg ipc.Downstream, logger *zap.Logger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for ch := range e.subs {
		select {
		case ch <- msg:
		default:
			logger.Warn("sharedstate: broadcast bus overflow, dropping message for a slow subscriber",
				zap.String("icao", msg.ICAO), zap.Int("kind", int(msg.Kind)))
		}
	}
}

// Manager owns every tracked aerodrome's TrackingRecord and broadcast
// bus. Safe for concurrent use; each aerodrome's critical sections are
// short and never held across network I/O (spec.md §5).
type Manager struct {
	loader ConfigLoader
	opener SocketFactory
	logger *zap.Logger

	mu         sync.Mutex
	aerodromes map[string]*aerodromeEntry
}

// NewManager constructs a Manager. opener may be nil for a purely
// local/offline test double; Patch calls then always take the
// disconnected merge-and-broadcast path.
func NewManager(loader ConfigLoader, opener SocketFactory, logger *zap.Logger) *Manager {
	return &Manager{
		loader:     loader,
		opener:     opener,
		logger:     logger,
		aerodromes: make(map[string]*aerodromeEntry),
	}
}

func (m *Manager) entryFor(icao string) *aerodromeEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.aerodromes[icao]
	if !ok {
		e = newAerodromeEntry()
		m.aerodromes[icao] = e
	}
	return e
}

// Subscribe registers a local client stream's interest in icao,
// returning a channel of broadcast envelopes and a cleanup func. The
// caller also calls Track(icao, true) so the socket lifecycle observes
// the subscription; subscribing before Track lets the channel receive
// the Config (or Error) that Track broadcasts on a 0->1 transition.
func (m *Manager) Subscribe(icao string) (ch chan ipc.Downstream, unsubscribe func()) {
	e := m.entryFor(icao)
	ch = e.subscribe()
	return ch, func() { e.unsubscribe(ch) }
}

// Track applies a reference-count transition for icao (spec.md §4.3).
// On 0->1 it loads the config, broadcasts it, and opens the upstream
// socket; on 1->0 it closes the socket gracefully and drops local
// state.
func (m *Manager) Track(icao string, want bool) error {
	e := m.entryFor(icao)
	e.mu.Lock()

	if want {
		becameActive := e.Track()
		if !becameActive {
			e.mu.Unlock()
			return nil
		}
		e.mu.Unlock()
		return m.openAerodrome(icao, e)
	}

	becameIdle := e.Untrack()
	var socket UpstreamHandle
	var cancel context.CancelFunc
	if becameIdle {
		socket = e.Socket
		cancel = e.cancel
		e.Socket = nil
		e.cancel = nil
		e.Config = nil
		e.ConfigHash = 0
		e.Authoritative = model.Patch{}
	}
	e.mu.Unlock()

	if becameIdle {
		// Cancel first so the driver's reconnect loop doesn't treat
		// the subsequent Close as a transient disconnect to retry.
		if cancel != nil {
			cancel()
		}
		if socket != nil {
			return socket.Close()
		}
	}
	return nil
}

func (m *Manager) openAerodrome(icao string, e *aerodromeEntry) error {
	cfg, err := m.loader.Load(icao)
	if err != nil {
		e.broadcast(ipc.Downstream{Kind: ipc.DownstreamError, ICAO: icao,
			Message: "failed to load config", Disconnect: true}, m.logger)
		return err
	}

	e.mu.Lock()
	e.Config = cfg
	e.mu.Unlock()
	e.broadcast(ipc.Downstream{Kind: ipc.DownstreamConfig, ICAO: icao, Config: cfg}, m.logger)

	if m.opener == nil {
		return nil
	}
	socket, cancel := m.opener(icao, m)
	e.mu.Lock()
	e.Socket = socket
	e.cancel = cancel
	e.mu.Unlock()
	return nil
}

// Control sets the controlling flag for icao and broadcasts the
// transition; it forwards upstream only when a socket is open.
func (m *Manager) Control(icao string, controlling bool) error {
	e := m.entryFor(icao)
	e.mu.Lock()
	e.Controlling = controlling
	socket := e.Socket
	e.mu.Unlock()

	e.broadcast(ipc.Downstream{Kind: ipc.DownstreamControl, ICAO: icao, Bool: controlling}, m.logger)
	if socket != nil {
		return socket.SendControl(context.Background(), controlling)
	}
	return nil
}

// Patch applies a client-submitted Patch (spec.md §4.3): forwarded
// upstream when connected, or merged into the local authoritative
// snapshot and broadcast to local subscribers only when not.
func (m *Manager) Patch(icao string, p model.Patch) error {
	e := m.entryFor(icao)
	e.mu.Lock()
	socket := e.Socket
	if socket == nil {
		e.Authoritative = model.Merge(e.Authoritative, p)
	}
	e.mu.Unlock()

	if socket != nil {
		return socket.SendPatch(context.Background(), p)
	}
	e.broadcast(ipc.Downstream{Kind: ipc.DownstreamPatch, ICAO: icao, Patch: p}, m.logger)
	return nil
}

// Scenery forwards a client-submitted scenery-object toggle upstream.
// It is dropped silently when no socket is open: scenery is out-of-
// band state with no local-merge fallback (spec.md §3, §4.2).
func (m *Manager) Scenery(icao string, objects map[string]bool) error {
	e := m.entryFor(icao)
	e.mu.Lock()
	socket := e.Socket
	e.mu.Unlock()
	if socket == nil {
		return nil
	}
	for id, state := range objects {
		if err := socket.SendScenery(context.Background(), id, state); err != nil {
			return err
		}
	}
	return nil
}

// HandleDownstream translates a decoded upstream wire.Envelope into a
// local broadcast envelope (spec.md §4.5 -> §4.3). Unknown types are
// dropped, never fatal, matching the upstream driver's own contract.
func (m *Manager) HandleDownstream(icao string, env wire.Envelope) {
	e := m.entryFor(icao)

	switch env.Type {
	case wire.TypeSharedStateUpdate:
		var data wire.SharedStateUpdateData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return
		}
		var p model.Patch
		if err := json.Unmarshal(data.SharedStatePatch, &p); err != nil {
			return
		}
		e.mu.Lock()
		e.Authoritative = model.Merge(e.Authoritative, p)
		e.mu.Unlock()
		e.broadcast(ipc.Downstream{Kind: ipc.DownstreamPatch, ICAO: icao, Patch: p}, m.logger)

	case wire.TypeError:
		var data wire.ErrorData
		_ = json.Unmarshal(env.Data, &data)
		e.broadcast(ipc.Downstream{Kind: ipc.DownstreamError, ICAO: icao,
			Message: data.Message, Disconnect: true}, m.logger)

	case "AIRCRAFT":
		var poll struct {
			Pilots []string `json:"pilots"`
		}
		_ = json.Unmarshal(env.Data, &poll)
		e.broadcast(ipc.Downstream{Kind: ipc.DownstreamAircraft, ICAO: icao, Callsigns: poll.Pilots}, m.logger)

	case wire.TypeControllerConnect, wire.TypeControllerDisconnect, wire.TypeInitialState, wire.TypeStateUpdate:
		// These describe authoritative-server session bookkeeping and
		// scenery state that this core's local subscribers don't
		// render from; acknowledged but not forwarded.

	default:
		// Unrecognized type: no-op (spec.md §4.5).
	}
}
