package sharedstate

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/barsnet/stopbars/internal/ipc"
)

// pollInterval is how often Session polls a ServerChannel's RecvUpstream
// when idle. Both ipc backends are non-blocking-poll by design (spec.md
// §4.2's "peek, don't block" contract), so the pump needs its own
// cooperative idle wait rather than a blocking read.
const pollInterval = 10 * time.Millisecond

// Session drives one local client connection against a Manager: it
// applies inbound Upstream envelopes (Track/Control/Patch/Scenery) and
// forwards every aerodrome the client tracks' broadcast envelopes back
// over the channel, until the channel errors or ctx is cancelled.
type Session struct {
	mgr     *Manager
	channel ipc.ServerChannel
	logger  *zap.Logger

	mu   sync.Mutex
	subs map[string]func() // icao -> unsubscribe
}

// NewSession constructs a Session pumping channel against mgr.
func NewSession(mgr *Manager, channel ipc.ServerChannel, logger *zap.Logger) *Session {
	return &Session{mgr: mgr, channel: channel, logger: logger, subs: make(map[string]func())}
}

// Run pumps the session until ctx is cancelled or the channel errors.
// It does not close the channel; the caller owns that.
func (s *Session) Run(ctx context.Context) {
	defer s.closeAllSubs()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				u, ok, err := s.channel.RecvUpstream()
				if err != nil {
					s.logger.Warn("sharedstate: session recv failed", zap.Error(err))
					return
				}
				if !ok {
					break
				}
				s.handleUpstream(u)
			}
		}
	}
}

func (s *Session) handleUpstream(u ipc.Upstream) {
	switch u.Kind {
	case ipc.UpstreamInit:
		// No per-session state to initialize beyond the subscription
		// map; config/control/patch replay happens as the client
		// issues Track for each aerodrome (spec.md §4.2).

	case ipc.UpstreamTrack:
		// A repeat Track for an ICAO this stream already tracks (or an
		// untrack for one it doesn't) is a no-op (spec.md §4.3): the
		// session, not the manager, is what dedups per-stream. Subscribe
		// before forwarding to the manager so this stream's own channel
		// exists before Track's synchronous Config/Error broadcast
		// fires on a 0->1 transition.
		if u.Bool {
			if !s.subscribe(u.ICAO) {
				return
			}
			if err := s.mgr.Track(u.ICAO, true); err != nil {
				s.logger.Warn("sharedstate: track failed", zap.String("icao", u.ICAO), zap.Error(err))
			}
		} else {
			if !s.unsubscribe(u.ICAO) {
				return
			}
			if err := s.mgr.Track(u.ICAO, false); err != nil {
				s.logger.Warn("sharedstate: track failed", zap.String("icao", u.ICAO), zap.Error(err))
			}
		}

	case ipc.UpstreamControl:
		if err := s.mgr.Control(u.ICAO, u.Bool); err != nil {
			s.logger.Warn("sharedstate: control failed", zap.String("icao", u.ICAO), zap.Error(err))
		}

	case ipc.UpstreamPatch:
		if err := s.mgr.Patch(u.ICAO, u.Patch); err != nil {
			s.logger.Warn("sharedstate: patch failed", zap.String("icao", u.ICAO), zap.Error(err))
		}

	case ipc.UpstreamScenery:
		if err := s.mgr.Scenery(u.ICAO, u.Scenery); err != nil {
			s.logger.Warn("sharedstate: scenery failed", zap.String("icao", u.ICAO), zap.Error(err))
		}

	default:
		// Unknown kind: skip, never fatal (spec.md §4.2).
	}
}

// subscribe registers icao for this stream, returning false if the
// stream already subscribed to it (the caller treats that as a no-op).
func (s *Session) subscribe(icao string) bool {
	s.mu.Lock()
	if _, ok := s.subs[icao]; ok {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	ch, unsubscribe := s.mgr.Subscribe(icao)

	s.mu.Lock()
	s.subs[icao] = unsubscribe
	s.mu.Unlock()

	go func() {
		for env := range ch {
			if err := s.channel.SendDownstream(env); err != nil {
				s.logger.Warn("sharedstate: session send failed", zap.Error(err))
				return
			}
		}
	}()
	return true
}

// unsubscribe drops icao for this stream, returning false if the
// stream wasn't subscribed to it (the caller treats that as a no-op).
func (s *Session) unsubscribe(icao string) bool {
	s.mu.Lock()
	unsubscribe, ok := s.subs[icao]
	if ok {
		delete(s.subs, icao)
	}
	s.mu.Unlock()
	if ok {
		unsubscribe()
	}
	return ok
}

func (s *Session) closeAllSubs() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]func())
	s.mu.Unlock()
	for _, unsubscribe := range subs {
		unsubscribe()
	}
}
