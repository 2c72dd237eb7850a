// Package authserver implements the Authoritative Session Server: the
// per-aerodrome in-memory state owner, its httprouter HTTP surface,
// and the bounded per-aerodrome broadcast bus (spec.md §4.6). The
// session-registry and broadcast-on-publish shape is grounded on
// internal/cluster/cp.Server from the teacher repo, adapted from a
// gRPC bidi-stream fan-out to a per-connection WebSocket broadcast.
package authserver

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/barsnet/stopbars/internal/wire"
)

// busCapacity is the bounded broadcast channel size per spec.md §4.6;
// overflow is logged and dropped, never blocks a publisher.
const busCapacity = 16

// aerodromeState is the authoritative in-memory record for one
// aerodrome: connected controllers, scenery object values, and the
// merged shared-state JSON blob.
type aerodromeState struct {
	mu          sync.RWMutex
	controllers map[string]bool
	objects     map[string]bool
	shared      json.RawMessage
	bus         *broadcaster
}

func newAerodromeState() *aerodromeState {
	return &aerodromeState{
		controllers: make(map[string]bool),
		objects:     make(map[string]bool),
		bus:         newBroadcaster(),
	}
}

// Server is the Authoritative Session Server.
type Server struct {
	mu         sync.Mutex
	aerodromes map[string]*aerodromeState

	controllerKeys map[string]bool
	observerKeys   map[string]bool

	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewServer constructs a Server validating connections against the
// given controller/observer key sets.
func NewServer(controllerKeys, observerKeys []string, logger *zap.Logger) *Server {
	ck := make(map[string]bool, len(controllerKeys))
	for _, k := range controllerKeys {
		ck[k] = true
	}
	ok := make(map[string]bool, len(observerKeys))
	for _, k := range observerKeys {
		ok[k] = true
	}
	return &Server{
		aerodromes:     make(map[string]*aerodromeState),
		controllerKeys: ck,
		observerKeys:   ok,
		logger:         logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) aerodromeFor(icao string) *aerodromeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	as, ok := s.aerodromes[icao]
	if !ok {
		as = newAerodromeState()
		s.aerodromes[icao] = as
	}
	return as
}

// Routes builds the httprouter mux for GET /state and GET /connect.
func (s *Server) Routes() *httprouter.Router {
	r := httprouter.New()
	r.GET("/state", s.handleState)
	r.GET("/connect", s.handleConnect)
	return r
}

func newSessionID() string {
	return uuid.New().String()
}
