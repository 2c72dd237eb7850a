package authserver

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/barsnet/stopbars/internal/wire"
)

type stateResponse struct {
	Airport     string                   `json:"airport"`
	Controllers []string                 `json:"controllers"`
	Pilots      []string                 `json:"pilots"`
	Objects     []wire.SceneryObjectView `json:"objects"`
	Offline     bool                     `json:"offline"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	icao := r.URL.Query().Get("airport")
	as := s.aerodromeFor(icao)

	as.mu.RLock()
	resp := stateResponse{
		Airport:     icao,
		Controllers: make([]string, 0, len(as.controllers)),
		Pilots:      []string{},
		Objects:     make([]wire.SceneryObjectView, 0, len(as.objects)),
		Offline:     len(as.controllers) == 0,
	}
	for id := range as.controllers {
		resp.Controllers = append(resp.Controllers, id)
	}
	for id, state := range as.objects {
		resp.Objects = append(resp.Objects, wire.SceneryObjectView{ID: id, State: state})
	}
	as.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	icao := r.URL.Query().Get("airport")
	key := r.URL.Query().Get("key")

	isController := s.controllerKeys[key]
	isObserver := s.observerKeys[key]
	if !isController && !isObserver {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("authserver: websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	connType := "observer"
	if isController {
		connType = "controller"
	}

	sessionID := newSessionID()
	as := s.aerodromeFor(icao)

	sub := as.bus.subscribe()
	defer as.bus.unsubscribe(sub)

	as.mu.Lock()
	objects := make([]wire.SceneryObjectView, 0, len(as.objects))
	for id, state := range as.objects {
		objects = append(objects, wire.SceneryObjectView{ID: id, State: state})
	}
	shared := as.shared
	if isController {
		as.controllers[sessionID] = true
	}
	as.mu.Unlock()

	if err := s.reply(conn, wire.TypeInitialState, wire.InitialStateData{
		ConnectionType: connType,
		Objects:        objects,
		SharedState:    shared,
	}); err != nil {
		return
	}

	if isController {
		as.bus.publish(wire.TypeControllerConnect, wire.ControllerEventData{ControllerID: sessionID}, s.logger)
	}

	defer func() {
		if isController {
			as.mu.Lock()
			delete(as.controllers, sessionID)
			if len(as.controllers) == 0 {
				as.objects = make(map[string]bool)
				as.shared = nil
			}
			as.mu.Unlock()
		}
		as.bus.publish(wire.TypeControllerDisconnect, wire.ControllerEventData{ControllerID: sessionID}, s.logger)
	}()

	type recvResult struct {
		frame []byte
		err   error
	}
	recvCh := make(chan recvResult, 1)
	go func() {
		for {
			_, frame, err := conn.ReadMessage()
			recvCh <- recvResult{frame: frame, err: err}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case env := <-sub:
			raw, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}

		case res := <-recvCh:
			if res.err != nil {
				return
			}
			if s.handleInbound(as, sessionID, isController, conn, res.frame) {
				return
			}
		}
	}
}

// handleInbound processes one client-originated frame, returning true
// if the connection should be closed.
func (s *Server) handleInbound(as *aerodromeState, sessionID string, isController bool, conn *websocket.Conn, frame []byte) bool {
	env, err := wire.Decode(frame)
	if err != nil {
		_ = s.reply(conn, wire.TypeError, wire.ErrorData{Message: "malformed message"})
		return false
	}

	switch env.Type {
	case wire.TypeHeartbeat:
		_ = s.reply(conn, wire.TypeHeartbeatAck, nil)

	case wire.TypeClose:
		return true

	case wire.TypeStateUpdate:
		if !isController {
			_ = s.reply(conn, wire.TypeError, wire.ErrorData{Message: "invalid message"})
			return false
		}
		var data wire.StateUpdateData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			_ = s.reply(conn, wire.TypeError, wire.ErrorData{Message: "malformed message"})
			return false
		}
		as.mu.Lock()
		as.objects[data.ObjectID] = data.State
		as.mu.Unlock()
		data.ControllerID = sessionID
		as.bus.publish(wire.TypeStateUpdate, data, s.logger)

	case wire.TypeSharedStateUpdate:
		if !isController {
			_ = s.reply(conn, wire.TypeError, wire.ErrorData{Message: "invalid message"})
			return false
		}
		var data wire.SharedStateUpdateData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			_ = s.reply(conn, wire.TypeError, wire.ErrorData{Message: "malformed message"})
			return false
		}
		as.mu.Lock()
		if merged, err := wire.DeepMerge(as.shared, data.SharedStatePatch); err == nil {
			as.shared = merged
		}
		as.mu.Unlock()
		data.ControllerID = sessionID
		as.bus.publish(wire.TypeSharedStateUpdate, data, s.logger)

	default:
		// Unrecognized type: no-op, never fatal.
	}
	return false
}

func (s *Server) reply(conn *websocket.Conn, msgType string, payload any) error {
	frame, err := wire.Encode(msgType, payload)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}
