package authserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/barsnet/stopbars/internal/wire"
)

func startTestServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()
	s := NewServer([]string{"ctrl-key"}, []string{"obs-key"}, zap.NewNop())
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return ts, s
}

func dialConnect(t *testing.T, ts *httptest.Server, icao, key string) (*websocket.Conn, *http.Response) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/connect?airport=" + icao + "&key=" + key
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn, resp
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wire.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := wire.Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env
}

func TestConnectRejectsUnknownKey(t *testing.T) {
	ts, _ := startTestServer(t)
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/connect?airport=EGLL&key=bogus", nil)
	if err == nil {
		t.Fatal("expected the handshake to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp = %v, want 401", resp)
	}
}

func TestConnectControllerReceivesInitialState(t *testing.T) {
	ts, _ := startTestServer(t)
	conn, _ := dialConnect(t, ts, "EGLL", "ctrl-key")
	defer conn.Close()

	env := readEnvelope(t, conn)
	if env.Type != wire.TypeInitialState {
		t.Fatalf("first message type = %q, want %q", env.Type, wire.TypeInitialState)
	}
	var data wire.InitialStateData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if data.ConnectionType != "controller" {
		t.Fatalf("ConnectionType = %q, want controller", data.ConnectionType)
	}
}

func TestObserverMutationIsRefused(t *testing.T) {
	ts, _ := startTestServer(t)
	conn, _ := dialConnect(t, ts, "EGLL", "obs-key")
	defer conn.Close()

	readEnvelope(t, conn) // InitialState

	frame, _ := wire.Encode(wire.TypeStateUpdate, wire.StateUpdateData{ObjectID: "o1", State: true})
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	env := readEnvelope(t, conn)
	if env.Type != wire.TypeError {
		t.Fatalf("type = %q, want Error", env.Type)
	}
	var data wire.ErrorData
	json.Unmarshal(env.Data, &data)
	if data.Message != "invalid message" {
		t.Fatalf("message = %q, want %q", data.Message, "invalid message")
	}
}

func TestControllerStateUpdateBroadcastsAndPersists(t *testing.T) {
	ts, _ := startTestServer(t)

	obs, _ := dialConnect(t, ts, "EGLL", "obs-key")
	defer obs.Close()
	readEnvelope(t, obs) // InitialState

	ctrl, _ := dialConnect(t, ts, "EGLL", "ctrl-key")
	defer ctrl.Close()
	readEnvelope(t, ctrl) // InitialState

	connectEnv := readEnvelope(t, obs) // ControllerConnect for ctrl
	if connectEnv.Type != wire.TypeControllerConnect {
		t.Fatalf("expected ControllerConnect broadcast, got %q", connectEnv.Type)
	}

	frame, _ := wire.Encode(wire.TypeStateUpdate, wire.StateUpdateData{ObjectID: "o1", State: true})
	if err := ctrl.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	env := readEnvelope(t, obs)
	if env.Type != wire.TypeStateUpdate {
		t.Fatalf("type = %q, want StateUpdate", env.Type)
	}
	var data wire.StateUpdateData
	json.Unmarshal(env.Data, &data)
	if data.ObjectID != "o1" || !data.State || data.ControllerID == "" {
		t.Fatalf("data = %+v", data)
	}

	resp, err := http.Get(ts.URL + "/state?airport=EGLL")
	if err != nil {
		t.Fatalf("GET /state: %v", err)
	}
	defer resp.Body.Close()
	var st stateResponse
	json.NewDecoder(resp.Body).Decode(&st)
	if st.Offline {
		t.Fatal("aerodrome with a connected controller should not report offline")
	}
	if len(st.Objects) != 1 || st.Objects[0].ID != "o1" || !st.Objects[0].State {
		t.Fatalf("st.Objects = %v", st.Objects)
	}
}

func TestHeartbeatRepliesAck(t *testing.T) {
	ts, _ := startTestServer(t)
	conn, _ := dialConnect(t, ts, "EGLL", "ctrl-key")
	defer conn.Close()
	readEnvelope(t, conn) // InitialState
	readEnvelope(t, conn) // ControllerConnect for this session itself

	frame, _ := wire.Encode(wire.TypeHeartbeat, nil)
	conn.WriteMessage(websocket.TextMessage, frame)

	env := readEnvelope(t, conn)
	if env.Type != wire.TypeHeartbeatAck {
		t.Fatalf("type = %q, want HeartbeatAck", env.Type)
	}
}
