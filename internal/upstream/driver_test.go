package upstream

import (
	"testing"

	"github.com/barsnet/stopbars/internal/wire"
	"go.uber.org/zap"
)

type recordingHandler struct {
	received []wire.Envelope
}

func (h *recordingHandler) HandleDownstream(icao string, env wire.Envelope) {
	h.received = append(h.received, env)
}

func TestConnectURLChoosesWSSForHTTPS(t *testing.T) {
	d := New(Config{BaseURL: "https://bars.example.com", ICAO: "EGLL", Key: "k", Logger: zap.NewNop()}, &recordingHandler{})
	got, err := d.connectURL()
	if err != nil {
		t.Fatalf("connectURL: %v", err)
	}
	if want := "wss://bars.example.com/connect?airport=EGLL&key=k"; got != want {
		t.Fatalf("connectURL = %q, want %q", got, want)
	}
}

func TestConnectURLChoosesWSForPlainHTTP(t *testing.T) {
	d := New(Config{BaseURL: "http://localhost:8080", ICAO: "KJFK", Key: "k", Logger: zap.NewNop()}, &recordingHandler{})
	got, err := d.connectURL()
	if err != nil {
		t.Fatalf("connectURL: %v", err)
	}
	if want := "ws://localhost:8080/connect?airport=KJFK&key=k"; got != want {
		t.Fatalf("connectURL = %q, want %q", got, want)
	}
}

func TestConnectURLPort443UsesTLS(t *testing.T) {
	d := New(Config{BaseURL: "http://bars.example.com:443", ICAO: "EGLL", Key: "k", Logger: zap.NewNop()}, &recordingHandler{})
	got, err := d.connectURL()
	if err != nil {
		t.Fatalf("connectURL: %v", err)
	}
	if !hasPrefix(got, "wss://") {
		t.Fatalf("connectURL = %q, want wss:// due to :443 heuristic", got)
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func TestHandleFrameHeartbeatRepliesAck(t *testing.T) {
	h := &recordingHandler{}
	d := New(Config{BaseURL: "http://x", ICAO: "EGLL", Logger: zap.NewNop()}, h)

	frame, _ := wire.Encode(wire.TypeHeartbeat, nil)
	// No live connection: send should fail since d.conn is nil, which
	// is the expected behavior absent a socket.
	if err := d.handleFrame(frame); err == nil {
		t.Fatal("expected an error sending HeartbeatAck with no open connection")
	}
}

func TestHandleFrameCloseSignalsDisconnect(t *testing.T) {
	h := &recordingHandler{}
	d := New(Config{BaseURL: "http://x", ICAO: "EGLL", Logger: zap.NewNop()}, h)

	frame, _ := wire.Encode(wire.TypeClose, nil)
	if err := d.handleFrame(frame); err != errServerClosed {
		t.Fatalf("handleFrame(Close) = %v, want errServerClosed", err)
	}
}

func TestHandleFrameUnknownTypeForwardsToHandler(t *testing.T) {
	h := &recordingHandler{}
	d := New(Config{BaseURL: "http://x", ICAO: "EGLL", Logger: zap.NewNop()}, h)

	frame, _ := wire.Encode(wire.TypeControllerConnect, wire.ControllerEventData{ControllerID: "c1"})
	if err := d.handleFrame(frame); err != nil {
		t.Fatalf("handleFrame: %v", err)
	}
	if len(h.received) != 1 || h.received[0].Type != wire.TypeControllerConnect {
		t.Fatalf("handler received %v, want one ControllerConnect", h.received)
	}
}

func TestHandleFrameMalformedDegradesToNoop(t *testing.T) {
	h := &recordingHandler{}
	d := New(Config{BaseURL: "http://x", ICAO: "EGLL", Logger: zap.NewNop()}, h)

	if err := d.handleFrame([]byte("not json")); err != nil {
		t.Fatalf("handleFrame(malformed) should degrade to no-op, got %v", err)
	}
	if len(h.received) != 0 {
		t.Fatalf("handler should not have been invoked, got %v", h.received)
	}
}
