// Package upstream implements the Upstream Network Protocol Driver: a
// persistent full-duplex connection to the authoritative session
// server, with heartbeat reply, periodic out-of-band state polling,
// and exponential-backoff reconnection (spec.md §4.5). The reconnect
// loop and two-goroutine recv/select pattern are grounded on
// internal/cluster/dp.Client from the teacher repo, adapted from gRPC
// streaming to a JSON-over-WebSocket wire format.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/barsnet/stopbars/internal/model"
	"github.com/barsnet/stopbars/internal/wire"
)

// errServerClosed signals a graceful server-initiated Close, as
// opposed to a transport-level read error.
var errServerClosed = errors.New("server closed connection")

// Handler receives downstream envelopes the driver doesn't handle
// itself (everything besides Heartbeat/HeartbeatAck/Close).
type Handler interface {
	HandleDownstream(icao string, env wire.Envelope)
}

// StatePoll is the out-of-band GET /state?airport=ICAO response shape
// the driver cares about (spec.md §4.5).
type StatePoll struct {
	Pilots []string `json:"pilots"`
}

// Config configures a Driver for one tracked aerodrome.
type Config struct {
	BaseURL      string // e.g. "https://bars.example.com"
	ICAO         string
	Key          string
	PollInterval time.Duration // default 30s
	Logger       *zap.Logger
	HTTPClient   *http.Client
}

// Driver owns one aerodrome's upstream socket lifecycle.
type Driver struct {
	cfg        Config
	logger     *zap.Logger
	httpClient *http.Client
	handler    Handler

	connected atomic.Bool

	mu   sync.Mutex
	conn *websocket.Conn
}

// New constructs a Driver. handler receives every downstream message
// that is not a protocol-level Heartbeat/HeartbeatAck/Close.
func New(cfg Config, handler Handler) *Driver {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Driver{cfg: cfg, logger: cfg.Logger, httpClient: cfg.HTTPClient, handler: handler}
}

// Connected reports whether the socket is currently open.
func (d *Driver) Connected() bool {
	return d.connected.Load()
}

// Run drives the connect/stream/reconnect loop until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for {
		err := d.connectAndStream(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		d.connected.Store(false)
		d.logger.Warn("upstream disconnected, reconnecting",
			zap.String("icao", d.cfg.ICAO), zap.Error(err))

		wait := bo.NextBackOff()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Driver) connectURL() (string, error) {
	u, err := url.Parse(d.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("upstream: parse base url: %w", err)
	}
	useTLS := u.Scheme == "https" || u.Scheme == "wss" || strings.HasSuffix(u.Host, ":443")
	u.Scheme = "ws"
	if useTLS {
		u.Scheme = "wss"
	}
	u.Path = "/connect"
	q := url.Values{}
	q.Set("airport", d.cfg.ICAO)
	q.Set("key", d.cfg.Key)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (d *Driver) connectAndStream(ctx context.Context) error {
	target, err := d.connectURL()
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("upstream: dial: %w", err)
	}
	defer conn.Close()

	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()

	d.connected.Store(true)
	d.logger.Info("upstream connected", zap.String("icao", d.cfg.ICAO))

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

	pollTimer := time.NewTimer(d.cfg.PollInterval)
	defer pollTimer.Stop()

	for {
		select {
		case res := <-recvCh:
			if res.err != nil {
				return fmt.Errorf("server connection error: %w", res.err)
			}
			if err := d.handleFrame(res.frame); err != nil {
				if errors.Is(err, errServerClosed) {
					return err
				}
				d.logger.Warn("upstream: failed handling frame", zap.Error(err))
			}
			drainTimer(pollTimer)
			pollTimer.Reset(d.cfg.PollInterval)

		case <-pollTimer.C:
			d.pollState(ctx)
			pollTimer.Reset(d.cfg.PollInterval)

		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()
		}
	}
}

func drainTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func (d *Driver) handleFrame(frame []byte) error {
	env, err := wire.Decode(frame)
	if err != nil {
		d.logger.Warn("upstream: malformed downstream frame", zap.Error(err))
		return nil
	}

	switch env.Type {
	case wire.TypeHeartbeat:
		return d.send(wire.TypeHeartbeatAck, nil)
	case wire.TypeHeartbeatAck:
		return nil
	case wire.TypeClose:
		return errServerClosed
	default:
		d.handler.HandleDownstream(d.cfg.ICAO, env)
		return nil
	}
}

func (d *Driver) pollState(ctx context.Context) {
	u := strings.TrimRight(d.cfg.BaseURL, "/") + "/state?airport=" + url.QueryEscape(d.cfg.ICAO)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		d.logger.Warn("upstream: build state-poll request", zap.Error(err))
		return
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logger.Warn("upstream: state-poll request failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	var poll StatePoll
	if err := json.NewDecoder(resp.Body).Decode(&poll); err != nil {
		d.logger.Warn("upstream: state-poll response decode failed", zap.Error(err))
		return
	}

	env, err := wire.Encode("AIRCRAFT", poll)
	if err != nil {
		return
	}
	if decoded, err := wire.Decode(env); err == nil {
		d.handler.HandleDownstream(d.cfg.ICAO, decoded)
	}
}

func (d *Driver) send(msgType string, payload any) error {
	frame, err := wire.Encode(msgType, payload)
	if err != nil {
		return err
	}

	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("upstream: not connected")
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// SendPatch forwards a locally-applied shared-state mutation upstream
// as SharedStateUpdate.
func (d *Driver) SendPatch(ctx context.Context, p model.Patch) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return d.send(wire.TypeSharedStateUpdate, wire.SharedStateUpdateData{SharedStatePatch: raw})
}

// SendControl forwards a controlling/observing transition. The
// session server has no dedicated Control message in its own
// protocol (it infers role from the connect key); this exists so
// TrackingRecord.Socket satisfies sharedstate.UpstreamHandle uniformly
// for both controllers and observers.
func (d *Driver) SendControl(ctx context.Context, controlling bool) error {
	return nil
}

// SendScenery forwards a scenery-object toggle upstream as StateUpdate.
func (d *Driver) SendScenery(ctx context.Context, objectID string, state bool) error {
	return d.send(wire.TypeStateUpdate, wire.StateUpdateData{ObjectID: objectID, State: state})
}

// Close forcibly tears down the socket, if any.
func (d *Driver) Close() error {
	d.mu.Lock()
	conn := d.conn
	d.conn = nil
	d.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
