// Package agent implements the Agent side of the uplink: the persistent,
// auto-reconnecting WebSocket connection to the Relay, and the dispatcher
// that turns incoming commands into calls against the session table.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/pocketclaude/pocketclaude/internal/agentconfig"
	"github.com/pocketclaude/pocketclaude/internal/protocol"
)

// State is the uplink's connection lifecycle state (§4.2.1, §9).
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Uplink owns the single outbound connection to the Relay. The PTY
// sessions keep running independently of its state: output that cannot be
// sent while disconnected is simply dropped on the wire, never replayed
// (§4.2.1, §9 — history on disk is the only durable record).
type Uplink struct {
	relayURL string
	token    string
	cfg      *agentconfig.UplinkConfig

	dispatcher *Dispatcher

	mu    sync.Mutex
	ws    *websocket.Conn
	state State
}

// NewUplink constructs an Uplink bound to dispatcher, which it feeds
// incoming commands and which feeds it outbound output/status/error
// envelopes via Send.
func NewUplink(relayURL, token string, cfg *agentconfig.UplinkConfig, dispatcher *Dispatcher) *Uplink {
	return &Uplink{relayURL: relayURL, token: token, cfg: cfg, dispatcher: dispatcher}
}

func (u *Uplink) setState(s State) {
	u.mu.Lock()
	u.state = s
	u.mu.Unlock()
}

// State reports the current connection state.
func (u *Uplink) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Run connects, authenticates, and serves the Relay connection until ctx
// is canceled, reconnecting with backoff on any disconnect (§4.2.1).
func (u *Uplink) Run(ctx context.Context) {
	bo := newBackoff(u.cfg.ReconnectMaxDelay())
	for {
		if ctx.Err() != nil {
			return
		}

		ok := u.connectAndServe(ctx, bo)
		u.setState(StateDisconnected)
		if ok {
			bo.Reset()
		}

		delay := bo.Next()
		slog.Info("uplink reconnecting", "delay", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// connectAndServe runs one connection attempt end to end. It returns true
// if the connection reached Authenticated at least once (so the caller
// resets backoff even though the connection has since dropped).
func (u *Uplink) connectAndServe(ctx context.Context, bo *backoff) bool {
	u.setState(StateConnecting)

	ws, _, err := websocket.Dial(ctx, u.relayURL, nil)
	if err != nil {
		slog.Error("uplink dial failed", "err", err)
		return false
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	u.setState(StateAuthenticating)
	authCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	env, err := protocol.Encode(protocol.TypeAuth, "", time.Now(), protocol.AuthPayload{Token: u.token, Role: protocol.RoleAgent})
	if err != nil {
		cancel()
		slog.Error("encoding auth envelope", "err", err)
		return false
	}
	if err := writeEnvelope(authCtx, ws, env); err != nil {
		cancel()
		slog.Error("sending auth", "err", err)
		return false
	}

	reply, err := readEnvelope(authCtx, ws)
	cancel()
	if err != nil {
		slog.Error("reading auth reply", "err", err)
		return false
	}
	if reply.Type == protocol.TypeError {
		var ep protocol.ErrorPayload
		reply.Decode(&ep)
		slog.Error("auth rejected", "code", ep.Code, "message", ep.Message)
		if ep.Code == protocol.ErrAgentExists {
			bo.Bump(u.cfg.AgentExistsBackoffSteps)
		}
		return false
	}

	u.mu.Lock()
	u.ws = ws
	u.state = StateAuthenticated
	u.mu.Unlock()

	slog.Info("uplink authenticated")
	u.serve(ctx, ws)

	u.mu.Lock()
	u.ws = nil
	u.mu.Unlock()
	return true
}

// serve reads commands off the connection until it breaks, handing each
// to the dispatcher's inbox.
func (u *Uplink) serve(ctx context.Context, ws *websocket.Conn) {
	for {
		env, err := readEnvelope(ctx, ws)
		if err != nil {
			slog.Error("uplink read failed", "err", err)
			return
		}
		if env.Type != protocol.TypeCommand {
			continue // the relay only ever forwards commands to the agent
		}
		u.dispatcher.Enqueue(env)
	}
}

// Send writes an envelope to the Relay if currently authenticated; it is
// a no-op, not an error, when disconnected, since PTY output keeps
// flowing to disk regardless of uplink state.
func (u *Uplink) Send(env *protocol.Envelope) {
	u.mu.Lock()
	ws := u.ws
	authenticated := u.state == StateAuthenticated
	u.mu.Unlock()
	if !authenticated || ws == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := writeEnvelope(ctx, ws, env); err != nil {
		slog.Error("uplink send failed", "err", err)
	}
}

func writeEnvelope(ctx context.Context, ws *websocket.Conn, env *protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

func readEnvelope(ctx context.Context, ws *websocket.Conn) (*protocol.Envelope, error) {
	_, data, err := ws.Read(ctx)
	if err != nil {
		return nil, err
	}
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	return &env, nil
}
