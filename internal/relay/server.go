// Package relay implements the stateless message switch that authenticates
// exactly one Agent and any number of Clients, routes commands Client to
// Agent and output/status/error Agent to Clients, and runs heartbeats.
package relay

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/pocketclaude/pocketclaude/internal/protocol"
)

const authTimeout = 10 * time.Second

// Server is the Relay's connection registry and router. It holds no
// durable state: restarting the process drops every peer (§4.1).
type Server struct {
	token             string
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration

	mu      sync.Mutex
	agent   *peer
	clients map[string]*peer
}

// NewServer constructs a Server with the given shared bearer token and
// heartbeat timing.
func NewServer(token string, heartbeatInterval, heartbeatTimeout time.Duration) *Server {
	return &Server{
		token:             token,
		heartbeatInterval: heartbeatInterval,
		heartbeatTimeout:  heartbeatTimeout,
		clients:           make(map[string]*peer),
	}
}

// Mux builds the Relay's HTTP surface: the WebSocket upgrade endpoint and
// the health check, per §6.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			s.handleWebSocket(w, r)
			return
		}
		s.handleHealth(w, r)
	})
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	agentConnected := s.agent != nil
	clientCount := len(s.clients)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"agent":   agentConnected,
		"clients": clientCount,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Error("websocket accept failed", "err", err)
		return
	}

	p := newPeer(uuid.NewString(), ws)
	ctx := r.Context()

	role, ok := s.authenticate(ctx, p)
	if !ok {
		return
	}
	p.role = role

	if !s.register(ctx, p) {
		return
	}
	defer s.unregister(p)

	go p.heartbeat(s.heartbeatInterval, s.heartbeatTimeout)

	s.dispatchLoop(ctx, p)
}

// authenticate reads and validates the mandatory first auth envelope
// (§4.1). Returns the authenticated role and true on success; on any
// failure it has already replied with an error and closed the connection.
func (s *Server) authenticate(parent context.Context, p *peer) (protocol.Role, bool) {
	ctx, cancel := context.WithTimeout(parent, authTimeout)
	defer cancel()

	env, err := p.readEnvelope(ctx)
	if err != nil || env == nil {
		p.close(websocket.StatusPolicyViolation, "auth timeout")
		return "", false
	}
	if env.Type != protocol.TypeAuth {
		p.sendError(ctx, protocol.ErrNotAuthenticated, "first message must be type=auth")
		p.close(websocket.StatusCode(protocol.CloseAuthFailed), "not authenticated")
		return "", false
	}

	var auth protocol.AuthPayload
	if err := env.Decode(&auth); err != nil {
		p.sendError(ctx, protocol.ErrInvalidJSON, "malformed auth payload")
		p.close(websocket.StatusCode(protocol.CloseAuthFailed), "invalid auth payload")
		return "", false
	}

	if !tokenMatches(auth.Token, s.token) {
		p.sendError(ctx, protocol.ErrAuthFailed, "invalid token")
		p.close(websocket.StatusCode(protocol.CloseAuthFailed), "auth failed")
		return "", false
	}

	if auth.Role != protocol.RoleAgent && auth.Role != protocol.RoleClient {
		p.sendError(ctx, protocol.ErrInvalidRole, "role must be agent or client")
		p.close(websocket.StatusCode(protocol.CloseInvalidRole), "invalid role")
		return "", false
	}

	return auth.Role, true
}

func tokenMatches(given, want string) bool {
	return subtle.ConstantTimeCompare([]byte(given), []byte(want)) == 1
}

// register binds an authenticated peer into the agent slot or client set,
// enforcing the single-agent invariant (§4.1).
func (s *Server) register(ctx context.Context, p *peer) bool {
	if p.role == protocol.RoleAgent {
		s.mu.Lock()
		if s.agent != nil {
			s.mu.Unlock()
			p.sendError(ctx, protocol.ErrAgentExists, "an agent is already connected")
			p.close(websocket.StatusCode(protocol.CloseAgentExists), "agent exists")
			return false
		}
		s.agent = p
		s.mu.Unlock()

		p.sendStatus(ctx, protocol.StatusConnected, map[string]any{
			"role":           protocol.RoleAgent,
			"agentConnected": true,
		})
		s.broadcastToClients(ctx, protocol.StatusConnected, map[string]any{"reason": "agent_connected"})
		return true
	}

	s.mu.Lock()
	s.clients[p.id] = p
	agentConnected := s.agent != nil
	s.mu.Unlock()

	p.sendStatus(ctx, protocol.StatusConnected, map[string]any{
		"role":           protocol.RoleClient,
		"agentConnected": agentConnected,
	})
	return true
}

func (s *Server) unregister(p *peer) {
	p.close(websocket.StatusNormalClosure, "")

	s.mu.Lock()
	wasAgent := s.agent == p
	if wasAgent {
		s.agent = nil
	} else {
		delete(s.clients, p.id)
	}
	s.mu.Unlock()

	if wasAgent {
		s.broadcastToClients(context.Background(), protocol.StatusDisconnected, map[string]any{"reason": "agent_disconnected"})
	}
}

func (s *Server) dispatchLoop(ctx context.Context, p *peer) {
	for {
		env, err := p.readEnvelope(ctx)
		if err != nil {
			if bad, ok := asBadJSON(err); ok {
				p.sendError(ctx, protocol.ErrInvalidJSON, bad.Error())
				continue
			}
			return
		}
		if env == nil {
			return
		}
		s.route(ctx, p, env)
	}
}

func asBadJSON(err error) (*badJSONError, bool) {
	bad, ok := err.(*badJSONError)
	return bad, ok
}

// route implements §4.1's post-auth routing rules.
func (s *Server) route(ctx context.Context, from *peer, env *protocol.Envelope) {
	switch from.role {
	case protocol.RoleClient:
		if env.Type != protocol.TypeCommand {
			return // silently discarded per §4.1
		}
		s.mu.Lock()
		agent := s.agent
		s.mu.Unlock()
		if agent == nil {
			from.sendError(ctx, protocol.ErrNoAgent, "no agent is connected")
			return
		}
		if err := agent.writeEnvelope(ctx, env); err != nil {
			slog.Error("forwarding command to agent", "err", err)
		}

	case protocol.RoleAgent:
		switch env.Type {
		case protocol.TypeOutput, protocol.TypeStatus, protocol.TypeError:
			s.broadcastEnvelope(ctx, env)
		default:
			return // silently discarded per §4.1
		}
	}
}

func (s *Server) broadcastToClients(ctx context.Context, status protocol.StatusName, data any) {
	env, err := protocol.Encode(protocol.TypeStatus, "", time.Now(), protocol.StatusPayload{Status: status, Data: data})
	if err != nil {
		slog.Error("encoding broadcast status", "err", err)
		return
	}
	s.broadcastEnvelope(ctx, env)
}

// broadcastEnvelope sends env to every connected client. A send failure to
// one client is logged and that client is dropped; it never affects other
// clients or the agent (§4.1).
func (s *Server) broadcastEnvelope(ctx context.Context, env *protocol.Envelope) {
	s.mu.Lock()
	targets := make([]*peer, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		if err := c.writeEnvelope(ctx, env); err != nil {
			slog.Error("broadcasting to client", "client_id", c.id, "err", err)
			go s.dropClient(c)
		}
	}
}

func (s *Server) dropClient(p *peer) {
	s.mu.Lock()
	delete(s.clients, p.id)
	s.mu.Unlock()
	p.close(websocket.StatusInternalError, "send failed")
}

// Health is the /health response shape exposed for tests outside this
// package.
type Health struct {
	Status  string `json:"status"`
	Agent   bool   `json:"agent"`
	Clients int    `json:"clients"`
}
