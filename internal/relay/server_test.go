package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/pocketclaude/pocketclaude/internal/protocol"
)

func httpGet(url string) (map[string]any, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

const testToken = "shh-secret"

func startTestRelay(t *testing.T) (*Server, string) {
	t.Helper()
	s := NewServer(testToken, time.Hour, time.Hour) // heartbeat disabled for test speed
	srv := httptest.NewServer(s.Mux())
	t.Cleanup(srv.Close)
	return s, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, env *protocol.Envelope) {
	t.Helper()
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func recv(t *testing.T, ws *websocket.Conn) *protocol.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return &env
}

func authEnvelope(role protocol.Role, token string) *protocol.Envelope {
	env, _ := protocol.Encode(protocol.TypeAuth, "", time.Now(), protocol.AuthPayload{Token: token, Role: role})
	return env
}

func TestAuthSuccessReturnsConnectedStatus(t *testing.T) {
	_, url := startTestRelay(t)
	ws := dial(t, url)
	send(t, ws, authEnvelope(protocol.RoleClient, testToken))

	env := recv(t, ws)
	if env.Type != protocol.TypeStatus {
		t.Fatalf("Type = %q, want status", env.Type)
	}
	var p protocol.StatusPayload
	env.Decode(&p)
	if p.Status != protocol.StatusConnected {
		t.Errorf("Status = %q, want connected", p.Status)
	}
}

func TestAuthWrongTokenFails(t *testing.T) {
	_, url := startTestRelay(t)
	ws := dial(t, url)
	send(t, ws, authEnvelope(protocol.RoleClient, "wrong"))

	env := recv(t, ws)
	if env.Type != protocol.TypeError {
		t.Fatalf("Type = %q, want error", env.Type)
	}
	var p protocol.ErrorPayload
	env.Decode(&p)
	if p.Code != protocol.ErrAuthFailed {
		t.Errorf("Code = %q, want %q", p.Code, protocol.ErrAuthFailed)
	}
}

func TestAuthInvalidRoleFails(t *testing.T) {
	_, url := startTestRelay(t)
	ws := dial(t, url)
	send(t, ws, authEnvelope("bogus", testToken))

	env := recv(t, ws)
	if env.Type != protocol.TypeError {
		t.Fatalf("Type = %q, want error", env.Type)
	}
	var p protocol.ErrorPayload
	env.Decode(&p)
	if p.Code != protocol.ErrInvalidRole {
		t.Errorf("Code = %q, want %q", p.Code, protocol.ErrInvalidRole)
	}
}

func TestFirstMessageNotAuthFails(t *testing.T) {
	_, url := startTestRelay(t)
	ws := dial(t, url)
	env, _ := protocol.Encode(protocol.TypeCommand, "", time.Now(), protocol.CommandPayload{Command: protocol.CommandListProjects})
	send(t, ws, env)

	got := recv(t, ws)
	if got.Type != protocol.TypeError {
		t.Fatalf("Type = %q, want error", got.Type)
	}
}

func TestSecondAgentRejectedWithAgentExists(t *testing.T) {
	_, url := startTestRelay(t)

	wsA := dial(t, url)
	send(t, wsA, authEnvelope(protocol.RoleAgent, testToken))
	recv(t, wsA) // connected status

	wsB := dial(t, url)
	send(t, wsB, authEnvelope(protocol.RoleAgent, testToken))
	env := recv(t, wsB)
	if env.Type != protocol.TypeError {
		t.Fatalf("Type = %q, want error", env.Type)
	}
	var p protocol.ErrorPayload
	env.Decode(&p)
	if p.Code != protocol.ErrAgentExists {
		t.Errorf("Code = %q, want %q", p.Code, protocol.ErrAgentExists)
	}
}

func TestClientCommandRoutedToAgent(t *testing.T) {
	_, url := startTestRelay(t)

	agentWS := dial(t, url)
	send(t, agentWS, authEnvelope(protocol.RoleAgent, testToken))
	recv(t, agentWS) // connected

	clientWS := dial(t, url)
	send(t, clientWS, authEnvelope(protocol.RoleClient, testToken))
	recv(t, clientWS) // connected

	cmdEnv, _ := protocol.Encode(protocol.TypeCommand, "", time.Now(), protocol.CommandPayload{Command: protocol.CommandListProjects})
	send(t, clientWS, cmdEnv)

	got := recv(t, agentWS)
	if got.Type != protocol.TypeCommand {
		t.Fatalf("Type = %q, want command", got.Type)
	}
	var p protocol.CommandPayload
	got.Decode(&p)
	if p.Command != protocol.CommandListProjects {
		t.Errorf("Command = %q, want list_projects", p.Command)
	}
}

func TestClientCommandWithoutAgentReturnsNoAgent(t *testing.T) {
	_, url := startTestRelay(t)

	clientWS := dial(t, url)
	send(t, clientWS, authEnvelope(protocol.RoleClient, testToken))
	recv(t, clientWS) // connected

	cmdEnv, _ := protocol.Encode(protocol.TypeCommand, "", time.Now(), protocol.CommandPayload{Command: protocol.CommandListProjects})
	send(t, clientWS, cmdEnv)

	got := recv(t, clientWS)
	if got.Type != protocol.TypeError {
		t.Fatalf("Type = %q, want error", got.Type)
	}
	var p protocol.ErrorPayload
	got.Decode(&p)
	if p.Code != protocol.ErrNoAgent {
		t.Errorf("Code = %q, want %q", p.Code, protocol.ErrNoAgent)
	}
}

func TestAgentOutputBroadcastToClients(t *testing.T) {
	_, url := startTestRelay(t)

	agentWS := dial(t, url)
	send(t, agentWS, authEnvelope(protocol.RoleAgent, testToken))
	recv(t, agentWS) // connected

	clientWS := dial(t, url)
	send(t, clientWS, authEnvelope(protocol.RoleClient, testToken))
	recv(t, clientWS) // connected

	outEnv, _ := protocol.Encode(protocol.TypeOutput, "sess-1", time.Now(), protocol.OutputPayload{SessionID: "sess-1", Data: "hi"})
	send(t, agentWS, outEnv)

	got := recv(t, clientWS)
	if got.Type != protocol.TypeOutput {
		t.Fatalf("Type = %q, want output", got.Type)
	}
}

func TestBadJSONReturnsInvalidJSONAndKeepsConnectionOpen(t *testing.T) {
	_, url := startTestRelay(t)

	ws := dial(t, url)
	send(t, ws, authEnvelope(protocol.RoleClient, testToken))
	recv(t, ws) // connected

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws.Write(ctx, websocket.MessageText, []byte("not json"))

	got := recv(t, ws)
	if got.Type != protocol.TypeError {
		t.Fatalf("Type = %q, want error", got.Type)
	}
	var p protocol.ErrorPayload
	got.Decode(&p)
	if p.Code != protocol.ErrInvalidJSON {
		t.Errorf("Code = %q, want %q", p.Code, protocol.ErrInvalidJSON)
	}

	// Connection should still be usable.
	cmdEnv, _ := protocol.Encode(protocol.TypeCommand, "", time.Now(), protocol.CommandPayload{Command: protocol.CommandListProjects})
	send(t, ws, cmdEnv)
	got2 := recv(t, ws)
	if got2.Type != protocol.TypeError {
		t.Fatalf("Type = %q, want error (NO_AGENT)", got2.Type)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, url := startTestRelay(t)
	httpURL := "http" + strings.TrimPrefix(url, "ws")

	agentWS := dial(t, url)
	send(t, agentWS, authEnvelope(protocol.RoleAgent, testToken))
	recv(t, agentWS)

	resp, err := httpGet(httpURL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["agent"] != true {
		t.Errorf("agent = %v, want true", resp["agent"])
	}
}
