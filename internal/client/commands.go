package client

import (
	"context"
	"fmt"
	"time"

	"github.com/pocketclaude/pocketclaude/internal/protocol"
)

// HandleStatus folds one incoming status envelope into the cache: the
// agentConnected boolean and, on a sessions_list reply, the session table
// (§4.3).
func (c *Cache) HandleStatus(env *protocol.Envelope, now time.Time) {
	if env.Type != protocol.TypeStatus {
		return
	}
	var p protocol.StatusPayload
	if err := env.Decode(&p); err != nil {
		return
	}

	switch p.Status {
	case protocol.StatusConnected, protocol.StatusDisconnected:
		if m, ok := p.Data.(map[string]any); ok {
			if v, ok := m["agentConnected"].(bool); ok {
				c.SetAgentConnected(v)
			}
			switch m["reason"] {
			case "agent_connected":
				c.SetAgentConnected(true)
			case "agent_disconnected":
				c.SetAgentConnected(false)
			}
		}
	case protocol.StatusSessionsList:
		m, ok := p.Data.(map[string]any)
		if !ok {
			return
		}
		raw, ok := m["sessions"].([]any)
		if !ok {
			return
		}
		list := make([]SessionInfo, 0, len(raw))
		for _, item := range raw {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			list = append(list, SessionInfo{
				ID:             str(entry["id"]),
				ProjectID:      str(entry["projectId"]),
				WorkingDir:     str(entry["workingDir"]),
				Status:         str(entry["status"]),
				LastActivity:   int64(num(entry["lastActivity"])),
				IsQuickSession: entry["isQuickSession"] == true,
			})
		}
		c.UpdateSessions(list, now)
	case protocol.StatusSessionClosed:
		c.UpdateSessions(nil, now) // eviction scan only: marks nothing as seen
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) float64 {
	f, _ := v.(float64)
	return f
}

// requestStatus sends a single command and waits for the first status or
// error reply, for the one-shot commands (ls/history/send).
func requestStatus(ctx context.Context, conn *Conn, cmd protocol.CommandPayload) (*protocol.Envelope, error) {
	if err := conn.SendCommand(ctx, cmd); err != nil {
		return nil, err
	}
	for {
		env, err := conn.Recv(ctx)
		if err != nil {
			return nil, err
		}
		if env.Type == protocol.TypeStatus || env.Type == protocol.TypeError {
			return env, nil
		}
		// An output frame arriving before the reply (e.g. a lingering
		// session still streaming) is simply not what this one-shot
		// call is waiting for; keep reading.
	}
}

// ListSessions issues list_sessions and returns the decoded sessions.
func ListSessions(ctx context.Context, conn *Conn) ([]SessionInfo, error) {
	env, err := requestStatus(ctx, conn, protocol.CommandPayload{Command: protocol.CommandListSessions})
	if err != nil {
		return nil, err
	}
	if env.Type == protocol.TypeError {
		return nil, asError(env)
	}
	cache := NewCache()
	cache.HandleStatus(env, time.Now())
	return cache.Sessions(), nil
}

// GetSessionHistory issues get_session_history for a project.
func GetSessionHistory(ctx context.Context, conn *Conn, projectID string) (*protocol.StatusPayload, error) {
	env, err := requestStatus(ctx, conn, protocol.CommandPayload{Command: protocol.CommandGetSessionHistory, ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	if env.Type == protocol.TypeError {
		return nil, asError(env)
	}
	var p protocol.StatusPayload
	env.Decode(&p)
	return &p, nil
}

// SendInput issues send_input for an existing session.
func SendInput(ctx context.Context, conn *Conn, sessionID, input string) error {
	if err := conn.SendCommand(ctx, protocol.CommandPayload{Command: protocol.CommandSendInput, SessionID: sessionID, Input: input}); err != nil {
		return err
	}
	// send_input has no success reply (§4.2.4); only watch briefly for an
	// error so callers get synchronous feedback on a bad session id. Any
	// other frame (output still streaming from the session) is ignored.
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for {
		env, err := conn.Recv(ctx)
		if err != nil {
			return nil // timeout with no error reply means success
		}
		if env.Type == protocol.TypeError {
			return asError(env)
		}
	}
}

func asError(env *protocol.Envelope) error {
	var p protocol.ErrorPayload
	env.Decode(&p)
	return fmt.Errorf("%s: %s", p.Code, p.Message)
}
