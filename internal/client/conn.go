// Package client implements the reference CLI Client adapter: a thin,
// non-authoritative peer that authenticates as role=client, issues
// commands, and renders output/status/error frames (§4.3, §4.5).
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"nhooyr.io/websocket"

	"github.com/pocketclaude/pocketclaude/internal/protocol"
)

// Target describes where the Relay lives and the shared bearer token used
// to authenticate as a client.
type Target struct {
	URL   string
	Token string
}

// Conn is one authenticated websocket connection to the Relay.
type Conn struct {
	ws *websocket.Conn
}

// Connect dials the Relay and completes the client auth handshake.
func Connect(ctx context.Context, t Target) (*Conn, error) {
	ws, _, err := websocket.Dial(ctx, t.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to relay: %w", err)
	}

	c := &Conn{ws: ws}
	authEnv, err := protocol.Encode(protocol.TypeAuth, "", time.Now(), protocol.AuthPayload{Token: t.Token, Role: protocol.RoleClient})
	if err != nil {
		ws.Close(websocket.StatusInternalError, "")
		return nil, err
	}
	if err := c.Send(ctx, authEnv); err != nil {
		ws.Close(websocket.StatusInternalError, "")
		return nil, fmt.Errorf("sending auth: %w", err)
	}

	reply, err := c.Recv(ctx)
	if err != nil {
		ws.Close(websocket.StatusInternalError, "")
		return nil, fmt.Errorf("reading auth reply: %w", err)
	}
	if reply.Type == protocol.TypeError {
		var ep protocol.ErrorPayload
		reply.Decode(&ep)
		ws.Close(websocket.StatusInternalError, "")
		return nil, fmt.Errorf("auth failed: %s %s", ep.Code, ep.Message)
	}

	return c, nil
}

// Send writes one envelope as a single text message.
func (c *Conn) Send(ctx context.Context, env *protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Recv reads and decodes one envelope.
func (c *Conn) Recv(ctx context.Context) (*protocol.Envelope, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, err
	}
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	return &env, nil
}

// SendCommand is a convenience wrapper building and sending a command
// envelope.
func (c *Conn) SendCommand(ctx context.Context, cmd protocol.CommandPayload) error {
	env, err := protocol.Encode(protocol.TypeCommand, cmd.SessionID, time.Now(), cmd)
	if err != nil {
		return err
	}
	return c.Send(ctx, env)
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}
