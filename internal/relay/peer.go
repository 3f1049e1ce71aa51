package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/pocketclaude/pocketclaude/internal/protocol"
)

// badJSONError marks a frame that failed to decode as JSON, distinguishing
// it from a transport-level read error so the caller can reply with
// error{INVALID_JSON} and keep the connection open (§7).
type badJSONError struct{ err error }

func (e *badJSONError) Error() string { return fmt.Sprintf("invalid JSON frame: %v", e.err) }
func (e *badJSONError) Unwrap() error { return e.err }

// peer is one authenticated (or authenticating) WebSocket connection to
// the Relay, as either an agent or a client (§3 "Connection record").
type peer struct {
	id   string
	role protocol.Role
	ws   *websocket.Conn

	writeMu sync.Mutex
	once    sync.Once
	closed  chan struct{}
}

func newPeer(id string, ws *websocket.Conn) *peer {
	return &peer{id: id, ws: ws, closed: make(chan struct{})}
}

// readEnvelope reads one WebSocket text message and decodes it as an
// Envelope. A clean WebSocket close is reported as (nil, nil), matching
// the reference transport's EOF convention.
func (p *peer) readEnvelope(ctx context.Context) (*protocol.Envelope, error) {
	_, data, err := p.ws.Read(ctx)
	if err != nil {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			return nil, nil
		}
		return nil, err
	}

	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &badJSONError{err}
	}
	return &env, nil
}

// writeEnvelope writes an Envelope as a single WebSocket text message.
// Safe for concurrent use — nhooyr's Conn requires writes to be
// serialized, same constraint the reference WSWriter guards with a mutex.
func (p *peer) writeEnvelope(ctx context.Context, env *protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.ws.Write(ctx, websocket.MessageText, data)
}

func (p *peer) sendError(ctx context.Context, code protocol.ErrorCode, message string) error {
	env, err := protocol.Encode(protocol.TypeError, "", time.Now(), protocol.ErrorPayload{Code: code, Message: message})
	if err != nil {
		return err
	}
	return p.writeEnvelope(ctx, env)
}

func (p *peer) sendStatus(ctx context.Context, status protocol.StatusName, data any) error {
	env, err := protocol.Encode(protocol.TypeStatus, "", time.Now(), protocol.StatusPayload{Status: status, Data: data})
	if err != nil {
		return err
	}
	return p.writeEnvelope(ctx, env)
}

// close closes the underlying WebSocket exactly once with the given close
// code, per §6's 4001/4002/4003 codes.
func (p *peer) close(code websocket.StatusCode, reason string) {
	p.once.Do(func() {
		close(p.closed)
		p.ws.Close(code, reason)
	})
}

func (p *peer) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// heartbeat pings the peer on interval, force-closing it if a ping does
// not complete within timeout (§4.1, §5).
func (p *peer) heartbeat(interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.closed:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			err := p.ws.Ping(ctx)
			cancel()
			if err != nil {
				p.close(websocket.StatusPolicyViolation, "heartbeat timeout")
				return
			}
		}
	}
}
