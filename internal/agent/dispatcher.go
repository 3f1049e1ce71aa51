package agent

import (
	"log/slog"
	"time"

	"github.com/pocketclaude/pocketclaude/internal/history"
	"github.com/pocketclaude/pocketclaude/internal/projects"
	"github.com/pocketclaude/pocketclaude/internal/protocol"
	"github.com/pocketclaude/pocketclaude/internal/session"
)

// sender is the subset of Uplink the Dispatcher needs; isolated so tests
// can stub it without a real connection.
type sender interface {
	Send(env *protocol.Envelope)
}

// Dispatcher owns the session table and is the single point through
// which commands from the Relay mutate it (§9 — "dispatcher goroutine
// owns the table"). PTY lifecycle callbacks (output, closed) also funnel
// through it to reach the uplink.
type Dispatcher struct {
	mgr      *session.Manager
	catalog  *projects.Catalog
	hist     *history.Store
	uplink   sender
	inbox    chan *protocol.Envelope
}

// NewDispatcher constructs a Dispatcher. Call SetUplink once the Uplink
// exists (the two are mutually referential: the Manager's callbacks need
// to reach the Uplink, and the Uplink's Run loop needs the Dispatcher).
func NewDispatcher(catalog *projects.Catalog, hist *history.Store) *Dispatcher {
	return &Dispatcher{
		catalog: catalog,
		hist:    hist,
		inbox:   make(chan *protocol.Envelope, 64),
	}
}

// SetUplink wires the outbound sender. Must be called before Run.
func (d *Dispatcher) SetUplink(u sender) {
	d.uplink = u
}

// SetManager wires the session table. Must be called before Run.
func (d *Dispatcher) SetManager(mgr *session.Manager) {
	d.mgr = mgr
}

// OnOutput is passed to session.NewManager as the OutputFunc: every PTY
// data chunk is forwarded to the relay as a type=output envelope.
func (d *Dispatcher) OnOutput(sessionID string, data []byte) {
	env, err := protocol.Encode(protocol.TypeOutput, sessionID, time.Now(), protocol.OutputPayload{
		SessionID: sessionID,
		Data:      string(data),
	})
	if err != nil {
		slog.Error("encoding output envelope", "err", err)
		return
	}
	d.uplink.Send(env)
}

// OnClosed is passed to session.NewManager as the ClosedFunc: announces
// session_closed to every client whenever a session leaves the table,
// regardless of why.
func (d *Dispatcher) OnClosed(sessionID, projectID string) {
	env, err := protocol.Encode(protocol.TypeStatus, sessionID, time.Now(), protocol.StatusPayload{
		Status:    protocol.StatusSessionClosed,
		SessionID: sessionID,
		Data:      protocol.SessionClosedData{SessionID: sessionID, ProjectID: projectID},
	})
	if err != nil {
		slog.Error("encoding session_closed envelope", "err", err)
		return
	}
	d.uplink.Send(env)
}

// Enqueue hands an incoming command envelope to the dispatcher's inbox.
// Called from the uplink's read loop.
func (d *Dispatcher) Enqueue(env *protocol.Envelope) {
	d.inbox <- env
}

// OnIdle is passed to session.NewManager as the IdleFunc: the idle
// reaper's ticker goroutine is not the table's single writer, so instead
// of closing the session itself it hands the id back here as a synthetic
// close_session command, which reaches session.Manager.Close only via
// the dispatcher's own inbox — the same path every other mutation takes.
func (d *Dispatcher) OnIdle(sessionID string) {
	env, err := protocol.Encode(protocol.TypeCommand, sessionID, time.Now(), protocol.CommandPayload{
		Command:   protocol.CommandCloseSession,
		SessionID: sessionID,
	})
	if err != nil {
		slog.Error("encoding idle close command", "session_id", sessionID, "err", err)
		return
	}
	d.Enqueue(env)
}

// Run processes the inbox until stop fires. It is the only goroutine
// that calls into the session Manager on the command path, so commands
// are handled strictly in arrival order.
func (d *Dispatcher) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case env := <-d.inbox:
			d.handle(env)
		}
	}
}

func (d *Dispatcher) handle(env *protocol.Envelope) {
	var cmd protocol.CommandPayload
	if err := env.Decode(&cmd); err != nil {
		d.sendError("", protocol.ErrInvalidJSON, "malformed command payload")
		return
	}

	switch cmd.Command {
	case protocol.CommandListProjects:
		d.handleListProjects()
	case protocol.CommandListSessions:
		d.handleListSessions()
	case protocol.CommandStartSession:
		d.handleStartSession(cmd)
	case protocol.CommandSendInput:
		d.handleSendInput(cmd)
	case protocol.CommandCloseSession:
		d.handleCloseSession(cmd)
	case protocol.CommandKeepalive:
		d.handleKeepalive(cmd)
	case protocol.CommandGetSessionHistory:
		d.handleGetSessionHistory(cmd)
	case protocol.CommandGetLastOutput:
		d.handleGetLastOutput(cmd)
	case protocol.CommandUploadFile:
		d.handleUploadFile(cmd)
	default:
		d.sendError("", protocol.ErrUnknownCommand, string(cmd.Command))
	}
}

func (d *Dispatcher) sendError(sessionID string, code protocol.ErrorCode, message string) {
	env, err := protocol.Encode(protocol.TypeError, sessionID, time.Now(), protocol.ErrorPayload{Code: code, Message: message})
	if err != nil {
		slog.Error("encoding error envelope", "err", err)
		return
	}
	d.uplink.Send(env)
}

func (d *Dispatcher) sendStatus(sessionID string, status protocol.StatusName, data any) {
	env, err := protocol.Encode(protocol.TypeStatus, sessionID, time.Now(), protocol.StatusPayload{Status: status, SessionID: sessionID, Data: data})
	if err != nil {
		slog.Error("encoding status envelope", "err", err)
		return
	}
	d.uplink.Send(env)
}
