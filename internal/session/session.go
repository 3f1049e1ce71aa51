// Package session owns the Agent's table of live PTY sessions: spawning,
// one-session-per-project enforcement, the output pipeline to the ring
// buffer and on-disk history, the idle reaper, and the send-input
// double-tap timer.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/pocketclaude/pocketclaude/internal/agentconfig"
	"github.com/pocketclaude/pocketclaude/internal/history"
	"github.com/pocketclaude/pocketclaude/internal/projects"
)

// OutputFunc is called on every PTY data chunk, regardless of whether the
// uplink to the Relay is currently authenticated — gating delivery on
// uplink state is the Dispatcher's concern, not the session table's.
type OutputFunc func(sessionID string, data []byte)

// ClosedFunc is called when a session leaves the table, whether by
// explicit close_session, PTY exit, or the idle reaper.
type ClosedFunc func(sessionID, projectID string)

// IdleFunc is called for each session the idle reaper finds past the
// threshold. It does not close the session itself — the reaper's ticker
// goroutine is not the table's single writer, so it hands the session id
// back to whatever does own that path (the dispatcher inbox) rather than
// calling Close directly (§9).
type IdleFunc func(sessionID string)

// Session is an in-memory record of a live PTY (§3).
type Session struct {
	ID         string
	ProjectID  string
	WorkingDir string

	mu           sync.Mutex
	status       Status
	lastActivity atomic.Int64 // unix ms

	ring   *RingBuffer
	master *os.File
	cmd    *exec.Cmd
	hist   *history.Writer

	inputCh chan []byte
	closed  atomic.Bool

	doubleTapTimer *time.Timer
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixMilli())
	s.setStatus(StatusActive)
}

func (s *Session) LastActivity() int64 { return s.lastActivity.Load() }

func (s *Session) RingLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Lines()
}

// Info is the wire-facing snapshot of a Session for list_sessions.
type Info struct {
	ID             string
	ProjectID      string
	WorkingDir     string
	Status         string
	LastActivity   int64
	IsQuickSession bool
}

func (s *Session) info() Info {
	return Info{
		ID:             s.ID,
		ProjectID:      s.ProjectID,
		WorkingDir:     s.WorkingDir,
		Status:         s.Status().String(),
		LastActivity:   s.LastActivity(),
		IsQuickSession: s.ProjectID == projects.QuickSessionProjectID,
	}
}

// Manager owns the session table. All exported methods are safe for
// concurrent use, though in the Agent's actual topology only the
// dispatcher goroutine ever calls them (§9).
type Manager struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	byProject  map[string]string

	cfg       *agentconfig.Config
	catalog   *projects.Catalog
	hist      *history.Store
	launchCmd string

	onOutput OutputFunc
	onClosed ClosedFunc
	onIdle   IdleFunc
}

// NewManager constructs a Manager. launchCmd is the command line written
// to a freshly spawned PTY (the assistant CLI invocation, §6 CLAUDE_PATH).
// onIdle is invoked for sessions the idle reaper finds stale; the caller
// is expected to route it back through its own single-writer command
// path rather than have the reaper close sessions itself.
func NewManager(cfg *agentconfig.Config, catalog *projects.Catalog, hist *history.Store, launchCmd string, onOutput OutputFunc, onClosed ClosedFunc, onIdle IdleFunc) *Manager {
	return &Manager{
		sessions:  make(map[string]*Session),
		byProject: make(map[string]string),
		cfg:       cfg,
		catalog:   catalog,
		hist:      hist,
		launchCmd: launchCmd,
		onOutput:  onOutput,
		onClosed:  onClosed,
		onIdle:    onIdle,
	}
}

// StartedInfo is returned by Start to populate status{session_started}.
type StartedInfo struct {
	SessionID          string
	ProjectID          string
	IsQuickSession     bool
	HasPreviousContext bool
}

// ErrProjectNotFound is returned by Start for an unknown project id.
var ErrProjectNotFound = errors.New("project not found")

// Start spawns a new session for projectID, closing any existing session
// for that project first (§3 one-session-per-project invariant).
func (m *Manager) Start(projectID string) (StartedInfo, error) {
	proj, ok := m.catalog.Resolve(projectID)
	if !ok {
		return StartedInfo{}, ErrProjectNotFound
	}

	m.mu.Lock()
	existingID, hasExisting := m.byProject[proj.ID]
	m.mu.Unlock()
	if hasExisting {
		m.Close(existingID)
	}

	id := uuid.NewString()

	contextSummary, err := m.hist.ContextSummary(proj.ID)
	if err != nil {
		slog.Error("loading context summary", "project_id", proj.ID, "err", err)
		contextSummary = ""
	}

	cmd := buildShellCmd(proj.Path)
	master, err := pty.Start(cmd)
	if err != nil {
		return StartedInfo{}, fmt.Errorf("starting PTY: %w", err)
	}
	if err := pty.Setsize(master, &pty.Winsize{Rows: 30, Cols: 120}); err != nil {
		slog.Error("setting PTY size", "session_id", id, "err", err)
	}

	now := time.Now().UnixMilli()
	histWriter, err := m.hist.Open(proj.ID, id, now)
	if err != nil {
		slog.Error("opening session history", "session_id", id, "project_id", proj.ID, "err", err)
	}

	sess := &Session{
		ID:         id,
		ProjectID:  proj.ID,
		WorkingDir: proj.Path,
		status:     StatusStarting,
		ring:       NewRingBuffer(m.cfg.Session.RingBufferLines),
		master:     master,
		cmd:        cmd,
		hist:       histWriter,
		inputCh:    make(chan []byte, 256),
	}
	sess.lastActivity.Store(now)

	m.mu.Lock()
	m.sessions[id] = sess
	m.byProject[proj.ID] = id
	m.mu.Unlock()

	go m.readLoop(sess)
	go m.writeLoop(sess)
	go m.waitLoop(sess)
	go m.launchAfterDelay(sess, contextSummary)

	sess.setStatus(StatusActive)

	return StartedInfo{
		SessionID:          id,
		ProjectID:          proj.ID,
		IsQuickSession:      proj.ID == projects.QuickSessionProjectID,
		HasPreviousContext: contextSummary != "",
	}, nil
}

func buildShellCmd(workingDir string) *exec.Cmd {
	shell := "bash"
	if runtime.GOOS == "windows" {
		shell = "cmd.exe"
	}
	cmd := exec.Command(shell)
	cmd.Dir = workingDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	return cmd
}

func (m *Manager) launchAfterDelay(sess *Session, contextSummary string) {
	time.Sleep(m.cfg.Input.LaunchDelay())
	if sess.closed.Load() {
		return
	}
	if contextSummary != "" {
		if _, err := sess.master.Write([]byte(contextSummary + "\r")); err != nil {
			slog.Error("writing context summary to PTY", "session_id", sess.ID, "err", err)
			return
		}
	}
	if _, err := sess.master.Write([]byte(m.launchCmd + "\r")); err != nil {
		slog.Error("writing launch command to PTY", "session_id", sess.ID, "err", err)
	}
}

func (m *Manager) readLoop(sess *Session) {
	buf := make([]byte, 4096)
	for {
		n, err := sess.master.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])

			sess.touch()
			sess.mu.Lock()
			sess.ring.Write(data)
			sess.mu.Unlock()

			if sess.hist != nil {
				if werr := sess.hist.Append(data); werr != nil {
					slog.Error("appending session history", "session_id", sess.ID, "err", werr)
				}
			}
			if m.onOutput != nil {
				m.onOutput(sess.ID, data)
			}
		}
		if err != nil {
			break
		}
	}
	m.finishSession(sess)
}

func (m *Manager) writeLoop(sess *Session) {
	for data := range sess.inputCh {
		if _, err := sess.master.Write(data); err != nil {
			slog.Error("writing PTY input", "session_id", sess.ID, "err", err)
			return
		}
	}
}

func (m *Manager) waitLoop(sess *Session) {
	sess.cmd.Wait()
}

// finishSession removes a session from the table once its PTY reader has
// observed EOF, whether from spontaneous exit or an explicit Close.
func (m *Manager) finishSession(sess *Session) {
	if !sess.closed.CompareAndSwap(false, true) {
		return // already finished via explicit Close
	}

	sess.mu.Lock()
	sess.status = StatusClosed
	if sess.doubleTapTimer != nil {
		sess.doubleTapTimer.Stop()
	}
	sess.mu.Unlock()

	close(sess.inputCh)

	if sess.hist != nil {
		if err := sess.hist.Close(time.Now().UnixMilli()); err != nil {
			slog.Error("closing session history", "session_id", sess.ID, "err", err)
		}
	}

	m.mu.Lock()
	delete(m.sessions, sess.ID)
	if m.byProject[sess.ProjectID] == sess.ID {
		delete(m.byProject, sess.ProjectID)
	}
	m.mu.Unlock()

	if m.onClosed != nil {
		m.onClosed(sess.ID, sess.ProjectID)
	}
}

// ErrSessionNotFound is returned for any command referencing an unknown
// session id.
var ErrSessionNotFound = errors.New("session not found")

func (m *Manager) get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// SendInput writes input to the session's PTY followed by a carriage
// return, scheduling a second carriage return after the configured
// double-tap delay (§4.2.2).
func (m *Manager) SendInput(id, input string) error {
	sess, ok := m.get(id)
	if !ok {
		return ErrSessionNotFound
	}

	sess.touch()
	if err := m.writeToSession(sess, []byte(input+"\r")); err != nil {
		return err
	}

	if !m.cfg.Input.DoubleTapEnabled {
		return nil
	}

	sess.mu.Lock()
	if sess.doubleTapTimer != nil {
		sess.doubleTapTimer.Stop()
	}
	sess.doubleTapTimer = time.AfterFunc(m.cfg.Input.DoubleTapDelay(), func() {
		if sess.closed.Load() {
			return
		}
		if _, stillThere := m.get(id); !stillThere {
			return
		}
		m.writeToSession(sess, []byte("\r"))
	})
	sess.mu.Unlock()

	return nil
}

func (m *Manager) writeToSession(sess *Session, data []byte) error {
	select {
	case sess.inputCh <- data:
		return nil
	default:
		return fmt.Errorf("input channel full for session %s", sess.ID)
	}
}

// Close kills a session's PTY process and removes it from the table.
func (m *Manager) Close(id string) error {
	sess, ok := m.get(id)
	if !ok {
		return ErrSessionNotFound
	}
	if sess.cmd.Process != nil {
		_ = sess.cmd.Process.Kill()
	}
	// The read loop will observe EOF/err shortly and call finishSession;
	// force it now in case the PTY is already gone and no more bytes
	// will ever be read.
	m.finishSession(sess)
	return nil
}

// WorkingDir returns the working directory of a live session, for
// upload_file's destination path.
func (m *Manager) WorkingDir(id string) (string, bool) {
	sess, ok := m.get(id)
	if !ok {
		return "", false
	}
	return sess.WorkingDir, true
}

// Keepalive defers the idle timer without writing to the PTY.
func (m *Manager) Keepalive(id string) error {
	sess, ok := m.get(id)
	if !ok {
		return ErrSessionNotFound
	}
	sess.lastActivity.Store(time.Now().UnixMilli())
	return nil
}

// List returns a snapshot of every live session.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.info())
	}
	return out
}

// RunIdleReaper blocks, handing sessions idle past the configured
// threshold to onIdle on each scan tick, until the stop channel fires.
func (m *Manager) RunIdleReaper(stop <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.Session.IdleScanInterval())
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.reapIdle()
		}
	}
}

// reapIdle only reads the table and hands stale ids to onIdle — it must
// never call Close itself. The reaper's ticker goroutine is not the
// table's single writer (the dispatcher inbox is, §9); closing directly
// here would race SendInput's write to the same session's inputCh.
func (m *Manager) reapIdle() {
	threshold := m.cfg.Session.IdleTimeout()
	now := time.Now().UnixMilli()

	m.mu.Lock()
	var stale []string
	for id, sess := range m.sessions {
		if time.Duration(now-sess.LastActivity())*time.Millisecond > threshold {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	if m.onIdle == nil {
		return
	}
	for _, id := range stale {
		m.onIdle(id)
	}
}
