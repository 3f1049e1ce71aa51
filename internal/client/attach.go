package client

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pocketclaude/pocketclaude/internal/protocol"
	"github.com/pocketclaude/pocketclaude/internal/terminal"
)

// stdinEvent carries the result of a single stdin read during Attach.
type stdinEvent struct {
	detach  bool
	forward []byte
	err     error
}

// envelopeEvent carries the result of a single envelope read from the Relay.
type envelopeEvent struct {
	env *protocol.Envelope
	err error
}

// Attach implements `client attach <projectId>` (§4.5): start or resolve a
// session for projectID, put the local TTY into raw mode, forward stdin as
// send_input commands, print output frames verbatim, and restore the TTY
// on a detach chord or on connection loss.
func Attach(ctx context.Context, conn *Conn, cache *Cache, projectID string) error {
	sessionID, err := resolveOrStartSession(ctx, conn, cache, projectID)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "[pocketclaude] attached to session %s\n", sessionID)

	guard, err := terminal.EnableRawMode()
	if err != nil {
		return fmt.Errorf("enabling raw mode: %w", err)
	}
	defer guard.Restore()

	winchCh, winchCleanup := terminal.ResizeSignal()
	defer winchCleanup()

	detector := terminal.NewDetachDetector()
	stdinCh := make(chan stdinEvent, 1)
	go readStdin(detector, stdinCh)

	envCh := make(chan envelopeEvent, 1)
	go readEnvelopes(ctx, conn, envCh)

	for {
		select {
		case <-winchCh:
			// Terminal resize has no effect on the remote PTY in this
			// protocol (no resize command exists); swallow the signal.

		case se := <-stdinCh:
			if se.err != nil {
				guard.Restore()
				return fmt.Errorf("reading stdin: %w", se.err)
			}
			if len(se.forward) > 0 {
				// Attach owns the single envelope reader goroutine, so
				// send the command directly rather than going through
				// SendInput, which waits on its own Recv for a reply —
				// any error reply arrives through envCh like any other
				// frame instead.
				cmd := protocol.CommandPayload{Command: protocol.CommandSendInput, SessionID: sessionID, Input: string(se.forward)}
				if err := conn.SendCommand(ctx, cmd); err != nil {
					guard.Restore()
					return err
				}
			}
			if se.detach {
				guard.Restore()
				fmt.Fprintf(os.Stderr, "\n[pocketclaude] detached from session %s\n", sessionID)
				return nil
			}

		case ee := <-envCh:
			if ee.err != nil {
				guard.Restore()
				return fmt.Errorf("connection lost: %w", ee.err)
			}
			switch ee.env.Type {
			case protocol.TypeOutput:
				var p protocol.OutputPayload
				ee.env.Decode(&p)
				os.Stdout.WriteString(p.Data)
			case protocol.TypeStatus:
				cache.HandleStatus(ee.env, time.Now())
				var p protocol.StatusPayload
				ee.env.Decode(&p)
				if p.Status == protocol.StatusSessionClosed && ee.env.SessionID == sessionID {
					guard.Restore()
					fmt.Fprintf(os.Stderr, "\n[pocketclaude] session %s closed\n", sessionID)
					return nil
				}
			case protocol.TypeError:
				var p protocol.ErrorPayload
				ee.env.Decode(&p)
				fmt.Fprintf(os.Stderr, "\n[pocketclaude] error: %s %s\n", p.Code, p.Message)
			}
		}
	}
}

func resolveOrStartSession(ctx context.Context, conn *Conn, cache *Cache, projectID string) (string, error) {
	if cached, ok := cache.ForProject(projectID); ok && cached.Status != "closed" {
		return cached.ID, nil
	}

	sessions, err := ListSessions(ctx, conn)
	if err != nil {
		return "", err
	}
	for _, s := range sessions {
		if s.ProjectID == projectID && s.Status != "closed" {
			return s.ID, nil
		}
	}

	env, err := requestStatus(ctx, conn, protocol.CommandPayload{Command: protocol.CommandStartSession, ProjectID: projectID})
	if err != nil {
		return "", err
	}
	if env.Type == protocol.TypeError {
		return "", asError(env)
	}
	return env.SessionID, nil
}

func readStdin(detector *terminal.DetachDetector, out chan<- stdinEvent) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			detach, fwd := detector.FeedBuf(buf[:n])
			out <- stdinEvent{detach: detach, forward: fwd}
			if detach {
				return
			}
		}
		if err != nil {
			out <- stdinEvent{err: err}
			return
		}
	}
}

func readEnvelopes(ctx context.Context, conn *Conn, out chan<- envelopeEvent) {
	for {
		env, err := conn.Recv(ctx)
		out <- envelopeEvent{env: env, err: err}
		if err != nil {
			return
		}
	}
}
