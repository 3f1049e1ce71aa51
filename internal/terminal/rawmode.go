// Package terminal holds the reference CLI client's presentation-layer TTY
// handling: raw mode, size/resize tracking, and detach chord recognition.
// None of it is aware of sessions, projects, or the wire protocol.
package terminal

import (
	"os"

	"golang.org/x/term"
)

// RawModeGuard restores a terminal's prior mode on Restore.
type RawModeGuard struct {
	fd       int
	oldState *term.State
}

// EnableRawMode puts stdin into raw mode and returns a guard to undo it.
func EnableRawMode() (*RawModeGuard, error) {
	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return &RawModeGuard{fd: fd, oldState: oldState}, nil
}

func (g *RawModeGuard) Restore() {
	term.Restore(g.fd, g.oldState)
}
