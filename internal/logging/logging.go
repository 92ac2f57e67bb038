// Package logging wires zerolog through the manager, replacing the
// teacher's fmt.Printf calls with structured, leveled records. Field names
// (unit, pid, state, result) follow the vocabulary the teacher's own
// Printf calls already used.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a console-friendly logger when w is a terminal, otherwise
// plain JSON — the same split joeycumines-go-utilpkg/izerolog makes between
// interactive and production output.
func New(w io.Writer, debug bool) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if f, ok := w.(*os.File); ok && isTerminal(f) {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
