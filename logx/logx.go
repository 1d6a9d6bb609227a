// Package logx wires the process-wide structured logger. The ingestion core
// uses zerolog exclusively; the offline replayctl CLI uses logrus instead —
// see DESIGN.md for why both stay wired.
package logx

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	base = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// Configure sets the global log level and output writer. Call once during
// bootstrap; safe to call again in tests.
func Configure(level string, w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stdout
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	base = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Component returns a child logger tagged with a component name, the
// convention every package in this module follows instead of a bare
// package-level log.Printf.
func Component(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.With().Str("component", name).Logger()
}

// Base returns the current root logger, mainly for tests asserting output.
func Base() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}
