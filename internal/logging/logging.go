// Package logging sets up log/slog for ro-control. Package-level loggers are
// created with L before configuration is known; every record is routed to the
// handler installed by the most recent Init.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/mitchellh/go-homedir"
)

// Key constants for structured log fields.
const (
	KeyComponent  = "component"
	KeyOperation  = "operation"
	KeyVersion    = "version"
	KeyManager    = "packageManager"
	KeyDurationMs = "durationMs"
	KeyError      = "error"
)

var active atomic.Pointer[slog.Handler]

func init() {
	install(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func install(h slog.Handler) {
	active.Store(&h)
	slog.SetDefault(slog.New(forwarder{}))
}

// forwarder looks up the active handler on every call and replays the
// With/WithGroup chain recorded on it, in order.
type forwarder struct {
	chain []func(slog.Handler) slog.Handler
}

func (f forwarder) resolve() slog.Handler {
	h := *active.Load()
	for _, step := range f.chain {
		h = step(h)
	}
	return h
}

func (f forwarder) Enabled(ctx context.Context, level slog.Level) bool {
	return f.resolve().Enabled(ctx, level)
}

func (f forwarder) Handle(ctx context.Context, r slog.Record) error {
	return f.resolve().Handle(ctx, r)
}

func (f forwarder) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return f
	}
	return f.then(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f forwarder) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.then(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f forwarder) then(step func(slog.Handler) slog.Handler) forwarder {
	chain := make([]func(slog.Handler) slog.Handler, len(f.chain), len(f.chain)+1)
	copy(chain, f.chain)
	return forwarder{chain: append(chain, step)}
}

// Init installs the process-wide handler. format is "json" or "text"; level
// is debug, info, warn or error and defaults to info. A nil output means
// stderr, which keeps stdout for command output.
func Init(format, level string, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "json") {
		install(slog.NewJSONHandler(output, opts))
		return
	}
	install(slog.NewTextHandler(output, opts))
}

// DefaultLogFile returns ~/.local/share/ro-control/ro-control.log, or an empty
// string when the home directory cannot be resolved.
func DefaultLogFile() string {
	home, err := homedir.Dir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", "ro-control", "ro-control.log")
}

// OpenLogFile expands a leading ~ in path and opens a rotating writer on it.
func OpenLogFile(path string, maxSizeMB, maxBackups int) (*RotatingWriter, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	return NewRotatingWriter(expanded, maxSizeMB, maxBackups)
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return slog.New(forwarder{}).With(slog.String(KeyComponent, component))
}

// WithOperation tags logger with a transaction title and package manager.
func WithOperation(logger *slog.Logger, operation, manager string) *slog.Logger {
	return logger.With(
		slog.String(KeyOperation, operation),
		slog.String(KeyManager, manager),
	)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
