// Package logger provides structured logging setup for opsloop.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Strob0t/opsloop/internal/config"
)

// New creates a *slog.Logger from the given Logging config.
// Output is JSON to stderr, and additionally appended to cfg.File when set,
// with a "service" attribute on every record. Run and request IDs stored in
// the context are added to records logged with a context.
// The returned Closer flushes the async handler and closes the log file.
func New(cfg config.Logging) (*slog.Logger, Closer, error) {
	var out io.Writer = os.Stderr
	var file *os.File
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %s: %w", cfg.File, err)
		}
		file = f
		out = io.MultiWriter(os.Stderr, f)
	}

	var handler slog.Handler = slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})

	var closer Closer = nopCloser{}
	if cfg.Async {
		ah := NewAsyncHandler(handler, max(cfg.AsyncBuffer, 1), max(cfg.AsyncWorkers, 1))
		handler = ah
		closer = ah
	}
	// Context attributes are resolved before records reach the async queue.
	handler = NewContextHandler(handler)
	if file != nil {
		closer = fileCloser{next: closer, f: file}
	}

	return slog.New(handler).With("service", cfg.Service), closer, nil
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

type fileCloser struct {
	next Closer
	f    *os.File
}

func (c fileCloser) Close() {
	c.next.Close()
	_ = c.f.Close()
}
