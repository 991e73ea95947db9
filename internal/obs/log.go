package obs

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

const serviceName = "starterkit-api"

var logger atomic.Pointer[slog.Logger]

// NewLogger returns a JSON slog.Logger tagged with the service name.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", serviceName)
}

// Logger returns the shared structured logger used across the service.
func Logger() *slog.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	l := NewLogger(os.Stdout, slog.LevelInfo)
	if logger.CompareAndSwap(nil, l) {
		return l
	}
	return logger.Load()
}

// SetLogger replaces the shared logger and returns the previous one.
func SetLogger(l *slog.Logger) *slog.Logger {
	prev := Logger()
	if l != nil {
		logger.Store(l)
	}
	return prev
}

// ParseLevel maps LOG_LEVEL values to slog levels; unknown values mean info.
func ParseLevel(s string) slog.Level {
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
