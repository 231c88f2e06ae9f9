package observe

import (
	"context"
	"log/slog"
)

// DebugLogger returns a logger that emits debug records through base's
// handler even when the handler's own level is higher. It lets a single
// session run verbose without lowering the process-wide log level.
func DebugLogger(base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return slog.New(debugHandler{base.Handler()})
}

type debugHandler struct {
	slog.Handler
}

func (debugHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= slog.LevelDebug
}

func (h debugHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return debugHandler{h.Handler.WithAttrs(attrs)}
}

func (h debugHandler) WithGroup(name string) slog.Handler {
	return debugHandler{h.Handler.WithGroup(name)}
}
