package fiber

import (
	"context"
	"log/slog"
)

// replayHandler drops records while the flow re-executes calls answered from its journal,
// so every log line of a flow is written once.
type replayHandler struct {
	fc      *flowContext
	handler slog.Handler
}

// Enabled implements slog.Handler.
func (rh *replayHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return rh.handler.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (rh *replayHandler) Handle(ctx context.Context, r slog.Record) error {
	if rh.fc.replaying() {
		return nil
	}

	return rh.handler.Handle(ctx, r)
}

// WithAttrs implements slog.Handler.
func (rh *replayHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &replayHandler{rh.fc, rh.handler.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (rh *replayHandler) WithGroup(name string) slog.Handler {
	return &replayHandler{rh.fc, rh.handler.WithGroup(name)}
}

var _ slog.Handler = (*replayHandler)(nil)

func newReplayLogger(fc *flowContext, logger *slog.Logger) *slog.Logger {
	return slog.New(&replayHandler{fc, logger.Handler()})
}
