package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
)

type contextKey string

const (
	BackendKey     contextKey = "backend"
	SeqNumberKey   contextKey = "seq_num"
	MTMessageIDKey contextKey = "mt_id"
	MOMessageIDKey contextKey = "mo_id"
	RemoteMsgIDKey contextKey = "remote_msg_id"
	CommandIDKey   contextKey = "cmd_id"
	ChannelKey     contextKey = "channel"
	WorkerIDKey    contextKey = "worker_id"
)

// ContextHandler wraps another slog.Handler and adds attributes from context.
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler creates a handler that extracts values from context.
func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

// Handle adds context attributes before calling the wrapped handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if backend, ok := ctx.Value(BackendKey).(string); ok {
		r.AddAttrs(slog.String(string(BackendKey), backend))
	}
	if seq, ok := ctx.Value(SeqNumberKey).(uint32); ok {
		r.AddAttrs(slog.Uint64(string(SeqNumberKey), uint64(seq)))
	}
	if cmd, ok := ctx.Value(CommandIDKey).(string); ok {
		r.AddAttrs(slog.String(string(CommandIDKey), cmd))
	}
	if id, ok := ctx.Value(MTMessageIDKey).(int64); ok {
		r.AddAttrs(slog.Int64(string(MTMessageIDKey), id))
	}
	if id, ok := ctx.Value(MOMessageIDKey).(int64); ok {
		r.AddAttrs(slog.Int64(string(MOMessageIDKey), id))
	}
	if id, ok := ctx.Value(RemoteMsgIDKey).(string); ok {
		r.AddAttrs(slog.String(string(RemoteMsgIDKey), id))
	}
	if ch, ok := ctx.Value(ChannelKey).(string); ok {
		r.AddAttrs(slog.String(string(ChannelKey), ch))
	}
	if id, ok := ctx.Value(WorkerIDKey).(string); ok {
		r.AddAttrs(slog.String(string(WorkerIDKey), id))
	}

	return h.Handler.Handle(ctx, r)
}

// WithAttrs keeps the context handler in front of the derived handler.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup keeps the context handler in front of the derived handler.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// Setup installs a JSON logger on stdout as the slog default and returns it.
func Setup(level string) *slog.Logger {
	return SetupWriter(os.Stdout, level)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(w io.Writer, level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel <= slog.LevelDebug,
	} // Add source location for debug
	logger := slog.New(NewContextHandler(slog.NewJSONHandler(w, opts)))
	slog.SetDefault(logger)
	return logger
}

// Helper functions to add values to context
func ContextWithBackend(ctx context.Context, backend string) context.Context {
	return context.WithValue(ctx, BackendKey, backend)
}

func ContextWithPDUInfo(ctx context.Context, commandID string, seqNumber uint32) context.Context {
	ctx = context.WithValue(ctx, CommandIDKey, commandID)
	return context.WithValue(ctx, SeqNumberKey, seqNumber)
}

func ContextWithSeqNum(ctx context.Context, seqNumber uint32) context.Context {
	return context.WithValue(ctx, SeqNumberKey, seqNumber)
}

func ContextWithMTMessageID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, MTMessageIDKey, id)
}

func ContextWithMOMessageID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, MOMessageIDKey, id)
}

func ContextWithRemoteMsgID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RemoteMsgIDKey, id)
}

func ContextWithChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, ChannelKey, channel)
}

func ContextWithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, WorkerIDKey, workerID)
}
