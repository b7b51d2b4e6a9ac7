package router

import (
	"context"
	"log/slog"

	"github.com/thrillee/smppgateway/internal/logging"
)

// LogRouter logs every message and accepts it.
type LogRouter struct{}

func NewLogRouter() *LogRouter {
	return &LogRouter{}
}

func (r *LogRouter) Receive(ctx context.Context, msg Message) error {
	ctx = logging.ContextWithMOMessageID(ctx, msg.InboundID)
	slog.InfoContext(ctx, "Inbound message",
		slog.String("backend", msg.Backend),
		slog.String("from", msg.From),
		slog.String("to", msg.To),
		slog.String("text", msg.Text),
	)
	return nil
}

// Compile-time check
var _ Router = (*LogRouter)(nil)
