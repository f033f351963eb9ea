package worker

import (
	"context"
	"log/slog"

	"mproxy/pkg/message"
)

// Worker delivers one message to the backend bound to a channel.
//
// A nil error means the backend accepted the message. Failures are reported as
// *RetryableError or *FatalError. Implementations are immutable after construction
// and safe for concurrent Operate calls.
type Worker interface {
	Operate(ctx context.Context, msg message.Message) error
}

// Func adapts a plain function into a Worker.
type Func func(ctx context.Context, msg message.Message) error

// Operate calls f.
func (f Func) Operate(ctx context.Context, msg message.Message) error {
	return f(ctx, msg)
}

func componentLogger(log *slog.Logger, channel string, kind string) *slog.Logger {
	if log == nil {
		log = slog.Default()
	}

	return log.With("component", "worker."+kind, "channel", channel)
}
