package dispatch

import (
	"context"
	"log/slog"
)

// ReplyPolling is the reply channel served by the result store alone.
const ReplyPolling = "polling"

// Router stores every envelope and forwards it to the channel named by its ReplyTo.
type Router struct {
	store    Sink
	channels map[string]Sink
	logger   *slog.Logger
}

// NewRouter creates a router over the result store and the named reply channels.
func NewRouter(store Sink, channels map[string]Sink, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{store: store, channels: channels, logger: logger}
}

// Deliver implements Sink.
func (r *Router) Deliver(ctx context.Context, env Envelope) error {
	if err := r.store.Deliver(ctx, env); err != nil {
		return err
	}

	if env.ReplyTo == "" || env.ReplyTo == ReplyPolling {
		return nil
	}

	ch, ok := r.channels[env.ReplyTo]
	if !ok {
		r.logger.WarnContext(ctx, "unknown reply channel, response kept for polling only",
			"reply_to", env.ReplyTo,
			"correlation_id", env.CorrelationID,
		)
		return nil
	}
	return ch.Deliver(ctx, env)
}

// Channels reports whether name is a deliverable reply channel.
func (r *Router) Channels(name string) bool {
	if name == "" || name == ReplyPolling {
		return true
	}
	_, ok := r.channels[name]
	return ok
}
