package sink

import (
	"context"
	"log/slog"
)

// Router fans a download out to every configured sink. One sink error
// does not block the others: errors are logged and the first one
// encountered is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Len is the number of sinks behind the router.
func (r *Router) Len() int { return len(r.sinks) }

func (r *Router) Deliver(ctx context.Context, d Download) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Deliver(ctx, d); err != nil {
			r.logger.Warn("sink: deliver failed", "filename", d.Filename, "session", d.SessionID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
