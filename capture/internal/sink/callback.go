package sink

import "context"

// DeliverFunc is called for each download.
type DeliverFunc func(ctx context.Context, d Download) error

// Callback delivers downloads via a Go function call, for embedding the
// capturer in a larger program.
type Callback struct {
	fn DeliverFunc
}

// NewCallback creates a Callback sink. fn may be nil.
func NewCallback(fn DeliverFunc) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Deliver(ctx context.Context, d Download) error {
	if c.fn != nil {
		return c.fn(ctx, d)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
