package capture

import (
	"context"
	"time"

	"github.com/hazyhaar/carousel/capture/internal/history"
)

// History returns finished sessions matching f, newest first.
func (c *Capturer) History(ctx context.Context, f HistoryFilter) ([]HistoryRecord, error) {
	if c.history == nil {
		return nil, ErrNoHistory
	}
	return c.history.Query(ctx, f)
}

// record queues a finished session in the history.
func (c *Capturer) record(s *Session, res *Result, err error) {
	if c.history == nil {
		return
	}
	ratio, pct := s.request()
	r := history.Record{
		SessionID:   s.ID,
		Timestamp:   time.Now(),
		PageID:      s.PageID,
		PageURL:     s.pageURL,
		AspectRatio: ratio.String(),
		Percentage:  pct,
		Status:      s.outcome(),
		DurationMs:  time.Since(s.started).Milliseconds(),
	}
	if res != nil {
		r.Title = res.Title
		r.StartOffset = res.StartOffset
		r.Filename = res.Filename
		r.Entries = len(res.Entries)
		r.Bytes = res.Bytes
		r.Delivered = res.Delivered
	}
	if err != nil {
		r.Error = err.Error()
	}
	c.history.Add(r)
}
