// Package sink delivers finished carousel archives: to a download
// directory, a webhook, stdout, or an in-process callback.
package sink

import (
	"context"
	"errors"
)

// ErrDelivery wraps every sink failure.
var ErrDelivery = errors.New("sink: delivery failed")

// Download is one resolved DownloadZip request.
type Download struct {
	SessionID string   `json:"session_id"`
	PageID    string   `json:"page_id"`
	PageURL   string   `json:"page_url"`
	Title     string   `json:"title"`
	Filename  string   `json:"filename"`
	Entries   []string `json:"entries"`
	Data      []byte   `json:"-"`
}

// Sink is the output interface.
type Sink interface {
	Deliver(ctx context.Context, d Download) error
	Close() error
}
