package capture

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/carousel/capture/internal/sink"
)

// Sink is the output interface for finished archives.
type Sink = sink.Sink

// Download is one archive handed to sinks.
type Download = sink.Download

// NewDirSink writes archives into a download directory.
func NewDirSink(path string) (Sink, error) {
	return sink.NewDir(path)
}

// NewStdoutSink prints one JSON summary line per archive.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink POSTs archives with retry.
func NewWebhookSink(url string, retries int, logger *slog.Logger) Sink {
	opts := []sink.WebhookOption{sink.WithWebhookLogger(logger)}
	if retries > 0 {
		opts = append(opts, sink.WithWebhookRetries(retries))
	}
	return sink.NewWebhook(url, opts...)
}

// NewCallbackSink delivers archives to fn in-process.
func NewCallbackSink(fn func(ctx context.Context, d Download) error) Sink {
	return sink.NewCallback(fn)
}

// SinksFromConfig builds the sinks a configuration lists.
func SinksFromConfig(cfgs []SinkConfig, logger *slog.Logger) ([]Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var out []Sink
	for i, sc := range cfgs {
		switch sc.Type {
		case "dir":
			s, err := NewDirSink(sc.Path)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		case "webhook":
			out = append(out, NewWebhookSink(sc.URL, sc.Retries, logger))
		case "stdout":
			out = append(out, NewStdoutSink(nil))
		default:
			return nil, fmt.Errorf("capture: sinks[%d]: unknown type %q", i, sc.Type)
		}
	}
	return out, nil
}
