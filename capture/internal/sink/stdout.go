package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
)

// Stdout writes one JSON line per download to an io.Writer (default
// os.Stdout). Archive bytes are not written, only their summary.
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdout creates a Stdout sink. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w)}
}

type summary struct {
	Type string `json:"type"`
	Download
	Bytes int `json:"bytes"`
}

func (s *Stdout) Deliver(_ context.Context, d Download) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(summary{Type: "download", Download: d, Bytes: len(d.Data)})
}

func (s *Stdout) Close() error { return nil }
