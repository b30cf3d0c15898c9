package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func testDownload() Download {
	return Download{
		SessionID: "sess_1",
		PageID:    "T1",
		PageURL:   "https://example.com/post",
		Title:     "My Page!",
		Filename:  "My_Page__carousel_images.zip",
		Entries:   []string{"My_Page__carousel_1.jpeg", "My_Page__carousel_2.jpeg"},
		Data:      []byte("PK\x03\x04zip"),
	}
}

func TestDir_UniqueNames(t *testing.T) {
	d, err := NewDir(filepath.Join(t.TempDir(), "downloads"))
	if err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if err := d.Deliver(context.Background(), testDownload()); err != nil {
			t.Fatal(err)
		}
	}

	for _, name := range []string{
		"My_Page__carousel_images.zip",
		"My_Page__carousel_images (1).zip",
		"My_Page__carousel_images (2).zip",
	} {
		data, err := os.ReadFile(filepath.Join(d.Path(), name))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !bytes.Equal(data, testDownload().Data) {
			t.Fatalf("%s: content mismatch", name)
		}
	}

	entries, _ := os.ReadDir(d.Path())
	if len(entries) != 3 {
		t.Fatalf("files: got %d, want 3 (no leftover temp files)", len(entries))
	}
}

func TestDir_StripsDirectories(t *testing.T) {
	root := t.TempDir()
	d, _ := NewDir(root)
	dl := testDownload()
	dl.Filename = "../../escape.zip"
	if err := d.Deliver(context.Background(), dl); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, "escape.zip")); err != nil {
		t.Fatalf("expected file inside download dir: %v", err)
	}
}

func TestWebhook_Delivers(t *testing.T) {
	var got []byte
	var hdr http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = io.ReadAll(r.Body)
		hdr = r.Header
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewWebhook(srv.URL).Deliver(context.Background(), testDownload()); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, testDownload().Data) {
		t.Fatalf("body: got %q", got)
	}
	if hdr.Get("Content-Type") != "application/zip" || hdr.Get("X-Carousel-Session") != "sess_1" {
		t.Fatalf("headers: got %v", hdr)
	}
	if cd := hdr.Get("Content-Disposition"); cd != `attachment; filename=My_Page__carousel_images.zip` {
		t.Fatalf("content-disposition: got %q", cd)
	}
}

func TestWebhook_Retries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	if err := wh.Deliver(context.Background(), testDownload()); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls: got %d, want 3", calls.Load())
	}
}

func TestWebhook_Exhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookRetries(2), WithWebhookBackoff(time.Millisecond))
	err := wh.Deliver(context.Background(), testDownload())
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("got %v, want ErrDelivery", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls: got %d, want 3", calls.Load())
	}
}

func TestStdout(t *testing.T) {
	var buf bytes.Buffer
	if err := NewStdout(&buf).Deliver(context.Background(), testDownload()); err != nil {
		t.Fatal(err)
	}
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatal(err)
	}
	if line["type"] != "download" || line["filename"] != "My_Page__carousel_images.zip" || line["bytes"] != float64(7) {
		t.Fatalf("line: got %v", line)
	}
	if _, ok := line["Data"]; ok {
		t.Fatal("archive bytes must not be printed")
	}
}

type failSink struct{ err error }

func (f failSink) Deliver(context.Context, Download) error { return f.err }
func (f failSink) Close() error                            { return nil }

func TestRouter_FanOut(t *testing.T) {
	var delivered []string
	cb := NewCallback(func(_ context.Context, d Download) error {
		delivered = append(delivered, d.Filename)
		return nil
	})
	first := errors.New("first")
	r := NewRouter(nil, failSink{first}, cb, failSink{errors.New("second")})

	err := r.Deliver(context.Background(), testDownload())
	if !errors.Is(err, first) {
		t.Fatalf("got %v, want first error", err)
	}
	if len(delivered) != 1 {
		t.Fatalf("callback: got %d deliveries, want 1", len(delivered))
	}
	if r.Len() != 3 {
		t.Fatalf("len: got %d", r.Len())
	}
}
