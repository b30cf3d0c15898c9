package capture

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/hazyhaar/carousel/capture/internal/config"
)

func newTestHistory(t *testing.T) *History {
	t.Helper()
	db, err := config.OpenDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	h, err := OpenHistory(context.Background(), db, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHistory_RecordsSessions(t *testing.T) {
	ctx := context.Background()
	dbg := newFakeDebugger()
	h := newTestHistory(t)
	c := newTestCapturer(t, dbg, WithHistory(h))
	c.AddPage(&fakePage{id: "P1", title: "Docs"})

	if err := c.Prepare(ctx, ResizeAndPrepare{AspectRatio: square, Percentage: 100}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CaptureFromOffset(ctx, StartCaptureFromOffset{Offset: 600}); err != nil {
		t.Fatal(err)
	}

	if err := c.Prepare(ctx, ResizeAndPrepare{AspectRatio: AspectRatio{Width: 4, Height: 5}, Percentage: 50}); err != nil {
		t.Fatal(err)
	}
	dbg.mu.Lock()
	dbg.captureErr = errors.New("target crashed")
	dbg.mu.Unlock()
	if _, err := c.CaptureFromOffset(ctx, StartCaptureFromOffset{Offset: 0}); !errors.Is(err, ErrCapture) {
		t.Fatalf("got %v, want ErrCapture", err)
	}
	h.Flush()

	records, err := c.History(ctx, HistoryFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("records: got %d, want 2", len(records))
	}
	var done, failed *HistoryRecord
	for i := range records {
		switch records[i].Status {
		case "done":
			done = &records[i]
		case "failed":
			failed = &records[i]
		}
	}
	if done == nil || failed == nil {
		t.Fatalf("statuses: got %+v", records)
	}
	if done.Entries != 4 || done.StartOffset != 600 || done.Title != "Docs" || done.AspectRatio != "1:1" {
		t.Fatalf("done record: got %+v", done)
	}
	if done.PageURL != "https://example.com/P1" || done.Filename != "Docs_carousel_images.zip" {
		t.Fatalf("done record: got %+v", done)
	}
	if failed.AspectRatio != "4:5" || failed.Percentage != 50 || failed.Error == "" {
		t.Fatalf("failed record: got %+v", failed)
	}

	only, err := c.History(ctx, HistoryFilter{Status: "failed"})
	if err != nil || len(only) != 1 {
		t.Fatalf("filtered: got %d, %v", len(only), err)
	}
}

func TestHistory_Disabled(t *testing.T) {
	c := newTestCapturer(t, newFakeDebugger())
	if _, err := c.History(context.Background(), HistoryFilter{}); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("got %v, want ErrNoHistory", err)
	}
	srv := newTestServer(t, c)
	if code, _ := doJSON(t, "GET", srv.URL+"/api/captures", ""); code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", code)
	}
}

func TestHistory_HTTP(t *testing.T) {
	h := newTestHistory(t)
	c := newTestCapturer(t, newFakeDebugger(), WithHistory(h))
	c.AddPage(&fakePage{id: "P1"})
	srv := newTestServer(t, c)

	if code, body := doJSON(t, "POST", srv.URL+"/api/capture/prepare", `{"aspect_ratio":"1:1","percentage":10}`); code != http.StatusOK {
		t.Fatalf("prepare: got %d %v", code, body)
	}
	if code, body := doJSON(t, "POST", srv.URL+"/api/capture/offset", `{"offset":0}`); code != http.StatusOK {
		t.Fatalf("offset: got %d %v", code, body)
	}
	h.Flush()

	code, body := doJSON(t, "GET", srv.URL+"/api/captures?status=done&limit=5", "")
	if code != http.StatusOK {
		t.Fatalf("captures: got %d %v", code, body)
	}
	if captures, _ := body["captures"].([]any); len(captures) != 1 {
		t.Fatalf("captures: got %v", body["captures"])
	}

	for _, q := range []string{"?status=weird", "?limit=x", "?since=yesterday"} {
		if code, _ := doJSON(t, "GET", srv.URL+"/api/captures"+q, ""); code != http.StatusBadRequest {
			t.Fatalf("%s: got %d, want 400", q, code)
		}
	}
}

func TestHistory_MCP(t *testing.T) {
	h := newTestHistory(t)
	c := newTestCapturer(t, newFakeDebugger(), WithHistory(h))
	c.AddPage(&fakePage{id: "P1"})
	session := mcpSession(t, c)

	callTool(t, session, "carousel_prepare", map[string]any{"aspect_ratio": "1:1", "percentage": 10})
	callTool(t, session, "carousel_capture_offset", map[string]any{"offset": 0})
	h.Flush()

	text := callTool(t, session, "carousel_history", map[string]any{"status": "done"})
	if text == "" || text == `{"captures":[]}` {
		t.Fatalf("history: got %s", text)
	}
}

func TestOpenPage_RejectsUnsafeURLs(t *testing.T) {
	c := newTestCapturer(t, newFakeDebugger())
	srv := newTestServer(t, c)

	for _, u := range []string{"file:///etc/passwd", "http://127.0.0.1:8080/", "http://169.254.169.254/"} {
		if _, err := c.OpenPage(context.Background(), u); !errors.Is(err, ErrUnsafeURL) {
			t.Fatalf("OpenPage(%s): got %v, want ErrUnsafeURL", u, err)
		}
		code, _ := doJSON(t, "POST", srv.URL+"/api/pages", `{"url":"`+u+`"}`)
		if code != http.StatusBadRequest {
			t.Fatalf("POST /api/pages %s: got %d, want 400", u, code)
		}
	}
}
