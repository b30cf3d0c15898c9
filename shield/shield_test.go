package shield

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/carousel/kit"
)

func okHandler(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(DefaultHeaders())(http.HandlerFunc(okHandler))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	for k, want := range map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	} {
		if got := rec.Header().Get(k); got != want {
			t.Fatalf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestMaxJSONBody(t *testing.T) {
	var readErr error
	h := MaxJSONBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		for readErr == nil {
			_, readErr = r.Body.Read(buf)
		}
	}))

	req := httptest.NewRequest("POST", "/api/pages", strings.NewReader(`{"url":"https://example.com"}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if readErr == nil || !strings.Contains(readErr.Error(), "too large") {
		t.Fatalf("json body: got %v, want too large", readErr)
	}

	readErr = nil
	req = httptest.NewRequest("POST", "/mcp", strings.NewReader(strings.Repeat("x", 32)))
	req.Header.Set("Content-Type", "text/plain")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if readErr == nil || strings.Contains(readErr.Error(), "too large") {
		t.Fatalf("plain body: got %v, want EOF", readErr)
	}
}

func TestTraceID(t *testing.T) {
	var traceID, remote string
	h := TraceID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = kit.GetTraceID(r.Context())
		remote = kit.GetRemoteAddr(r.Context())
		if GetLogger(r.Context()) == nil {
			t.Fatal("no request logger")
		}
	}))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	h.ServeHTTP(rec, req)

	if len(traceID) != 8 || rec.Header().Get("X-Trace-ID") != traceID {
		t.Fatalf("trace id: got %q header %q", traceID, rec.Header().Get("X-Trace-ID"))
	}
	if remote != "192.0.2.7" {
		t.Fatalf("remote: got %q", remote)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, "/health")
	h := rl.Middleware(http.HandlerFunc(okHandler))

	do := func(path, ip string) int {
		req := httptest.NewRequest("POST", path, nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i, want := range []int{200, 200, 429} {
		if got := do("/api/capture/prepare", "198.51.100.1"); got != want {
			t.Fatalf("request %d: got %d, want %d", i, got, want)
		}
	}
	if got := do("/api/capture/prepare", "198.51.100.2"); got != 200 {
		t.Fatalf("other client: got %d, want 200", got)
	}
	if got := do("/health", "198.51.100.1"); got != 200 {
		t.Fatalf("excluded path: got %d, want 200", got)
	}
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		xff, remote, want string
	}{
		{"", "203.0.113.5:1234", "203.0.113.5"},
		{"198.51.100.9", "10.0.0.1:80", "198.51.100.9"},
		{" 198.51.100.9 , 10.0.0.2", "10.0.0.1:80", "198.51.100.9"},
		{"", "pipe", "pipe"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = tt.remote
		if tt.xff != "" {
			req.Header.Set("X-Forwarded-For", tt.xff)
		}
		if got := ExtractIP(req); got != tt.want {
			t.Fatalf("ExtractIP(%q, %q): got %q, want %q", tt.xff, tt.remote, got, tt.want)
		}
	}
}

func TestDefaultAPIStack(t *testing.T) {
	stack, stop := DefaultAPIStack(StackConfig{RatePerMinute: 30, Burst: 5})
	defer stop()
	if len(stack) != 4 {
		t.Fatalf("stack: got %d, want 4", len(stack))
	}
	stack, stop = DefaultAPIStack(StackConfig{})
	stop()
	if len(stack) != 3 {
		t.Fatalf("stack without limiter: got %d, want 3", len(stack))
	}
}
