package capture

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ysmood/gson"

	"github.com/hazyhaar/carousel/capture/internal/archive"
	"github.com/hazyhaar/carousel/capture/internal/config"
	"github.com/hazyhaar/carousel/capture/internal/devtools"
	"github.com/hazyhaar/carousel/capture/internal/metrics"
	"github.com/hazyhaar/carousel/capture/internal/pagejs"
	"github.com/hazyhaar/carousel/idgen"
)

// fakeDebugger serves a generated PNG for every clip.
type fakeDebugger struct {
	mu         sync.Mutex
	metrics    map[string]any
	captureErr error
	detachErr  error
	attached   map[string]bool
	seq        int
	clips      []devtools.Clip
	events     chan devtools.Event
}

func newFakeDebugger() *fakeDebugger {
	return &fakeDebugger{
		metrics:  map[string]any{"width": 200, "height": 300, "scrollHeight": 1000},
		attached: make(map[string]bool),
		events:   make(chan devtools.Event, 4),
	}
}

func (f *fakeDebugger) Attach(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	sid := fmt.Sprintf("S%d", f.seq)
	f.attached[sid] = true
	return sid, nil
}

func (f *fakeDebugger) Detach(_ context.Context, sid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.attached, sid)
	return f.detachErr
}

func (f *fakeDebugger) Evaluate(context.Context, string, string) (gson.JSON, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return gson.New(f.metrics), nil
}

func (f *fakeDebugger) SetDeviceMetrics(context.Context, string, devtools.DeviceProfile) error {
	return nil
}

func (f *fakeDebugger) CaptureScreenshot(_ context.Context, _ string, clip *devtools.Clip, _ devtools.CaptureOptions) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	f.clips = append(f.clips, *clip)
	return testPNG(int(clip.Width), int(clip.Height)), nil
}

func (f *fakeDebugger) Events(context.Context) <-chan devtools.Event { return f.events }

func (f *fakeDebugger) open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attached)
}

func (f *fakeDebugger) lastSession() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fmt.Sprintf("S%d", f.seq)
}

// fakePage is a tab that answers the injected scripts.
type fakePage struct {
	id    string
	title string

	mu        sync.Mutex
	binding   func(string)
	selection string
	emulated  *DeviceProfile
	cleared   int
	evals     int
	scripts   []string
	args      [][]any
	reloads   int
	closed    bool
}

func (p *fakePage) Eval(_ context.Context, js string, args ...any) (gson.JSON, error) {
	p.mu.Lock()
	p.evals++
	p.scripts = append(p.scripts, js)
	p.args = append(p.args, args)
	fn, payload := p.binding, p.selection
	p.mu.Unlock()

	if strings.Contains(js, ".select(sel)") {
		if fn == nil {
			return gson.New("inactive"), nil
		}
		fn(payload)
		return gson.New("ok"), nil
	}
	return gson.New(map[string]any{"images": 3, "promoted": 1, "steps": 4}), nil
}

func (p *fakePage) Bind(_ context.Context, _ string, fn func(string)) (func(), error) {
	p.mu.Lock()
	p.binding = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.binding = nil
		p.mu.Unlock()
	}, nil
}

func (p *fakePage) TargetID() string                      { return p.id }
func (p *fakePage) URL() string                           { return "https://example.com/" + p.id }
func (p *fakePage) Title(context.Context) (string, error) { return p.title, nil }

func (p *fakePage) Emulate(_ context.Context, d DeviceProfile) error {
	p.mu.Lock()
	p.emulated = &d
	p.mu.Unlock()
	return nil
}

func (p *fakePage) ClearEmulation(context.Context) error {
	p.mu.Lock()
	p.emulated = nil
	p.cleared++
	p.mu.Unlock()
	return nil
}

func (p *fakePage) Reload(context.Context) error {
	p.mu.Lock()
	p.reloads++
	p.mu.Unlock()
	return nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// evaluated reports whether a script containing snippet ran with firstArg
// as its first argument.
func (p *fakePage) evaluated(snippet string, firstArg any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, js := range p.scripts {
		if strings.Contains(js, snippet) && len(p.args[i]) > 0 && p.args[i][0] == firstArg {
			return true
		}
	}
	return false
}

func (p *fakePage) isEmulated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.emulated != nil
}

func testPNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		c := color.RGBA{R: uint8(y), G: 80, B: 160, A: 255}
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

func testConfig() *Config {
	cfg := config.Default()
	cfg.Device.Width = 100
	cfg.Device.ScaleFactor = 1
	cfg.Capture.Format = "png"
	cfg.Output.Format = "png"
	cfg.Output.Width = 0
	return cfg
}

func newTestCapturer(t *testing.T, dbg devtools.Debugger, opts ...Option) *Capturer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithDebugger(dbg), WithMetrics(metrics.New())}, opts...)
	c := New(testConfig(), logger, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		c.Stop()
		cancel()
	})
	return c
}

// collector is a callback sink that keeps every download.
type collector struct {
	mu   sync.Mutex
	got  []Download
	fail error
}

func (k *collector) deliver(_ context.Context, d Download) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.fail != nil {
		return k.fail
	}
	k.got = append(k.got, d)
	return nil
}

func (k *collector) downloads() []Download {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]Download(nil), k.got...)
}

var square = AspectRatio{Width: 1, Height: 1}

func TestCapture_EndToEnd(t *testing.T) {
	ctx := context.Background()
	dbg := newFakeDebugger()
	var out collector
	c := newTestCapturer(t, dbg, WithSinks(NewCallbackSink(out.deliver)))
	page := &fakePage{id: "P1", title: "My Page!"}
	c.AddPage(page)

	if err := c.Prepare(ctx, ResizeAndPrepare{AspectRatio: square, Percentage: 100}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	v, err := c.Session("P1")
	if err != nil {
		t.Fatal(err)
	}
	if v.State != StateSelecting {
		t.Fatalf("state: got %s, want %s", v.State, StateSelecting)
	}
	if v.Profile == nil || v.Profile.Width != 100 || v.Profile.Height != 300 {
		t.Fatalf("profile: got %+v", v.Profile)
	}
	if dbg.open() != 0 {
		t.Fatal("controller should be detached while the user selects")
	}
	if !page.isEmulated() {
		t.Fatal("page should mirror the profile during selection")
	}

	res, err := c.CaptureFromOffset(ctx, StartCaptureFromOffset{PageID: "P1", Offset: 200})
	if err != nil {
		t.Fatalf("CaptureFromOffset: %v", err)
	}

	clip := dbg.clips[0]
	if clip.Y != 200 || clip.Height != 800 || clip.Width != 100 {
		t.Fatalf("clip: got %+v", clip)
	}
	if len(res.Entries) != 8 {
		t.Fatalf("entries: got %d, want 8", len(res.Entries))
	}
	if res.Entries[0] != "My_Page__carousel_1.png" || res.Filename != "My_Page__carousel_images.zip" {
		t.Fatalf("names: got %s %s", res.Entries[0], res.Filename)
	}
	if !res.Delivered {
		t.Fatal("result should be delivered")
	}
	if dbg.open() != 0 || page.isEmulated() {
		t.Fatal("session should be detached and emulation cleared")
	}

	downloads := out.downloads()
	if len(downloads) != 1 {
		t.Fatalf("downloads: got %d, want 1", len(downloads))
	}
	zr, err := zip.NewReader(bytes.NewReader(downloads[0].Data), int64(len(downloads[0].Data)))
	if err != nil {
		t.Fatal(err)
	}
	if len(zr.File) != 8 {
		t.Fatalf("zip entries: got %d, want 8", len(zr.File))
	}
	if c.Blobs().Len() != 0 {
		t.Fatal("delivered archive should be revoked")
	}

	v, _ = c.Session("P1")
	if v.State != StateDone || v.Result == nil {
		t.Fatalf("final state: got %s", v.State)
	}
}

func TestCapture_SelectElement(t *testing.T) {
	ctx := context.Background()
	c := newTestCapturer(t, newFakeDebugger())
	page := &fakePage{id: "P1", selection: `{"offset":500,"percentage":50,"rect":{"x":0,"y":500,"width":200,"height":80}}`}
	c.AddPage(page)

	if err := c.Prepare(ctx, ResizeAndPrepare{AspectRatio: square, Percentage: 50}); err != nil {
		t.Fatal(err)
	}
	if err := c.SelectElement(ctx, "", "#pricing"); err != nil {
		t.Fatalf("SelectElement: %v", err)
	}

	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	res, err := c.Wait(wctx, "P1")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	// (1000-500)*50% = 250 rows of a 100 wide raster.
	if len(res.Entries) != 3 {
		t.Fatalf("entries: got %d, want 3", len(res.Entries))
	}
	if res.Delivered {
		t.Fatal("no sinks: archive should stay in the blob store")
	}
	if _, _, err := c.Blobs().Resolve(res.URL); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if v, _ := c.Session("P1"); v.Selection == nil || v.Selection.Y != 500 {
		t.Fatalf("selection: got %+v", v.Selection)
	}
}

func TestCapture_CaptureFailure(t *testing.T) {
	ctx := context.Background()
	dbg := newFakeDebugger()
	var out collector
	c := newTestCapturer(t, dbg, WithSinks(NewCallbackSink(out.deliver)))
	page := &fakePage{id: "P1"}
	c.AddPage(page)

	if err := c.Prepare(ctx, ResizeAndPrepare{AspectRatio: square, Percentage: 100}); err != nil {
		t.Fatal(err)
	}
	dbg.mu.Lock()
	dbg.captureErr = errors.New("target crashed")
	dbg.mu.Unlock()

	_, err := c.CaptureFromOffset(ctx, StartCaptureFromOffset{Offset: 0})
	if !errors.Is(err, ErrCapture) {
		t.Fatalf("got %v, want ErrCapture", err)
	}
	if len(out.downloads()) != 0 || c.Blobs().Len() != 0 {
		t.Fatal("no archive should be built after a failed capture")
	}
	if dbg.open() != 0 {
		t.Fatal("session should be detached")
	}
	v, _ := c.Session("P1")
	if v.State != StateFailed || v.Error == "" {
		t.Fatalf("state: got %s %q", v.State, v.Error)
	}

	// A finished session accepts no further offsets.
	if _, err := c.CaptureFromOffset(ctx, StartCaptureFromOffset{Offset: 0}); !errors.Is(err, ErrSessionState) {
		t.Fatalf("second capture: got %v, want ErrSessionState", err)
	}
}

func TestCapture_DeliveryFailure(t *testing.T) {
	ctx := context.Background()
	out := collector{fail: errors.New("disk full")}
	c := newTestCapturer(t, newFakeDebugger(), WithSinks(NewCallbackSink(out.deliver)))
	c.AddPage(&fakePage{id: "P1"})

	if err := c.Prepare(ctx, ResizeAndPrepare{AspectRatio: square, Percentage: 100}); err != nil {
		t.Fatal(err)
	}
	_, err := c.CaptureFromOffset(ctx, StartCaptureFromOffset{Offset: 0})
	if err == nil {
		t.Fatal("want delivery error")
	}
	if c.Blobs().Len() != 1 {
		t.Fatal("undelivered archive should stay resolvable")
	}
}

func TestCapture_Superseded(t *testing.T) {
	ctx := context.Background()
	c := newTestCapturer(t, newFakeDebugger(), WithIDGenerator(idgen.Sequence("s")))
	c.AddPage(&fakePage{id: "P1"})

	if err := c.Prepare(ctx, ResizeAndPrepare{AspectRatio: square, Percentage: 100}); err != nil {
		t.Fatal(err)
	}
	first, _ := c.session("P1")
	if first.ID != "s1" {
		t.Fatalf("first id: got %q", first.ID)
	}

	if err := c.Prepare(ctx, ResizeAndPrepare{AspectRatio: AspectRatio{Width: 4, Height: 5}, Percentage: 80}); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(first.Err(), ErrSuperseded) {
		t.Fatalf("first session: got %v, want ErrSuperseded", first.Err())
	}
	v, _ := c.Session("P1")
	if v.ID != "s2" || v.State != StateSelecting || v.AspectRatio != "4:5" {
		t.Fatalf("second session: got %+v", v)
	}
}

func TestCapture_NavigationAborts(t *testing.T) {
	ctx := context.Background()
	dbg := newFakeDebugger()
	c := newTestCapturer(t, dbg)
	page := &fakePage{id: "P1"}
	c.AddPage(page)

	if err := c.Prepare(ctx, ResizeAndPrepare{AspectRatio: square, Percentage: 100}); err != nil {
		t.Fatal(err)
	}
	s, _ := c.session("P1")
	if err := s.ctrl.Attach(ctx); err != nil {
		t.Fatal(err)
	}

	c.handleEvent(devtools.Event{Kind: devtools.EventNavigated, SessionID: dbg.lastSession(), URL: "https://example.com/next"})

	if !errors.Is(s.Err(), ErrNavigated) {
		t.Fatalf("got %v, want ErrNavigated", s.Err())
	}
	if dbg.open() != 0 {
		t.Fatal("session should be detached")
	}
}

func TestCapture_ValidationErrors(t *testing.T) {
	ctx := context.Background()
	c := newTestCapturer(t, newFakeDebugger())
	c.AddPage(&fakePage{id: "P1"})

	tests := []struct {
		name string
		msg  ResizeAndPrepare
		want error
	}{
		{"zero ratio", ResizeAndPrepare{AspectRatio: AspectRatio{}, Percentage: 100}, ErrInvalidRatio},
		{"percentage", ResizeAndPrepare{AspectRatio: square, Percentage: 0}, ErrInvalidRequest},
		{"unknown page", ResizeAndPrepare{PageID: "nope", AspectRatio: square, Percentage: 100}, ErrPageNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Prepare(ctx, tt.msg); !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := c.CaptureFromOffset(ctx, StartCaptureFromOffset{Offset: -1}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("negative offset: got %v", err)
	}
	if _, err := c.CaptureFromOffset(ctx, StartCaptureFromOffset{Offset: 10}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("no session: got %v", err)
	}
}

func TestCapture_OffsetPastEnd(t *testing.T) {
	ctx := context.Background()
	c := newTestCapturer(t, newFakeDebugger())
	c.AddPage(&fakePage{id: "P1"})

	if err := c.Prepare(ctx, ResizeAndPrepare{AspectRatio: square, Percentage: 100}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CaptureFromOffset(ctx, StartCaptureFromOffset{Offset: 5000}); !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("got %v, want ErrEmptySelection", err)
	}
}

func TestPrepare_ReturnsPromptly(t *testing.T) {
	c := newTestCapturer(t, newFakeDebugger())
	c.AddPage(&fakePage{id: "P1"})

	done := make(chan error, 1)
	go func() {
		done <- c.Prepare(context.Background(), ResizeAndPrepare{AspectRatio: square, Percentage: 100})
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Prepare did not return")
	}
	if v, err := c.Session("P1"); err != nil || v.State != StateSelecting {
		t.Fatalf("session: got %+v %v", v, err)
	}
}

func TestCaptureFromOffset_RemovesNotice(t *testing.T) {
	ctx := context.Background()
	c := newTestCapturer(t, newFakeDebugger())
	page := &fakePage{id: "P1"}
	c.AddPage(page)

	if err := c.Prepare(ctx, ResizeAndPrepare{AspectRatio: square, Percentage: 100}); err != nil {
		t.Fatal(err)
	}
	if !page.evaluated("__carouselSelector", pagejs.BindingName) {
		t.Fatal("selector should be armed after prepare")
	}
	if _, err := c.CaptureFromOffset(ctx, StartCaptureFromOffset{PageID: "P1", Offset: 10}); err != nil {
		t.Fatal(err)
	}
	if !page.evaluated("getElementById(id)", pagejs.NoticeID) {
		t.Fatal("capture should remove the selector notice before the screenshot")
	}
}

// lockedBuffer collects log output written from several goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestCapture_EmptyClipLogsDetachFailure(t *testing.T) {
	ctx := context.Background()
	dbg := newFakeDebugger()
	dbg.detachErr = errors.New("target gone")
	var logs lockedBuffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := New(testConfig(), logger, WithDebugger(dbg), WithMetrics(metrics.New()))
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Stop)
	c.AddPage(&fakePage{id: "P1"})

	if err := c.Prepare(ctx, ResizeAndPrepare{AspectRatio: square, Percentage: 100}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CaptureFromOffset(ctx, StartCaptureFromOffset{Offset: 5000}); !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("got %v, want ErrEmptySelection", err)
	}
	if out := logs.String(); !strings.Contains(out, `msg="capture: detach"`) || !strings.Contains(out, "target gone") {
		t.Fatalf("detach failure not logged:\n%s", out)
	}
}

func TestProcess(t *testing.T) {
	c := newTestCapturer(t, newFakeDebugger())
	shot := &Screenshot{Data: testPNG(100, 1000), Format: "png", ScaleFactor: 2}

	dz, err := c.Process(context.Background(), ProcessImage{
		Screenshot:  shot,
		AspectRatio: square,
		StartOffset: 50,
		Percentage:  50,
	})
	if err != nil {
		t.Fatal(err)
	}
	// Raster offset 100, (1000-100)*50% = 450 rows.
	if len(dz.Entries) != 5 || dz.Filename != "page_carousel_images.zip" {
		t.Fatalf("got %d entries %s", len(dz.Entries), dz.Filename)
	}

	if _, err := c.Process(context.Background(), ProcessImage{Screenshot: &Screenshot{Data: []byte("nope")}, AspectRatio: square, Percentage: 100}); !errors.Is(err, ErrPackaging) {
		t.Fatalf("bad image: got %v, want ErrPackaging", err)
	}
}

func TestDownload(t *testing.T) {
	ctx := context.Background()
	var out collector
	c := newTestCapturer(t, newFakeDebugger(), WithSinks(NewCallbackSink(out.deliver)))

	ref := c.Blobs().Put([]byte("PK\x03\x04"), "a.zip")
	if err := c.Download(ctx, DownloadZip{URL: ref, Filename: "a.zip"}); err != nil {
		t.Fatal(err)
	}
	if got := out.downloads(); len(got) != 1 || got[0].Filename != "a.zip" {
		t.Fatalf("downloads: got %+v", got)
	}
	if err := c.Download(ctx, DownloadZip{URL: ref}); !errors.Is(err, archive.ErrBlobNotFound) {
		t.Fatalf("revoked: got %v, want ErrBlobNotFound", err)
	}
}

type bogusMessage struct{}

func (bogusMessage) isMessage() {}

func TestDispatch(t *testing.T) {
	ctx := context.Background()
	c := newTestCapturer(t, newFakeDebugger())
	c.AddPage(&fakePage{id: "P1"})

	reply, err := c.Dispatch(ctx, ResizeAndPrepare{AspectRatio: square, Percentage: 100})
	if err != nil {
		t.Fatal(err)
	}
	if st := reply.(Status); st.Status != "ready" {
		t.Fatalf("status: got %+v", st)
	}

	reply, err = c.Dispatch(ctx, ResizeAndPrepare{AspectRatio: AspectRatio{Width: -1, Height: 1}, Percentage: 100})
	if err == nil || reply.(Status).Status != "error" {
		t.Fatalf("invalid prepare: got %v %v", reply, err)
	}

	reply, err = c.Dispatch(ctx, StartCaptureFromOffset{PageID: "nope", Offset: 10})
	if !errors.Is(err, ErrNoSession) || reply != nil {
		t.Fatalf("failed capture: got %#v %v, want nil reply", reply, err)
	}
	reply, err = c.Dispatch(ctx, ProcessImage{})
	if err == nil || reply != nil {
		t.Fatalf("failed process: got %#v %v, want nil reply", reply, err)
	}

	if _, err := c.Dispatch(ctx, bogusMessage{}); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("got %v, want ErrUnknownMessage", err)
	}
}

func TestPreferences_InMemory(t *testing.T) {
	ctx := context.Background()
	c := newTestCapturer(t, newFakeDebugger())

	p, err := c.Preferences(ctx)
	if err != nil || p != config.DefaultPreferences() {
		t.Fatalf("defaults: got %+v %v", p, err)
	}
	if err := c.SetPreferences(ctx, Preferences{AspectRatio: "9:16", CapturePercentage: 70}); err != nil {
		t.Fatal(err)
	}
	if p, _ := c.Preferences(ctx); p.AspectRatio != "9:16" || p.CapturePercentage != 70 {
		t.Fatalf("got %+v", p)
	}
	if err := c.SetPreferences(ctx, Preferences{AspectRatio: "1:1", CapturePercentage: 0}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("got %v, want ErrInvalidRequest", err)
	}
}

func TestCropWindow(t *testing.T) {
	tests := []struct {
		name       string
		shot       *Screenshot
		offset     float64
		pct        int
		wantOffset int
		wantPct    int
	}{
		{"clipped", &Screenshot{Clip: &devtools.Clip{Y: 200}, ScaleFactor: 2}, 200, 60, 0, 100},
		{"clip above offset", &Screenshot{Clip: &devtools.Clip{Y: 100}, ScaleFactor: 2}, 150, 60, 100, 100},
		{"full page", &Screenshot{ScaleFactor: 2}, 150.4, 60, 301, 60},
		{"zero scale", &Screenshot{}, 10, 100, 10, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			off, pct := cropWindow(tt.shot, tt.offset, tt.pct)
			if off != tt.wantOffset || pct != tt.wantPct {
				t.Fatalf("got (%d, %d), want (%d, %d)", off, pct, tt.wantOffset, tt.wantPct)
			}
		})
	}
}
