// Package capture turns a tall web page into a zip of equally shaped
// images for a carousel post. A Capturer drives Chrome through one
// exclusive DevTools session per page: it neutralizes lazy loading,
// emulates a mobile device, lets a user (or a CSS selector) pick the
// starting section, captures everything below it and slices the raster.
//
// Sessions are keyed by page. Each one walks
//
//	preparing -> selecting -> capturing -> packaging -> done | failed
//
// and ends with exactly one terminal result.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/carousel/capture/internal/archive"
	"github.com/hazyhaar/carousel/capture/internal/browser"
	"github.com/hazyhaar/carousel/capture/internal/config"
	"github.com/hazyhaar/carousel/capture/internal/devtools"
	"github.com/hazyhaar/carousel/capture/internal/history"
	"github.com/hazyhaar/carousel/capture/internal/metrics"
	"github.com/hazyhaar/carousel/capture/internal/pagejs"
	"github.com/hazyhaar/carousel/capture/internal/sink"
	"github.com/hazyhaar/carousel/idgen"
	"github.com/hazyhaar/carousel/kit"
	"github.com/hazyhaar/carousel/safeurl"
)

// blobTTL is how long an undelivered archive stays resolvable.
const blobTTL = time.Hour

// Page is a browser tab the capturer can drive. *browser.Tab implements it;
// tests use fakes.
type Page interface {
	pagejs.Host
	TargetID() string
	URL() string
	Title(ctx context.Context) (string, error)
	Emulate(ctx context.Context, p DeviceProfile) error
	ClearEmulation(ctx context.Context) error
	Reload(ctx context.Context) error
	Close() error
}

// Option configures a Capturer.
type Option func(*Capturer)

// WithDebugger drives pages through d instead of a launched Chrome. Start
// then skips the browser.
func WithDebugger(d devtools.Debugger) Option {
	return func(c *Capturer) { c.debugger = d }
}

// WithHistory records every finished session in h.
func WithHistory(h *History) Option {
	return func(c *Capturer) { c.history = h }
}

// WithIDGenerator sets how session IDs are minted. Default: idgen.Session.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(c *Capturer) { c.newID = gen }
}

// WithSinks adds download destinations.
func WithSinks(sinks ...Sink) Option {
	return func(c *Capturer) { c.sinkList = append(c.sinkList, sinks...) }
}

// WithPreferences persists preferences in store.
func WithPreferences(store *PrefStore) Option {
	return func(c *Capturer) { c.prefs = store }
}

// WithMetrics records pipeline metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Capturer) { c.metrics = m }
}

// WithToolMiddleware wraps every MCP tool endpoint, inside the call logger.
func WithToolMiddleware(mw ...kit.Middleware) Option {
	return func(c *Capturer) { c.toolMW = append(c.toolMW, mw...) }
}

// Capturer is the capture orchestrator. Create one per browser.
type Capturer struct {
	cfg      *config.Config
	logger   *slog.Logger
	mgr      *browser.Manager
	registry *devtools.Registry
	prefs    *config.PrefStore
	sinkList []Sink
	sinks    *sink.Router
	blobs    *archive.Store
	metrics  *metrics.Metrics
	history  *history.Log
	newID    idgen.Generator
	toolMW   []kit.Middleware

	mu         sync.RWMutex
	baseCtx    context.Context
	debugger   devtools.Debugger
	stopEvents context.CancelFunc
	pages      map[string]Page
	active     string
	sessions   map[string]*Session // keyed by page ID
	memPrefs   Preferences
	stopped    bool
}

// New creates a Capturer from configuration. cfg may be nil for defaults.
func New(cfg *Config, logger *slog.Logger, opts ...Option) *Capturer {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Capturer{
		cfg:      cfg,
		logger:   logger,
		registry: devtools.NewRegistry(),
		blobs:    archive.NewStore(nil),
		pages:    make(map[string]Page),
		sessions: make(map[string]*Session),
		memPrefs: config.DefaultPreferences(),
		baseCtx:  context.Background(),
		newID:    idgen.Session,
	}
	for _, o := range opts {
		o(c)
	}
	c.sinks = sink.NewRouter(logger, c.sinkList...)

	if c.debugger == nil {
		mode, err := browser.ParseMode(cfg.Browser.Mode)
		if err != nil {
			logger.Warn("capture: unknown browser mode, using headless", "mode", cfg.Browser.Mode)
		}
		c.mgr = browser.NewManager(browser.Config{
			RemoteURL:        cfg.Browser.Remote,
			Bin:              cfg.Browser.Bin,
			Mode:             mode,
			MemoryLimit:      cfg.Browser.MemoryLimit,
			RecycleInterval:  cfg.Browser.RecycleInterval,
			NavigateTimeout:  cfg.Browser.NavigateTimeout,
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			XvfbDisplay:      cfg.Browser.XvfbDisplay,
			Logger:           logger,
		})
	}
	return c
}

// Start launches the browser (unless a debugger was supplied), starts the
// event pump and the blob janitor. Sessions live under ctx.
func (c *Capturer) Start(ctx context.Context) error {
	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()

	if c.mgr != nil {
		b, err := c.mgr.Start(ctx)
		if err != nil {
			return fmt.Errorf("capture: start browser: %w", err)
		}
		c.mgr.SetRecycleCallback(&browser.RecycleCallback{
			Busy:          c.busy,
			BeforeRecycle: func() { c.dropPages(ErrSessionLost) },
			AfterRecycle:  func(b *rod.Browser) { c.bindDebugger(ctx, devtools.NewRodDebugger(b)) },
		})
		c.bindDebugger(ctx, devtools.NewRodDebugger(b))
	} else {
		c.bindDebugger(ctx, c.debugger)
	}

	go c.janitor(ctx)
	return nil
}

// Stop aborts every session, closes pages, sinks and the browser.
func (c *Capturer) Stop() {
	c.mu.Lock()
	c.stopped = true
	if c.stopEvents != nil {
		c.stopEvents()
	}
	c.mu.Unlock()

	c.dropPages(ErrStopped)
	c.sinks.Close()
	if c.mgr != nil {
		c.mgr.Close()
	}
}

// Blobs exposes the archive store so transports can serve undelivered
// archives.
func (c *Capturer) Blobs() *archive.Store { return c.blobs }

// bindDebugger swaps the CDP transport and restarts the event pump on it.
func (c *Capturer) bindDebugger(ctx context.Context, d devtools.Debugger) {
	ectx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.stopEvents != nil {
		c.stopEvents()
	}
	c.debugger = d
	c.stopEvents = cancel
	c.mu.Unlock()

	go c.pumpEvents(ectx, d)
}

func (c *Capturer) pumpEvents(ctx context.Context, d devtools.Debugger) {
	events := d.Events(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleEvent(ev)
		}
	}
}

// handleEvent aborts the session whose controller was torn down by a
// navigation or an unexpected detach.
func (c *Capturer) handleEvent(ev devtools.Event) {
	c.mu.RLock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.RUnlock()

	var hit *Session
	for _, s := range sessions {
		if s.ctrl.HandleEvent(ev) {
			hit = s
			break
		}
	}
	if hit == nil {
		return
	}

	cause := ErrSessionLost
	if ev.Kind == devtools.EventNavigated {
		cause = ErrNavigated
	}
	c.logger.Warn("capture: session interrupted", "session", hit.ID, "page", hit.PageID, "event", ev.Kind, "url", ev.URL)
	c.abort(hit, cause)

	if ev.Kind == devtools.EventDetached && config.Bool(c.cfg.Capture.ReloadOnDetach) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Browser.NavigateTimeout)
			defer cancel()
			if err := hit.page.Reload(ctx); err != nil {
				c.logger.Warn("capture: reload after detach", "page", hit.PageID, "error", err)
			}
		}()
	}
}

func (c *Capturer) janitor(ctx context.Context) {
	t := time.NewTicker(blobTTL / 4)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := c.blobs.RevokeOlderThan(blobTTL); n > 0 {
				c.logger.Debug("capture: revoked stale archives", "count", n)
			}
		}
	}
}

// busy reports whether a session is between prepare and its result.
func (c *Capturer) busy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.sessions {
		if !s.State().Terminal() {
			return true
		}
	}
	return false
}

// dropPages aborts every session with cause and closes every page.
func (c *Capturer) dropPages(cause error) {
	c.mu.Lock()
	sessions := c.sessions
	pages := c.pages
	c.sessions = make(map[string]*Session)
	c.pages = make(map[string]Page)
	c.active = ""
	c.mu.Unlock()

	for _, s := range sessions {
		c.abort(s, cause)
	}
	for id, p := range pages {
		if err := p.Close(); err != nil {
			c.logger.Debug("capture: close page", "page", id, "error", err)
		}
	}
}

// AddPage registers an already open page and makes it the active one.
func (c *Capturer) AddPage(p Page) string {
	id := p.TargetID()
	c.mu.Lock()
	c.pages[id] = p
	c.active = id
	c.mu.Unlock()
	return id
}

// OpenPage opens url in a new tab and makes it the active page.
func (c *Capturer) OpenPage(ctx context.Context, url string) (string, error) {
	if err := safeurl.Check(ctx, url, safeurl.Policy{AllowPrivate: c.cfg.Server.AllowPrivateURLs}); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnsafeURL, err)
	}
	if c.mgr == nil {
		return "", fmt.Errorf("capture: open page: %w: no browser", ErrPageNotFound)
	}
	tab, err := browser.OpenTab(ctx, c.mgr, url)
	if err != nil {
		return "", fmt.Errorf("capture: open page: %w", err)
	}
	return c.AddPage(tab), nil
}

// ClosePage aborts the page's session and closes it.
func (c *Capturer) ClosePage(pageID string) error {
	c.mu.Lock()
	p, ok := c.pages[pageID]
	s := c.sessions[pageID]
	delete(c.pages, pageID)
	delete(c.sessions, pageID)
	if c.active == pageID {
		c.active = ""
	}
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrPageNotFound, pageID)
	}
	if s != nil {
		c.abort(s, ErrStopped)
	}
	return p.Close()
}

// page resolves a page ID, empty meaning the active page.
func (c *Capturer) page(pageID string) (Page, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if pageID == "" {
		pageID = c.active
	}
	p, ok := c.pages[pageID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPageNotFound, pageID)
	}
	return p, nil
}

// session returns the current session of a page, empty meaning active.
func (c *Capturer) session(pageID string) (*Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if pageID == "" {
		pageID = c.active
	}
	s, ok := c.sessions[pageID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSession, pageID)
	}
	return s, nil
}

// Session reports the state of a page's current session.
func (c *Capturer) Session(pageID string) (SessionView, error) {
	s, err := c.session(pageID)
	if err != nil {
		return SessionView{}, err
	}
	return s.View(), nil
}

// Wait blocks until the page's current session finishes.
func (c *Capturer) Wait(ctx context.Context, pageID string) (*Result, error) {
	s, err := c.session(pageID)
	if err != nil {
		return nil, err
	}
	return s.wait(ctx)
}

// Preferences returns the stored preferences, or the in-memory ones when
// no store is configured.
func (c *Capturer) Preferences(ctx context.Context) (Preferences, error) {
	if c.prefs != nil {
		return c.prefs.Load(ctx)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.memPrefs, nil
}

// SetPreferences validates and stores p.
func (c *Capturer) SetPreferences(ctx context.Context, p Preferences) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if c.prefs != nil {
		return c.prefs.Save(ctx, p)
	}
	c.mu.Lock()
	c.memPrefs = p
	c.mu.Unlock()
	return nil
}

// Dispatch routes a pipeline message. Replies: Status for
// ResizeAndPrepare, EnableElementSelection and DownloadZip; *Result for
// StartCaptureFromOffset; DownloadZip for ProcessImage.
func (c *Capturer) Dispatch(ctx context.Context, msg Message) (any, error) {
	switch m := msg.(type) {
	case ResizeAndPrepare:
		err := c.Prepare(ctx, m)
		return StatusOf(err), err
	case EnableElementSelection:
		err := c.EnableSelection(ctx, m)
		return StatusOf(err), err
	case StartCaptureFromOffset:
		res, err := c.CaptureFromOffset(ctx, m)
		if err != nil {
			return nil, err
		}
		return res, nil
	case ProcessImage:
		dz, err := c.Process(ctx, m)
		if err != nil {
			return nil, err
		}
		return dz, nil
	case DownloadZip:
		err := c.Download(ctx, m)
		return StatusOf(err), err
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
}

// joinCtx returns a context cancelled when either a or b is done.
func joinCtx(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(a)
	stop := context.AfterFunc(b, func() { cancel(context.Cause(b)) })
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}
