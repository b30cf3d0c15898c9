package devtools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// measureExpr reads the page's natural dimensions.
const measureExpr = `({
	width: window.innerWidth,
	height: window.innerHeight,
	scrollHeight: document.body ? document.body.scrollHeight : document.documentElement.scrollHeight
})`

// detachTimeout bounds the best-effort detach issued on failure paths, which
// may run after the caller's context is gone.
const detachTimeout = 5 * time.Second

// Config configures a Controller.
type Config struct {
	TargetID string
	Debugger Debugger
	Registry *Registry
	Capture  CaptureOptions
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.Registry == nil {
		c.Registry = NewRegistry()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.Capture.defaults()
}

// Controller owns the debugging session of a single page. Calls are
// serialised; a Controller can be attached again after it detached.
type Controller struct {
	cfg Config

	mu        sync.Mutex
	state     State
	sessionID string
	profile   *DeviceProfile
}

// NewController creates a detached Controller for cfg.TargetID.
func NewController(cfg Config) *Controller {
	cfg.defaults()
	return &Controller{cfg: cfg}
}

// TargetID is the page this controller drives.
func (c *Controller) TargetID() string { return c.cfg.TargetID }

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attached reports whether this controller currently holds the session.
func (c *Controller) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != Detached && c.cfg.Registry.IsAttached(c.cfg.TargetID)
}

// Attach opens the exclusive session on the target.
func (c *Controller) Attach(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Detached {
		return fmt.Errorf("devtools: attach %s: %w", c.cfg.TargetID, ErrAlreadyAttached)
	}
	if !c.cfg.Registry.acquire(c.cfg.TargetID, c) {
		return fmt.Errorf("devtools: attach %s: %w", c.cfg.TargetID, ErrAlreadyAttached)
	}

	c.state = Attaching
	sid, err := c.cfg.Debugger.Attach(ctx, c.cfg.TargetID)
	if err != nil {
		c.cfg.Registry.release(c.cfg.TargetID, c)
		c.state = Detached
		return fmt.Errorf("devtools: attach %s: %w: %w", c.cfg.TargetID, ErrAttach, err)
	}

	c.sessionID = sid
	c.state = Idle
	c.cfg.Logger.Debug("devtools: attached", "target", c.cfg.TargetID, "session", sid)
	return nil
}

// Measure evaluates the page's viewport size and scroll height.
func (c *Controller) Measure(ctx context.Context) (PageMetrics, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Idle && c.state != ProfileApplied {
		return PageMetrics{}, fmt.Errorf("devtools: measure in state %s: %w", c.state, ErrNotAttached)
	}

	v, err := c.cfg.Debugger.Evaluate(ctx, c.sessionID, measureExpr)
	if err != nil {
		c.detachLocked(ctx)
		return PageMetrics{}, fmt.Errorf("devtools: measure: %w: %w", ErrMeasurement, err)
	}

	m := PageMetrics{
		ViewportWidth:  v.Get("width").Num(),
		ViewportHeight: v.Get("height").Num(),
		ScrollHeight:   v.Get("scrollHeight").Num(),
	}
	if m.ViewportWidth <= 0 || m.ViewportHeight <= 0 || m.ScrollHeight <= 0 {
		c.detachLocked(ctx)
		return PageMetrics{}, fmt.Errorf("devtools: measure: %w: got %+v", ErrMeasurement, m)
	}
	return m, nil
}

// ApplyProfile overrides the device metrics of the attached page.
func (c *Controller) ApplyProfile(ctx context.Context, p DeviceProfile) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Idle && c.state != ProfileApplied {
		return fmt.Errorf("devtools: apply profile in state %s: %w", c.state, ErrNotAttached)
	}
	if err := p.validate(); err != nil {
		c.detachLocked(ctx)
		return err
	}
	if err := c.cfg.Debugger.SetDeviceMetrics(ctx, c.sessionID, p); err != nil {
		c.detachLocked(ctx)
		return fmt.Errorf("devtools: apply profile: %w: %w", ErrProfile, err)
	}

	c.profile = &p
	c.state = ProfileApplied
	c.cfg.Logger.Debug("devtools: profile applied",
		"target", c.cfg.TargetID, "width", p.Width, "height", p.Height, "scale", p.ScaleFactor)
	return nil
}

// Capture takes a beyond-viewport screenshot of clip (nil = whole page).
// The session is detached afterwards whatever the outcome.
func (c *Controller) Capture(ctx context.Context, clip *Clip) (*Screenshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.detachLocked(ctx)

	if c.state != ProfileApplied {
		return nil, fmt.Errorf("devtools: capture in state %s: %w", c.state, ErrNotAttached)
	}

	c.state = Capturing
	scale := c.profile.ScaleFactor
	data, err := c.cfg.Debugger.CaptureScreenshot(ctx, c.sessionID, clip, c.cfg.Capture)
	if err != nil {
		return nil, fmt.Errorf("devtools: capture: %w: %w", ErrCapture, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("devtools: capture: %w: empty data", ErrCapture)
	}

	return &Screenshot{
		Data:        data,
		Format:      c.cfg.Capture.Format,
		Clip:        clip,
		ScaleFactor: scale,
	}, nil
}

// Detach closes the session. Detaching a detached controller is a no-op.
func (c *Controller) Detach(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detachLocked(ctx)
}

// HandleEvent tears the session down on a top-frame navigation or when the
// browser drops it. It reports whether this controller was affected.
func (c *Controller) HandleEvent(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Detached || ev.SessionID != c.sessionID {
		return false
	}

	c.cfg.Logger.Info("devtools: session interrupted",
		"target", c.cfg.TargetID, "event", ev.Kind, "url", ev.URL)

	switch ev.Kind {
	case EventNavigated:
		c.detachLocked(context.Background())
	case EventDetached:
		c.resetLocked()
	default:
		return false
	}
	return true
}

func (c *Controller) detachLocked(ctx context.Context) error {
	if c.state == Detached {
		return nil
	}
	sid := c.sessionID
	c.resetLocked()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachTimeout)
	defer cancel()
	if err := c.cfg.Debugger.Detach(ctx, sid); err != nil {
		c.cfg.Logger.Warn("devtools: detach failed", "target", c.cfg.TargetID, "error", err)
		return fmt.Errorf("devtools: detach: %w", err)
	}
	c.cfg.Logger.Debug("devtools: detached", "target", c.cfg.TargetID)
	return nil
}

func (c *Controller) resetLocked() {
	c.cfg.Registry.release(c.cfg.TargetID, c)
	c.state = Detached
	c.sessionID = ""
	c.profile = nil
}
