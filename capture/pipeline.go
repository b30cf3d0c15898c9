package capture

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hazyhaar/carousel/capture/internal/archive"
	"github.com/hazyhaar/carousel/capture/internal/config"
	"github.com/hazyhaar/carousel/capture/internal/devtools"
	"github.com/hazyhaar/carousel/capture/internal/pagejs"
	"github.com/hazyhaar/carousel/capture/internal/sink"
	"github.com/hazyhaar/carousel/capture/internal/slicer"
)

// cleanupTimeout bounds page cleanup after a session ended.
const cleanupTimeout = 5 * time.Second

// ErrDelivery is returned when no sink accepted the archive.
var ErrDelivery = sink.ErrDelivery

// ErrSessionState is returned when a message arrives in the wrong state,
// e.g. a second offset for a session that is already capturing.
var ErrSessionState = errors.New("capture: session not in expected state")

// Prepare starts a new session on the page: neutralize lazy loading,
// attach, measure, apply the device profile, arm the region selector and
// detach. A previous session on the same page is aborted first.
func (c *Capturer) Prepare(ctx context.Context, m ResizeAndPrepare) error {
	start := time.Now()
	if err := validateRequest(m.AspectRatio, m.Percentage); err != nil {
		return err
	}
	page, err := c.page(m.PageID)
	if err != nil {
		return err
	}

	ctrl := c.newController(page)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	prev := c.sessions[page.TargetID()]
	s := newSession(c.baseCtx, c.newID(), page, ctrl, m.AspectRatio, m.Percentage, c.cfg.Capture.Timeout)
	c.sessions[s.PageID] = s
	c.mu.Unlock()

	if prev != nil {
		c.abort(prev, ErrSuperseded)
	}

	c.metrics.SessionStarted()
	context.AfterFunc(s.ctx, func() { c.abort(s, context.Cause(s.ctx)) })

	c.logger.Info("capture: preparing",
		"session", s.ID, "page", s.PageID, "aspect_ratio", s.AspectRatio.String(), "percentage", s.Percentage)

	if err := c.prepare(ctx, s); err != nil {
		c.complete(s, nil, err)
		return err
	}
	c.metrics.ObserveStage("prepare", start)
	c.logger.Info("capture: ready for selection", "session", s.ID, "page", s.PageID)
	return nil
}

func (c *Capturer) prepare(ctx context.Context, s *Session) error {
	ctx, cancel := joinCtx(ctx, s.ctx)
	defer cancel()

	lazy := pagejs.LazyLoadOptions{ScrollPause: c.cfg.Capture.ScrollPause, Settle: c.cfg.Capture.SettleDelay}
	rep, err := pagejs.Neutralize(ctx, s.page, lazy)
	if err != nil {
		return fmt.Errorf("capture: prepare: %w", err)
	}
	c.logger.Debug("capture: lazy loading neutralized",
		"session", s.ID, "images", rep.Images, "promoted", rep.Promoted, "steps", rep.Steps)

	if err := s.ctrl.Attach(ctx); err != nil {
		return fmt.Errorf("capture: prepare: %w", err)
	}
	m, err := s.ctrl.Measure(ctx)
	if err != nil {
		return fmt.Errorf("capture: prepare: %w", err)
	}

	profile := c.profileFor(m)
	scale := float64(profile.Width) / m.ViewportWidth
	c.logger.Info("capture: page measured",
		"session", s.ID,
		"natural_width", m.ViewportWidth,
		"natural_height", m.ViewportHeight,
		"scroll_height", m.ScrollHeight,
		"scale", scale,
		"estimated_height", math.Ceil(m.ScrollHeight/scale))

	if err := s.ctrl.ApplyProfile(ctx, profile); err != nil {
		return fmt.Errorf("capture: prepare: %w", err)
	}
	s.setProfile(profile)

	// The page's own session lays out like the capture while the user picks.
	if err := s.page.Emulate(ctx, profile); err != nil {
		return fmt.Errorf("capture: prepare: mirror profile: %w", err)
	}
	if config.Bool(c.cfg.Capture.NeutralizeAfterProfile) {
		if _, err := pagejs.Neutralize(ctx, s.page, lazy); err != nil {
			return fmt.Errorf("capture: prepare: %w", err)
		}
	}

	if err := s.ctrl.Detach(ctx); err != nil {
		c.logger.Warn("capture: detach after prepare", "session", s.ID, "error", err)
	}
	if !s.transition(StatePreparing, StateSelecting) {
		return fmt.Errorf("%w: %s is %s", ErrSessionState, s.ID, s.State())
	}
	return c.enableSelection(s)
}

// EnableSelection re-arms the region selector of a selecting session.
func (c *Capturer) EnableSelection(ctx context.Context, m EnableElementSelection) error {
	s, err := c.session(m.PageID)
	if err != nil {
		return err
	}
	if s.State() != StateSelecting {
		return fmt.Errorf("%w: %s is %s", ErrSessionState, s.ID, s.State())
	}
	if m.AspectRatio.Valid() {
		s.setRatio(m.AspectRatio)
	}
	s.releaseSelection()
	return c.enableSelection(s)
}

func (c *Capturer) enableSelection(s *Session) error {
	ratio, pct := s.request()
	opts := pagejs.SelectorOptions{
		AspectRatio:  ratio,
		Percentage:   pct,
		NoticeDelay:  c.cfg.Capture.NoticeDelay,
		RepaintDelay: c.cfg.Capture.RepaintDelay,
	}

	stop, err := pagejs.EnableSelection(s.ctx, s.page, opts, func(sel pagejs.Selection) {
		go c.onSelect(s, sel)
	})
	if err != nil {
		return fmt.Errorf("capture: enable selection: %w", err)
	}
	s.setStopSelect(stop)
	return nil
}

// SelectElement picks the section containing the first element matching
// selector, as a click would. The capture then runs in the background; use
// Wait for its result.
func (c *Capturer) SelectElement(ctx context.Context, pageID, selector string) error {
	s, err := c.session(pageID)
	if err != nil {
		return err
	}
	if s.State() != StateSelecting {
		return fmt.Errorf("%w: %s is %s", ErrSessionState, s.ID, s.State())
	}
	if err := pagejs.SelectElement(ctx, s.page, selector); err != nil {
		return fmt.Errorf("capture: select: %w", err)
	}
	return nil
}

func (c *Capturer) onSelect(s *Session, sel pagejs.Selection) {
	c.logger.Info("capture: region selected", "session", s.ID, "offset", sel.Offset, "rect", sel.Rect)
	m := StartCaptureFromOffset{PageID: s.PageID, Offset: sel.Offset, ClipRect: sel.Rect}
	if _, err := c.captureSession(s.ctx, s, m); err != nil {
		c.logger.Warn("capture: selection capture failed", "session", s.ID, "error", err)
	}
}

// CaptureFromOffset captures the page from offset (document pixels) and
// runs packaging and delivery. It is the direct form of a user click.
func (c *Capturer) CaptureFromOffset(ctx context.Context, m StartCaptureFromOffset) (*Result, error) {
	if m.Offset < 0 || math.IsNaN(m.Offset) || math.IsInf(m.Offset, 0) {
		return nil, fmt.Errorf("%w: offset %v", ErrInvalidRequest, m.Offset)
	}
	s, err := c.session(m.PageID)
	if err != nil {
		return nil, err
	}
	return c.captureSession(ctx, s, m)
}

func (c *Capturer) captureSession(ctx context.Context, s *Session, m StartCaptureFromOffset) (*Result, error) {
	if !s.transition(StateSelecting, StateCapturing) {
		return nil, fmt.Errorf("%w: %s is %s", ErrSessionState, s.ID, s.State())
	}
	s.releaseSelection()
	if m.ClipRect != nil {
		s.setSelection(m.ClipRect)
	}

	res, err := c.capture(ctx, s, m)
	c.complete(s, res, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Capturer) capture(ctx context.Context, s *Session, m StartCaptureFromOffset) (*Result, error) {
	ctx, cancel := joinCtx(ctx, s.ctx)
	defer cancel()
	start := time.Now()

	ratio, pct := s.request()
	if m.AspectRatio.Valid() {
		ratio = m.AspectRatio
	}
	profile, ok := s.getProfile()
	if !ok {
		return nil, fmt.Errorf("%w: %s has no device profile", ErrSessionState, s.ID)
	}

	if err := pagejs.DisableSelection(ctx, s.page); err != nil {
		c.logger.Debug("capture: disable selector", "session", s.ID, "error", err)
	}

	if err := s.ctrl.Attach(ctx); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	if err := s.ctrl.ApplyProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	pm, err := s.ctrl.Measure(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}

	total := pm.ScrollHeight
	offset := min(max(m.Offset, 0), total)
	clipHeight := math.Ceil((total - offset) * float64(pct) / 100)
	if clipHeight <= 0 {
		if err := s.ctrl.Detach(ctx); err != nil {
			c.logger.Debug("capture: detach", "session", s.ID, "error", err)
		}
		return nil, fmt.Errorf("capture: %w: offset %.0f of %.0f", ErrEmptySelection, offset, total)
	}
	clip := &devtools.Clip{X: 0, Y: offset, Width: float64(profile.Width), Height: clipHeight, Scale: 1}

	shot, err := s.ctrl.Capture(ctx, clip)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	c.metrics.ObserveStage("capture", start)
	c.logger.Info("capture: screenshot taken",
		"session", s.ID, "offset", offset, "clip_height", clipHeight, "bytes", len(shot.Data))

	title, err := s.page.Title(ctx)
	if err != nil {
		c.logger.Debug("capture: title", "session", s.ID, "error", err)
	}
	if err := s.page.ClearEmulation(ctx); err != nil {
		c.logger.Debug("capture: clear emulation", "session", s.ID, "error", err)
	}

	s.transition(StateCapturing, StatePackaging)
	dz, err := c.Process(ctx, ProcessImage{
		PageID:      s.PageID,
		Screenshot:  shot,
		AspectRatio: ratio,
		Title:       title,
		StartOffset: offset,
		Percentage:  pct,
	})
	if err != nil {
		return nil, err
	}

	res := &Result{
		SessionID:   s.ID,
		PageID:      s.PageID,
		PageURL:     s.page.URL(),
		Title:       title,
		StartOffset: offset,
		Filename:    dz.Filename,
		URL:         dz.URL,
		Entries:     dz.Entries,
	}
	if data, _, err := c.blobs.Resolve(dz.URL); err == nil {
		res.Bytes = len(data)
	}

	delivered, err := c.deliver(ctx, dz, sink.Download{
		SessionID: s.ID,
		PageID:    s.PageID,
		PageURL:   res.PageURL,
		Title:     title,
	})
	if err != nil {
		return nil, err
	}
	res.Delivered = delivered
	return res, nil
}

// Process slices a screenshot and packages the chunks. The archive is kept
// in the blob store under the returned DownloadZip.URL.
func (c *Capturer) Process(ctx context.Context, p ProcessImage) (DownloadZip, error) {
	start := time.Now()
	if p.Screenshot == nil || len(p.Screenshot.Data) == 0 {
		return DownloadZip{}, fmt.Errorf("capture: process: %w: no screenshot", ErrPackaging)
	}
	if !p.AspectRatio.Valid() {
		return DownloadZip{}, fmt.Errorf("capture: process: %w", ErrInvalidRatio)
	}

	img, _, err := slicer.Decode(p.Screenshot.Data)
	if err != nil {
		return DownloadZip{}, fmt.Errorf("capture: process: %w: %w", ErrPackaging, err)
	}

	offset, pct := cropWindow(p.Screenshot, p.StartOffset, p.Percentage)
	imgs, plan, err := slicer.Slice(img, offset, pct, p.AspectRatio)
	if err != nil {
		return DownloadZip{}, fmt.Errorf("capture: process: %w", err)
	}

	format := slicer.Format(c.cfg.Output.Format)
	chunks, err := slicer.EncodeAll(ctx, imgs, slicer.EncodeOptions{
		Format:  format,
		Quality: c.cfg.Output.Quality,
		Width:   c.cfg.Output.Width,
		Workers: c.cfg.Output.Workers,
	})
	if err != nil {
		return DownloadZip{}, fmt.Errorf("capture: process: %w: %w", ErrPackaging, err)
	}

	payloads := make([][]byte, len(chunks))
	for i, ch := range chunks {
		payloads[i] = ch.Data
	}
	arch, err := archive.Build(p.Title, format.Ext(), payloads)
	if err != nil {
		return DownloadZip{}, fmt.Errorf("capture: process: %w: %w", ErrPackaging, err)
	}

	ref := c.blobs.Put(arch.Data, arch.Filename)
	c.metrics.ArchiveBuilt(len(chunks), len(arch.Data))
	c.metrics.ObserveStage("package", start)
	c.logger.Info("capture: archive built",
		"page", p.PageID, "filename", arch.Filename, "chunks", plan.Count(),
		"chunk_height", plan.ChunkHeight, "bytes", len(arch.Data))

	return DownloadZip{PageID: p.PageID, URL: ref, Filename: arch.Filename, Entries: arch.Entries}, nil
}

// Download delivers an archive from the blob store to the sinks.
func (c *Capturer) Download(ctx context.Context, d DownloadZip) error {
	meta := sink.Download{PageID: d.PageID}
	if s, err := c.session(d.PageID); err == nil {
		meta.SessionID = s.ID
		meta.PageURL = s.page.URL()
	}
	_, err := c.deliver(ctx, d, meta)
	return err
}

// deliver resolves d.URL and hands the archive to every sink. Without
// sinks the archive stays in the blob store and delivered is false. A
// delivered archive is revoked.
func (c *Capturer) deliver(ctx context.Context, d DownloadZip, meta sink.Download) (delivered bool, err error) {
	data, name, err := c.blobs.Resolve(d.URL)
	if err != nil {
		return false, fmt.Errorf("capture: download: %w", err)
	}
	if c.sinks.Len() == 0 {
		return false, nil
	}

	start := time.Now()
	meta.Filename = d.Filename
	if meta.Filename == "" {
		meta.Filename = name
	}
	meta.Entries = d.Entries
	meta.Data = data

	err = c.sinks.Deliver(ctx, meta)
	c.metrics.Delivered(err)
	if err != nil {
		return false, fmt.Errorf("capture: download: %w", err)
	}
	c.blobs.Revoke(d.URL)
	c.metrics.ObserveStage("deliver", start)
	c.logger.Info("capture: archive delivered", "filename", meta.Filename, "session", meta.SessionID)
	return true, nil
}

// complete records the terminal outcome of s once and cleans the page up.
func (c *Capturer) complete(s *Session, res *Result, err error) {
	if !s.finish(res, err) {
		return
	}
	c.metrics.SessionFinished(s.outcome())
	c.record(s, res, err)
	if err != nil {
		c.logger.Warn("capture: session failed", "session", s.ID, "page", s.PageID, "error", err)
	} else {
		c.logger.Info("capture: session done", "session", s.ID, "page", s.PageID, "filename", res.Filename)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	if err := s.ctrl.Detach(ctx); err != nil {
		c.logger.Debug("capture: detach on finish", "session", s.ID, "error", err)
	}
	cancel()

	if err == nil {
		return
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		_ = pagejs.DisableSelection(ctx, s.page)
		_ = s.page.ClearEmulation(ctx)
	}
	// A navigating or lost page may not answer before the timeout.
	if errors.Is(err, ErrNavigated) || errors.Is(err, ErrSessionLost) {
		go cleanup()
		return
	}
	cleanup()
}

// abort ends s with cause unless it already finished.
func (c *Capturer) abort(s *Session, cause error) {
	if cause == nil {
		cause = context.Canceled
	}
	c.complete(s, nil, cause)
}

func (c *Capturer) newController(p Page) *devtools.Controller {
	c.mu.RLock()
	dbg := c.debugger
	c.mu.RUnlock()
	return devtools.NewController(devtools.Config{
		TargetID: p.TargetID(),
		Debugger: dbg,
		Registry: c.registry,
		Capture:  devtools.CaptureOptions{Format: c.cfg.Capture.Format, Quality: c.cfg.Capture.Quality},
		Logger:   c.logger,
	})
}

// profileFor builds the device profile for a measured page: configured
// width and scale, the page's natural viewport height.
func (c *Capturer) profileFor(m devtools.PageMetrics) DeviceProfile {
	return DeviceProfile{
		Width:       c.cfg.Device.Width,
		Height:      max(int(math.Round(m.ViewportHeight)), 1),
		ScaleFactor: c.cfg.Device.ScaleFactor,
		Mobile:      config.Bool(c.cfg.Device.Mobile),
	}
}

// cropWindow maps a document offset and percentage onto the raster. A
// clipped screenshot already starts at the offset and already holds only
// the requested percentage.
func cropWindow(shot *Screenshot, offset float64, pct int) (rasterOffset, percentage int) {
	scale := float64(shot.ScaleFactor)
	if scale <= 0 {
		scale = 1
	}
	if shot.Clip != nil {
		return max(int(math.Round((offset-shot.Clip.Y)*scale)), 0), 100
	}
	return max(int(math.Round(offset*scale)), 0), pct
}
