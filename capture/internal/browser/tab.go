package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/hazyhaar/carousel/capture/internal/devtools"
)

// Tab wraps a rod page opened for capture. It evaluates the in-page
// scripts, relays runtime bindings and mirrors the device profile so the
// page lays out like the captured raster while a region is picked.
type Tab struct {
	page    *rod.Page
	pageURL string
	manager *Manager
	unblock func() error
}

// OpenTab creates a stealth tab, applies resource blocking and navigates to
// pageURL. A slow load is logged, not fatal.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, ErrNoBrowser
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	t := &Tab{page: page, pageURL: pageURL, manager: mgr}

	if len(mgr.cfg.ResourceBlocking) > 0 {
		stop, err := applyResourceBlocking(page, mgr.cfg.ResourceBlocking)
		if err != nil {
			mgr.cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		} else {
			t.unblock = stop
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, mgr.cfg.NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	if mgr.cfg.Mode == ModeVisible {
		if _, err := page.Activate(); err != nil {
			mgr.cfg.Logger.Debug("browser: activate tab", "error", err)
		}
	}

	mgr.cfg.Logger.Info("browser: tab opened", "url", pageURL, "target", page.TargetID)
	return t, nil
}

// TargetID is the CDP target of the tab. It doubles as the page handle.
func (t *Tab) TargetID() string { return string(t.page.TargetID) }

// URL is the address the tab was opened on, or its current one when known.
func (t *Tab) URL() string {
	if info, err := t.page.Info(); err == nil && info.URL != "" {
		return info.URL
	}
	return t.pageURL
}

// Title returns the document title.
func (t *Tab) Title(ctx context.Context) (string, error) {
	res, err := t.page.Context(ctx).Eval(`() => document.title`)
	if err != nil {
		return "", fmt.Errorf("browser: title: %w", err)
	}
	return res.Value.Str(), nil
}

// Eval runs a function expression with args and awaits its value.
func (t *Tab) Eval(ctx context.Context, js string, args ...any) (gson.JSON, error) {
	res, err := t.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return gson.New(nil), err
	}
	return res.Value, nil
}

// Bind installs a runtime binding and calls fn with each payload until stop
// is called or ctx is done. fn runs on the event goroutine.
func (t *Tab) Bind(ctx context.Context, name string, fn func(payload string)) (func(), error) {
	page := t.page.Context(ctx)
	if err := (proto.RuntimeEnable{}).Call(page); err != nil {
		return nil, fmt.Errorf("browser: runtime enable: %w", err)
	}
	if err := (proto.RuntimeAddBinding{Name: name}).Call(page); err != nil {
		return nil, fmt.Errorf("browser: add binding %s: %w", name, err)
	}

	bctx, cancel := context.WithCancel(ctx)
	wait := t.page.Context(bctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name == name {
			fn(e.Payload)
		}
	})
	go wait()

	return func() {
		cancel()
		_ = proto.RuntimeRemoveBinding{Name: name}.Call(t.page)
	}, nil
}

// Emulate applies p to the tab's own session.
func (t *Tab) Emulate(ctx context.Context, p devtools.DeviceProfile) error {
	err := t.page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             p.Width,
		Height:            p.Height,
		DeviceScaleFactor: float64(p.ScaleFactor),
		Mobile:            p.Mobile,
	})
	if err != nil {
		return fmt.Errorf("browser: emulate: %w", err)
	}
	return nil
}

// ClearEmulation restores the tab's natural viewport.
func (t *Tab) ClearEmulation(ctx context.Context) error {
	if err := t.page.Context(ctx).SetViewport(nil); err != nil {
		return fmt.Errorf("browser: clear emulation: %w", err)
	}
	return nil
}

// Reload reloads the tab and waits for the load event.
func (t *Tab) Reload(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, t.manager.cfg.NavigateTimeout)
	defer cancel()

	page := t.page.Context(navCtx)
	if err := page.Reload(); err != nil {
		return fmt.Errorf("browser: reload: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		t.manager.cfg.Logger.Warn("browser: wait load after reload", "url", t.pageURL, "error", err)
	}
	return nil
}

// Close stops interception and closes the tab.
func (t *Tab) Close() error {
	if t.unblock != nil {
		_ = t.unblock()
		t.unblock = nil
	}
	if t.page != nil {
		return t.page.Close()
	}
	return nil
}
