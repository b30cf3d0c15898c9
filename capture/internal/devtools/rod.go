package devtools

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

// RodDebugger implements Debugger over a rod browser connection. It opens
// its own flattened sessions with Target.attachToTarget, independent of the
// sessions rod keeps for its *rod.Page handles.
type RodDebugger struct {
	browser *rod.Browser
}

// NewRodDebugger wraps a connected browser.
func NewRodDebugger(b *rod.Browser) *RodDebugger {
	return &RodDebugger{browser: b}
}

// client binds a context and a session ID so proto requests can be sent
// with their typed Call methods.
type client struct {
	browser   *rod.Browser
	ctx       context.Context
	sessionID proto.TargetSessionID
}

func (c client) Call(ctx context.Context, sessionID, method string, params interface{}) ([]byte, error) {
	return c.browser.Call(ctx, sessionID, method, params)
}

func (c client) GetSessionID() proto.TargetSessionID { return c.sessionID }

func (c client) GetContext() context.Context { return c.ctx }

func (d *RodDebugger) session(ctx context.Context, sessionID string) client {
	return client{browser: d.browser, ctx: ctx, sessionID: proto.TargetSessionID(sessionID)}
}

func (d *RodDebugger) Attach(ctx context.Context, targetID string) (string, error) {
	res, err := proto.TargetAttachToTarget{
		TargetID: proto.TargetTargetID(targetID),
		Flatten:  true,
	}.Call(d.session(ctx, ""))
	if err != nil {
		return "", err
	}

	// Page events drive navigation detection for this session.
	if err := (proto.PageEnable{}).Call(d.session(ctx, string(res.SessionID))); err != nil {
		_ = proto.TargetDetachFromTarget{SessionID: res.SessionID}.Call(d.session(ctx, ""))
		return "", fmt.Errorf("page enable: %w", err)
	}
	return string(res.SessionID), nil
}

func (d *RodDebugger) Detach(ctx context.Context, sessionID string) error {
	return proto.TargetDetachFromTarget{
		SessionID: proto.TargetSessionID(sessionID),
	}.Call(d.session(ctx, ""))
}

func (d *RodDebugger) Evaluate(ctx context.Context, sessionID, expression string) (gson.JSON, error) {
	res, err := proto.RuntimeEvaluate{
		Expression:    expression,
		ReturnByValue: true,
		AwaitPromise:  true,
	}.Call(d.session(ctx, sessionID))
	if err != nil {
		return gson.New(nil), err
	}
	if res.ExceptionDetails != nil {
		return gson.New(nil), fmt.Errorf("evaluate: %s", res.ExceptionDetails.Text)
	}
	if res.Result == nil {
		return gson.New(nil), fmt.Errorf("evaluate: no result")
	}
	return res.Result.Value, nil
}

func (d *RodDebugger) SetDeviceMetrics(ctx context.Context, sessionID string, p DeviceProfile) error {
	return proto.EmulationSetDeviceMetricsOverride{
		Width:             p.Width,
		Height:            p.Height,
		DeviceScaleFactor: float64(p.ScaleFactor),
		Mobile:            p.Mobile,
		ScreenWidth:       gson.Int(p.Width),
		ScreenHeight:      gson.Int(p.Height),
	}.Call(d.session(ctx, sessionID))
}

func (d *RodDebugger) CaptureScreenshot(ctx context.Context, sessionID string, clip *Clip, opts CaptureOptions) ([]byte, error) {
	opts.defaults()
	req := proto.PageCaptureScreenshot{
		Format:                proto.PageCaptureScreenshotFormat(opts.Format),
		CaptureBeyondViewport: true,
	}
	if opts.Format != "png" {
		req.Quality = gson.Int(opts.Quality)
	}
	if clip != nil {
		req.Clip = &proto.PageViewport{
			X:      clip.X,
			Y:      clip.Y,
			Width:  clip.Width,
			Height: clip.Height,
			Scale:  clip.Scale,
		}
	}

	res, err := req.Call(d.session(ctx, sessionID))
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// Events streams top-frame navigations and session detachments until ctx
// is done.
func (d *RodDebugger) Events(ctx context.Context) <-chan Event {
	out := make(chan Event, 16)
	src := d.browser.Context(ctx).Event()

	go func() {
		defer close(out)
		for msg := range src {
			var ev Event
			nav := proto.PageFrameNavigated{}
			det := proto.TargetDetachedFromTarget{}

			switch {
			case msg.Load(&nav):
				if nav.Frame == nil || nav.Frame.ParentID != "" {
					continue
				}
				ev = Event{Kind: EventNavigated, SessionID: string(msg.SessionID), URL: nav.Frame.URL}
			case msg.Load(&det):
				ev = Event{Kind: EventDetached, SessionID: string(det.SessionID), TargetID: string(det.TargetID)}
			default:
				continue
			}

			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
