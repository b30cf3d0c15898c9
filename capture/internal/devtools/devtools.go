// Package devtools drives one exclusive Chrome DevTools Protocol session per
// page: attach, measure, apply a virtual device profile, capture a
// beyond-viewport screenshot, detach.
//
// A Controller walks the state machine
//
//	Detached -> Attaching -> Idle -> ProfileApplied -> Capturing -> Detached
//
// and every failure path ends in Detached. The Registry guarantees that at
// most one Controller holds a session on a given target.
package devtools

import (
	"context"
	"errors"
	"fmt"

	"github.com/ysmood/gson"
)

var (
	ErrAttach          = errors.New("devtools: attach failed")
	ErrAlreadyAttached = errors.New("devtools: target already attached")
	ErrNotAttached     = errors.New("devtools: not attached")
	ErrMeasurement     = errors.New("devtools: measurement failed")
	ErrProfile         = errors.New("devtools: device profile failed")
	ErrCapture         = errors.New("devtools: capture failed")
)

// State of a Controller.
type State int

const (
	Detached State = iota
	Attaching
	Idle
	ProfileApplied
	Capturing
)

func (s State) String() string {
	switch s {
	case Detached:
		return "detached"
	case Attaching:
		return "attaching"
	case Idle:
		return "idle"
	case ProfileApplied:
		return "profile_applied"
	case Capturing:
		return "capturing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// DeviceProfile is the emulated viewport. Width and Height are CSS pixels.
type DeviceProfile struct {
	Width       int  `json:"width"`
	Height      int  `json:"height"`
	ScaleFactor int  `json:"scale_factor"`
	Mobile      bool `json:"mobile"`
}

func (p DeviceProfile) validate() error {
	if p.Width <= 0 || p.Height <= 0 || p.ScaleFactor <= 0 {
		return fmt.Errorf("%w: invalid profile %dx%d@%d", ErrProfile, p.Width, p.Height, p.ScaleFactor)
	}
	return nil
}

// PageMetrics are the page's natural dimensions in CSS pixels.
type PageMetrics struct {
	ViewportWidth  float64 `json:"viewport_width"`
	ViewportHeight float64 `json:"viewport_height"`
	ScrollHeight   float64 `json:"scroll_height"`
}

// Clip is a document-relative capture rectangle in CSS pixels.
type Clip struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Scale  float64 `json:"scale"`
}

// CaptureOptions select the screenshot encoding.
type CaptureOptions struct {
	Format  string // jpeg | png | webp. Default: jpeg.
	Quality int    // jpeg and webp only. Default: 100.
}

func (o *CaptureOptions) defaults() {
	if o.Format == "" {
		o.Format = "jpeg"
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = 100
	}
}

// Screenshot is a captured raster. Its pixels are device pixels: a clip of
// h CSS pixels yields roughly h*ScaleFactor rows.
type Screenshot struct {
	Data        []byte
	Format      string
	Clip        *Clip
	ScaleFactor int
}

// EventKind classifies browser events relevant to an attached session.
type EventKind int

const (
	// EventNavigated is a top-frame navigation.
	EventNavigated EventKind = iota + 1
	// EventDetached means the browser dropped the session.
	EventDetached
)

func (k EventKind) String() string {
	switch k {
	case EventNavigated:
		return "navigated"
	case EventDetached:
		return "detached"
	}
	return "unknown"
}

// Event is a browser event scoped to a debugging session.
type Event struct {
	Kind      EventKind
	SessionID string
	TargetID  string
	URL       string
}

// Debugger is the CDP transport a Controller drives. Session IDs are the
// ones returned by Attach.
type Debugger interface {
	Attach(ctx context.Context, targetID string) (sessionID string, err error)
	Detach(ctx context.Context, sessionID string) error
	Evaluate(ctx context.Context, sessionID, expression string) (gson.JSON, error)
	SetDeviceMetrics(ctx context.Context, sessionID string, p DeviceProfile) error
	CaptureScreenshot(ctx context.Context, sessionID string, clip *Clip, opts CaptureOptions) ([]byte, error)
	Events(ctx context.Context) <-chan Event
}
