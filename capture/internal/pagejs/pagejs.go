// Package pagejs holds the scripts injected into captured pages and the Go
// side of their protocol. Scripts never share memory with Go: results come
// back from evaluation, selections come back through a runtime binding.
package pagejs

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ysmood/gson"
)

//go:embed lazyload.js
var lazyloadJS string

//go:embed selector.js
var selectorJS string

// BindingName is the runtime binding the selector reports through.
const BindingName = "__carousel_select"

// NoticeID is the element id of the selector's instruction toast.
const NoticeID = "carousel-capture-notice"

var (
	ErrSelectorNotFound = errors.New("pagejs: no element matches selector")
	ErrSelectorInactive = errors.New("pagejs: selection is not enabled")
	ErrInvalidSelection = errors.New("pagejs: invalid selection payload")
)

// Host is a page that can evaluate scripts and expose bindings.
type Host interface {
	// Eval runs a function expression with JSON-serialisable args and
	// awaits its result.
	Eval(ctx context.Context, js string, args ...any) (gson.JSON, error)
	// Bind installs a runtime binding and calls fn for every payload until
	// stop is called or ctx is done.
	Bind(ctx context.Context, name string, fn func(payload string)) (stop func(), err error)
}

// LazyLoadOptions tune the neutralizer's waits.
type LazyLoadOptions struct {
	ScrollPause time.Duration // per half-viewport step. Default: 150ms.
	Settle      time.Duration // after all images resolved. Default: 500ms.
}

func (o *LazyLoadOptions) defaults() {
	if o.ScrollPause <= 0 {
		o.ScrollPause = 150 * time.Millisecond
	}
	if o.Settle <= 0 {
		o.Settle = 500 * time.Millisecond
	}
}

// Report summarises one neutralizer run.
type Report struct {
	Images   int `json:"images"`
	Promoted int `json:"promoted"`
	Steps    int `json:"steps"`
}

// Neutralize strips lazy-loading hints, scrolls the whole page in
// half-viewport steps, returns to the top and waits for every image to
// resolve. Per-element failures are swallowed in the page; an error here
// means the evaluation itself failed.
func Neutralize(ctx context.Context, h Host, opts LazyLoadOptions) (Report, error) {
	opts.defaults()
	res, err := h.Eval(ctx, lazyloadJS, opts.ScrollPause.Milliseconds(), opts.Settle.Milliseconds())
	if err != nil {
		return Report{}, fmt.Errorf("pagejs: neutralize: %w", err)
	}
	return Report{
		Images:   res.Get("images").Int(),
		Promoted: res.Get("promoted").Int(),
		Steps:    res.Get("steps").Int(),
	}, nil
}

// SelectorOptions configure the region selector.
type SelectorOptions struct {
	AspectRatio  any    // echoed back in the selection payload
	Percentage   int    // echoed back in the selection payload
	Prompt       string // Default: "Click on the desired starting section."
	Capturing    string // Default: "Capturing screenshots, please don't navigate away!"
	NoticeDelay  time.Duration
	RepaintDelay time.Duration
	PromptTTL    time.Duration // Default: 2s
}

func (o *SelectorOptions) defaults() {
	if o.Prompt == "" {
		o.Prompt = "Click on the desired starting section."
	}
	if o.Capturing == "" {
		o.Capturing = "Capturing screenshots, please don't navigate away!"
	}
	if o.NoticeDelay <= 0 {
		o.NoticeDelay = 500 * time.Millisecond
	}
	if o.RepaintDelay <= 0 {
		o.RepaintDelay = 300 * time.Millisecond
	}
	if o.PromptTTL <= 0 {
		o.PromptTTL = 2 * time.Second
	}
}

// Rect is a document-relative rectangle in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Selection is what the page reports once a region is picked.
type Selection struct {
	Offset      float64         `json:"offset"`
	Rect        *Rect           `json:"rect,omitempty"`
	AspectRatio json.RawMessage `json:"aspectRatio,omitempty"`
	Percentage  int             `json:"percentage,omitempty"`
}

// ParseSelection decodes and validates a binding payload.
func ParseSelection(payload string) (Selection, error) {
	var s Selection
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return Selection{}, fmt.Errorf("%w: %v", ErrInvalidSelection, err)
	}
	if math.IsNaN(s.Offset) || math.IsInf(s.Offset, 0) || s.Offset < 0 {
		return Selection{}, fmt.Errorf("%w: offset %v", ErrInvalidSelection, s.Offset)
	}
	return s, nil
}

// EnableSelection installs the binding, injects the selector and arms it.
// onSelect runs at most once per call, after the capturing notice has been
// removed from the page. Invalid payloads are dropped. The returned stop
// removes the binding listener.
func EnableSelection(ctx context.Context, h Host, opts SelectorOptions, onSelect func(Selection)) (stop func(), err error) {
	opts.defaults()

	var once sync.Once
	stop, err = h.Bind(ctx, BindingName, func(payload string) {
		sel, err := ParseSelection(payload)
		if err != nil {
			return
		}
		once.Do(func() { onSelect(sel) })
	})
	if err != nil {
		return nil, fmt.Errorf("pagejs: bind: %w", err)
	}

	_, err = h.Eval(ctx, selectorJS, BindingName, map[string]any{
		"aspectRatio":   opts.AspectRatio,
		"percentage":    opts.Percentage,
		"prompt":        opts.Prompt,
		"capturing":     opts.Capturing,
		"noticeDelay":   opts.NoticeDelay.Milliseconds(),
		"repaintDelay":  opts.RepaintDelay.Milliseconds(),
		"noticeTimeout": opts.PromptTTL.Milliseconds(),
		"noticeID":      NoticeID,
	})
	if err != nil {
		stop()
		return nil, fmt.Errorf("pagejs: inject selector: %w", err)
	}
	return stop, nil
}

// SelectElement picks the region containing the first element matching a
// CSS selector, as if the user had clicked it. The selection still arrives
// through the binding installed by EnableSelection.
func SelectElement(ctx context.Context, h Host, selector string) error {
	res, err := h.Eval(ctx, `(sel) => window.__carouselSelector ? window.__carouselSelector.select(sel) : 'inactive'`, selector)
	if err != nil {
		return fmt.Errorf("pagejs: select: %w", err)
	}
	switch res.Str() {
	case "ok":
		return nil
	case "not_found", "invalid":
		return fmt.Errorf("%w: %q", ErrSelectorNotFound, selector)
	default:
		return ErrSelectorInactive
	}
}

const disableJS = `(id) => {
	if (window.__carouselSelector) window.__carouselSelector.disable();
	const el = document.getElementById(id);
	if (el) el.remove();
}`

// DisableSelection removes the selector overlay, listeners and notice if
// present, so none of them end up in a screenshot.
func DisableSelection(ctx context.Context, h Host) error {
	_, err := h.Eval(ctx, disableJS, NoticeID)
	return err
}
