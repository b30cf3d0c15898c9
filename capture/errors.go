package capture

import (
	"errors"

	"github.com/hazyhaar/carousel/capture/internal/devtools"
	"github.com/hazyhaar/carousel/capture/internal/pagejs"
	"github.com/hazyhaar/carousel/capture/internal/slicer"
)

// Errors from the remote page controller and the slicer, re-exported so
// callers can test them with errors.Is.
var (
	ErrAttach           = devtools.ErrAttach
	ErrAlreadyAttached  = devtools.ErrAlreadyAttached
	ErrMeasurement      = devtools.ErrMeasurement
	ErrCapture          = devtools.ErrCapture
	ErrInvalidRatio     = slicer.ErrInvalidRatio
	ErrEmptySelection   = slicer.ErrEmptySelection
	ErrSelectorNotFound = pagejs.ErrSelectorNotFound
	ErrSelectorInactive = pagejs.ErrSelectorInactive
)

var (
	ErrPackaging      = errors.New("capture: packaging failed")
	ErrInvalidRequest = errors.New("capture: invalid request")
	ErrNoSession      = errors.New("capture: no session for page")
	ErrPageNotFound   = errors.New("capture: page not found")
	ErrNavigated      = errors.New("capture: page navigated during capture")
	ErrSessionLost    = errors.New("capture: debugger session lost")
	ErrSuperseded     = errors.New("capture: superseded by a new prepare")
	ErrStopped        = errors.New("capture: capturer stopped")
	ErrUnknownMessage = errors.New("capture: unknown message")
	ErrNoHistory      = errors.New("capture: history is not enabled")
	ErrUnsafeURL      = errors.New("capture: URL not allowed")
)
