package capture

import (
	"fmt"

	"github.com/hazyhaar/carousel/capture/internal/pagejs"
)

// Message is one of the pipeline messages exchanged between the page, the
// orchestrator and the download service. The set is closed.
type Message interface {
	isMessage()
}

// ResizeAndPrepare starts a session on a page.
type ResizeAndPrepare struct {
	PageID      string      `json:"page_id,omitempty"`
	AspectRatio AspectRatio `json:"aspect_ratio"`
	Percentage  int         `json:"percentage"`
}

// EnableElementSelection arms the region selector on the session's page.
type EnableElementSelection struct {
	PageID      string      `json:"page_id,omitempty"`
	AspectRatio AspectRatio `json:"aspect_ratio"`
	Percentage  int         `json:"percentage"`
}

// StartCaptureFromOffset is the picked starting point, in document pixels.
type StartCaptureFromOffset struct {
	PageID      string       `json:"page_id,omitempty"`
	Offset      float64      `json:"offset"`
	AspectRatio AspectRatio  `json:"aspect_ratio"`
	ClipRect    *pagejs.Rect `json:"clip_rect,omitempty"`
}

// ProcessImage hands a screenshot to the slicer and packager.
type ProcessImage struct {
	PageID      string      `json:"page_id,omitempty"`
	Screenshot  *Screenshot `json:"-"`
	AspectRatio AspectRatio `json:"aspect_ratio"`
	Title       string      `json:"title"`
	StartOffset float64     `json:"start_offset"`
	Percentage  int         `json:"percentage"`
}

// DownloadZip asks the download service to deliver an archive.
type DownloadZip struct {
	PageID   string   `json:"page_id,omitempty"`
	URL      string   `json:"url"`
	Filename string   `json:"filename"`
	Entries  []string `json:"entries,omitempty"`
}

func (ResizeAndPrepare) isMessage()       {}
func (EnableElementSelection) isMessage() {}
func (StartCaptureFromOffset) isMessage() {}
func (ProcessImage) isMessage()           {}
func (DownloadZip) isMessage()            {}

// Status is the reply to ResizeAndPrepare.
type Status struct {
	Status  string `json:"status"` // ready | error
	Message string `json:"message,omitempty"`
}

// StatusOf turns an error into a Status.
func StatusOf(err error) Status {
	if err == nil {
		return Status{Status: "ready"}
	}
	return Status{Status: "error", Message: err.Error()}
}

// validateRequest checks the ratio and the percentage of a request.
func validateRequest(r AspectRatio, pct int) error {
	if !r.Valid() {
		return fmt.Errorf("%w: %w %s", ErrInvalidRequest, ErrInvalidRatio, r)
	}
	if pct < 1 || pct > 100 {
		return fmt.Errorf("%w: percentage %d not in 1..100", ErrInvalidRequest, pct)
	}
	return nil
}
