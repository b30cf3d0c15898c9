package capture

import (
	"context"
	"fmt"
)

// PrepareRequest is the transport form of ResizeAndPrepare. Empty fields
// fall back to the stored preferences.
type PrepareRequest struct {
	PageID      string `json:"page_id,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Percentage  int    `json:"percentage,omitempty"`
}

// OffsetRequest is the transport form of StartCaptureFromOffset.
type OffsetRequest struct {
	PageID      string  `json:"page_id,omitempty"`
	Offset      float64 `json:"offset"`
	AspectRatio string  `json:"aspect_ratio,omitempty"`
}

// SelectRequest picks the starting section by CSS selector.
type SelectRequest struct {
	PageID   string `json:"page_id,omitempty"`
	Selector string `json:"selector"`
}

// OpenPageRequest opens a URL in a new tab.
type OpenPageRequest struct {
	URL string `json:"url"`
}

// PrepareMessage resolves r against the stored preferences.
func (c *Capturer) PrepareMessage(ctx context.Context, r PrepareRequest) (ResizeAndPrepare, error) {
	prefs, err := c.Preferences(ctx)
	if err != nil {
		c.logger.Warn("capture: load preferences", "error", err)
	}
	name := r.AspectRatio
	if name == "" {
		name = prefs.AspectRatio
	}
	ratio, err := ParseAspectRatio(name)
	if err != nil {
		return ResizeAndPrepare{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	pct := r.Percentage
	if pct == 0 {
		pct = prefs.CapturePercentage
	}
	return ResizeAndPrepare{PageID: r.PageID, AspectRatio: ratio, Percentage: pct}, nil
}

// OffsetMessage converts r, leaving the ratio unset when r has none.
func OffsetMessage(r OffsetRequest) (StartCaptureFromOffset, error) {
	m := StartCaptureFromOffset{PageID: r.PageID, Offset: r.Offset}
	if r.AspectRatio != "" {
		ratio, err := ParseAspectRatio(r.AspectRatio)
		if err != nil {
			return m, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		m.AspectRatio = ratio
	}
	return m, nil
}
