package capture

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/carousel/capture/internal/archive"
	"github.com/hazyhaar/carousel/capture/internal/history"
	"github.com/hazyhaar/carousel/kit"
)

// RegisterRoutes mounts the HTTP API on r. captureMW wraps the routes that
// drive the browser only, typically a rate limiter.
func (c *Capturer) RegisterRoutes(r chi.Router, captureMW ...func(http.Handler) http.Handler) {
	r.Get("/health", c.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/preferences", c.handleGetPreferences)
		r.Put("/preferences", c.handleSetPreferences)
		r.Get("/aspect-ratios", c.handleAspectRatios)
		r.Delete("/pages/{pageID}", c.handleClosePage)
		r.Get("/sessions/{pageID}", c.handleSession)
		r.Get("/sessions/{pageID}/archive", c.handleArchive)
		r.Get("/captures", c.handleHistory)
		r.Group(func(r chi.Router) {
			r.Use(captureMW...)
			r.Post("/pages", c.handleOpenPage)
			r.Post("/capture/prepare", c.handlePrepare)
			r.Post("/capture/select", c.handleSelect)
			r.Post("/capture/offset", c.handleOffset)
		})
	})
}

func (c *Capturer) handleHealth(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	pages := len(c.pages)
	c.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"pages":  pages,
		"blobs":  c.blobs.Len(),
	})
}

func (c *Capturer) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	p, err := c.Preferences(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (c *Capturer) handleSetPreferences(w http.ResponseWriter, r *http.Request) {
	var p Preferences
	if !decodeJSON(w, r, &p) {
		return
	}
	if err := c.SetPreferences(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (c *Capturer) handleAspectRatios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"presets": AspectPresets()})
}

func (c *Capturer) handleOpenPage(w http.ResponseWriter, r *http.Request) {
	var req OpenPageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url is required"})
		return
	}
	id, err := c.OpenPage(r.Context(), req.URL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"page_id": id})
}

func (c *Capturer) handleClosePage(w http.ResponseWriter, r *http.Request) {
	if err := c.ClosePage(chi.URLParam(r, "pageID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Capturer) handlePrepare(w http.ResponseWriter, r *http.Request) {
	var req PrepareRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := kit.WithTransport(r.Context(), "http")
	m, err := c.PrepareMessage(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := c.Prepare(ctx, m); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusOf(nil))
}

func (c *Capturer) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Selector == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "selector is required"})
		return
	}
	if err := c.SelectElement(r.Context(), req.PageID, req.Selector); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "capturing"})
}

func (c *Capturer) handleOffset(w http.ResponseWriter, r *http.Request) {
	var req OffsetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := OffsetMessage(req)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := c.CaptureFromOffset(kit.WithTransport(r.Context(), "http"), m)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (c *Capturer) handleSession(w http.ResponseWriter, r *http.Request) {
	v, err := c.Session(chi.URLParam(r, "pageID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleArchive serves an archive that no sink took.
func (c *Capturer) handleArchive(w http.ResponseWriter, r *http.Request) {
	v, err := c.Session(chi.URLParam(r, "pageID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if v.Result == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no archive for session " + v.ID})
		return
	}
	data, name, err := c.blobs.Resolve(v.Result.URL)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (c *Capturer) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := HistoryFilter{Status: q.Get("status")}
	var err error
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			writeError(w, fmt.Errorf("%w: limit: %w", ErrInvalidRequest, err))
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if f.Offset, err = strconv.Atoi(v); err != nil {
			writeError(w, fmt.Errorf("%w: offset: %w", ErrInvalidRequest, err))
			return
		}
	}
	if v := q.Get("since"); v != "" {
		if f.Since, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, fmt.Errorf("%w: since: %w", ErrInvalidRequest, err))
			return
		}
	}
	switch f.Status {
	case "", history.StatusDone, history.StatusFailed, history.StatusCancelled:
	default:
		writeError(w, fmt.Errorf("%w: status %q", ErrInvalidRequest, f.Status))
		return
	}

	records, err := c.History(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []HistoryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"captures": records})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// httpStatus maps pipeline errors to status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidRatio),
		errors.Is(err, ErrEmptySelection), errors.Is(err, ErrSelectorNotFound),
		errors.Is(err, ErrUnsafeURL):
		return http.StatusBadRequest
	case errors.Is(err, ErrPageNotFound), errors.Is(err, ErrNoSession), errors.Is(err, archive.ErrBlobNotFound),
		errors.Is(err, ErrNoHistory):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyAttached), errors.Is(err, ErrSessionState), errors.Is(err, ErrSelectorInactive):
		return http.StatusConflict
	case errors.Is(err, ErrStopped):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
