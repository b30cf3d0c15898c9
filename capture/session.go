package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hazyhaar/carousel/capture/internal/devtools"
	"github.com/hazyhaar/carousel/capture/internal/pagejs"
)

// State is where a session is in the pipeline.
type State string

const (
	StatePreparing State = "preparing"
	StateSelecting State = "selecting"
	StateCapturing State = "capturing"
	StatePackaging State = "packaging"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// Result is the terminal outcome of a successful session.
type Result struct {
	SessionID   string   `json:"session_id"`
	PageID      string   `json:"page_id"`
	PageURL     string   `json:"page_url"`
	Title       string   `json:"title"`
	StartOffset float64  `json:"start_offset"`
	Filename    string   `json:"filename"`
	URL         string   `json:"url"`
	Entries     []string `json:"entries"`
	Bytes       int      `json:"bytes"`
	Delivered   bool     `json:"delivered"`
}

// SessionView is a read-only snapshot of a session.
type SessionView struct {
	ID          string         `json:"id"`
	PageID      string         `json:"page_id"`
	State       State          `json:"state"`
	AspectRatio string         `json:"aspect_ratio"`
	Percentage  int            `json:"percentage"`
	Profile     *DeviceProfile `json:"profile,omitempty"`
	Selection   *pagejs.Rect   `json:"selection,omitempty"`
	Result      *Result        `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
}

// Session is one prepare-to-delivery run on a page. It replaces any
// process-wide capture state: the request lives here for its whole life.
type Session struct {
	ID          string
	PageID      string
	AspectRatio AspectRatio
	Percentage  int

	ctx     context.Context
	cancel  context.CancelCauseFunc
	ctrl    *devtools.Controller
	page    Page
	pageURL string
	started time.Time
	done    chan struct{}

	mu         sync.Mutex
	state      State
	profile    *DeviceProfile
	selection  *pagejs.Rect
	stopSelect func()
	result     *Result
	err        error
}

func newSession(parent context.Context, id string, page Page, ctrl *devtools.Controller, r AspectRatio, pct int, timeout time.Duration) *Session {
	ctx, cancel := context.WithCancelCause(parent)
	if timeout > 0 {
		// The timeout cancel is released with the cause cancel on finish.
		tctx, tcancel := context.WithTimeoutCause(ctx, timeout, context.DeadlineExceeded)
		ctx = tctx
		prev := cancel
		cancel = func(cause error) {
			prev(cause)
			tcancel()
		}
	}
	return &Session{
		ID:          id,
		PageID:      page.TargetID(),
		AspectRatio: r,
		Percentage:  pct,
		ctx:         ctx,
		cancel:      cancel,
		ctrl:        ctrl,
		page:        page,
		pageURL:     page.URL(),
		started:     time.Now(),
		done:        make(chan struct{}),
		state:       StatePreparing,
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session reached a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the failure cause of a failed session.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Result returns the outcome of a finished session.
func (s *Session) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// View snapshots the session.
func (s *Session) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := SessionView{
		ID:          s.ID,
		PageID:      s.PageID,
		State:       s.state,
		AspectRatio: s.AspectRatio.String(),
		Percentage:  s.Percentage,
		Profile:     s.profile,
		Selection:   s.selection,
		Result:      s.result,
		StartedAt:   s.started,
	}
	if s.err != nil {
		v.Error = s.err.Error()
	}
	return v
}

// transition moves from one state to another and reports whether the
// session was in from.
func (s *Session) transition(from, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

// request returns the ratio and percentage the session captures with.
func (s *Session) request() (AspectRatio, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.AspectRatio, s.Percentage
}

func (s *Session) setRatio(r AspectRatio) {
	s.mu.Lock()
	s.AspectRatio = r
	s.mu.Unlock()
}

func (s *Session) setProfile(p DeviceProfile) {
	s.mu.Lock()
	s.profile = &p
	s.mu.Unlock()
}

func (s *Session) getProfile() (DeviceProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return DeviceProfile{}, false
	}
	return *s.profile, true
}

func (s *Session) setSelection(r *pagejs.Rect) {
	s.mu.Lock()
	s.selection = r
	s.mu.Unlock()
}

func (s *Session) setStopSelect(stop func()) {
	s.mu.Lock()
	s.stopSelect = stop
	s.mu.Unlock()
}

// releaseSelection removes the binding listener, if any.
func (s *Session) releaseSelection() {
	s.mu.Lock()
	stop := s.stopSelect
	s.stopSelect = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// finish records the terminal outcome once. It reports whether this call
// was the one that finished the session.
func (s *Session) finish(res *Result, err error) bool {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	if err != nil {
		s.state = StateFailed
		s.err = err
	} else {
		s.state = StateDone
		s.result = res
	}
	stop := s.stopSelect
	s.stopSelect = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	s.cancel(err)
	close(s.done)
	return true
}

// outcome labels a finished session for metrics.
func (s *Session) outcome() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state == StateDone:
		return "done"
	case errors.Is(s.err, ErrSuperseded), errors.Is(s.err, ErrStopped), errors.Is(s.err, context.Canceled):
		return "cancelled"
	}
	return "failed"
}

// wait blocks until the session finished or ctx is done.
func (s *Session) wait(ctx context.Context) (*Result, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}
