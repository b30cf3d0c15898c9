package devtools

import "sync"

// Registry records which Controller owns the session on each target.
// One Registry is shared by all controllers of a browser.
type Registry struct {
	mu     sync.Mutex
	owners map[string]*Controller
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{owners: make(map[string]*Controller)}
}

func (r *Registry) acquire(targetID string, c *Controller) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.owners[targetID]; taken {
		return false
	}
	r.owners[targetID] = c
	return true
}

func (r *Registry) release(targetID string, c *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owners[targetID] == c {
		delete(r.owners, targetID)
	}
}

// IsAttached reports whether any controller holds a session on targetID.
func (r *Registry) IsAttached(targetID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.owners[targetID]
	return ok
}

// Len is the number of attached targets.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.owners)
}
