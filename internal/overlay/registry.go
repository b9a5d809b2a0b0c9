package overlay

import "sync"

// Registry caches which labelled surfaces exist. It is a cache only; the
// Host is consulted whenever the answer matters.
type Registry struct {
	mu   sync.Mutex
	open map[string]bool
}

func NewRegistry() *Registry { return &Registry{open: make(map[string]bool)} }

func (r *Registry) Set(label string, open bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if open {
		r.open[label] = true
	} else {
		delete(r.open, label)
	}
}

func (r *Registry) IsOpen(label string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open[label]
}
