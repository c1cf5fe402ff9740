// Package alert evaluates threshold rules and suppresses repeats through a shared Registry.
package alert

import (
	"sort"
	"sync"

	"github.com/rewired-gh/greekwatch/internal/models"
)

// Registry records which conditions have fired. A fired condition stays suppressed until
// Reset or ResetAll is called; nothing in this package clears it on its own.
type Registry struct {
	mu    sync.Mutex
	fired map[models.Condition]struct{}
}

// NewRegistry returns an empty registry. Use one per monitoring session.
func NewRegistry() *Registry {
	return &Registry{fired: make(map[models.Condition]struct{})}
}

// HasFired reports whether c has fired.
func (r *Registry) HasFired(c models.Condition) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.fired[c]
	return ok
}

// MarkFired records c as fired. Marking an already fired condition is a no-op.
func (r *Registry) MarkFired(c models.Condition) {
	r.mu.Lock()
	r.fired[c] = struct{}{}
	r.mu.Unlock()
}

// TryFire marks c as fired and reports whether this call was the first to do so.
func (r *Registry) TryFire(c models.Condition) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fired[c]; ok {
		return false
	}
	r.fired[c] = struct{}{}
	return true
}

// Reset re-arms a single condition.
func (r *Registry) Reset(c models.Condition) {
	r.mu.Lock()
	delete(r.fired, c)
	r.mu.Unlock()
}

// ResetAll re-arms every condition and returns how many were cleared.
func (r *Registry) ResetAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.fired)
	r.fired = make(map[models.Condition]struct{})
	return n
}

// Len returns the number of fired conditions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fired)
}

// Fired lists fired conditions in a stable order.
func (r *Registry) Fired() []models.Condition {
	r.mu.Lock()
	out := make([]models.Condition, 0, len(r.fired))
	for c := range r.fired {
		out = append(out, c)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}
