package server

import (
	"sync"

	"github.com/Tyrowin/chatrelay/internal/models"
)

// Registry maps an authenticated identity to its live connection on this
// instance. At most one connection is held per identity; a later Register
// replaces the earlier one without notifying it.
type Registry struct {
	mu    sync.RWMutex
	conns map[models.Identity]*Client
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[models.Identity]*Client)}
}

// Register maps id to c and returns the connection it displaced, if any.
func (r *Registry) Register(id models.Identity, c *Client) *Client {
	r.mu.Lock()
	prev := r.conns[id]
	r.conns[id] = c
	n := len(r.conns)
	r.mu.Unlock()

	authenticatedConnections.Set(float64(n))
	if prev == c {
		return nil
	}
	return prev
}

// Unregister removes the entry for id only if it still points at c, so a
// superseded connection closing late cannot evict its replacement.
func (r *Registry) Unregister(id models.Identity, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.conns[id]; !ok || cur != c {
		return false
	}
	delete(r.conns, id)
	authenticatedConnections.Set(float64(len(r.conns)))
	return true
}

// Lookup returns the live connection for id.
func (r *Registry) Lookup(id models.Identity) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Len returns the number of registered identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
