package adapter

import (
	"sync"

	"github.com/webssh2/webssh2/internal/session"
)

// Registry tracks live adapters by session id. The idle sweeper uses it to
// tear an expired session down for real: closing the socket unwinds the
// SSH connection, transfers, and terminal, instead of just forgetting the
// session state.
type Registry struct {
	mu sync.Mutex
	m  map[session.ID]*Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{m: make(map[session.ID]*Adapter)}
}

func (r *Registry) add(a *Adapter) {
	r.mu.Lock()
	r.m[a.id] = a
	r.mu.Unlock()
}

func (r *Registry) remove(id session.ID) {
	r.mu.Lock()
	delete(r.m, id)
	r.mu.Unlock()
}

// CloseSession closes the socket of the adapter owning id, which runs its
// full cleanup. Reports whether a live adapter was found.
func (r *Registry) CloseSession(id session.ID) bool {
	r.mu.Lock()
	a := r.m[id]
	r.mu.Unlock()
	if a == nil {
		return false
	}
	a.closeSocket()
	return true
}

// Len reports the live adapter count.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}
