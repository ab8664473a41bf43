// Package relay implements the server side of the chatrelay protocol:
// the connection registry, the message router with receipt generation,
// and the per-connection session loops.
//
// Example:
//
//	srv := relay.NewServer(relay.Options{})
//	if err := srv.Listen("127.0.0.1:5555"); err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Shutdown(context.Background())
package relay

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry maps identities to live sessions and assigns new identities.
// Identities are sequential, zero-padded tokens ("C001", "C002", ...)
// and are never reused for the life of the process. All operations are
// linearizable; no caller ever observes a partially registered session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
	lastID   uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Register assigns the next identity to the session and records it.
func (r *Registry) Register(s *Session) string {
	r.mu.Lock()
	r.lastID++
	id := fmt.Sprintf("C%03d", r.lastID)
	r.sessions[id] = s
	r.order = append(r.order, id)
	s.bind(id)
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"identity": id,
		"remote":   s.Addr(),
	}).Info("Session registered")

	return id
}

// Unregister removes the identity from the registry. Unregistering an
// unknown identity is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	_, known := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if known {
		logrus.WithField("identity", id).Info("Session unregistered")
	}
}

// Lookup returns the session registered under id.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns the connected identities in assignment order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for _, id := range r.order {
		if _, ok := r.sessions[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Sessions returns a snapshot of all registered sessions in assignment
// order. The snapshot is safe to iterate while sessions disconnect.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, id := range r.order {
		if s, ok := r.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
