// Package presence tracks which live connections on this process belong to
// which user. Nothing here is persisted; a restart starts empty.
package presence

import (
	"errors"
	"sync"
)

// ErrConnClosed is returned by Conn.Send once the connection is gone.
// Callers doing best-effort fanout treat it as a normal outcome.
var ErrConnClosed = errors.New("connection closed")

// Conn is a live client connection as seen by the delivery path.
type Conn interface {
	// ID is unique across processes.
	ID() string
	// Send queues a named frame for the client without blocking.
	Send(event string, payload any) error
}

// Registry maps user handles to their live connections.
//
// A reverse index (connection -> users) lets Unregister remove a
// connection without scanning every user. All methods are safe for
// concurrent use and hold the lock only for the map operation itself.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]Conn                // every live connection
	byUser map[string]map[string]Conn     // user -> conn id -> conn
	byConn map[string]map[string]struct{} // conn id -> users
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]Conn),
		byUser: make(map[string]map[string]Conn),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Track records a connection that has not identified yet, so it still
// receives public broadcasts.
func (r *Registry) Track(conn Conn) {
	r.mu.Lock()
	r.conns[conn.ID()] = conn
	r.mu.Unlock()
}

// Register adds conn to user. Registering the same pair twice is a no-op.
func (r *Registry) Register(user string, conn Conn) {
	id := conn.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[id] = conn

	set, ok := r.byUser[user]
	if !ok {
		set = make(map[string]Conn)
		r.byUser[user] = set
	}
	set[id] = conn

	users, ok := r.byConn[id]
	if !ok {
		users = make(map[string]struct{})
		r.byConn[id] = users
	}
	users[user] = struct{}{}
}

// Unregister forgets conn everywhere and returns the users that no longer
// have any live connection on this process.
func (r *Registry) Unregister(conn Conn) (wentOffline []string) {
	id := conn.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.conns, id)
	for user := range r.byConn[id] {
		set := r.byUser[user]
		delete(set, id)
		if len(set) == 0 {
			delete(r.byUser, user)
			wentOffline = append(wentOffline, user)
		}
	}
	delete(r.byConn, id)
	return wentOffline
}

// Resolve returns the user's live connections; empty when offline.
func (r *Registry) Resolve(user string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return collect(r.byUser[user])
}

// ResolveMany resolves several users at once. Offline users are left out
// of the result.
func (r *Registry) ResolveMany(users []string) map[string][]Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]Conn, len(users))
	for _, u := range users {
		if set := r.byUser[u]; len(set) > 0 {
			out[u] = collect(set)
		}
	}
	return out
}

// All returns every live connection, identified or not.
func (r *Registry) All() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return collect(r.conns)
}

func (r *Registry) Online(user string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[user]) > 0
}

// Len is the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func collect(set map[string]Conn) []Conn {
	out := make([]Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}
