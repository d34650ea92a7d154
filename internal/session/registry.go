// internal/session/registry.go
package session

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stemplay/realtime/internal/protocol"
)

// Registry maps playerId -> the single live connection for that player.
// A second connection for the same player supersedes the first: the old one
// is removed from the registry and closed with the reserved superseded code.
type Registry struct {
	mu     sync.Mutex
	conns  map[uuid.UUID]*Conn
	logger *logrus.Logger
}

// NewRegistry returns an empty connection registry.
func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		conns:  make(map[uuid.UUID]*Conn),
		logger: logger,
	}
}

// Register installs conn as the live connection for its player. The registry
// slot swap happens under the lock, so two concurrent registers for the same
// player serialize and exactly one connection survives; the superseded
// socket's teardown completes after the lock is released.
func (r *Registry) Register(conn *Conn) {
	r.mu.Lock()
	prev := r.conns[conn.PlayerID]
	r.conns[conn.PlayerID] = conn
	r.mu.Unlock()

	if prev != nil && prev != conn {
		r.logger.Infof("player %s opened a newer connection, superseding the old one", conn.PlayerID)
		prev.Close(protocol.CloseSuperseded, "superseded by a newer connection")
	}
}

// Unregister removes conn if it is still the registered connection for its
// player. A stale unregister (the player already reconnected) is a no-op so
// an old session's cleanup cannot clobber the new session.
func (r *Registry) Unregister(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.conns[conn.PlayerID]; ok && current == conn {
		delete(r.conns, conn.PlayerID)
	}
}

// Lookup returns the live connection for a player, if any.
func (r *Registry) Lookup(playerID uuid.UUID) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[playerID]
	return c, ok
}

// Snapshot returns the current set of live connections. The heartbeat
// supervisor iterates this copy so pings never run under the registry lock.
func (r *Registry) Snapshot() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
