package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Registry is the single owner of live connections, indexed by connection ID.
// Entries are visible to lookups immediately on admit, before authentication,
// so the welcome handshake can reach the peer.
type Registry struct {
	writeBuffer  int
	writeTimeout time.Duration

	mu    sync.RWMutex
	conns map[string]*Connection
}

func NewRegistry(writeBuffer int, writeTimeout time.Duration) *Registry {
	return &Registry{
		writeBuffer:  writeBuffer,
		writeTimeout: writeTimeout,
		conns:        make(map[string]*Connection),
	}
}

// Admit wraps an accepted transport connection, assigns it an ID, and
// registers it in the Unauthenticated role.
func (r *Registry) Admit(conn *websocket.Conn, remoteAddr string) *Connection {
	c := newConnection(uuid.New().String(), conn, remoteAddr, r.writeBuffer, r.writeTimeout)

	r.mu.Lock()
	r.conns[c.id] = c
	r.mu.Unlock()

	log.Info().Str("conn_id", c.id).Str("remote", remoteAddr).Msg("connection admitted")
	return c
}

// Promote transitions a connection to the Student role with a display name.
// An unknown ID lost a race with disconnection; that is logged, not an error.
func (r *Registry) Promote(connID, identity string) {
	r.mu.RLock()
	c, ok := r.conns[connID]
	r.mu.RUnlock()

	if !ok {
		log.Debug().Str("conn_id", connID).Msg("promote skipped, connection gone")
		return
	}
	c.setStudent(identity)
	log.Info().Str("conn_id", connID).Str("student", identity).Msg("connection promoted")
}

// PromoteIfBelow promotes a connection to the Student role only while the
// authenticated-student count is below max. Count and promotion happen under
// one lock acquisition so two authentications racing on the last slot cannot
// both be admitted. Returns whether the promotion happened.
func (r *Registry) PromoteIfBelow(connID, identity string, max int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		log.Debug().Str("conn_id", connID).Msg("promote skipped, connection gone")
		return false
	}

	n := 0
	for _, cc := range r.conns {
		if cc.Role() == RoleStudent {
			n++
		}
	}
	if n >= max {
		return false
	}

	c.setStudent(identity)
	log.Info().Str("conn_id", connID).Str("student", identity).Msg("connection promoted")
	return true
}

// Remove deregisters a connection. Removing an absent ID is a no-op.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	delete(r.conns, connID)
	r.mu.Unlock()
}

// Get looks up a connection. Absence is a normal outcome representing a race
// with disconnection.
func (r *Registry) Get(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	return c, ok
}

// All returns a stable snapshot of every connection; iteration is unaffected
// by concurrent admits or removals.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Students returns a snapshot of connections in the Student role.
func (r *Registry) Students() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		if c.Role() == RoleStudent {
			out = append(out, c)
		}
	}
	return out
}

// StudentCount reports the number of authenticated students.
func (r *Registry) StudentCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.conns {
		if c.Role() == RoleStudent {
			n++
		}
	}
	return n
}

// Len reports the total number of tracked connections, any role.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
