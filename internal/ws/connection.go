// Package ws wraps gorilla WebSocket connections with a single-writer queue
// and tracks them in a registry keyed by connection ID.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Role is the authorization state of a connection.
type Role int

const (
	RoleUnauthenticated Role = iota
	RoleStudent
	RoleTeacherSelf
)

func (r Role) String() string {
	switch r {
	case RoleStudent:
		return "student"
	case RoleTeacherSelf:
		return "teacher"
	default:
		return "unauthenticated"
	}
}

// Connection wraps a transport connection. All writes go through a single
// writer goroutine so concurrent senders never interleave frames. Identity
// fields are set in place when the connection is promoted after
// authentication.
type Connection struct {
	id          string
	remoteAddr  string
	connectedAt time.Time

	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu       sync.RWMutex
	role     Role
	identity string
}

func newConnection(id string, conn *websocket.Conn, remoteAddr string, writeBuffer int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           id,
		remoteAddr:   remoteAddr,
		connectedAt:  time.Now(),
		conn:         conn,
		writeCh:      make(chan []byte, writeBuffer),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
		role:         RoleUnauthenticated,
	}
	go c.writeLoop()
	return c
}

func (c *Connection) writeLoop() {
	// The writer exiting for any reason means the connection is unusable:
	// close it so queued and future Sends fail instead of piling into an
	// orphaned buffer.
	defer func() { _ = c.Close() }()
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Str("conn_id", c.id).Err(err).Msg("write failed, stopping writer")
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues a frame for the writer goroutine. It fails fast when the
// connection is closed or the queue stays full past the write timeout.
func (c *Connection) Send(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close tears down the transport and stops the writer. Safe to call from any
// goroutine any number of times.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// CloseAfterFlush closes the connection once queued frames have drained, or
// after the write timeout, whichever comes first. Used for rejection paths
// where the peer should still receive the final frame.
func (c *Connection) CloseAfterFlush() {
	go func() {
		deadline := time.Now().Add(c.writeTimeout)
		for len(c.writeCh) > 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		// Give the in-flight write a moment to reach the wire.
		time.Sleep(10 * time.Millisecond)
		_ = c.Close()
	}()
}

// Done is closed once the connection has been shut down.
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

func (c *Connection) ID() string             { return c.id }
func (c *Connection) RemoteAddr() string     { return c.remoteAddr }
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

func (c *Connection) Role() Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

func (c *Connection) Identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

func (c *Connection) setStudent(identity string) {
	c.mu.Lock()
	c.role = RoleStudent
	c.identity = identity
	c.mu.Unlock()
}
