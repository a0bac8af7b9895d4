package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	// LAN tool: peers connect by IP, not via a browser origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler accepts WebSocket upgrades and runs one read loop per connection.
// Inbound frames and lifecycle events are forwarded through callbacks; the
// handler itself knows nothing about message semantics.
type Handler struct {
	registry     *Registry
	readTimeout  time.Duration
	pingInterval time.Duration

	// OnConnect runs after the connection is admitted, before the first read.
	OnConnect func(c *Connection)
	// OnMessage receives each inbound text frame in arrival order.
	OnMessage func(connID string, raw []byte)
	// OnDisconnect runs after the connection has been removed from the
	// registry. The connection is already closed; only its identity fields
	// are meaningful.
	OnDisconnect func(c *Connection)
}

func NewHandler(registry *Registry, readTimeout, pingInterval time.Duration) *Handler {
	return &Handler{
		registry:     registry,
		readTimeout:  readTimeout,
		pingInterval: pingInterval,
	}
}

// ServeHTTP upgrades the request and hands the connection to the read loop.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	c := h.registry.Admit(conn, r.RemoteAddr)

	if h.OnConnect != nil {
		h.OnConnect(c)
	}

	go h.readLoop(c)
}

// readLoop delivers inbound frames in FIFO order for this connection. Idle
// connections are reclaimed through the read deadline, refreshed on pong.
// A panic anywhere downstream is confined to this connection.
func (h *Handler) readLoop(c *Connection) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("conn_id", c.ID()).Interface("panic", rec).Msg("connection handler panicked")
		}
		h.registry.Remove(c.ID())
		_ = c.Close()
		if h.OnDisconnect != nil {
			h.OnDisconnect(c)
		}
	}()

	if err := c.conn.SetReadDeadline(time.Now().Add(h.readTimeout)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	go h.pingLoop(c)

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debug().Str("conn_id", c.ID()).Err(err).Msg("read loop ended")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if h.OnMessage != nil {
			h.OnMessage(c.ID(), data)
		}
	}
}

func (h *Handler) pingLoop(c *Connection) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.pingInterval / 2)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-c.Done():
			return
		}
	}
}
