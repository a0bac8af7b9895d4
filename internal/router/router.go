// Package router dispatches inbound envelopes to registered handlers and
// provides the unicast/broadcast send primitives.
package router

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"focusclass/internal/protocol"
	"focusclass/internal/ws"
)

// Handler processes the payload of one inbound message type. Handlers run on
// the connection's read goroutine and must not block on I/O.
type Handler func(connID string, data json.RawMessage)

// Authenticator receives every inbound authenticate message. The router
// intercepts that type before consulting the handler table; this ordering is
// what keeps credential checks out of user-registered handlers.
type Authenticator interface {
	HandleAuthenticate(connID string, claim protocol.AuthenticatePayload)
}

// Router owns the type -> handler table. Registration is last-wins: a second
// handler for the same type replaces the first. That is intentional override
// semantics, used by the session layer to swap control handlers.
type Router struct {
	registry *ws.Registry

	mu       sync.RWMutex
	handlers map[string]Handler
	auth     Authenticator
}

func New(registry *ws.Registry) *Router {
	return &Router{
		registry: registry,
		handlers: make(map[string]Handler),
	}
}

// SetAuthenticator installs the authenticate interceptor.
func (r *Router) SetAuthenticator(a Authenticator) {
	r.mu.Lock()
	r.auth = a
	r.mu.Unlock()
}

// RegisterHandler binds a handler to a message type, replacing any previous
// binding.
func (r *Router) RegisterHandler(msgType string, h Handler) {
	r.mu.Lock()
	r.handlers[msgType] = h
	r.mu.Unlock()
	log.Debug().Str("type", msgType).Msg("handler registered")
}

// DispatchInbound parses one raw frame and routes it. Malformed input and
// unhandled types are logged and dropped; neither ever tears down the
// connection loop.
func (r *Router) DispatchInbound(connID string, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		log.Warn().Str("conn_id", connID).Err(err).Msg("dropping malformed message")
		return
	}

	if env.Type == protocol.TypeAuthenticate {
		r.dispatchAuthenticate(connID, env.Data)
		return
	}

	r.mu.RLock()
	h, ok := r.handlers[env.Type]
	r.mu.RUnlock()

	if !ok {
		log.Debug().Str("conn_id", connID).Str("type", env.Type).Msg("unhandled message type")
		return
	}
	h(connID, env.Data)
}

func (r *Router) dispatchAuthenticate(connID string, data json.RawMessage) {
	r.mu.RLock()
	auth := r.auth
	r.mu.RUnlock()

	if auth == nil {
		log.Warn().Str("conn_id", connID).Msg("authenticate received with no authenticator installed")
		return
	}

	var claim protocol.AuthenticatePayload
	if err := json.Unmarshal(data, &claim); err != nil {
		log.Warn().Str("conn_id", connID).Err(err).Msg("dropping malformed authenticate payload")
		return
	}
	auth.HandleAuthenticate(connID, claim)
}

// SendTo serializes an envelope and writes it to one connection. A missing or
// dead connection lost a race with disconnection and is a logged no-op.
func (r *Router) SendTo(connID, msgType string, data any) {
	raw, err := protocol.Encode(msgType, data)
	if err != nil {
		log.Error().Str("type", msgType).Err(err).Msg("encode failed")
		return
	}

	c, ok := r.registry.Get(connID)
	if !ok {
		log.Debug().Str("conn_id", connID).Str("type", msgType).Msg("send skipped, connection gone")
		return
	}
	if err := c.Send(raw); err != nil {
		log.Debug().Str("conn_id", connID).Str("type", msgType).Err(err).Msg("send failed")
	}
}

// Broadcast sends an envelope to every authenticated student not in exclude.
// One dead socket never aborts delivery to the rest: failures are collected
// and the connections deregistered after the loop completes.
func (r *Router) Broadcast(msgType string, data any, exclude map[string]struct{}) {
	raw, err := protocol.Encode(msgType, data)
	if err != nil {
		log.Error().Str("type", msgType).Err(err).Msg("encode failed")
		return
	}

	var failed []*ws.Connection
	for _, c := range r.registry.Students() {
		if _, skip := exclude[c.ID()]; skip {
			continue
		}
		if err := c.Send(raw); err != nil {
			log.Warn().Str("conn_id", c.ID()).Str("type", msgType).Err(err).Msg("broadcast delivery failed")
			failed = append(failed, c)
		}
	}

	for _, c := range failed {
		r.registry.Remove(c.ID())
		_ = c.Close()
	}
}
