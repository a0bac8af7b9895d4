// Package client implements the student side of the protocol: the join
// pre-check, the persistent stream, authentication, and violation reporting.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"focusclass/internal/protocol"
)

var (
	ErrAuthFailed = errors.New("authentication rejected")
	ErrClosed     = errors.New("client closed")
)

// Handler processes the payload of one inbound message type on the client.
type Handler func(data json.RawMessage)

// Client is one student's connection to a teacher session.
type Client struct {
	conn        *websocket.Conn
	studentName string

	writeMu sync.Mutex

	handlerMu sync.RWMutex
	handlers  map[string]Handler

	done      chan struct{}
	closeOnce sync.Once
}

// Options configures a connection attempt.
type Options struct {
	TeacherAddr string
	WSPort      int
	// HTTPPort enables the join pre-check when non-zero. The pre-check is a
	// convenience short-circuit; the stream authenticate is authoritative.
	HTTPPort    int
	SessionCode string
	Password    string
	StudentName string
}

// Dial joins a session: optional HTTP pre-check, WebSocket connect,
// authenticate, then wait for the server's verdict. The returned client is
// authenticated and its read loop is running.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.HTTPPort > 0 {
		if err := preCheck(ctx, opts); err != nil {
			return nil, err
		}
	}

	url := fmt.Sprintf("ws://%s/", net.JoinHostPort(opts.TeacherAddr, fmt.Sprintf("%d", opts.WSPort)))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial teacher: %w", err)
	}

	c := &Client{
		conn:        conn,
		studentName: opts.StudentName,
		handlers:    make(map[string]Handler),
		done:        make(chan struct{}),
	}

	if err := c.send(protocol.TypeAuthenticate, protocol.AuthenticatePayload{
		StudentName: opts.StudentName,
		Password:    opts.Password,
		SessionCode: opts.SessionCode,
	}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send authenticate: %w", err)
	}

	verdict := make(chan error, 1)
	c.On(protocol.TypeAuthSuccess, func(json.RawMessage) {
		select {
		case verdict <- nil:
		default:
		}
	})
	c.On(protocol.TypeAuthFailed, func(data json.RawMessage) {
		var p protocol.AuthFailedPayload
		_ = json.Unmarshal(data, &p)
		select {
		case verdict <- fmt.Errorf("%w: %s", ErrAuthFailed, p.Reason):
		default:
		}
	})

	go c.readLoop()

	select {
	case err := <-verdict:
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		return c, nil
	case <-c.done:
		return nil, fmt.Errorf("%w: connection closed before verdict", ErrAuthFailed)
	case <-ctx.Done():
		_ = c.Close()
		return nil, ctx.Err()
	}
}

// preCheck runs the HTTP join handshake so obviously bad joins fail before a
// stream is opened.
func preCheck(ctx context.Context, opts Options) error {
	body, err := json.Marshal(map[string]string{
		"student_name": opts.StudentName,
		"password":     opts.Password,
		"session_code": opts.SessionCode,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/api/join", net.JoinHostPort(opts.TeacherAddr, fmt.Sprintf("%d", opts.HTTPPort)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("join pre-check: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("join pre-check: decode response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("%w: %s", ErrAuthFailed, result.Error)
	}
	return nil
}

// On registers a handler for a message type. Last registration wins,
// matching the server's dispatch semantics.
func (c *Client) On(msgType string, h Handler) {
	c.handlerMu.Lock()
	c.handlers[msgType] = h
	c.handlerMu.Unlock()
}

// ReportViolation sends one focus-mode violation to the teacher.
func (c *Client) ReportViolation(violationType, description string) error {
	return c.send(protocol.TypeViolation, protocol.ViolationPayload{
		Type:        violationType,
		Description: description,
		Timestamp:   protocol.Now(),
		StudentName: c.studentName,
	})
}

// Send transmits an arbitrary typed payload to the teacher.
func (c *Client) Send(msgType string, data any) error {
	return c.send(msgType, data)
}

func (c *Client) send(msgType string, data any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	raw, err := protocol.Encode(msgType, data)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *Client) readLoop() {
	defer c.shutdown()

	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("teacher connection closed")
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		env, err := protocol.Decode(raw)
		if err != nil {
			log.Warn().Err(err).Msg("dropping malformed message from teacher")
			continue
		}

		c.handlerMu.RLock()
		h, ok := c.handlers[env.Type]
		c.handlerMu.RUnlock()
		if !ok {
			log.Debug().Str("type", env.Type).Msg("unhandled message type")
			continue
		}
		h(env.Data)
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Close disconnects from the teacher. Idempotent.
func (c *Client) Close() error {
	c.shutdown()
	return nil
}

// Done is closed once the connection to the teacher is gone.
func (c *Client) Done() <-chan struct{} { return c.done }
