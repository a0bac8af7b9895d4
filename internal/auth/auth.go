// Package auth gates the promotion of anonymous connections to authenticated
// students.
package auth

import (
	"crypto/subtle"

	"github.com/rs/zerolog/log"

	"focusclass/internal/protocol"
	"focusclass/internal/router"
	"focusclass/internal/ws"
)

// Result classifies an authentication attempt.
type Result int

const (
	Success Result = iota
	InvalidCredentials
	SessionFull
	SessionNotActive
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case InvalidCredentials:
		return "invalid_credentials"
	case SessionFull:
		return "session_full"
	case SessionNotActive:
		return "session_not_active"
	default:
		return "unknown"
	}
}

// Session is the read-only view of the active session the authenticator
// validates against.
type Session interface {
	Code() string
	Password() string
	Active() bool
	MaxStudents() int
}

// Events receives authentication outcomes the session layer cares about
// (teacher UI feed, persistence). Implementations must not block.
type Events interface {
	StudentJoined(connID, studentName, remoteAddr string)
}

// Authenticator validates session credentials and promotes connections.
type Authenticator struct {
	session  Session
	registry *ws.Registry
	router   *router.Router
	events   Events
}

func New(session Session, registry *ws.Registry, r *router.Router, events Events) *Authenticator {
	return &Authenticator{
		session:  session,
		registry: registry,
		router:   r,
		events:   events,
	}
}

// HandleAuthenticate satisfies router.Authenticator.
func (a *Authenticator) HandleAuthenticate(connID string, claim protocol.AuthenticatePayload) {
	a.Authenticate(connID, claim.SessionCode, claim.Password, claim.StudentName)
}

// Authenticate checks the claimed code and password against the active
// session and promotes the connection on success. Capacity check and
// promotion are one atomic registry operation, never promote-then-evict.
// On failure the client gets a generic
// rejection that does not reveal which field was wrong, and the transport is
// closed once the rejection has flushed.
func (a *Authenticator) Authenticate(connID, claimedCode, claimedPassword, studentName string) Result {
	result := a.check(claimedCode, claimedPassword)

	if result != Success {
		log.Info().
			Str("conn_id", connID).
			Str("student", studentName).
			Str("result", result.String()).
			Msg("authentication rejected")
		a.reject(connID, result)
		return result
	}

	conn, ok := a.registry.Get(connID)
	if !ok {
		// Disconnected while the attempt was in flight.
		log.Debug().Str("conn_id", connID).Msg("authentication raced with disconnect")
		return Success
	}

	// Capacity and promotion are one registry operation; checking the count
	// separately would let two attempts race past the last slot.
	if !a.registry.PromoteIfBelow(connID, studentName, a.session.MaxStudents()) {
		log.Info().
			Str("conn_id", connID).
			Str("student", studentName).
			Str("result", SessionFull.String()).
			Msg("authentication rejected")
		a.reject(connID, SessionFull)
		return SessionFull
	}

	a.router.SendTo(connID, protocol.TypeAuthSuccess, protocol.AuthSuccessPayload{
		Message:     "Authentication successful",
		StudentName: studentName,
		SessionCode: claimedCode,
	})
	if a.events != nil {
		a.events.StudentJoined(connID, studentName, conn.RemoteAddr())
	}
	return Success
}

func (a *Authenticator) check(claimedCode, claimedPassword string) Result {
	if !a.session.Active() {
		return SessionNotActive
	}

	// Constant-time on both fields; the combined result never exposes which
	// one mismatched.
	codeOK := subtle.ConstantTimeCompare([]byte(claimedCode), []byte(a.session.Code())) == 1
	passOK := subtle.ConstantTimeCompare([]byte(claimedPassword), []byte(a.session.Password())) == 1
	if !codeOK || !passOK {
		return InvalidCredentials
	}
	return Success
}

func (a *Authenticator) reject(connID string, result Result) {
	reason := "Invalid credentials"
	switch result {
	case SessionFull:
		reason = "Session is full"
	case SessionNotActive:
		reason = "Session is not active"
	}

	a.router.SendTo(connID, protocol.TypeAuthFailed, protocol.AuthFailedPayload{Reason: reason})

	if conn, ok := a.registry.Get(connID); ok {
		conn.CloseAfterFlush()
	}
}
