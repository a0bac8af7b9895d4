// Package session owns the session model and orchestrates its lifecycle:
// port binding, component wiring, and teardown.
package session

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
)

// State is the session lifecycle state. Ended is terminal: a new Session must
// be created to restart.
type State int

const (
	StateInactive State = iota
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return "inactive"
	}
}

var (
	ErrAlreadyActive = errors.New("session already active")
	ErrSessionEnded  = errors.New("session has ended")
)

// Session holds the credentials and state of one classroom session. Code and
// password are generated once and never change. Only the Lifecycle mutates a
// Session; every other component reads it through the accessor methods.
type Session struct {
	code        string
	password    string
	maxStudents int

	mu          sync.RWMutex
	state       State
	teacherAddr string
}

// New creates an Inactive session with fresh credentials.
func New(maxStudents int) *Session {
	return &Session{
		code:        GenerateCode(),
		password:    GeneratePassword(),
		maxStudents: maxStudents,
		state:       StateInactive,
	}
}

func (s *Session) Code() string     { return s.code }
func (s *Session) Password() string { return s.password }
func (s *Session) MaxStudents() int { return s.maxStudents }

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Active() bool {
	return s.State() == StateActive
}

func (s *Session) TeacherAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.teacherAddr
}

// activate transitions Inactive -> Active once the server is fully bound.
func (s *Session) activate(teacherAddr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateActive:
		return ErrAlreadyActive
	case StateEnded:
		return ErrSessionEnded
	}
	s.state = StateActive
	s.teacherAddr = teacherAddr
	return nil
}

// end transitions to Ended from any state. Idempotent.
func (s *Session) end() {
	s.mu.Lock()
	s.state = StateEnded
	s.mu.Unlock()
}

// GenerateCode returns a short uppercase join code, e.g. "M7QHT3KA".
func GenerateCode() string {
	var b [5]byte
	mustRead(b[:])
	return strings.ToUpper(base32.StdEncoding.EncodeToString(b[:]))
}

// GeneratePassword returns a URL-safe session password.
func GeneratePassword() string {
	var b [12]byte
	mustRead(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

func mustRead(b []byte) {
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure means the platform RNG is broken; nothing
		// sensible to do but stop.
		panic("session: crypto/rand unavailable: " + err.Error())
	}
}
