// Package protocol defines the wire envelope exchanged between the teacher
// server and student clients. Every frame on the persistent stream is an
// Envelope: a type discriminator, a type-specific payload, and the sender's
// emission time in float seconds.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Teacher -> student message types.
const (
	TypeWelcome         = "welcome"
	TypeAuthSuccess     = "auth_success"
	TypeAuthFailed      = "auth_failed"
	TypeEnableFocusMode = "enable_focus_mode"
	TypeDisableFocus    = "disable_focus_mode"
	TypeScreenShareData = "screen_share_data"
	TypeTeacherMessage  = "teacher_message"
	TypeKicked          = "kicked"
	TypeSessionEnding   = "session_ending"
)

// Student -> teacher message types.
const (
	TypeAuthenticate = "authenticate"
	TypeViolation    = "violation"
)

// Envelope is the wire frame. Timestamp is seconds since the Unix epoch,
// fractional part preserved. Envelopes are constructed per send and never
// mutated afterwards.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp float64         `json:"timestamp"`
}

// Now returns the current time as float seconds.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Encode builds an envelope around data and serializes it. The timestamp is
// stamped at encode time.
func Encode(msgType string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := Envelope{
		Type:      msgType,
		Data:      payload,
		Timestamp: Now(),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return raw, nil
}

// Decode parses a raw frame into an envelope. The payload stays raw; handlers
// decode it into their own types.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("decode envelope: missing type")
	}
	return &env, nil
}

// WelcomePayload greets a freshly accepted connection before authentication.
type WelcomePayload struct {
	ConnectionID string  `json:"connection_id"`
	SessionCode  string  `json:"session_code"`
	ServerTime   float64 `json:"server_time"`
}

// AuthenticatePayload is the student's credential claim on the stream. The
// HTTP join pre-check carries the same fields; this one is authoritative.
type AuthenticatePayload struct {
	StudentName string `json:"student_name"`
	Password    string `json:"password"`
	SessionCode string `json:"session_code"`
}

type AuthSuccessPayload struct {
	Message     string `json:"message"`
	StudentName string `json:"student_name"`
	SessionCode string `json:"session_code"`
}

type AuthFailedPayload struct {
	Reason string `json:"reason"`
}

// ViolationPayload reports a focus-mode violation observed on the student
// machine.
type ViolationPayload struct {
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Timestamp   float64 `json:"timestamp"`
	StudentName string  `json:"student_name"`
}

type FocusModePayload struct {
	AllowedWindows []string `json:"allowed_windows"`
}

// ScreenSharePayload carries an opaque encoded frame. The core never
// interprets FrameData.
type ScreenSharePayload struct {
	Enabled   bool   `json:"enabled"`
	FrameData []byte `json:"frame_data,omitempty"`
}

type TeacherMessagePayload struct {
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
}

type KickedPayload struct {
	Reason string `json:"reason"`
}

type SessionEndingPayload struct {
	Reason string `json:"reason"`
}
