// Package api serves the HTTP side channel next to the WebSocket stream: the
// join pre-check, session info, and a health probe.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// SessionView is the read-only slice of session state the API needs.
type SessionView interface {
	Code() string
	Password() string
	Active() bool
	MaxStudents() int
	StudentCount() int
	WebSocketPort() int
}

// Server handles the side-channel endpoints.
type Server struct {
	view SessionView
}

func NewServer(view SessionView) *Server {
	return &Server{view: view}
}

// Routes builds the chi router for the side channel.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/api/join", s.handleJoin)
	r.Get("/api/session/{code}", s.handleSessionInfo)
	return r
}

type joinRequest struct {
	StudentName string `json:"student_name"`
	Password    string `json:"password"`
	SessionCode string `json:"session_code"`
}

type joinResponse struct {
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
	WebSocketPort int    `json:"websocket_port,omitempty"`
}

// handleJoin is the convenience pre-check before a student opens the
// persistent stream. The stream's authenticate message remains the
// authoritative check; this endpoint only lets clients fail fast.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, joinResponse{Success: false, Error: "Invalid request body"})
		return
	}

	if !s.view.Active() {
		writeJSON(w, http.StatusServiceUnavailable, joinResponse{Success: false, Error: "Session is not active"})
		return
	}

	codeOK := subtle.ConstantTimeCompare([]byte(req.SessionCode), []byte(s.view.Code())) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.view.Password())) == 1
	if !codeOK || !passOK {
		// Never reveals which field was wrong.
		writeJSON(w, http.StatusUnauthorized, joinResponse{Success: false, Error: "Invalid credentials"})
		return
	}

	if s.view.StudentCount() >= s.view.MaxStudents() {
		writeJSON(w, http.StatusTooManyRequests, joinResponse{Success: false, Error: "Session is full"})
		return
	}

	log.Info().Str("student", req.StudentName).Msg("join pre-check accepted")
	writeJSON(w, http.StatusOK, joinResponse{Success: true, WebSocketPort: s.view.WebSocketPort()})
}

type sessionInfoResponse struct {
	Success           bool   `json:"success"`
	Error             string `json:"error,omitempty"`
	SessionCode       string `json:"session_code,omitempty"`
	WebSocketPort     int    `json:"websocket_port,omitempty"`
	ConnectedStudents int    `json:"connected_students"`
	MaxStudents       int    `json:"max_students,omitempty"`
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if code != s.view.Code() || !s.view.Active() {
		writeJSON(w, http.StatusNotFound, sessionInfoResponse{Success: false, Error: "Session not found"})
		return
	}

	writeJSON(w, http.StatusOK, sessionInfoResponse{
		Success:           true,
		SessionCode:       s.view.Code(),
		WebSocketPort:     s.view.WebSocketPort(),
		ConnectedStudents: s.view.StudentCount(),
		MaxStudents:       s.view.MaxStudents(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("response encode failed")
	}
}
