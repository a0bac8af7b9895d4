package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeView struct {
	code         string
	password     string
	active       bool
	maxStudents  int
	studentCount int
	wsPort       int
}

func (v *fakeView) Code() string       { return v.code }
func (v *fakeView) Password() string   { return v.password }
func (v *fakeView) Active() bool       { return v.active }
func (v *fakeView) MaxStudents() int   { return v.maxStudents }
func (v *fakeView) StudentCount() int  { return v.studentCount }
func (v *fakeView) WebSocketPort() int { return v.wsPort }

func activeView() *fakeView {
	return &fakeView{
		code:        "ABC123",
		password:    "secret1",
		active:      true,
		maxStudents: 30,
		wsPort:      8765,
	}
}

func postJoin(t *testing.T, view SessionView, body string) (*httptest.ResponseRecorder, joinResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/join", strings.NewReader(body))
	rec := httptest.NewRecorder()
	NewServer(view).Routes().ServeHTTP(rec, req)

	var resp joinResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestJoinAccepted(t *testing.T) {
	rec, resp := postJoin(t, activeView(),
		`{"student_name":"Alice","password":"secret1","session_code":"ABC123"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, 8765, resp.WebSocketPort)
}

func TestJoinInvalidCredentials(t *testing.T) {
	bodies := map[string]string{
		"wrong password": `{"student_name":"Bob","password":"wrong","session_code":"ABC123"}`,
		"wrong code":     `{"student_name":"Bob","password":"secret1","session_code":"XYZ789"}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			rec, resp := postJoin(t, activeView(), body)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.False(t, resp.Success)
			assert.Equal(t, "Invalid credentials", resp.Error,
				"error never reveals which field was wrong")
		})
	}
}

func TestJoinSessionNotActive(t *testing.T) {
	view := activeView()
	view.active = false

	rec, resp := postJoin(t, view,
		`{"student_name":"Alice","password":"secret1","session_code":"ABC123"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Session is not active", resp.Error)
}

func TestJoinSessionFull(t *testing.T) {
	view := activeView()
	view.maxStudents = 1
	view.studentCount = 1

	rec, resp := postJoin(t, view,
		`{"student_name":"Alice","password":"secret1","session_code":"ABC123"}`)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Session is full", resp.Error)
}

func TestJoinBadBody(t *testing.T) {
	rec, resp := postJoin(t, activeView(), "{not json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, resp.Success)
}

func TestSessionInfo(t *testing.T) {
	view := activeView()
	view.studentCount = 4

	req := httptest.NewRequest(http.MethodGet, "/api/session/ABC123", nil)
	rec := httptest.NewRecorder()
	NewServer(view).Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp sessionInfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "ABC123", resp.SessionCode)
	assert.Equal(t, 8765, resp.WebSocketPort)
	assert.Equal(t, 4, resp.ConnectedStudents)
	assert.Equal(t, 30, resp.MaxStudents)
}

func TestSessionInfoNotFound(t *testing.T) {
	t.Run("wrong code", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/session/XYZ789", nil)
		rec := httptest.NewRecorder()
		NewServer(activeView()).Routes().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("inactive session", func(t *testing.T) {
		view := activeView()
		view.active = false
		req := httptest.NewRequest(http.MethodGet, "/api/session/ABC123", nil)
		rec := httptest.NewRecorder()
		NewServer(view).Routes().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHealth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	NewServer(activeView()).Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}
