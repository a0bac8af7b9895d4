package router

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusclass/internal/protocol"
	"focusclass/internal/ws"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// admit connects one client through a throwaway server and registers the
// server side, returning the admitted connection and the client end.
func admit(t *testing.T, reg *ws.Registry) (*ws.Connection, *websocket.Conn) {
	t.Helper()

	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		accepted <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	c := reg.Admit(<-accepted, "test")
	t.Cleanup(func() { c.Close() })
	return c, client
}

func readEnvelope(t *testing.T, client *websocket.Conn) *protocol.Envelope {
	t.Helper()
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Decode(data)
	require.NoError(t, err)
	return env
}

func TestDispatchInboundRoutesByType(t *testing.T) {
	reg := ws.NewRegistry(10, time.Second)
	r := New(reg)

	var gotConn string
	var gotData json.RawMessage
	r.RegisterHandler(protocol.TypeViolation, func(connID string, data json.RawMessage) {
		gotConn = connID
		gotData = data
	})

	raw, err := protocol.Encode(protocol.TypeViolation, protocol.ViolationPayload{Type: "alt_tab"})
	require.NoError(t, err)

	r.DispatchInbound("conn-7", raw)

	assert.Equal(t, "conn-7", gotConn)
	var p protocol.ViolationPayload
	require.NoError(t, json.Unmarshal(gotData, &p))
	assert.Equal(t, "alt_tab", p.Type)
}

func TestRegisterHandlerLastWins(t *testing.T) {
	r := New(ws.NewRegistry(10, time.Second))

	var called string
	r.RegisterHandler("ctl", func(string, json.RawMessage) { called = "first" })
	r.RegisterHandler("ctl", func(string, json.RawMessage) { called = "second" })

	raw, _ := protocol.Encode("ctl", nil)
	r.DispatchInbound("c", raw)

	assert.Equal(t, "second", called)
}

func TestDispatchInboundDropsBadInput(t *testing.T) {
	r := New(ws.NewRegistry(10, time.Second))

	called := false
	r.RegisterHandler("known", func(string, json.RawMessage) { called = true })

	// None of these may panic or reach a handler.
	r.DispatchInbound("c", []byte("{garbage"))
	r.DispatchInbound("c", []byte(`{"data":{}}`)) // no type
	raw, _ := protocol.Encode("unknown_type", nil)
	r.DispatchInbound("c", raw)

	assert.False(t, called)
}

func TestAuthenticateInterceptedBeforeHandlers(t *testing.T) {
	r := New(ws.NewRegistry(10, time.Second))

	handlerCalled := false
	r.RegisterHandler(protocol.TypeAuthenticate, func(string, json.RawMessage) { handlerCalled = true })

	auth := &captureAuth{}
	r.SetAuthenticator(auth)

	raw, err := protocol.Encode(protocol.TypeAuthenticate, protocol.AuthenticatePayload{
		SessionCode: "ABC123",
		Password:    "secret1",
		StudentName: "Alice",
	})
	require.NoError(t, err)

	r.DispatchInbound("conn-1", raw)

	assert.False(t, handlerCalled, "authenticate never reaches the handler table")
	require.NotNil(t, auth.claim)
	assert.Equal(t, "conn-1", auth.connID)
	assert.Equal(t, "Alice", auth.claim.StudentName)
}

func TestAuthenticateWithoutAuthenticatorIsDropped(t *testing.T) {
	r := New(ws.NewRegistry(10, time.Second))

	raw, _ := protocol.Encode(protocol.TypeAuthenticate, protocol.AuthenticatePayload{})
	r.DispatchInbound("conn-1", raw) // must not panic
}

type captureAuth struct {
	connID string
	claim  *protocol.AuthenticatePayload
}

func (a *captureAuth) HandleAuthenticate(connID string, claim protocol.AuthenticatePayload) {
	a.connID = connID
	a.claim = &claim
}

func TestSendTo(t *testing.T) {
	reg := ws.NewRegistry(10, time.Second)
	r := New(reg)

	c, client := admit(t, reg)
	r.SendTo(c.ID(), protocol.TypeTeacherMessage, protocol.TeacherMessagePayload{Message: "eyes up"})

	env := readEnvelope(t, client)
	assert.Equal(t, protocol.TypeTeacherMessage, env.Type)

	r.SendTo("missing", protocol.TypeTeacherMessage, nil) // gone peer, logged no-op
}

func TestBroadcastReachesStudentsOnly(t *testing.T) {
	reg := ws.NewRegistry(10, time.Second)
	r := New(reg)

	alice, aliceClient := admit(t, reg)
	bob, bobClient := admit(t, reg)
	_, strangerClient := admit(t, reg) // never authenticates
	reg.Promote(alice.ID(), "Alice")
	reg.Promote(bob.ID(), "Bob")

	r.Broadcast(protocol.TypeEnableFocusMode, protocol.FocusModePayload{AllowedWindows: []string{"exam"}}, nil)

	assert.Equal(t, protocol.TypeEnableFocusMode, readEnvelope(t, aliceClient).Type)
	assert.Equal(t, protocol.TypeEnableFocusMode, readEnvelope(t, bobClient).Type)

	strangerClient.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := strangerClient.ReadMessage()
	assert.Error(t, err, "unauthenticated connections receive no broadcasts")
}

func TestBroadcastHonorsExclusions(t *testing.T) {
	reg := ws.NewRegistry(10, time.Second)
	r := New(reg)

	alice, aliceClient := admit(t, reg)
	bob, bobClient := admit(t, reg)
	reg.Promote(alice.ID(), "Alice")
	reg.Promote(bob.ID(), "Bob")

	r.Broadcast(protocol.TypeTeacherMessage, protocol.TeacherMessagePayload{Message: "hi"},
		map[string]struct{}{bob.ID(): {}})

	assert.Equal(t, protocol.TypeTeacherMessage, readEnvelope(t, aliceClient).Type)

	bobClient.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := bobClient.ReadMessage()
	assert.Error(t, err, "excluded student receives nothing")
}

func TestBroadcastEvictsDeadConnections(t *testing.T) {
	reg := ws.NewRegistry(10, time.Second)
	r := New(reg)

	const total = 10
	conns := make([]*ws.Connection, 0, total)
	clients := make([]*websocket.Conn, 0, total)
	for i := 0; i < total; i++ {
		c, client := admit(t, reg)
		reg.Promote(c.ID(), fmt.Sprintf("Student%d", i))
		conns = append(conns, c)
		clients = append(clients, client)
	}

	dead := conns[3]
	require.NoError(t, dead.Close())

	r.Broadcast(protocol.TypeTeacherMessage, protocol.TeacherMessagePayload{Message: "hi"}, nil)

	for i, client := range clients {
		if conns[i] == dead {
			continue
		}
		assert.Equal(t, protocol.TypeTeacherMessage, readEnvelope(t, client).Type,
			"one dead socket does not stop delivery to peer %d", i)
	}

	_, ok := reg.Get(dead.ID())
	assert.False(t, ok, "dead connection deregistered after the sweep")
	assert.Equal(t, total-1, reg.StudentCount())
}
