package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"focusclass/internal/api"
	"focusclass/internal/auth"
	"focusclass/internal/config"
	"focusclass/internal/discovery"
	"focusclass/internal/netutil"
	"focusclass/internal/protocol"
	"focusclass/internal/router"
	"focusclass/internal/throttle"
	"focusclass/internal/ws"
)

// Info describes a started session to the caller (UI, QR code, logs).
type Info struct {
	Code          string `json:"code"`
	Password      string `json:"password"`
	TeacherAddr   string `json:"teacher_addr"`
	WebSocketPort int    `json:"websocket_port"`
	HTTPPort      int    `json:"http_port"`
}

// bindRetries bounds re-allocation after a lost bind race: the probe in
// netutil is advisory, the bind here is authoritative.
const bindRetries = 3

// Lifecycle drives a session from Inactive through Active to Ended. It owns
// the Session object and the network stack; every other component receives
// read-only views.
type Lifecycle struct {
	cfg      *config.Config
	session  *Session
	recorder Recorder
	observer Observer
	adv      discovery.Advertiser

	registry *ws.Registry
	router   *router.Router
	auth     *auth.Authenticator
	throttle *throttle.Throttle

	mu         sync.Mutex
	wsServer   *http.Server
	httpServer *http.Server
	stopC      chan struct{}

	// info has its own lock so API handlers never contend with teardown,
	// which holds mu across server shutdown.
	infoMu sync.RWMutex
	info   *Info

	shareMu    sync.Mutex
	shareStopC chan struct{}
}

// NewLifecycle wires a session with its collaborators. Nil recorder,
// observer, or advertiser degrade to no-ops.
func NewLifecycle(cfg *config.Config, recorder Recorder, observer Observer, adv discovery.Advertiser) *Lifecycle {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	if observer == nil {
		observer = NopObserver{}
	}
	if adv == nil {
		adv = discovery.Nop{}
	}

	sess := New(cfg.MaxStudents)
	registry := ws.NewRegistry(cfg.WriteBuffer, cfg.WriteTimeout)
	rt := router.New(registry)

	lc := &Lifecycle{
		cfg:      cfg,
		session:  sess,
		recorder: recorder,
		observer: observer,
		adv:      adv,
		registry: registry,
		router:   rt,
		throttle: throttle.New(cfg.ViolationCooldown, cfg.ViolationMaxRepeats),
	}

	lc.auth = auth.New(sess, registry, rt, authEvents{lc})
	rt.SetAuthenticator(lc.auth)
	rt.RegisterHandler(protocol.TypeViolation, lc.handleViolation)

	return lc
}

// Session returns the session this lifecycle owns. Read-only to callers.
func (lc *Lifecycle) Session() *Session { return lc.session }

// Router exposes the message router so callers can register handlers for
// additional message types.
func (lc *Lifecycle) Router() *router.Router { return lc.router }

// Registry exposes the connection registry for inspection.
func (lc *Lifecycle) Registry() *ws.Registry { return lc.registry }

// Start binds the WebSocket and HTTP listeners, activates the session, and
// begins advertising. Port acquisition is all-or-nothing: if either listener
// cannot bind, everything already bound is released and the session stays
// Inactive.
func (lc *Lifecycle) Start(ctx context.Context) (*Info, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	switch lc.session.State() {
	case StateActive:
		return nil, ErrAlreadyActive
	case StateEnded:
		return nil, ErrSessionEnded
	}

	wsListener, wsPort, err := lc.bind(lc.cfg.WebSocketPort)
	if err != nil {
		return nil, fmt.Errorf("bind websocket listener: %w", err)
	}

	httpListener, httpPort, err := lc.bind(lc.cfg.HTTPPort)
	if err != nil {
		_ = wsListener.Close()
		return nil, fmt.Errorf("bind http listener: %w", err)
	}

	wsHandler := ws.NewHandler(lc.registry, lc.cfg.ReadTimeout, lc.cfg.PingInterval)
	wsHandler.OnConnect = lc.welcome
	wsHandler.OnMessage = lc.router.DispatchInbound
	wsHandler.OnDisconnect = lc.handleDisconnect

	lc.wsServer = &http.Server{Handler: wsHandler}
	lc.httpServer = &http.Server{
		Handler:      api.NewServer(apiView{lc}).Routes(),
		ReadTimeout:  lc.cfg.ReadTimeout,
		WriteTimeout: lc.cfg.WriteTimeout,
	}

	go lc.serve(lc.wsServer, wsListener, "websocket")
	go lc.serve(lc.httpServer, httpListener, "http")

	teacherAddr := netutil.LocalIP()
	if err := lc.session.activate(teacherAddr); err != nil {
		_ = wsListener.Close()
		_ = httpListener.Close()
		return nil, err
	}

	info := &Info{
		Code:          lc.session.Code(),
		Password:      lc.session.Password(),
		TeacherAddr:   teacherAddr,
		WebSocketPort: wsPort,
		HTTPPort:      httpPort,
	}
	lc.infoMu.Lock()
	lc.info = info
	lc.infoMu.Unlock()
	lc.stopC = make(chan struct{})
	go lc.throttleJanitor(lc.stopC)

	lc.recorder.SessionStarted(info.Code, info.Password, teacherAddr, lc.session.MaxStudents())

	if err := lc.adv.Advertise(discovery.Announcement{
		SessionCode:   info.Code,
		TeacherAddr:   teacherAddr,
		WebSocketPort: wsPort,
		HTTPPort:      httpPort,
		Version:       "1.0.0",
	}); err != nil {
		// Discovery is auxiliary: its failure never affects the session.
		log.Warn().Err(err).Msg("discovery advertisement failed")
	}

	log.Info().
		Str("code", info.Code).
		Str("addr", teacherAddr).
		Int("ws_port", wsPort).
		Int("http_port", httpPort).
		Msg("session started")
	return info, nil
}

// bind listens on the desired port, falling back to a scan when it is taken.
// The scan result can be lost to another process before we bind it, so the
// whole allocation retries a bounded number of times.
func (lc *Lifecycle) bind(desired int) (net.Listener, int, error) {
	host := lc.cfg.Host
	port := desired
	for attempt := 0; attempt < bindRetries; attempt++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
		if err == nil {
			return l, port, nil
		}
		log.Debug().Int("port", port).Err(err).Msg("bind failed, scanning for alternative")

		port, err = netutil.FindAvailable(host, desired, lc.cfg.PortScanAttempts)
		if err != nil {
			return nil, 0, err
		}
	}
	return nil, 0, fmt.Errorf("%w: lost bind race %d times from port %d",
		netutil.ErrNoPortsAvailable, bindRetries, desired)
}

func (lc *Lifecycle) serve(srv *http.Server, l net.Listener, name string) {
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Str("server", name).Err(err).Msg("server stopped")
	}
}

// End tears the session down. Idempotent: a second call returns immediately
// with the session still Ended. Each step's failure is logged and never
// blocks the following steps, so teardown always reaches Ended.
func (lc *Lifecycle) End(ctx context.Context) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.session.State() == StateEnded {
		return
	}

	// Step 1: best-effort shutdown notice to connected students.
	lc.router.Broadcast(protocol.TypeSessionEnding, protocol.SessionEndingPayload{
		Reason: "Session ended by teacher",
	}, nil)

	lc.StopScreenShare()

	// Step 2: close every connection once the ending notice has flushed.
	for _, c := range lc.registry.All() {
		lc.registry.Remove(c.ID())
		c.CloseAfterFlush()
	}

	// Step 3: close listeners.
	for name, srv := range map[string]*http.Server{"websocket": lc.wsServer, "http": lc.httpServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn().Str("server", name).Err(err).Msg("server shutdown failed")
			_ = srv.Close()
		}
	}

	// Step 4: withdraw discovery advertisement.
	lc.adv.Withdraw()

	// Step 5: mark ended.
	if lc.stopC != nil {
		close(lc.stopC)
		lc.stopC = nil
	}
	lc.recorder.SessionEnded()
	lc.session.end()
	log.Info().Str("code", lc.session.Code()).Msg("session ended")
}

// welcome greets a freshly admitted connection so the client learns its
// connection ID before authenticating.
func (lc *Lifecycle) welcome(c *ws.Connection) {
	lc.router.SendTo(c.ID(), protocol.TypeWelcome, protocol.WelcomePayload{
		ConnectionID: c.ID(),
		SessionCode:  lc.session.Code(),
		ServerTime:   protocol.Now(),
	})
}

func (lc *Lifecycle) handleDisconnect(c *ws.Connection) {
	lc.throttle.Forget(c.ID())
	if c.Role() == ws.RoleStudent {
		log.Info().Str("student", c.Identity()).Msg("student disconnected")
		lc.observer.StudentLeft(c.ID(), c.Identity())
		lc.recorder.StudentLeft(c.ID(), c.Identity())
	}
}

// handleViolation throttles and surfaces one violation report. In-memory
// work only; persistence is fire-and-forget through the recorder.
func (lc *Lifecycle) handleViolation(connID string, data json.RawMessage) {
	var v protocol.ViolationPayload
	if err := json.Unmarshal(data, &v); err != nil {
		log.Warn().Str("conn_id", connID).Err(err).Msg("dropping malformed violation")
		return
	}

	conn, ok := lc.registry.Get(connID)
	if !ok || conn.Role() != ws.RoleStudent {
		log.Debug().Str("conn_id", connID).Msg("violation from unauthenticated connection dropped")
		return
	}
	name := conn.Identity()

	decision := lc.throttle.Record(connID, v.Type)
	if !decision.Emit {
		return
	}

	desc := v.Description
	if decision.Count > 1 {
		desc = fmt.Sprintf("%s (x%d)", desc, decision.Count)
	}

	log.Warn().
		Str("student", name).
		Str("type", v.Type).
		Int("count", decision.Count).
		Msg("violation reported")
	lc.observer.Violation(connID, name, v.Type, desc, decision.Count)
	lc.recorder.ViolationRecorded(connID, name, v.Type, desc)
}

// Kick ejects one student: a kicked notice, then transport close after the
// frame has flushed.
func (lc *Lifecycle) Kick(connID, reason string) {
	conn, ok := lc.registry.Get(connID)
	if !ok {
		return
	}
	lc.router.SendTo(connID, protocol.TypeKicked, protocol.KickedPayload{Reason: reason})
	lc.registry.Remove(connID)
	conn.CloseAfterFlush()
	log.Info().Str("conn_id", connID).Str("reason", reason).Msg("student kicked")
}

// EnableFocusMode restricts students to the allowed windows.
func (lc *Lifecycle) EnableFocusMode(allowedWindows []string) {
	lc.router.Broadcast(protocol.TypeEnableFocusMode, protocol.FocusModePayload{
		AllowedWindows: allowedWindows,
	}, nil)
	lc.recorder.FocusModeChanged(true)
}

// DisableFocusMode lifts the restriction.
func (lc *Lifecycle) DisableFocusMode() {
	lc.router.Broadcast(protocol.TypeDisableFocus, struct{}{}, nil)
	lc.recorder.FocusModeChanged(false)
}

// BroadcastTeacherMessage pushes a text notice to every student.
func (lc *Lifecycle) BroadcastTeacherMessage(message string) {
	lc.router.Broadcast(protocol.TypeTeacherMessage, protocol.TeacherMessagePayload{
		Message:   message,
		Timestamp: protocol.Now(),
	}, nil)
}

// StartScreenShare begins forwarding frames from the capture provider to all
// students until stopped. Frames are opaque bytes.
func (lc *Lifecycle) StartScreenShare(provider ScreenCaptureProvider) {
	lc.shareMu.Lock()
	defer lc.shareMu.Unlock()

	if lc.shareStopC != nil {
		return // already sharing
	}
	stop := make(chan struct{})
	lc.shareStopC = stop

	go func() {
		ticker := time.NewTicker(lc.cfg.ScreenFrameInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), lc.cfg.ScreenFrameInterval)
				frame, err := provider.Frame(ctx)
				cancel()
				if err != nil {
					log.Debug().Err(err).Msg("screen capture frame unavailable")
					continue
				}
				lc.router.Broadcast(protocol.TypeScreenShareData, protocol.ScreenSharePayload{
					Enabled:   true,
					FrameData: frame,
				}, nil)
			case <-stop:
				return
			}
		}
	}()
	log.Info().Msg("screen share started")
}

// StopScreenShare halts frame forwarding and tells students the stream ended.
func (lc *Lifecycle) StopScreenShare() {
	lc.shareMu.Lock()
	defer lc.shareMu.Unlock()

	if lc.shareStopC == nil {
		return
	}
	close(lc.shareStopC)
	lc.shareStopC = nil

	lc.router.Broadcast(protocol.TypeScreenShareData, protocol.ScreenSharePayload{Enabled: false}, nil)
	log.Info().Msg("screen share stopped")
}

func (lc *Lifecycle) throttleJanitor(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			lc.throttle.Cleanup()
		case <-stop:
			return
		}
	}
}

// authEvents adapts authentication outcomes onto the observer and recorder.
type authEvents struct{ lc *Lifecycle }

func (e authEvents) StudentJoined(connID, studentName, remoteAddr string) {
	log.Info().Str("student", studentName).Str("remote", remoteAddr).Msg("student joined")
	e.lc.observer.StudentJoined(connID, studentName, remoteAddr)
	e.lc.recorder.StudentJoined(connID, studentName, remoteAddr)
}

// apiView adapts the lifecycle for the join side-channel API.
type apiView struct{ lc *Lifecycle }

func (v apiView) Code() string      { return v.lc.session.Code() }
func (v apiView) Password() string  { return v.lc.session.Password() }
func (v apiView) Active() bool      { return v.lc.session.Active() }
func (v apiView) MaxStudents() int  { return v.lc.session.MaxStudents() }
func (v apiView) StudentCount() int { return v.lc.registry.StudentCount() }

func (v apiView) WebSocketPort() int {
	v.lc.infoMu.RLock()
	defer v.lc.infoMu.RUnlock()
	if v.lc.info == nil {
		return 0
	}
	return v.lc.info.WebSocketPort
}
