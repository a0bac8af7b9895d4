// Package discovery advertises an active session on the local network.
//
// Advertisement is a capability: the session layer talks to the Advertiser
// interface and a no-op implementation stands in when the feature is
// disabled, so core session operation never depends on discovery working.
package discovery

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Announcement is the beacon payload students listen for.
type Announcement struct {
	Service       string `json:"service"`
	SessionCode   string `json:"session_code"`
	TeacherAddr   string `json:"teacher_addr"`
	WebSocketPort int    `json:"websocket_port"`
	HTTPPort      int    `json:"http_port"`
	Version       string `json:"version"`
}

// ServiceName tags FocusClass beacons among unrelated broadcast traffic.
const ServiceName = "focusclass"

// Advertiser publishes and withdraws a session announcement.
type Advertiser interface {
	Advertise(a Announcement) error
	Withdraw()
}

// Nop is the null advertiser selected when discovery is disabled.
type Nop struct{}

func (Nop) Advertise(Announcement) error { return nil }
func (Nop) Withdraw()                    {}

// Beacon broadcasts the announcement over UDP on a fixed interval until
// withdrawn.
type Beacon struct {
	port     int
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
}

func NewBeacon(port int, interval time.Duration) *Beacon {
	return &Beacon{port: port, interval: interval}
}

// Advertise starts the broadcast loop. Calling it again replaces the current
// announcement.
func (b *Beacon) Advertise(a Announcement) error {
	a.Service = ServiceName

	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal announcement: %w", err)
	}

	conn, err := net.Dial("udp", fmt.Sprintf("255.255.255.255:%d", b.port))
	if err != nil {
		return fmt.Errorf("open broadcast socket: %w", err)
	}

	b.mu.Lock()
	if b.stop != nil {
		close(b.stop)
	}
	stop := make(chan struct{})
	b.stop = stop
	b.mu.Unlock()

	go func() {
		defer conn.Close()
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		send := func() {
			if _, err := conn.Write(payload); err != nil {
				log.Debug().Err(err).Msg("discovery beacon send failed")
			}
		}
		send()
		for {
			select {
			case <-ticker.C:
				send()
			case <-stop:
				return
			}
		}
	}()

	log.Info().Str("code", a.SessionCode).Int("port", b.port).Msg("session advertised")
	return nil
}

// Withdraw stops the broadcast loop. Idempotent.
func (b *Beacon) Withdraw() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stop != nil {
		close(b.stop)
		b.stop = nil
		log.Info().Msg("session advertisement withdrawn")
	}
}

// Listen blocks until a FocusClass announcement arrives on the given UDP
// port or the timeout elapses. Student-side helper.
func Listen(port int, timeout time.Duration) (*Announcement, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("listen for announcements: %w", err)
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	buf := make([]byte, 2048)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return nil, fmt.Errorf("no announcement received: %w", err)
		}
		var a Announcement
		if err := json.Unmarshal(buf[:n], &a); err != nil || a.Service != ServiceName {
			continue // unrelated broadcast traffic
		}
		return &a, nil
	}
}
