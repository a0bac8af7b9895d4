package discovery

import (
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return port
}

func TestListenReceivesAnnouncement(t *testing.T) {
	port := freeUDPPort(t)

	go func() {
		// Give the listener a moment to bind, then send one stray datagram
		// followed by a real announcement.
		time.Sleep(50 * time.Millisecond)
		conn, err := net.Dial("udp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			return
		}
		defer conn.Close()

		conn.Write([]byte("unrelated broadcast noise"))

		payload, _ := json.Marshal(Announcement{
			Service:       ServiceName,
			SessionCode:   "ABC123",
			TeacherAddr:   "192.168.1.10",
			WebSocketPort: 8765,
			HTTPPort:      8080,
			Version:       "1.0.0",
		})
		conn.Write(payload)
	}()

	a, err := Listen(port, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ABC123", a.SessionCode)
	assert.Equal(t, "192.168.1.10", a.TeacherAddr)
	assert.Equal(t, 8765, a.WebSocketPort)
}

func TestListenTimesOutWithoutAnnouncement(t *testing.T) {
	_, err := Listen(freeUDPPort(t), 100*time.Millisecond)
	assert.Error(t, err)
}

func TestBeaconAdvertiseWithdraw(t *testing.T) {
	b := NewBeacon(freeUDPPort(t), 50*time.Millisecond)

	require.NoError(t, b.Advertise(Announcement{SessionCode: "ABC123"}))
	// Re-advertising replaces the running loop.
	require.NoError(t, b.Advertise(Announcement{SessionCode: "ABC123", HTTPPort: 8080}))

	b.Withdraw()
	b.Withdraw() // idempotent
}

func TestNopAdvertiser(t *testing.T) {
	var adv Advertiser = Nop{}
	assert.NoError(t, adv.Advertise(Announcement{SessionCode: "ABC123"}))
	adv.Withdraw()
}
