package netutil

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// occupy binds an ephemeral port and returns it still held.
func occupy(t *testing.T) (net.Listener, int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, l.Addr().(*net.TCPAddr).Port
}

func TestIsPortAvailable(t *testing.T) {
	_, held := occupy(t)
	assert.False(t, IsPortAvailable("127.0.0.1", held))

	free, err := FindAvailable("127.0.0.1", held+1, 100)
	require.NoError(t, err)
	assert.True(t, IsPortAvailable("127.0.0.1", free))
}

func TestFindAvailableSkipsOccupiedPort(t *testing.T) {
	_, held := occupy(t)

	port, err := FindAvailable("127.0.0.1", held, 10)
	require.NoError(t, err)
	assert.NotEqual(t, held, port)
	assert.Greater(t, port, held)
}

func TestFindAvailableExhaustsRange(t *testing.T) {
	_, held := occupy(t)

	_, err := FindAvailable("127.0.0.1", held, 1)
	assert.ErrorIs(t, err, ErrNoPortsAvailable)
}

func TestFindAvailableStopsAtPortCeiling(t *testing.T) {
	_, err := FindAvailable("127.0.0.1", 65536, 10)
	assert.ErrorIs(t, err, ErrNoPortsAvailable)
}

func TestLocalIPReturnsAnAddress(t *testing.T) {
	ip := LocalIP()
	assert.NotNil(t, net.ParseIP(ip))
}
