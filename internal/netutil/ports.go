// Package netutil provides port allocation and local address discovery for
// session startup.
package netutil

import (
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"
)

// ErrNoPortsAvailable reports an exhausted scan range.
var ErrNoPortsAvailable = errors.New("no available ports in scan range")

// IsPortAvailable reports whether a TCP listener can currently bind the port.
// The probe releases the port immediately, so the answer is inherently racy;
// the real bind remains the authoritative check.
func IsPortAvailable(host string, port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// FindAvailable linearly probes from startPort for a bindable port. Callers
// must handle a subsequent bind failure by retrying allocation rather than
// failing outright.
func FindAvailable(host string, startPort, maxAttempts int) (int, error) {
	for port := startPort; port < startPort+maxAttempts; port++ {
		if port > 65535 {
			break
		}
		if IsPortAvailable(host, port) {
			if port != startPort {
				log.Info().Int("port", port).Int("requested", startPort).Msg("allocated alternate port")
			}
			return port, nil
		}
	}
	return 0, fmt.Errorf("%w: scanned %d ports from %d", ErrNoPortsAvailable, maxAttempts, startPort)
}

// LocalIP returns the outbound-facing local address. The UDP dial never sends
// a packet; it only asks the kernel for a routable source address.
func LocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}
