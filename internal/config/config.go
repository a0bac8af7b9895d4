// Package config loads server settings from the environment with classroom
// defaults.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable of the teacher node. All fields have defaults;
// nothing is required, so a bare `focusclass` invocation starts a usable
// session on a LAN.
type Config struct {
	Host          string `env:"HOST" envDefault:"0.0.0.0"`
	WebSocketPort int    `env:"WS_PORT" envDefault:"8765"`
	HTTPPort      int    `env:"HTTP_PORT" envDefault:"8080"`

	// PortScanAttempts bounds the forward scan when a desired port is taken.
	PortScanAttempts int `env:"PORT_SCAN_ATTEMPTS" envDefault:"100"`

	MaxStudents int `env:"MAX_STUDENTS" envDefault:"200"`

	// Violation throttling policy. Repeats beyond MaxRepeats inside the
	// cooldown window are counted but not surfaced.
	ViolationCooldown   time.Duration `env:"VIOLATION_COOLDOWN" envDefault:"5s"`
	ViolationMaxRepeats int           `env:"VIOLATION_MAX_REPEATS" envDefault:"3"`

	// Connection keepalive. A connection that misses reads for ReadTimeout
	// is closed; pings go out every PingInterval.
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"60s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`
	PingInterval time.Duration `env:"PING_INTERVAL" envDefault:"30s"`

	// WriteBuffer is the per-connection outbound queue depth.
	WriteBuffer int `env:"WRITE_BUFFER" envDefault:"100"`

	ScreenFrameInterval time.Duration `env:"SCREEN_FRAME_INTERVAL" envDefault:"200ms"`

	DatabasePath string `env:"DATABASE_PATH" envDefault:"./focusclass.db"`

	// DiscoveryPort is the UDP beacon target; 0 disables advertisement.
	DiscoveryPort     int           `env:"DISCOVERY_PORT" envDefault:"8766"`
	DiscoveryInterval time.Duration `env:"DISCOVERY_INTERVAL" envDefault:"3s"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads FOCUSCLASS_-prefixed environment variables over defaults and
// validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "FOCUSCLASS_"}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.WebSocketPort <= 0 || c.WebSocketPort > 65535 {
		return fmt.Errorf("websocket port must be between 1 and 65535")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535")
	}
	if c.WebSocketPort == c.HTTPPort {
		return fmt.Errorf("websocket and http ports must differ")
	}
	if c.PortScanAttempts <= 0 {
		return fmt.Errorf("port scan attempts must be positive")
	}
	if c.MaxStudents <= 0 {
		return fmt.Errorf("max students must be positive")
	}
	if c.ViolationCooldown <= 0 {
		return fmt.Errorf("violation cooldown must be positive")
	}
	if c.ViolationMaxRepeats <= 0 {
		return fmt.Errorf("violation max repeats must be positive")
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 || c.PingInterval <= 0 {
		return fmt.Errorf("connection timeouts must be positive")
	}
	if c.PingInterval >= c.ReadTimeout {
		return fmt.Errorf("ping interval must be shorter than read timeout")
	}
	if c.WriteBuffer <= 0 {
		return fmt.Errorf("write buffer must be positive")
	}
	if c.ScreenFrameInterval <= 0 {
		return fmt.Errorf("screen frame interval must be positive")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.DiscoveryPort < 0 || c.DiscoveryPort > 65535 {
		return fmt.Errorf("discovery port must be between 0 and 65535")
	}
	if c.DiscoveryInterval <= 0 {
		return fmt.Errorf("discovery interval must be positive")
	}
	return nil
}
