package domain

import (
	"fmt"
	"time"
)

// ConnState is the lifecycle state of the device connection.
type ConnState int

const (
	// StateDisconnected means no session exists.
	StateDisconnected ConnState = iota

	// StateConnecting means a dial or reconnect is in progress.
	StateConnecting

	// StateConnected means the session passed its last health check.
	StateConnected

	// StateDegraded means repeated health checks failed. New transfer
	// attempts are suspended until a reconnect succeeds.
	StateDegraded
)

// String returns the state name for logs and status output.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// DeviceConfig holds the connection parameters for the paired device.
// The device ships with a single root account over SSH on the local
// network, so password auth is the norm.
type DeviceConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`

	// Timeout bounds every individual remote call, dial included.
	Timeout time.Duration `toml:"timeout"`
}

// Addr returns the host:port dial address.
func (c DeviceConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// Validate checks that the config is usable for a connection attempt.
func (c DeviceConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: device host is required", ErrInvalidInput)
	}
	if c.User == "" {
		return fmt.Errorf("%w: device user is required", ErrInvalidInput)
	}
	return nil
}
