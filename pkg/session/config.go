package session

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/floeipc/floe/pkg/ipc"
)

// Config holds session creation parameters.
type Config struct {
	// Name is the process name; the session's reply channel binds
	// PathPrefix + Name, the broker connects back to it.
	Name string
	// BrokerName is the logical name of the broker's control channel.
	BrokerName string
	// MaxMessageSize caps control messages, zero selects ipc.MaxMessageSize.
	MaxMessageSize int
	// DialTimeout bounds the total time spent waiting for the broker
	// channel to appear.
	DialTimeout time.Duration
	// RequestTimeout bounds every request round-trip.
	RequestTimeout time.Duration
	// KeepAliveInterval is the period of the keepalive sender.
	KeepAliveInterval time.Duration

	// Tracer optionally records a span per request round-trip.
	Tracer trace.Tracer
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() *Config {
	return &Config{
		BrokerName:        "floe-broker",
		MaxMessageSize:    ipc.MaxMessageSize,
		DialTimeout:       5 * time.Second,
		RequestTimeout:    time.Second,
		KeepAliveInterval: 500 * time.Millisecond,
	}
}

// VerifyConfig ensures the configuration is usable.
func VerifyConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if !ipc.IsNameValid(c.Name) {
		return fmt.Errorf("process name %q is invalid", c.Name)
	}
	if !ipc.IsNameValid(c.BrokerName) {
		return fmt.Errorf("broker name %q is invalid", c.BrokerName)
	}
	if c.DialTimeout <= 0 || c.RequestTimeout <= 0 {
		return fmt.Errorf("dial timeout %s and request timeout %s must be positive",
			c.DialTimeout, c.RequestTimeout)
	}
	if c.KeepAliveInterval <= 0 {
		return fmt.Errorf("keepalive interval %s, must be positive", c.KeepAliveInterval)
	}
	return nil
}
