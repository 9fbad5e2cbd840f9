package broker

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"

	"github.com/floeipc/floe/pkg/ipc"
)

// Config holds broker creation parameters.
type Config struct {
	// ChannelName is the logical name of the broker's control channel.
	ChannelName string
	// MaxMessageSize caps control messages, zero selects ipc.MaxMessageSize.
	MaxMessageSize int
	// PoolSize bounds the number of concurrent message handlers.
	PoolSize int
	// RecvPollInterval is the receive timeout used to observe shutdown.
	RecvPollInterval time.Duration
	// KeepAliveTimeout evicts a process whose last keepalive is older.
	KeepAliveTimeout time.Duration
	// MonitorInterval is the sweep period of the liveness monitor.
	MonitorInterval time.Duration
	// EventJournalCap bounds the event ring buffer.
	EventJournalCap uint64
	// ReplySendTimeout bounds every reply send to a process channel.
	ReplySendTimeout time.Duration

	// Registry receives the broker's prometheus metrics. DefaultConfig
	// creates a private one.
	Registry *prometheus.Registry
	// Meter optionally mirrors the counters to OpenTelemetry.
	Meter metric.Meter
}

// DefaultConfig returns the default broker configuration.
func DefaultConfig() *Config {
	return &Config{
		ChannelName:      "floe-broker",
		MaxMessageSize:   ipc.MaxMessageSize,
		PoolSize:         8,
		RecvPollInterval: 100 * time.Millisecond,
		KeepAliveTimeout: 3 * time.Second,
		MonitorInterval:  500 * time.Millisecond,
		EventJournalCap:  256,
		ReplySendTimeout: time.Second,
		Registry:         prometheus.NewRegistry(),
	}
}

// VerifyConfig ensures the configuration is usable.
func VerifyConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if !ipc.IsNameValid(c.ChannelName) {
		return fmt.Errorf("channel name %q is invalid", c.ChannelName)
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("pool size %d, must be positive", c.PoolSize)
	}
	if c.RecvPollInterval <= 0 {
		return fmt.Errorf("receive poll interval %s, must be positive", c.RecvPollInterval)
	}
	if c.KeepAliveTimeout <= 0 || c.MonitorInterval <= 0 {
		return fmt.Errorf("keepalive timeout %s and monitor interval %s must be positive",
			c.KeepAliveTimeout, c.MonitorInterval)
	}
	if c.MonitorInterval > c.KeepAliveTimeout {
		return fmt.Errorf("monitor interval %s exceeds keepalive timeout %s",
			c.MonitorInterval, c.KeepAliveTimeout)
	}
	if c.EventJournalCap == 0 {
		return fmt.Errorf("event journal capacity must be positive")
	}
	if c.Registry == nil {
		return fmt.Errorf("prometheus registry is nil")
	}
	return nil
}
