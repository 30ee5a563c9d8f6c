package websocket

import (
	"time"

	"venuelink/pkg/backoff"
)

// Tuning holds the session settings read from configuration. Zero fields
// keep the session defaults.
type Tuning struct {
	PingInterval     time.Duration  `yaml:"ping_interval"`
	HeartbeatTimeout time.Duration  `yaml:"heartbeat_timeout"`
	ConnectTimeout   time.Duration  `yaml:"connect_timeout"`
	ShutdownTimeout  time.Duration  `yaml:"shutdown_timeout"`
	Reconnect        backoff.Config `yaml:"reconnect"`
	EventBuffer      int            `yaml:"event_buffer"`
	WriteBuffer      int            `yaml:"write_buffer"`
}

// Apply copies the non-zero settings onto cfg.
func (t Tuning) Apply(cfg *Config) {
	if t.PingInterval > 0 {
		cfg.PingInterval = t.PingInterval
	}
	if t.HeartbeatTimeout > 0 {
		cfg.HeartbeatTimeout = t.HeartbeatTimeout
	}
	if t.ConnectTimeout > 0 {
		cfg.ConnectTimeout = t.ConnectTimeout
	}
	if t.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = t.ShutdownTimeout
	}
	if t.Reconnect != (backoff.Config{}) {
		cfg.Reconnect = t.Reconnect
	}
	if t.EventBuffer > 0 {
		cfg.EventBuffer = t.EventBuffer
	}
	if t.WriteBuffer > 0 {
		cfg.WriteBuffer = t.WriteBuffer
	}
}
