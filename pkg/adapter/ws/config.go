package ws

import "time"

// Config tunes the WebSocket attachment endpoint.
type Config struct {
	// WriteTimeout bounds a single frame write to a client.
	// Default: 5s
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// ReadTimeout is how long a connection may stay silent before it is
	// considered dead. Any inbound frame resets the deadline.
	// Default: 90s
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// MaxMessageSize caps inbound frame size in bytes.
	// Default: 4096
	MaxMessageSize int64 `mapstructure:"max_message_size" yaml:"max_message_size"`

	// RateLimit is the sustained inbound message rate per connection,
	// in messages per second. Messages over the limit are answered with a
	// rate_limited error frame and dropped.
	// Default: 20
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`

	// RateBurst is the burst allowance on top of RateLimit.
	// Default: 40
	RateBurst int `mapstructure:"rate_burst" yaml:"rate_burst"`

	// ProtocolErrorLimit is how many malformed messages within
	// ProtocolErrorWindow get a connection dropped.
	// Default: 5
	ProtocolErrorLimit int `mapstructure:"protocol_error_limit" yaml:"protocol_error_limit"`

	// ProtocolErrorWindow is the sliding window for ProtocolErrorLimit.
	// Default: 10s
	ProtocolErrorWindow time.Duration `mapstructure:"protocol_error_window" yaml:"protocol_error_window"`
}

// ApplyDefaults fills in zero values with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 90 * time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 4096
	}
	if c.RateLimit == 0 {
		c.RateLimit = 20
	}
	if c.RateBurst == 0 {
		c.RateBurst = 40
	}
	if c.ProtocolErrorLimit == 0 {
		c.ProtocolErrorLimit = 5
	}
	if c.ProtocolErrorWindow == 0 {
		c.ProtocolErrorWindow = 10 * time.Second
	}
}
