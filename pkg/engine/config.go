package engine

import "time"

// Config carries the operational bounds of the engine. Zero values are
// replaced with defaults by Normalize.
type Config struct {
	// MaxParticipants caps concurrent participants per session.
	MaxParticipants int `mapstructure:"max_participants" yaml:"max_participants"`

	// OutboundQueueSize is the per-attachment outbound frame buffer.
	OutboundQueueSize int `mapstructure:"outbound_queue_size" yaml:"outbound_queue_size"`

	// MailboxSize bounds the per-session command mailbox. When the mailbox
	// is full, sheddable commands fail with ErrOverloaded.
	MailboxSize int `mapstructure:"mailbox_size" yaml:"mailbox_size"`

	// LocationTTL is how long a location fix stays in attach snapshots.
	LocationTTL time.Duration `mapstructure:"location_ttl" yaml:"location_ttl"`

	// IdleGrace is how long a session survives with zero attachments
	// before it ends itself.
	IdleGrace time.Duration `mapstructure:"idle_grace" yaml:"idle_grace"`

	// AbsenceTimeout is how long a detached participant is retained before
	// being removed with reason "timeout".
	AbsenceTimeout time.Duration `mapstructure:"absence_timeout" yaml:"absence_timeout"`
}

// DefaultConfig returns the production bounds.
func DefaultConfig() Config {
	return Config{
		MaxParticipants:   50,
		OutboundQueueSize: 64,
		MailboxSize:       4096,
		LocationTTL:       30 * time.Second,
		IdleGrace:         60 * time.Second,
		AbsenceTimeout:    60 * time.Second,
	}
}

// Normalize fills zero fields with defaults and returns the result.
func (c Config) Normalize() Config {
	def := DefaultConfig()
	if c.MaxParticipants <= 0 {
		c.MaxParticipants = def.MaxParticipants
	}
	if c.OutboundQueueSize <= 0 {
		c.OutboundQueueSize = def.OutboundQueueSize
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = def.MailboxSize
	}
	if c.LocationTTL <= 0 {
		c.LocationTTL = def.LocationTTL
	}
	if c.IdleGrace <= 0 {
		c.IdleGrace = def.IdleGrace
	}
	if c.AbsenceTimeout <= 0 {
		c.AbsenceTimeout = def.AbsenceTimeout
	}
	return c
}
