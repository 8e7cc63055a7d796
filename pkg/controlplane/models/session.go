package models

import "time"

// Session duration and capacity limits.
const (
	// DefaultSessionDurationMinutes is the session lifetime used when the
	// creator does not request one (24 hours).
	DefaultSessionDurationMinutes = 1440

	// MaxSessionDurationMinutes caps the requestable lifetime (7 days).
	MaxSessionDurationMinutes = 10080

	// MaxParticipantsPerSession caps membership per session.
	MaxParticipantsPerSession = 50
)

// Session represents an ephemeral location sharing session.
//
// A session is created with a hard expiry deadline and stays active until
// it expires, the creator ends it, or it idles out. Ended sessions are
// retained for a while and then swept by CleanupExpired.
type Session struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	Name         string     `gorm:"size:255" json:"name"`
	CreatorID    string     `gorm:"not null;index;size:36" json:"creator_id"`
	IsActive     bool       `gorm:"default:true;index" json:"is_active"`
	EndedReason  string     `gorm:"size:50" json:"ended_reason,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	ExpiresAt    time.Time  `gorm:"not null;index" json:"expires_at"`
	LastActivity time.Time  `json:"last_activity"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`

	Participants []Participant `gorm:"foreignKey:SessionID" json:"participants,omitempty"`
}

// TableName returns the table name for Session.
func (Session) TableName() string {
	return "sessions"
}

// Expired reports whether the session's hard deadline has passed.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Live reports whether the session is active and not past its expiry.
func (s *Session) Live(now time.Time) bool {
	return s.IsActive && !s.Expired(now)
}
