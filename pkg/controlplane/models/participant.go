package models

import "time"

// Participant represents a member of a session.
//
// UserID is the identity minted when the participant joined via the API;
// it is what attachment tokens and broadcast frames carry. IsActive tracks
// whether the participant currently holds a live attachment, and LeftAt is
// set once the departure is permanent (explicit leave or absence timeout).
type Participant struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	SessionID   string     `gorm:"not null;uniqueIndex:idx_session_user;size:36" json:"session_id"`
	UserID      string     `gorm:"not null;uniqueIndex:idx_session_user;size:36" json:"user_id"`
	DisplayName string     `gorm:"not null;size:100" json:"display_name"`
	AvatarColor string     `gorm:"size:7" json:"avatar_color"`
	JoinedAt    time.Time  `json:"joined_at"`
	LastSeen    time.Time  `json:"last_seen"`
	IsActive    bool       `gorm:"default:false" json:"is_active"`
	LeftAt      *time.Time `json:"left_at,omitempty"`
}

// TableName returns the table name for Participant.
func (Participant) TableName() string {
	return "participants"
}
