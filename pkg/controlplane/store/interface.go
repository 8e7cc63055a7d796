package store

import (
	"context"
	"time"

	"github.com/marmos91/flock/pkg/controlplane/models"
)

// Store provides the control plane persistence interface.
//
// Thread Safety: Implementations must be safe for concurrent use from
// multiple goroutines.
//
// The Store interface supports both SQLite (single-node) and PostgreSQL
// (HA) backends.
type Store interface {
	// ============================================
	// SESSION OPERATIONS
	// ============================================

	// CreateSession creates a new session. The session ID is generated if
	// empty; the generated ID is returned.
	CreateSession(ctx context.Context, session *models.Session) (string, error)

	// GetSession returns a session by ID.
	// Returns models.ErrSessionNotFound if the session doesn't exist.
	GetSession(ctx context.Context, id string) (*models.Session, error)

	// GetLiveSession returns a session that is active and not past its
	// expiry. Returns models.ErrSessionNotFound, models.ErrSessionEnded or
	// models.ErrSessionExpired.
	GetLiveSession(ctx context.Context, id string) (*models.Session, error)

	// ListActiveSessions returns all sessions currently marked active.
	ListActiveSessions(ctx context.Context) ([]*models.Session, error)

	// EndSession marks a session ended with the given reason. Idempotent:
	// ending an ended session is a no-op.
	// Returns models.ErrSessionNotFound if the session doesn't exist.
	EndSession(ctx context.Context, id, reason string) error

	// TouchSession bumps the session's last-activity timestamp.
	TouchSession(ctx context.Context, id string, at time.Time) error

	// CleanupExpired marks sessions past their expiry as ended and deletes
	// sessions that ended before the retention cutoff, together with their
	// participants. Returns the number of sessions it ended.
	CleanupExpired(ctx context.Context, now time.Time, retain time.Duration) (int, error)

	// ============================================
	// PARTICIPANT OPERATIONS
	// ============================================

	// AddParticipant adds a participant to a session, enforcing the
	// per-session cap. The participant ID is generated if empty.
	// Returns models.ErrSessionFull or models.ErrDuplicateParticipant.
	AddParticipant(ctx context.Context, participant *models.Participant) (string, error)

	// GetParticipant returns a session member by user ID.
	// Returns models.ErrParticipantNotFound if absent.
	GetParticipant(ctx context.Context, sessionID, userID string) (*models.Participant, error)

	// ListParticipants returns all members of a session in join order.
	ListParticipants(ctx context.Context, sessionID string) ([]*models.Participant, error)

	// CountParticipants returns the number of members of a session that
	// have not left.
	CountParticipants(ctx context.Context, sessionID string) (int64, error)

	// SetParticipantActive records attachment state and bumps last-seen.
	SetParticipantActive(ctx context.Context, sessionID, userID string, active bool, at time.Time) error

	// MarkParticipantLeft records a permanent departure.
	MarkParticipantLeft(ctx context.Context, sessionID, userID string, at time.Time) error

	// ============================================
	// HEALTH & LIFECYCLE
	// ============================================

	// Healthcheck verifies database connectivity.
	Healthcheck(ctx context.Context) error

	// Close releases the database connection.
	Close() error
}
