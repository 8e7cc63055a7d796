package models

import "errors"

// Common errors for session and participant operations.
var (
	// Session errors
	ErrSessionNotFound  = errors.New("session not found")
	ErrDuplicateSession = errors.New("session already exists")
	ErrSessionEnded     = errors.New("session has ended")
	ErrSessionExpired   = errors.New("session has expired")
	ErrSessionFull      = errors.New("session is full")
	ErrNotCreator       = errors.New("only the session creator may do this")

	// Participant errors
	ErrParticipantNotFound  = errors.New("participant not found")
	ErrDuplicateParticipant = errors.New("participant already exists")
)
