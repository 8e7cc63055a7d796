package engine

import "errors"

var (
	// ErrSessionEnded is returned for any operation against a session whose
	// coordinator has terminated.
	ErrSessionEnded = errors.New("session ended")

	// ErrSessionFull is returned when a join would exceed the participant cap.
	ErrSessionFull = errors.New("session full")

	// ErrSessionNotFound is returned by the directory when no live or
	// startable session matches the given ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNotParticipant is returned when an operation names a user that is
	// not present in the session.
	ErrNotParticipant = errors.New("not a participant")

	// ErrOverloaded is returned when the session mailbox is full and the
	// command is one that may be shed under load.
	ErrOverloaded = errors.New("session overloaded")

	// ErrQueueClosed is returned by queue operations after Close, once any
	// remaining frames have been drained.
	ErrQueueClosed = errors.New("outbound queue closed")

	// ErrQueueStalled is returned when a frame cannot be enqueued because
	// the queue is full of frames that must not be dropped.
	ErrQueueStalled = errors.New("outbound queue stalled")

	// ErrStaleLocation is returned when an update's client timestamp does
	// not advance past the stored one.
	ErrStaleLocation = errors.New("stale location update")
)
