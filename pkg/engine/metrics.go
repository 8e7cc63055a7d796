package engine

// Metrics receives engine instrumentation events. Implementations must be
// safe for concurrent use. A nil Metrics disables instrumentation with zero
// overhead.
type Metrics interface {
	// RecordSessionStarted is called when a coordinator worker starts.
	RecordSessionStarted()

	// RecordSessionEnded is called once per session with the terminal reason.
	RecordSessionEnded(reason string)

	// RecordParticipantJoined is called when a participant enters the registry.
	RecordParticipantJoined()

	// RecordParticipantLeft is called with "left" or "timeout" when a
	// participant is removed.
	RecordParticipantLeft(reason string)

	// RecordAttachment is called on every successful attach.
	RecordAttachment()

	// RecordDetachment is called with the detach reason, including
	// "superseded", "slow_consumer" and "client_closed".
	RecordDetachment(reason string)

	// RecordLocationUpdate is called with "accepted", "stale" or "invalid".
	RecordLocationUpdate(result string)

	// RecordBroadcast is called after a fan-out with the frame type and the
	// number of queues reached.
	RecordBroadcast(frameType string, fanout int)

	// RecordFrameDropped is called when a full queue evicts a frame.
	RecordFrameDropped(frameType string)

	// RecordCommandRejected is called when a full mailbox sheds a command.
	RecordCommandRejected(command string)
}
