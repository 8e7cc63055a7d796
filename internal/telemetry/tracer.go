package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for session operations.
// These follow OpenTelemetry semantic conventions where applicable.
const (
	// Client attributes
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"

	// Session attributes
	AttrSessionID   = "session.id"
	AttrUserID      = "session.user_id"
	AttrFrameType   = "session.frame_type"
	AttrReason      = "session.reason"
	AttrParticipant = "session.participants"
	AttrAttached    = "session.attached"
)

// StartSessionSpan starts a span for a session-scoped operation with the
// session ID already attached.
func StartSessionSpan(ctx context.Context, name, sessionID string) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(
		attribute.String(AttrSessionID, sessionID),
	))
}

// StartParticipantSpan starts a span for an operation scoped to one
// participant of a session.
func StartParticipantSpan(ctx context.Context, name, sessionID, userID string) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(
		attribute.String(AttrSessionID, sessionID),
		attribute.String(AttrUserID, userID),
	))
}
