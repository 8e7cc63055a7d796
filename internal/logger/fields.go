package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so logs can be
// aggregated and queried by session, participant, and connection.
const (
	// Distributed tracing
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// Session & participant
	KeySessionID   = "session_id"   // Session identifier (UUID)
	KeyUserID      = "user_id"      // Participant identifier within a session
	KeyDisplayName = "display_name" // Participant display name
	KeyReason      = "reason"       // Lifecycle reason: expired, ended_by_creator, timeout, ...
	KeyState       = "state"        // Coordinator state: active, ending, ended

	// Connection
	KeyClientIP   = "client_ip"   // Client IP address
	KeyRemoteAddr = "remote_addr" // Full remote address (IP:port)
	KeyFrameType  = "frame_type"  // Wire frame type: location_update, ping, ...
	KeyQueueDepth = "queue_depth" // Outbound queue depth at time of logging

	// Operation metadata
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyCount      = "count"       // Generic count (participants, frames, rows)
	KeyRequestID  = "request_id"  // HTTP request ID from chi middleware
)

// Field constructors for type safety.

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// SessionID returns a slog.Attr for a session identifier
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// UserID returns a slog.Attr for a participant identifier
func UserID(id string) slog.Attr {
	return slog.String(KeyUserID, id)
}

// DisplayName returns a slog.Attr for a participant display name
func DisplayName(name string) slog.Attr {
	return slog.String(KeyDisplayName, name)
}

// Reason returns a slog.Attr for a lifecycle reason
func Reason(r string) slog.Attr {
	return slog.String(KeyReason, r)
}

// State returns a slog.Attr for a coordinator state
func State(s string) slog.Attr {
	return slog.String(KeyState, s)
}

// ClientIP returns a slog.Attr for client IP address
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// RemoteAddr returns a slog.Attr for the full remote address
func RemoteAddr(addr string) slog.Attr {
	return slog.String(KeyRemoteAddr, addr)
}

// FrameType returns a slog.Attr for a wire frame type
func FrameType(t string) slog.Attr {
	return slog.String(KeyFrameType, t)
}

// QueueDepth returns a slog.Attr for an outbound queue depth
func QueueDepth(n int) slog.Attr {
	return slog.Int(KeyQueueDepth, n)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Count returns a slog.Attr for a generic count
func Count(n int) slog.Attr {
	return slog.Int(KeyCount, n)
}

// RequestID returns a slog.Attr for an HTTP request ID
func RequestID(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}
