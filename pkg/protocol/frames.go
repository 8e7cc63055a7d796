// Package protocol defines the JSON wire protocol spoken over a session
// attachment.
//
// Every frame is a tagged envelope {"type": "...", "data": {...}} carried as
// a single WebSocket text message. The closed set of frame types is split
// between client-to-server frames (location_update, ping) and
// server-to-client frames (everything else). Decoding validates the tag and
// the payload shape at the boundary so only well-formed frames reach the
// session coordinator.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Frame type tags.
const (
	// Client to server.
	TypeLocationUpdate = "location_update"
	TypePing           = "ping"

	// Server to client.
	TypePong                = "pong"
	TypeInitialParticipants = "initial_participants"
	TypeInitialLocations    = "initial_locations"
	TypeParticipantJoined   = "participant_joined"
	TypeParticipantLeft     = "participant_left"
	TypeSessionEnded        = "session_ended"
	TypeError               = "error"
)

// Session-ended reasons.
const (
	ReasonExpired        = "expired"
	ReasonEndedByCreator = "ended_by_creator"
	ReasonIdle           = "idle"
	ReasonSuperseded     = "superseded"
	ReasonInternalError  = "internal_error"
)

// Participant-left reasons.
const (
	LeftReasonLeft          = "left"
	LeftReasonTimeout       = "timeout"
	LeftReasonProtocolError = "protocol_error"
	LeftReasonSlowConsumer  = "slow_consumer"
)

// Error codes carried in error frames.
const (
	CodeInvalidMessageFormat = "invalid_message_format"
	CodeInvalidMessageType   = "invalid_message_type"
	CodeInvalidLocation      = "invalid_location"
	CodeRateLimited          = "rate_limited"
	CodeUnauthorized         = "unauthorized"
	CodeOverloaded           = "overloaded"
)

// ErrUnknownFrameType is returned when the envelope tag is not part of the
// client-to-server protocol.
var ErrUnknownFrameType = errors.New("unknown frame type")

// ErrMalformedFrame is returned when a frame cannot be parsed.
var ErrMalformedFrame = errors.New("malformed frame")

// Envelope is the outer wire structure of every frame.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// LocationUpdate is the payload of a client location_update frame.
type LocationUpdate struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// LocationBroadcast is the payload of a server location_update frame.
type LocationBroadcast struct {
	UserID    string    `json:"user_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// ParticipantJoined announces a new participant to the rest of the session.
type ParticipantJoined struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarColor string `json:"avatar_color"`
}

// ParticipantLeft announces a departure.
type ParticipantLeft struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

// ParticipantInfo is one entry of an initial_participants snapshot.
type ParticipantInfo struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarColor string    `json:"avatar_color"`
	LastSeen    time.Time `json:"last_seen"`
	IsActive    bool      `json:"is_active"`
}

// InitialParticipants is the participant snapshot sent on attach.
type InitialParticipants struct {
	Participants []ParticipantInfo `json:"participants"`
}

// InitialLocations is the location snapshot sent on attach.
type InitialLocations struct {
	Locations []LocationBroadcast `json:"locations"`
}

// SessionEnded is the terminal frame of a session.
type SessionEnded struct {
	Reason string `json:"reason"`
}

// ErrorFrame reports a per-frame validation failure. Non-fatal.
type ErrorFrame struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClientFrame is a decoded client-to-server frame. Exactly one payload
// pointer is non-nil for payload-carrying types.
type ClientFrame struct {
	Type           string
	LocationUpdate *LocationUpdate
}

// Encode builds the wire bytes for a frame. A nil data produces an envelope
// without a data member (used for ping/pong).
func Encode(frameType string, data any) ([]byte, error) {
	env := Envelope{Type: frameType}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", frameType, err)
		}
		env.Data = raw
	}

	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", frameType, err)
	}
	return out, nil
}

// MustEncode is Encode for payloads that cannot fail to marshal. It panics
// on error and is reserved for internally constructed frames.
func MustEncode(frameType string, data any) []byte {
	out, err := Encode(frameType, data)
	if err != nil {
		panic(err)
	}
	return out
}

// DecodeClient parses a client-to-server frame. Returns ErrMalformedFrame
// when the envelope or payload does not parse, and ErrUnknownFrameType when
// the tag is not a client frame type (including server-only tags).
func DecodeClient(data []byte) (*ClientFrame, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch env.Type {
	case TypeLocationUpdate:
		var payload LocationUpdate
		if len(env.Data) == 0 {
			return nil, fmt.Errorf("%w: location_update without data", ErrMalformedFrame)
		}
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &ClientFrame{Type: TypeLocationUpdate, LocationUpdate: &payload}, nil

	case TypePing:
		return &ClientFrame{Type: TypePing}, nil

	case "":
		return nil, fmt.Errorf("%w: missing type tag", ErrMalformedFrame)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, env.Type)
	}
}

// Decode parses any frame envelope. Used by tests and clients to inspect
// server-to-client traffic.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type tag", ErrMalformedFrame)
	}
	return &env, nil
}

// IsPriority reports whether a frame type is a lifecycle frame that must
// never be silently dropped from an outbound queue.
func IsPriority(frameType string) bool {
	switch frameType {
	case TypeParticipantJoined, TypeParticipantLeft, TypeSessionEnded:
		return true
	}
	return false
}
