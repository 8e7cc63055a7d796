package ws

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/marmos91/flock/internal/logger"
	"github.com/marmos91/flock/pkg/engine"
	"github.com/marmos91/flock/pkg/location"
	"github.com/marmos91/flock/pkg/protocol"
)

// Teardown reasons for the read loop. LeftReason* values mean the
// participant is removed from the session, anything else just releases the
// attachment and leaves the absence timeout to decide.
const (
	reasonConnectionClosed = "connection_closed"
	reasonSessionEnded     = "session_ended"
)

// connection binds one WebSocket to one attachment.
type connection struct {
	handler     *Handler
	conn        *websocket.Conn
	coordinator *engine.Coordinator
	queue       *engine.Queue
	sessionID   string
	userID      string

	// protocol error timestamps within the sliding window
	protoErrs []time.Time
}

// run pumps the connection until either side closes, then releases the
// attachment exactly once.
//
// The write loop owns the conn for writing; the read loop replies through
// the outbound queue so the two never interleave writes. The write loop
// exits when the queue closes (detach or session end) and closes the conn,
// which in turn unblocks the read loop.
func (c *connection) run(ctx context.Context) {
	logger.Debug("attachment opened",
		logger.SessionID(c.sessionID),
		logger.UserID(c.userID))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(ctx)
	}()

	reason := c.readLoop(ctx)

	teardownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch reason {
	case protocol.LeftReasonProtocolError:
		// Misbehaving client: remove from the session entirely so the
		// others see the departure immediately.
		if err := c.coordinator.Remove(teardownCtx, c.userID, reason); err != nil &&
			!errors.Is(err, engine.ErrSessionEnded) && !errors.Is(err, engine.ErrNotParticipant) {
			logger.Warn("failed to remove participant",
				logger.SessionID(c.sessionID),
				logger.UserID(c.userID),
				logger.Err(err))
		}
		if c.handler.store != nil {
			if err := c.handler.store.MarkParticipantLeft(teardownCtx, c.sessionID, c.userID, time.Now()); err != nil {
				logger.Debug("failed to persist departure",
					logger.SessionID(c.sessionID),
					logger.UserID(c.userID),
					logger.Err(err))
			}
		}
	case reasonSessionEnded:
		// The coordinator already closed every queue.
		c.handler.setActive(teardownCtx, c.sessionID, c.userID, false)
	default:
		// A stale detach from a superseded connection must not flip the
		// persisted state of the live reattachment.
		if c.coordinator.Detach(c.userID, c.queue, reason) {
			c.handler.setActive(teardownCtx, c.sessionID, c.userID, false)
		}
	}

	<-writerDone

	logger.Debug("attachment closed",
		logger.SessionID(c.sessionID),
		logger.UserID(c.userID),
		logger.Reason(reason))
}

// writeLoop drains the outbound queue onto the wire. It is the only writer
// on the conn. Returns once the queue closes, closing the conn on the way
// out.
func (c *connection) writeLoop(ctx context.Context) {
	defer c.conn.Close()

	for {
		frame, err := c.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, engine.ErrQueueClosed) {
				deadline := time.Now().Add(c.handler.config.WriteTimeout)
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			}
			return
		}

		_ = c.conn.SetWriteDeadline(time.Now().Add(c.handler.config.WriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame.Payload); err != nil {
			logger.Debug("write failed",
				logger.SessionID(c.sessionID),
				logger.UserID(c.userID),
				logger.FrameType(frame.Type),
				logger.Err(err))
			return
		}
	}
}

// readLoop consumes client frames until the connection dies or the client
// misbehaves past the protocol error limit. Returns the teardown reason.
func (c *connection) readLoop(ctx context.Context) string {
	cfg := c.handler.config
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)

	c.conn.SetReadLimit(cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return reasonConnectionClosed
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))

		if !limiter.Allow() {
			c.pushError(protocol.CodeRateLimited, "message rate limit exceeded")
			continue
		}

		frame, err := protocol.DecodeClient(data)
		if err != nil {
			code := protocol.CodeInvalidMessageFormat
			if errors.Is(err, protocol.ErrUnknownFrameType) {
				code = protocol.CodeInvalidMessageType
			}
			c.pushError(code, err.Error())
			if c.recordProtocolError() {
				return protocol.LeftReasonProtocolError
			}
			continue
		}

		switch frame.Type {
		case protocol.TypePing:
			c.coordinator.Touch(c.userID)
			c.push(protocol.TypePong, nil)

		case protocol.TypeLocationUpdate:
			if reason := c.handleLocationUpdate(ctx, frame.LocationUpdate); reason != "" {
				return reason
			}
		}
	}
}

// handleLocationUpdate forwards a fix to the coordinator. Returns a
// non-empty teardown reason if the connection must end.
func (c *connection) handleLocationUpdate(ctx context.Context, upd *protocol.LocationUpdate) string {
	err := c.coordinator.UpdateLocation(ctx, c.userID, *upd)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrStaleLocation):
		// Out-of-order or replayed fix; drop silently.
	case errors.Is(err, location.ErrInvalidLocation):
		c.pushError(protocol.CodeInvalidLocation, err.Error())
		if c.recordProtocolError() {
			return protocol.LeftReasonProtocolError
		}
	case errors.Is(err, engine.ErrOverloaded):
		c.pushError(protocol.CodeOverloaded, "session overloaded, update dropped")
	case errors.Is(err, engine.ErrSessionEnded):
		return reasonSessionEnded
	case errors.Is(err, engine.ErrNotParticipant):
		c.pushError(protocol.CodeUnauthorized, "no longer a participant")
		return reasonConnectionClosed
	default:
		logger.Warn("location update failed",
			logger.SessionID(c.sessionID),
			logger.UserID(c.userID),
			logger.Err(err))
	}
	return ""
}

// recordProtocolError slides the window and reports whether the client has
// crossed the limit.
func (c *connection) recordProtocolError() bool {
	cfg := c.handler.config
	now := time.Now()
	cutoff := now.Add(-cfg.ProtocolErrorWindow)

	kept := c.protoErrs[:0]
	for _, t := range c.protoErrs {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.protoErrs = append(kept, now)

	if len(c.protoErrs) >= cfg.ProtocolErrorLimit {
		logger.Info("protocol error limit exceeded",
			logger.SessionID(c.sessionID),
			logger.UserID(c.userID),
			logger.Count(len(c.protoErrs)))
		return true
	}
	return false
}

// push enqueues a server frame on this connection's own outbound queue so
// the write loop delivers it in order with broadcasts.
func (c *connection) push(frameType string, payload any) {
	raw, err := protocol.Encode(frameType, payload)
	if err != nil {
		return
	}
	if _, err := c.queue.Push(engine.Frame{Type: frameType, Payload: raw}); err != nil {
		logger.Debug("reply dropped",
			logger.SessionID(c.sessionID),
			logger.UserID(c.userID),
			logger.FrameType(frameType),
			logger.QueueDepth(c.queue.Len()))
	}
}

func (c *connection) pushError(code, message string) {
	c.push(protocol.TypeError, protocol.ErrorFrame{Code: code, Message: message})
}
