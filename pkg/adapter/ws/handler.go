// Package ws implements the WebSocket attachment endpoint.
//
// A client that has joined a session over the REST API attaches here with
// its attachment token. The connection is split into a read loop feeding
// commands to the session coordinator and a write loop draining the
// participant's outbound queue. The coordinator never blocks on a slow
// connection; all backpressure is absorbed by the bounded queue.
package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/marmos91/flock/internal/controlplane/api/auth"
	"github.com/marmos91/flock/internal/logger"
	"github.com/marmos91/flock/internal/telemetry"
	"github.com/marmos91/flock/pkg/controlplane/store"
	"github.com/marmos91/flock/pkg/engine"
)

// Handler serves GET /ws/{id}.
type Handler struct {
	directory *engine.Directory
	tokens    *auth.JWTService
	store     store.Store
	config    Config
	upgrader  websocket.Upgrader
}

// NewHandler creates the attachment endpoint.
//
// cpStore may be nil, in which case attachment state is not persisted.
func NewHandler(directory *engine.Directory, tokens *auth.JWTService, cpStore store.Store, config Config) *Handler {
	config.ApplyDefaults()
	return &Handler{
		directory: directory,
		tokens:    tokens,
		store:     cpStore,
		config:    config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Tokens gate attachment; browser origin adds nothing here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs it until either side closes.
//
// The attachment token is carried in the "token" query parameter because
// browser WebSocket clients cannot set headers.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "attachment token required", http.StatusUnauthorized)
		return
	}

	claims, err := h.tokens.ValidateAttachmentToken(token, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrSessionMismatch), errors.Is(err, auth.ErrInvalidTokenType):
			http.Error(w, "token does not authorize this session", http.StatusForbidden)
		default:
			http.Error(w, "invalid attachment token", http.StatusUnauthorized)
		}
		return
	}

	// The span covers the handshake only; the connection itself is
	// long-lived and not a single operation.
	attachCtx, span := telemetry.StartParticipantSpan(r.Context(), "ws.attach", sessionID, claims.UserID)

	coordinator, err := h.directory.GetOrStart(attachCtx, sessionID)
	if err != nil {
		telemetry.RecordError(attachCtx, err)
		span.End()
		if errors.Is(err, engine.ErrSessionNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
		} else {
			http.Error(w, "failed to start session", http.StatusInternalServerError)
		}
		return
	}

	displayName, avatarColor := h.participantIdentity(r, sessionID, claims)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		telemetry.RecordError(attachCtx, err)
		span.End()
		logger.Warn("websocket upgrade failed",
			logger.SessionID(sessionID),
			logger.UserID(claims.UserID),
			logger.Err(err))
		return
	}

	queue, err := coordinator.Attach(attachCtx, engine.AttachRequest{
		UserID:      claims.UserID,
		DisplayName: displayName,
		AvatarColor: avatarColor,
	})
	if err != nil {
		telemetry.RecordError(attachCtx, err)
		span.End()
		h.rejectAttachment(conn, sessionID, claims.UserID, err)
		return
	}

	h.setActive(attachCtx, sessionID, claims.UserID, true)
	h.touchSession(attachCtx, sessionID)
	span.End()

	c := &connection{
		handler:     h,
		conn:        conn,
		coordinator: coordinator,
		queue:       queue,
		sessionID:   sessionID,
		userID:      claims.UserID,
	}
	c.run(r.Context())
}

// participantIdentity resolves the display name and avatar color recorded
// at join time, falling back to the token claims if the store is absent.
func (h *Handler) participantIdentity(r *http.Request, sessionID string, claims *auth.Claims) (string, string) {
	if h.store != nil {
		if p, err := h.store.GetParticipant(r.Context(), sessionID, claims.UserID); err == nil {
			return p.DisplayName, p.AvatarColor
		}
	}
	return claims.DisplayName, ""
}

// rejectAttachment tells the client why the attachment failed and closes.
func (h *Handler) rejectAttachment(conn *websocket.Conn, sessionID, userID string, err error) {
	code := websocket.CloseInternalServerErr
	msg := "attachment failed"
	switch {
	case errors.Is(err, engine.ErrSessionFull):
		code, msg = websocket.ClosePolicyViolation, "session full"
	case errors.Is(err, engine.ErrSessionEnded), errors.Is(err, engine.ErrSessionNotFound):
		code, msg = websocket.CloseNormalClosure, "session ended"
	case errors.Is(err, engine.ErrOverloaded):
		code, msg = websocket.CloseTryAgainLater, "session overloaded"
	}

	logger.Info("attachment rejected",
		logger.SessionID(sessionID),
		logger.UserID(userID),
		logger.Err(err))

	deadline := time.Now().Add(h.config.WriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, msg), deadline)
	_ = conn.Close()
}

// touchSession bumps the session activity clock. Best effort.
func (h *Handler) touchSession(ctx context.Context, sessionID string) {
	if h.store == nil {
		return
	}
	if err := h.store.TouchSession(ctx, sessionID, time.Now()); err != nil {
		logger.Debug("failed to touch session activity",
			logger.SessionID(sessionID),
			logger.Err(err))
	}
}

func (h *Handler) setActive(ctx context.Context, sessionID, userID string, active bool) {
	if h.store == nil {
		return
	}
	if err := h.store.SetParticipantActive(ctx, sessionID, userID, active, time.Now()); err != nil {
		logger.Debug("failed to persist attachment state",
			logger.SessionID(sessionID),
			logger.UserID(userID),
			logger.Err(err))
	}
}
