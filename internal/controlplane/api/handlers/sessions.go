package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/marmos91/flock/internal/controlplane/api/auth"
	"github.com/marmos91/flock/internal/logger"
	"github.com/marmos91/flock/internal/telemetry"
	"github.com/marmos91/flock/pkg/controlplane/models"
	"github.com/marmos91/flock/pkg/controlplane/store"
	"github.com/marmos91/flock/pkg/engine"
	"github.com/marmos91/flock/pkg/protocol"
)

// SessionHandler handles session lifecycle API endpoints.
type SessionHandler struct {
	store     store.Store
	tokens    *auth.JWTService
	directory *engine.Directory
	baseURL   string
}

// NewSessionHandler creates a new SessionHandler.
//
// baseURL is the public base URL clients reach the server at, used to
// build join links and WebSocket URLs (e.g. "https://flock.example.com").
func NewSessionHandler(cpStore store.Store, tokens *auth.JWTService, directory *engine.Directory, baseURL string) *SessionHandler {
	return &SessionHandler{
		store:     cpStore,
		tokens:    tokens,
		directory: directory,
		baseURL:   strings.TrimRight(baseURL, "/"),
	}
}

// CreateSessionRequest is the request body for POST /api/v1/sessions.
type CreateSessionRequest struct {
	Name             string `json:"name,omitempty"`
	ExpiresInMinutes int    `json:"expires_in_minutes,omitempty"`
}

// CreateSessionResponse is the response body for session creation.
type CreateSessionResponse struct {
	SessionID    string    `json:"session_id"`
	Name         string    `json:"name"`
	JoinLink     string    `json:"join_link"`
	CreatorToken string    `json:"creator_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// SessionResponse is the response body for session lookups.
type SessionResponse struct {
	SessionID        string     `json:"session_id"`
	Name             string     `json:"name"`
	IsActive         bool       `json:"is_active"`
	EndedReason      string     `json:"ended_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	ParticipantCount int64      `json:"participant_count"`
}

// JoinSessionRequest is the request body for POST /api/v1/sessions/{id}/join.
type JoinSessionRequest struct {
	DisplayName string `json:"display_name"`
	AvatarColor string `json:"avatar_color,omitempty"`
}

// JoinSessionResponse is the response body for joining a session.
type JoinSessionResponse struct {
	UserID         string    `json:"user_id"`
	DisplayName    string    `json:"display_name"`
	AvatarColor    string    `json:"avatar_color"`
	WebSocketToken string    `json:"websocket_token"`
	WebSocketURL   string    `json:"websocket_url"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// ParticipantResponse is the response body for participant listings.
type ParticipantResponse struct {
	UserID      string     `json:"user_id"`
	DisplayName string     `json:"display_name"`
	AvatarColor string     `json:"avatar_color"`
	JoinedAt    time.Time  `json:"joined_at"`
	LastSeen    time.Time  `json:"last_seen"`
	IsActive    bool       `json:"is_active"`
	LeftAt      *time.Time `json:"left_at,omitempty"`
}

// Create handles POST /api/v1/sessions.
// Creates a new session and mints the creator's management token.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.StartSpan(r.Context(), "api.session.create")
	defer span.End()

	var req CreateSessionRequest
	if r.ContentLength != 0 && !decodeJSONBody(w, r, &req) {
		return
	}

	if req.ExpiresInMinutes < 0 {
		BadRequest(w, "expires_in_minutes must not be negative")
		return
	}
	if req.ExpiresInMinutes > models.MaxSessionDurationMinutes {
		BadRequest(w, fmt.Sprintf("expires_in_minutes must be at most %d", models.MaxSessionDurationMinutes))
		return
	}
	minutes := req.ExpiresInMinutes
	if minutes == 0 {
		minutes = models.DefaultSessionDurationMinutes
	}

	session := &models.Session{
		Name:      models.SanitizeSessionName(req.Name),
		CreatorID: uuid.New().String(),
		ExpiresAt: time.Now().Add(time.Duration(minutes) * time.Minute),
	}

	if _, err := h.store.CreateSession(ctx, session); err != nil {
		telemetry.RecordError(ctx, err)
		logger.Error("Failed to create session", logger.Err(err))
		InternalServerError(w, "Failed to create session")
		return
	}
	telemetry.SetAttributes(ctx, attribute.String(telemetry.AttrSessionID, session.ID))

	creatorToken, _, err := h.tokens.GenerateCreatorToken(session.ID, session.CreatorID, session.ExpiresAt)
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.Error("Failed to mint creator token", logger.SessionID(session.ID), logger.Err(err))
		InternalServerError(w, "Failed to create session")
		return
	}

	logger.Info("Session created",
		logger.SessionID(session.ID),
		"name", session.Name,
		"expires_at", session.ExpiresAt.Format(time.RFC3339),
	)

	WriteJSONCreated(w, CreateSessionResponse{
		SessionID:    session.ID,
		Name:         session.Name,
		JoinLink:     h.baseURL + "/join/" + session.ID,
		CreatorToken: creatorToken,
		ExpiresAt:    session.ExpiresAt,
	})
}

// Get handles GET /api/v1/sessions/{id}.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	session, err := h.store.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			NotFound(w, "Session not found")
			return
		}
		InternalServerError(w, "Failed to get session")
		return
	}

	count, err := h.store.CountParticipants(r.Context(), id)
	if err != nil {
		InternalServerError(w, "Failed to get session")
		return
	}

	WriteJSONOK(w, sessionToResponse(session, count))
}

// Join handles POST /api/v1/sessions/{id}/join.
//
// Mints a participant identity and the WebSocket token needed to attach.
// Joining is only allowed while the session is live.
func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, span := telemetry.StartSessionSpan(r.Context(), "api.session.join", id)
	defer span.End()

	var req JoinSessionRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	displayName := models.SanitizeDisplayName(req.DisplayName)
	if displayName == "" {
		BadRequest(w, "display_name is required")
		return
	}

	avatarColor := req.AvatarColor
	if avatarColor == "" {
		avatarColor = models.GenerateAvatarColor()
	} else if !models.IsValidHexColor(avatarColor) {
		BadRequest(w, "avatar_color must be a #RRGGBB hex color")
		return
	}

	session, err := h.store.GetLiveSession(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrSessionNotFound):
			NotFound(w, "Session not found")
		case errors.Is(err, models.ErrSessionEnded), errors.Is(err, models.ErrSessionExpired):
			Gone(w, "Session is no longer live")
		default:
			InternalServerError(w, "Failed to join session")
		}
		return
	}

	participant := &models.Participant{
		SessionID:   session.ID,
		UserID:      uuid.New().String(),
		DisplayName: displayName,
		AvatarColor: avatarColor,
	}
	if _, err := h.store.AddParticipant(ctx, participant); err != nil {
		if errors.Is(err, models.ErrSessionFull) {
			Conflict(w, fmt.Sprintf("Session is full (max %d participants)", models.MaxParticipantsPerSession))
			return
		}
		telemetry.RecordError(ctx, err)
		logger.Error("Failed to add participant", logger.SessionID(session.ID), logger.Err(err))
		InternalServerError(w, "Failed to join session")
		return
	}
	telemetry.SetAttributes(ctx, attribute.String(telemetry.AttrUserID, participant.UserID))

	token, expiresAt, err := h.tokens.GenerateAttachmentToken(session.ID, participant.UserID, displayName, session.ExpiresAt)
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.Error("Failed to mint attachment token", logger.SessionID(session.ID), logger.Err(err))
		InternalServerError(w, "Failed to join session")
		return
	}

	logger.Info("Participant joined session",
		logger.SessionID(session.ID),
		logger.UserID(participant.UserID),
		"display_name", displayName,
	)

	WriteJSONOK(w, JoinSessionResponse{
		UserID:         participant.UserID,
		DisplayName:    displayName,
		AvatarColor:    avatarColor,
		WebSocketToken: token,
		WebSocketURL:   h.websocketURL(session.ID, token),
		ExpiresAt:      expiresAt,
	})
}

// End handles DELETE /api/v1/sessions/{id}.
//
// Requires the creator token minted at session creation. The in-memory
// coordinator is ended first so attached clients receive a final
// session_ended frame, then the session is marked ended in the store.
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, span := telemetry.StartSessionSpan(r.Context(), "api.session.end", id)
	defer span.End()

	token := bearerToken(r)
	if token == "" {
		Unauthorized(w, "Creator token required")
		return
	}
	if _, err := h.tokens.ValidateCreatorToken(token, id); err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidTokenType), errors.Is(err, auth.ErrSessionMismatch):
			Forbidden(w, "Token does not authorize ending this session")
		default:
			Unauthorized(w, "Invalid creator token")
		}
		return
	}

	if _, err := h.store.GetSession(ctx, id); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			NotFound(w, "Session not found")
			return
		}
		InternalServerError(w, "Failed to end session")
		return
	}

	if coordinator, ok := h.directory.Get(id); ok {
		if err := coordinator.End(ctx, protocol.ReasonEndedByCreator); err != nil && !errors.Is(err, engine.ErrSessionEnded) {
			logger.Warn("Failed to end session coordinator", logger.SessionID(id), logger.Err(err))
		}
	}

	if err := h.store.EndSession(ctx, id, protocol.ReasonEndedByCreator); err != nil {
		telemetry.RecordError(ctx, err)
		logger.Error("Failed to end session", logger.SessionID(id), logger.Err(err))
		InternalServerError(w, "Failed to end session")
		return
	}

	logger.Info("Session ended by creator", logger.SessionID(id))
	WriteNoContent(w)
}

// Participants handles GET /api/v1/sessions/{id}/participants.
func (h *SessionHandler) Participants(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.store.GetSession(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			NotFound(w, "Session not found")
			return
		}
		InternalServerError(w, "Failed to list participants")
		return
	}

	participants, err := h.store.ListParticipants(r.Context(), id)
	if err != nil {
		InternalServerError(w, "Failed to list participants")
		return
	}

	response := make([]ParticipantResponse, len(participants))
	for i, p := range participants {
		response[i] = ParticipantResponse{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			AvatarColor: p.AvatarColor,
			JoinedAt:    p.JoinedAt,
			LastSeen:    p.LastSeen,
			IsActive:    p.IsActive,
			LeftAt:      p.LeftAt,
		}
	}

	WriteJSONOK(w, response)
}

// websocketURL builds the attachment URL for a session, rewriting the
// public base URL to the matching WebSocket scheme.
func (h *SessionHandler) websocketURL(sessionID, token string) string {
	base := h.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return fmt.Sprintf("%s/ws/%s?token=%s", base, sessionID, url.QueryEscape(token))
}

func sessionToResponse(s *models.Session, participantCount int64) SessionResponse {
	return SessionResponse{
		SessionID:        s.ID,
		Name:             s.Name,
		IsActive:         s.IsActive,
		EndedReason:      s.EndedReason,
		CreatedAt:        s.CreatedAt,
		ExpiresAt:        s.ExpiresAt,
		EndedAt:          s.EndedAt,
		ParticipantCount: participantCount,
	}
}
