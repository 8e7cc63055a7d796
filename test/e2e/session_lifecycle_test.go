//go:build e2e

package e2e

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/flock/internal/controlplane/api/handlers"
	"github.com/marmos91/flock/pkg/protocol"
)

// TestSessionLifecycle walks a session from creation through join,
// participant listing and creator-initiated end.
func TestSessionLifecycle(t *testing.T) {
	e := newEnv(t)

	created := e.createSession("Saturday ride", 60)
	assert.True(t, created.ExpiresAt.After(time.Now().Add(55*time.Minute)))

	t.Run("get shows a live empty session", func(t *testing.T) {
		var got handlers.SessionResponse
		e.decode(e.do(http.MethodGet, "/api/v1/sessions/"+created.SessionID, nil, ""), http.StatusOK, &got)
		assert.Equal(t, created.SessionID, got.SessionID)
		assert.Equal(t, "Saturday ride", got.Name)
		assert.True(t, got.IsActive)
		assert.Zero(t, got.ParticipantCount)
	})

	joined := e.join(created.SessionID, "Ada")

	t.Run("participants lists the joiner", func(t *testing.T) {
		var participants []handlers.ParticipantResponse
		e.decode(e.do(http.MethodGet, "/api/v1/sessions/"+created.SessionID+"/participants", nil, ""), http.StatusOK, &participants)
		require.Len(t, participants, 1)
		assert.Equal(t, joined.UserID, participants[0].UserID)
		assert.Equal(t, "Ada", participants[0].DisplayName)
	})

	t.Run("get reflects the participant count", func(t *testing.T) {
		var got handlers.SessionResponse
		e.decode(e.do(http.MethodGet, "/api/v1/sessions/"+created.SessionID, nil, ""), http.StatusOK, &got)
		assert.EqualValues(t, 1, got.ParticipantCount)
	})

	t.Run("end requires the creator token", func(t *testing.T) {
		resp := e.do(http.MethodDelete, "/api/v1/sessions/"+created.SessionID, nil, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp = e.do(http.MethodDelete, "/api/v1/sessions/"+created.SessionID, nil, joined.WebSocketToken)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("creator ends the session", func(t *testing.T) {
		resp := e.do(http.MethodDelete, "/api/v1/sessions/"+created.SessionID, nil, created.CreatorToken)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		var got handlers.SessionResponse
		e.decode(e.do(http.MethodGet, "/api/v1/sessions/"+created.SessionID, nil, ""), http.StatusOK, &got)
		assert.False(t, got.IsActive)
		assert.Equal(t, protocol.ReasonEndedByCreator, got.EndedReason)
	})

	t.Run("joining an ended session is gone", func(t *testing.T) {
		resp := e.do(http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/join",
			handlers.JoinSessionRequest{DisplayName: "Late"}, "")
		assert.Equal(t, http.StatusGone, resp.StatusCode)
	})
}

// TestUnknownSessionRoutes verifies 404 handling for missing sessions.
func TestUnknownSessionRoutes(t *testing.T) {
	e := newEnv(t)

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/sessions/no-such-session"},
		{http.MethodGet, "/api/v1/sessions/no-such-session/participants"},
	} {
		resp := e.do(tc.method, tc.path, nil, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, tc.path)
	}

	resp := e.do(http.MethodPost, "/api/v1/sessions/no-such-session/join",
		handlers.JoinSessionRequest{DisplayName: "Ada"}, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestHealthEndpoints verifies liveness and readiness against the full stack.
func TestHealthEndpoints(t *testing.T) {
	e := newEnv(t)

	resp := e.do(http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
