//go:build e2e

package e2e

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/flock/internal/controlplane/api/handlers"
	"github.com/marmos91/flock/pkg/controlplane/models"
	"github.com/marmos91/flock/pkg/protocol"
)

// TestSessionExpiryEndsAttachment seeds a session that expires almost
// immediately and verifies the attached client receives session_ended{expired}.
func TestSessionExpiryEndsAttachment(t *testing.T) {
	e := newEnv(t)

	// Sub-minute expiries cannot be minted over the API, so seed the store
	// directly.
	id, err := e.store.CreateSession(context.Background(), &models.Session{
		Name:      "about to expire",
		CreatorID: "creator-e2e",
		ExpiresAt: time.Now().Add(1500 * time.Millisecond),
	})
	require.NoError(t, err)

	joined := e.join(id, "Ada")
	conn := e.dial(joined)
	drainSnapshot(t, conn)

	frame := awaitFrame(t, conn, protocol.TypeSessionEnded)
	var ended protocol.SessionEnded
	unmarshalData(t, frame, &ended)
	assert.Equal(t, protocol.ReasonExpired, ended.Reason)

	// The connection closes after the terminal frame.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, readErr := conn.ReadMessage()
	assert.Error(t, readErr)
}

// TestExpiredSessionRefusesJoin verifies an expired session answers 410 on
// join even before any cleanup sweep runs.
func TestExpiredSessionRefusesJoin(t *testing.T) {
	e := newEnv(t)

	id, err := e.store.CreateSession(context.Background(), &models.Session{
		Name:      "already expired",
		CreatorID: "creator-e2e",
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)

	resp := e.do(http.MethodPost, "/api/v1/sessions/"+id+"/join",
		handlers.JoinSessionRequest{DisplayName: "Late"}, "")
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}
