//go:build e2e

// Package e2e contains end-to-end tests that exercise the full flock stack
// in-process: REST API, token minting, the session engine and the WebSocket
// attachment endpoint, backed by a throwaway SQLite store.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/flock/internal/controlplane/api/auth"
	"github.com/marmos91/flock/internal/controlplane/api/handlers"
	"github.com/marmos91/flock/pkg/adapter/ws"
	"github.com/marmos91/flock/pkg/controlplane"
	"github.com/marmos91/flock/pkg/controlplane/api"
	"github.com/marmos91/flock/pkg/controlplane/store"
	"github.com/marmos91/flock/pkg/engine"
	"github.com/marmos91/flock/pkg/protocol"
)

const testSecret = "e2e-test-secret-that-is-long-enough-for-hmac"

// env is a fully wired in-process flock server.
type env struct {
	t         *testing.T
	server    *httptest.Server
	store     store.Store
	directory *engine.Directory
	tokens    *auth.JWTService
	client    *http.Client
}

// newEnv starts an in-process server with a temp SQLite store.
//
// Engine timers that would interfere with assertions (idle grace, absence
// timeout) are set far in the future.
func newEnv(t *testing.T) *env {
	t.Helper()

	cpStore, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "flock.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cpStore.Close() })

	tokens, err := auth.NewJWTService(auth.JWTConfig{Secret: testSecret})
	require.NoError(t, err)

	engineCfg := engine.DefaultConfig()
	engineCfg.IdleGrace = time.Hour
	engineCfg.AbsenceTimeout = time.Hour

	directory := engine.NewDirectory(engineCfg, nil, controlplane.NewEngineValidator(cpStore))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = directory.Shutdown(ctx, protocol.ReasonInternalError)
	})

	wsHandler := ws.NewHandler(directory, tokens, cpStore, ws.Config{})

	// The join response embeds absolute URLs, so the router needs the final
	// base URL before the server starts. Grab the listener address first.
	srv := httptest.NewUnstartedServer(nil)
	baseURL := "http://" + srv.Listener.Addr().String()

	srv.Config.Handler = api.NewRouter(api.Deps{
		Store:     cpStore,
		Directory: directory,
		Tokens:    tokens,
		WS:        wsHandler,
		BaseURL:   baseURL,
	})
	srv.Start()
	t.Cleanup(srv.Close)

	return &env{
		t:         t,
		server:    srv,
		store:     cpStore,
		directory: directory,
		tokens:    tokens,
		client:    srv.Client(),
	}
}

// do performs an HTTP request against the in-process server.
func (e *env) do(method, path string, body any, token string) *http.Response {
	e.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(e.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.client.Do(req)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// decode unmarshals a response body into v and requires the given status.
func (e *env) decode(resp *http.Response, wantStatus int, v any) {
	e.t.Helper()
	require.Equal(e.t, wantStatus, resp.StatusCode)
	if v != nil {
		require.NoError(e.t, json.NewDecoder(resp.Body).Decode(v))
	}
}

// createSession creates a session and returns the create response.
func (e *env) createSession(name string, minutes int) handlers.CreateSessionResponse {
	e.t.Helper()
	resp := e.do(http.MethodPost, "/api/v1/sessions", handlers.CreateSessionRequest{
		Name:             name,
		ExpiresInMinutes: minutes,
	}, "")
	var created handlers.CreateSessionResponse
	e.decode(resp, http.StatusCreated, &created)
	require.NotEmpty(e.t, created.SessionID)
	require.NotEmpty(e.t, created.CreatorToken)
	return created
}

// join joins a session and returns the join response.
func (e *env) join(sessionID, displayName string) handlers.JoinSessionResponse {
	e.t.Helper()
	resp := e.do(http.MethodPost, "/api/v1/sessions/"+sessionID+"/join", handlers.JoinSessionRequest{
		DisplayName: displayName,
	}, "")
	var joined handlers.JoinSessionResponse
	e.decode(resp, http.StatusOK, &joined)
	require.NotEmpty(e.t, joined.UserID)
	require.NotEmpty(e.t, joined.WebSocketURL)
	return joined
}

// dial opens a WebSocket attachment using the URL minted by join.
func (e *env) dial(joined handlers.JoinSessionResponse) *websocket.Conn {
	e.t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(e.wsURLFor(joined), nil)
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	require.NoError(e.t, err)
	e.t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readFrame reads one frame with a deadline.
func readFrame(t *testing.T, conn *websocket.Conn) *protocol.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Decode(data)
	require.NoError(t, err)
	return env
}

// awaitFrame reads frames until one of the wanted type arrives.
func awaitFrame(t *testing.T, conn *websocket.Conn, frameType string) *protocol.Envelope {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		frame := readFrame(t, conn)
		if frame.Type == frameType {
			return frame
		}
	}
	t.Fatalf("no %s frame before deadline", frameType)
	return nil
}

// drainSnapshot consumes the initial_participants and initial_locations
// frames every attachment receives first.
func drainSnapshot(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	first := readFrame(t, conn)
	require.Equal(t, protocol.TypeInitialParticipants, first.Type)
	second := readFrame(t, conn)
	require.Equal(t, protocol.TypeInitialLocations, second.Type)
}

// sendLocation sends a location_update frame.
func sendLocation(t *testing.T, conn *websocket.Conn, lat, lng float64, ts time.Time) {
	t.Helper()
	data, err := protocol.Encode(protocol.TypeLocationUpdate, protocol.LocationUpdate{
		Lat:       lat,
		Lng:       lng,
		Accuracy:  5,
		Timestamp: ts,
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// unmarshalData decodes a frame payload into v.
func unmarshalData(t *testing.T, frame *protocol.Envelope, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(frame.Data, v))
}

// wsURLFor is a sanity helper asserting the minted URL points at this server.
func (e *env) wsURLFor(joined handlers.JoinSessionResponse) string {
	e.t.Helper()
	want := "ws://" + strings.TrimPrefix(e.server.URL, "http://")
	require.True(e.t, strings.HasPrefix(joined.WebSocketURL, want),
		fmt.Sprintf("websocket URL %q does not target test server %q", joined.WebSocketURL, want))
	return joined.WebSocketURL
}
