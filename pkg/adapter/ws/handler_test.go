package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/marmos91/flock/internal/controlplane/api/auth"
	"github.com/marmos91/flock/pkg/engine"
	"github.com/marmos91/flock/pkg/protocol"
)

const testSecret = "test-secret-that-is-long-enough-for-hmac"

type staticValidator struct {
	sessions map[string]time.Time
}

func (v staticValidator) ValidateSession(_ context.Context, id string) (engine.SessionInfo, error) {
	expiry, ok := v.sessions[id]
	if !ok {
		return engine.SessionInfo{}, engine.ErrSessionNotFound
	}
	return engine.SessionInfo{ID: id, ExpiresAt: expiry}, nil
}

type wsTestEnv struct {
	server    *httptest.Server
	directory *engine.Directory
	tokens    *auth.JWTService
	expiry    time.Time
}

func setupWSTest(t *testing.T) *wsTestEnv {
	t.Helper()

	tokens, err := auth.NewJWTService(auth.JWTConfig{Secret: testSecret})
	if err != nil {
		t.Fatalf("failed to create JWT service: %v", err)
	}

	expiry := time.Now().Add(time.Hour)
	cfg := engine.DefaultConfig()
	cfg.AbsenceTimeout = time.Hour
	cfg.IdleGrace = time.Hour
	directory := engine.NewDirectory(cfg, nil, staticValidator{
		sessions: map[string]time.Time{"sess-1": expiry},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = directory.Shutdown(ctx, "ended_by_creator")
	})

	handler := NewHandler(directory, tokens, nil, Config{})
	r := chi.NewRouter()
	r.Get("/ws/{id}", handler.ServeHTTP)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &wsTestEnv{server: server, directory: directory, tokens: tokens, expiry: expiry}
}

func (env *wsTestEnv) wsURL(sessionID, token string) string {
	return "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/" + sessionID + "?token=" + token
}

func (env *wsTestEnv) mintToken(t *testing.T, sessionID, userID, name string) string {
	t.Helper()
	token, _, err := env.tokens.GenerateAttachmentToken(sessionID, userID, name, env.expiry)
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}
	return token
}

func (env *wsTestEnv) dial(t *testing.T, sessionID, userID, name string) *websocket.Conn {
	t.Helper()
	token := env.mintToken(t, sessionID, userID, name)
	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(sessionID, token), nil)
	if err != nil {
		t.Fatalf("dial failed for %s: %v", userID, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrame reads the next frame within a deadline.
func readFrame(t *testing.T, conn *websocket.Conn) *protocol.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	env, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return env
}

// awaitFrame skips frames until one of the wanted type arrives.
func awaitFrame(t *testing.T, conn *websocket.Conn, frameType string) *protocol.Envelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		env := readFrame(t, conn)
		if env.Type == frameType {
			return env
		}
	}
	t.Fatalf("frame %q never arrived", frameType)
	return nil
}

// drainSnapshot consumes the two snapshot frames delivered on attach.
func drainSnapshot(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	for _, want := range []string{protocol.TypeInitialParticipants, protocol.TypeInitialLocations} {
		env := readFrame(t, conn)
		if env.Type != want {
			t.Fatalf("snapshot frame = %q, want %q", env.Type, want)
		}
	}
}

func sendLocation(t *testing.T, conn *websocket.Conn, lat, lng float64, ts time.Time) {
	t.Helper()
	payload := protocol.MustEncode(protocol.TypeLocationUpdate, protocol.LocationUpdate{
		Lat: lat, Lng: lng, Accuracy: 5, Timestamp: ts,
	})
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestAttachRejectsMissingToken(t *testing.T) {
	env := setupWSTest(t)

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL("sess-1", ""), nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %v, want 401", resp)
	}
}

func TestAttachRejectsForeignToken(t *testing.T) {
	env := setupWSTest(t)

	token := env.mintToken(t, "sess-2", "u-1", "Ada")
	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL("sess-1", token), nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %v, want 403", resp)
	}
}

func TestAttachUnknownSession(t *testing.T) {
	env := setupWSTest(t)

	token := env.mintToken(t, "sess-404", "u-1", "Ada")
	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL("sess-404", token), nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %v, want 404", resp)
	}
}

func TestSnapshotOnAttach(t *testing.T) {
	env := setupWSTest(t)

	conn := env.dial(t, "sess-1", "u-1", "Ada")
	drainSnapshot(t, conn)
}

func TestLocationFanout(t *testing.T) {
	env := setupWSTest(t)

	ada := env.dial(t, "sess-1", "u-1", "Ada")
	drainSnapshot(t, ada)

	bob := env.dial(t, "sess-1", "u-2", "Bob")
	drainSnapshot(t, bob)

	// Ada sees Bob join.
	awaitFrame(t, ada, protocol.TypeParticipantJoined)

	sendLocation(t, ada, 45.07, 7.68, time.Now())

	env2 := awaitFrame(t, bob, protocol.TypeLocationUpdate)
	var fix protocol.LocationBroadcast
	if err := json.Unmarshal(env2.Data, &fix); err != nil {
		t.Fatalf("decode broadcast: %v", err)
	}
	if fix.UserID != "u-1" || fix.Lat != 45.07 {
		t.Errorf("unexpected broadcast: %+v", fix)
	}
}

func TestPingPong(t *testing.T) {
	env := setupWSTest(t)

	conn := env.dial(t, "sess-1", "u-1", "Ada")
	drainSnapshot(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, protocol.MustEncode(protocol.TypePing, nil)); err != nil {
		t.Fatalf("write ping failed: %v", err)
	}
	awaitFrame(t, conn, protocol.TypePong)
}

func TestInvalidLocationGetsErrorFrame(t *testing.T) {
	env := setupWSTest(t)

	conn := env.dial(t, "sess-1", "u-1", "Ada")
	drainSnapshot(t, conn)

	sendLocation(t, conn, 123.0, 7.68, time.Now())

	env2 := awaitFrame(t, conn, protocol.TypeError)
	var errFrame protocol.ErrorFrame
	if err := json.Unmarshal(env2.Data, &errFrame); err != nil {
		t.Fatalf("decode error frame: %v", err)
	}
	if errFrame.Code != protocol.CodeInvalidLocation {
		t.Errorf("error code = %q, want invalid_location", errFrame.Code)
	}
}

func TestStaleLocationDroppedSilently(t *testing.T) {
	env := setupWSTest(t)

	ada := env.dial(t, "sess-1", "u-1", "Ada")
	drainSnapshot(t, ada)
	bob := env.dial(t, "sess-1", "u-2", "Bob")
	drainSnapshot(t, bob)
	awaitFrame(t, ada, protocol.TypeParticipantJoined)

	ts := time.Now()
	sendLocation(t, ada, 45.07, 7.68, ts)
	awaitFrame(t, bob, protocol.TypeLocationUpdate)

	// Same timestamp again: a replay. Bob must not see a second fix.
	sendLocation(t, ada, 45.99, 7.99, ts)
	sendLocation(t, ada, 46.00, 8.00, ts.Add(time.Second))

	env2 := awaitFrame(t, bob, protocol.TypeLocationUpdate)
	var fix protocol.LocationBroadcast
	if err := json.Unmarshal(env2.Data, &fix); err != nil {
		t.Fatalf("decode broadcast: %v", err)
	}
	if fix.Lat != 46.00 {
		t.Errorf("replayed fix leaked through: %+v", fix)
	}
}

func TestMalformedFloodDisconnects(t *testing.T) {
	env := setupWSTest(t)

	ada := env.dial(t, "sess-1", "u-1", "Ada")
	drainSnapshot(t, ada)
	bob := env.dial(t, "sess-1", "u-2", "Bob")
	drainSnapshot(t, bob)
	awaitFrame(t, ada, protocol.TypeParticipantJoined)

	for i := 0; i < 5; i++ {
		if err := bob.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}

	// Ada is told Bob was kicked.
	env2 := awaitFrame(t, ada, protocol.TypeParticipantLeft)
	var left protocol.ParticipantLeft
	if err := json.Unmarshal(env2.Data, &left); err != nil {
		t.Fatalf("decode participant_left: %v", err)
	}
	if left.UserID != "u-2" || left.Reason != protocol.LeftReasonProtocolError {
		t.Errorf("unexpected departure: %+v", left)
	}

	// Bob's connection closes after the error frames.
	_ = bob.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := bob.ReadMessage()
		if err != nil {
			return
		}
		frame, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if frame.Type != protocol.TypeError {
			t.Fatalf("unexpected frame before close: %q", frame.Type)
		}
	}
}

func TestSessionEndDeliversFinalFrame(t *testing.T) {
	env := setupWSTest(t)

	conn := env.dial(t, "sess-1", "u-1", "Ada")
	drainSnapshot(t, conn)

	coordinator, ok := env.directory.Get("sess-1")
	if !ok {
		t.Fatal("coordinator not running")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := coordinator.End(ctx, protocol.ReasonEndedByCreator); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	env2 := awaitFrame(t, conn, protocol.TypeSessionEnded)
	var ended protocol.SessionEnded
	if err := json.Unmarshal(env2.Data, &ended); err != nil {
		t.Fatalf("decode session_ended: %v", err)
	}
	if ended.Reason != protocol.ReasonEndedByCreator {
		t.Errorf("reason = %q, want ended_by_creator", ended.Reason)
	}

	// The server closes the connection after the final frame.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection to close after session_ended")
	}
}

func TestAttachEmitsHandshakeSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	env := setupWSTest(t)
	conn := env.dial(t, "sess-1", "u-1", "Ada")
	drainSnapshot(t, conn)

	var attachSpan sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		if s.Name() == "ws.attach" {
			attachSpan = s
		}
	}
	if attachSpan == nil {
		t.Fatal("no ws.attach span recorded")
	}

	attrs := map[string]string{}
	for _, attr := range attachSpan.Attributes() {
		attrs[string(attr.Key)] = attr.Value.AsString()
	}
	if attrs["session.id"] != "sess-1" || attrs["session.user_id"] != "u-1" {
		t.Errorf("unexpected span attributes: %v", attrs)
	}
}

func TestReattachSupersedesOldConnection(t *testing.T) {
	env := setupWSTest(t)

	first := env.dial(t, "sess-1", "u-1", "Ada")
	drainSnapshot(t, first)

	second := env.dial(t, "sess-1", "u-1", "Ada")
	drainSnapshot(t, second)

	// The first connection is told it was superseded and closed.
	env2 := awaitFrame(t, first, protocol.TypeSessionEnded)
	var ended protocol.SessionEnded
	if err := json.Unmarshal(env2.Data, &ended); err != nil {
		t.Fatalf("decode session_ended: %v", err)
	}
	if ended.Reason != protocol.ReasonSuperseded {
		t.Errorf("reason = %q, want superseded", ended.Reason)
	}

	// The second connection still works.
	if err := second.WriteMessage(websocket.TextMessage, protocol.MustEncode(protocol.TypePing, nil)); err != nil {
		t.Fatalf("write ping failed: %v", err)
	}
	awaitFrame(t, second, protocol.TypePong)
}
