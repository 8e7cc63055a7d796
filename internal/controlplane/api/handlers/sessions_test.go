package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/flock/internal/controlplane/api/auth"
	"github.com/marmos91/flock/pkg/controlplane/models"
	"github.com/marmos91/flock/pkg/controlplane/store"
	"github.com/marmos91/flock/pkg/engine"
)

const testSecret = "test-secret-that-is-long-enough-for-hmac"

type sessionTestEnv struct {
	store     store.Store
	tokens    *auth.JWTService
	directory *engine.Directory
	router    chi.Router
}

type storeValidator struct {
	store store.Store
}

func (v storeValidator) ValidateSession(ctx context.Context, id string) (engine.SessionInfo, error) {
	session, err := v.store.GetLiveSession(ctx, id)
	if err != nil {
		return engine.SessionInfo{}, engine.ErrSessionNotFound
	}
	return engine.SessionInfo{ID: session.ID, ExpiresAt: session.ExpiresAt}, nil
}

func setupSessionTest(t *testing.T) *sessionTestEnv {
	t.Helper()

	cfg := &store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	}
	cpStore, err := store.New(cfg)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { cpStore.Close() })

	tokens, err := auth.NewJWTService(auth.JWTConfig{Secret: testSecret})
	if err != nil {
		t.Fatalf("failed to create JWT service: %v", err)
	}

	directory := engine.NewDirectory(engine.DefaultConfig(), nil, storeValidator{cpStore})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = directory.Shutdown(ctx, "ended_by_creator")
	})

	handler := NewSessionHandler(cpStore, tokens, directory, "https://flock.test")

	r := chi.NewRouter()
	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Post("/", handler.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", handler.Get)
			r.Delete("/", handler.End)
			r.Post("/join", handler.Join)
			r.Get("/participants", handler.Participants)
		})
	})

	return &sessionTestEnv{store: cpStore, tokens: tokens, directory: directory, router: r}
}

func (env *sessionTestEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func (env *sessionTestEnv) createSession(t *testing.T) CreateSessionResponse {
	t.Helper()
	w := env.do(t, http.MethodPost, "/api/v1/sessions", CreateSessionRequest{ExpiresInMinutes: 60}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("create session status = %d, body %s", w.Code, w.Body.String())
	}
	var resp CreateSessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode create response: %v", err)
	}
	return resp
}

func TestSessionHandlerCreate(t *testing.T) {
	env := setupSessionTest(t)

	created := env.createSession(t)
	if created.SessionID == "" {
		t.Error("expected generated session ID")
	}
	if created.Name == "" {
		t.Error("expected generated session name")
	}
	if created.CreatorToken == "" {
		t.Error("expected creator token")
	}
	if !strings.HasPrefix(created.JoinLink, "https://flock.test/join/") {
		t.Errorf("unexpected join link %q", created.JoinLink)
	}
	if until := time.Until(created.ExpiresAt); until < 55*time.Minute || until > 65*time.Minute {
		t.Errorf("unexpected expiry %v", created.ExpiresAt)
	}

	t.Run("rejects excessive duration", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/sessions",
			CreateSessionRequest{ExpiresInMinutes: models.MaxSessionDurationMinutes + 1}, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("rejects negative duration", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/sessions",
			CreateSessionRequest{ExpiresInMinutes: -1}, "")
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
		// Zero means "use the default", so the message must blame the sign.
		if !strings.Contains(w.Body.String(), "must not be negative") {
			t.Errorf("unexpected rejection detail: %s", w.Body.String())
		}
	})

	t.Run("defaults duration with empty body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201", w.Code)
		}
		var resp CreateSessionResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if until := time.Until(resp.ExpiresAt); until < 23*time.Hour || until > 25*time.Hour {
			t.Errorf("default expiry not applied: %v", resp.ExpiresAt)
		}
	})
}

func TestSessionHandlerGet(t *testing.T) {
	env := setupSessionTest(t)
	created := env.createSession(t)

	w := env.do(t, http.MethodGet, "/api/v1/sessions/"+created.SessionID, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp SessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.SessionID != created.SessionID || !resp.IsActive || resp.ParticipantCount != 0 {
		t.Errorf("unexpected session response: %+v", resp)
	}

	t.Run("unknown session", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/sessions/nonexistent", nil, "")
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != ContentTypeProblemJSON {
			t.Errorf("Content-Type = %q, want problem+json", ct)
		}
	})
}

func TestSessionHandlerJoin(t *testing.T) {
	env := setupSessionTest(t)
	created := env.createSession(t)

	w := env.do(t, http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/join",
		JoinSessionRequest{DisplayName: "  Ada  "}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("join status = %d, body %s", w.Code, w.Body.String())
	}
	var resp JoinSessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode join response: %v", err)
	}
	if resp.UserID == "" || resp.WebSocketToken == "" {
		t.Errorf("missing identity fields: %+v", resp)
	}
	if resp.DisplayName != "Ada" {
		t.Errorf("display name not sanitized: %q", resp.DisplayName)
	}
	if !models.IsValidHexColor(resp.AvatarColor) {
		t.Errorf("invalid assigned avatar color %q", resp.AvatarColor)
	}
	if !strings.HasPrefix(resp.WebSocketURL, "wss://flock.test/ws/"+created.SessionID+"?token=") {
		t.Errorf("unexpected websocket URL %q", resp.WebSocketURL)
	}

	// The minted token must validate against this session.
	claims, err := env.tokens.ValidateAttachmentToken(resp.WebSocketToken, created.SessionID)
	if err != nil {
		t.Fatalf("minted token does not validate: %v", err)
	}
	if claims.UserID != resp.UserID {
		t.Errorf("token uid = %q, want %q", claims.UserID, resp.UserID)
	}

	t.Run("requires display name", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/join",
			JoinSessionRequest{DisplayName: "   "}, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("rejects bad avatar color", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/join",
			JoinSessionRequest{DisplayName: "Bob", AvatarColor: "red"}, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/sessions/nonexistent/join",
			JoinSessionRequest{DisplayName: "Bob"}, "")
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})
}

func TestSessionHandlerEnd(t *testing.T) {
	env := setupSessionTest(t)
	created := env.createSession(t)

	t.Run("requires token", func(t *testing.T) {
		w := env.do(t, http.MethodDelete, "/api/v1/sessions/"+created.SessionID, nil, "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("rejects attachment token", func(t *testing.T) {
		token, _, err := env.tokens.GenerateAttachmentToken(created.SessionID, "u-1", "Ada", created.ExpiresAt)
		if err != nil {
			t.Fatalf("failed to mint token: %v", err)
		}
		w := env.do(t, http.MethodDelete, "/api/v1/sessions/"+created.SessionID, nil, token)
		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", w.Code)
		}
	})

	t.Run("rejects token for another session", func(t *testing.T) {
		other := env.createSession(t)
		w := env.do(t, http.MethodDelete, "/api/v1/sessions/"+created.SessionID, nil, other.CreatorToken)
		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", w.Code)
		}
	})

	w := env.do(t, http.MethodDelete, "/api/v1/sessions/"+created.SessionID, nil, created.CreatorToken)
	if w.Code != http.StatusNoContent {
		t.Fatalf("end status = %d, body %s", w.Code, w.Body.String())
	}

	session, err := env.store.GetSession(context.Background(), created.SessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session.IsActive || session.EndedReason != "ended_by_creator" {
		t.Errorf("session not marked ended: %+v", session)
	}

	t.Run("joining an ended session fails", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/join",
			JoinSessionRequest{DisplayName: "Late"}, "")
		if w.Code != http.StatusGone {
			t.Errorf("status = %d, want 410", w.Code)
		}
	})

	t.Run("ending twice is idempotent", func(t *testing.T) {
		w := env.do(t, http.MethodDelete, "/api/v1/sessions/"+created.SessionID, nil, created.CreatorToken)
		if w.Code != http.StatusNoContent {
			t.Errorf("status = %d, want 204", w.Code)
		}
	})
}

func TestSessionHandlerEndStopsCoordinator(t *testing.T) {
	env := setupSessionTest(t)
	created := env.createSession(t)

	coordinator, err := env.directory.GetOrStart(context.Background(), created.SessionID)
	if err != nil {
		t.Fatalf("GetOrStart failed: %v", err)
	}

	w := env.do(t, http.MethodDelete, "/api/v1/sessions/"+created.SessionID, nil, created.CreatorToken)
	if w.Code != http.StatusNoContent {
		t.Fatalf("end status = %d", w.Code)
	}

	select {
	case <-coordinator.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator still running after session ended")
	}
}

func TestSessionHandlerParticipants(t *testing.T) {
	env := setupSessionTest(t)
	created := env.createSession(t)

	for _, name := range []string{"Ada", "Bob"} {
		w := env.do(t, http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/join",
			JoinSessionRequest{DisplayName: name}, "")
		if w.Code != http.StatusOK {
			t.Fatalf("join %s status = %d", name, w.Code)
		}
	}

	w := env.do(t, http.MethodGet, "/api/v1/sessions/"+created.SessionID+"/participants", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("participants status = %d", w.Code)
	}
	var resp []ParticipantResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode participants: %v", err)
	}
	if len(resp) != 2 {
		t.Fatalf("participant count = %d, want 2", len(resp))
	}
	if resp[0].DisplayName != "Ada" || resp[1].DisplayName != "Bob" {
		t.Errorf("participants not in join order: %+v", resp)
	}
}

func TestSessionCapacity(t *testing.T) {
	env := setupSessionTest(t)
	created := env.createSession(t)

	for i := 0; i < models.MaxParticipantsPerSession; i++ {
		w := env.do(t, http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/join",
			JoinSessionRequest{DisplayName: "member"}, "")
		if w.Code != http.StatusOK {
			t.Fatalf("join %d status = %d", i, w.Code)
		}
	}

	w := env.do(t, http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/join",
		JoinSessionRequest{DisplayName: "overflow"}, "")
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}
