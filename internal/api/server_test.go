package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/quorumhq/quorum/internal/auth"
	"github.com/quorumhq/quorum/internal/config"
	"github.com/quorumhq/quorum/internal/dispatch"
	"github.com/quorumhq/quorum/internal/registry"
	"github.com/quorumhq/quorum/internal/selector"
	"github.com/quorumhq/quorum/internal/store"
)

const (
	testJWTSecret  = "test-jwt-secret-at-least-32-chars!!"
	testHMACSecret = "test-hmac-secret-at-least-32-chars!"
)

// noneOracle selects nothing, keeping scheduled dispatches inert in tests
// that only exercise the HTTP surface.
type noneOracle struct{}

func (noneOracle) Decide(context.Context, string, []selector.Candidate) (map[string]bool, error) {
	return map[string]bool{}, nil
}

type testEnv struct {
	srv      *Server
	store    store.Store
	tokens   *auth.TokenService
	engine   *dispatch.Engine
	registry *registry.Registry
	recorded *recordingAppender
}

type recordingAppender struct {
	calls int
	ch    chan string
}

func (a *recordingAppender) AppendMessage(_ context.Context, _ uuid.UUID, _, _, text string) error {
	a.calls++
	if a.ch != nil {
		a.ch <- text
	}
	return nil
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	cfg := &config.Config{
		Server: config.ServerConfig{
			Addr:           ":0",
			AllowedOrigins: []string{"*"},
			MaxBodyBytes:   1024 * 1024,
		},
		Auth: config.AuthConfig{
			JWTSecret:  testJWTSecret,
			JWTExpiry:  config.Duration{Duration: time.Hour},
			HMACSecret: testHMACSecret,
		},
		RateLimit: config.RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
		},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry.Duration)
	verifier := auth.NewVerifier(cfg.Auth.HMACSecret)
	reg := registry.New()

	recorded := &recordingAppender{ch: make(chan string, 16)}
	disp := dispatch.New(reg, recorded, s, auth.NewSigner(cfg.Auth.HMACSecret), s, logger, dispatch.Options{InteractTimeout: time.Second})
	eng := dispatch.NewEngine(selector.New(noneOracle{}, logger), disp, s, s, logger)

	srv := NewServer(s, tokens, verifier, reg, eng, cfg, logger)
	return &testEnv{srv: srv, store: s, tokens: tokens, engine: eng, registry: reg, recorded: recorded}
}

func bearerToken(t *testing.T, env *testEnv) string {
	t.Helper()
	token, err := env.tokens.GenerateToken("user-1", "org-1")
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestHealthz(t *testing.T) {
	env := setupTestServer(t)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	env := setupTestServer(t)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz = %d", rec.Code)
	}
}

func TestInteraction_RequiresBearerToken(t *testing.T) {
	env := setupTestServer(t)
	body := bytes.NewBufferString(`{"input":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/interactions/secure/"+uuid.NewString(), body)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestInteraction_AcceptedAndScheduled(t *testing.T) {
	env := setupTestServer(t)
	token := bearerToken(t, env)

	body := bytes.NewBufferString(`{"input":"hello","available_agents":["a"]}`)
	req := httptest.NewRequest(http.MethodPost, "/interactions/secure/"+uuid.NewString(), body)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["detail"] != "request received" {
		t.Fatalf("detail = %q", resp["detail"])
	}

	if !env.engine.Drain(2 * time.Second) {
		t.Fatal("engine did not drain")
	}
	// The oracle selects nothing, but the human message must still have been
	// persisted exactly once.
	select {
	case text := <-env.recorded.ch:
		if text != "hello" {
			t.Fatalf("recorded %q, want the query text", text)
		}
	case <-time.After(time.Second):
		t.Fatal("human message never recorded")
	}
}

func TestInteraction_BadChatID(t *testing.T) {
	env := setupTestServer(t)
	token := bearerToken(t, env)

	req := httptest.NewRequest(http.MethodPost, "/interactions/secure/not-a-uuid", bytes.NewBufferString(`{"input":"x"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestInteraction_EmptyInputRejected(t *testing.T) {
	env := setupTestServer(t)
	token := bearerToken(t, env)

	req := httptest.NewRequest(http.MethodPost, "/interactions/secure/"+uuid.NewString(), bytes.NewBufferString(`{}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAgentAdmin_RequiresSignature(t *testing.T) {
	env := setupTestServer(t)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/agents/internal", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAgentAdmin_UpsertListDelete(t *testing.T) {
	env := setupTestServer(t)
	signer := auth.NewSigner(testHMACSecret)

	agent := store.Agent{ID: "billing", OrgID: "org-1", Name: "Billing", BaseURL: "http://agents.internal/billing", Enabled: true}
	body, _ := json.Marshal(agent)
	req := httptest.NewRequest(http.MethodPost, "/agents/internal", bytes.NewReader(body))
	signer.SignRequest(req)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert status = %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/agents/internal?org_id=org-1", nil)
	signer.SignRequest(req)
	rec = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var agents []store.Agent
	if err := json.Unmarshal(rec.Body.Bytes(), &agents); err != nil {
		t.Fatal(err)
	}
	if len(agents) != 1 || agents[0].ID != "billing" {
		t.Fatalf("agents = %v", agents)
	}

	req = httptest.NewRequest(http.MethodDelete, "/agents/internal/billing", nil)
	signer.SignRequest(req)
	rec = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	got, err := env.store.GetAgent(context.Background(), "billing")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("agent still present after delete")
	}
}

func TestInteractWS_RejectsUnsigned(t *testing.T) {
	env := setupTestServer(t)
	httpSrv := httptest.NewServer(env.srv.Handler())
	t.Cleanup(httpSrv.Close)

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws/secure/interact/" + uuid.NewString()
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("unsigned websocket dial succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("handshake response = %v, want 401", resp)
	}
}

func TestInteractWS_RegistersAndUnregisters(t *testing.T) {
	env := setupTestServer(t)
	httpSrv := httptest.NewServer(env.srv.Handler())
	t.Cleanup(httpSrv.Close)

	chatID := uuid.New()
	signature, payload := auth.NewSigner(testHMACSecret).Sign()
	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") +
		"/ws/secure/interact/" + chatID.String() +
		"?x-signature=" + signature + "&x-payload=" + payload

	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	waitFor(t, func() bool { _, ok := env.registry.Get(chatID); return ok })

	client.Close()
	waitFor(t, func() bool { _, ok := env.registry.Get(chatID); return !ok })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never met")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
