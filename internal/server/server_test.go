package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/joeyhaverhals/jhpc-new/internal/authclient"
	"github.com/joeyhaverhals/jhpc-new/internal/policystore"
	"github.com/joeyhaverhals/jhpc-new/internal/ratelimit"
	"github.com/joeyhaverhals/jhpc-new/internal/session"
	"github.com/joeyhaverhals/jhpc-new/internal/usertoken"
	"github.com/joeyhaverhals/jhpc-new/pkg/domain"
	"github.com/joeyhaverhals/jhpc-new/pkg/gate"
)

// authStub serves /auth/me, mapping bearer tokens to users.
func authStub(t *testing.T, users map[string]domain.User) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/me" {
			http.NotFound(w, r)
			return
		}
		token := r.Header.Get("Authorization")
		user, ok := users[token]
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
			return
		}
		_ = json.NewEncoder(w).Encode(user)
	}))
}

func localPolicy(t *testing.T, store policystore.Store, webhookURL string) {
	t.Helper()
	err := store.SavePolicy(domain.AccessPolicy{
		Status:       domain.StatusActive,
		AllowedRoles: []domain.UserRole{domain.RoleAdmin, domain.RoleEditor},
		Provider:     domain.ProviderLocal,
		APIConfig:    domain.APIConfig{WebhookURL: webhookURL},
	})
	if err != nil {
		t.Fatalf("save policy: %v", err)
	}
}

type fixture struct {
	store  *policystore.MemoryStore
	server *httptest.Server
}

func newFixture(t *testing.T, limiter *ratelimit.FixedWindowLimiter) *fixture {
	t.Helper()
	auth := authStub(t, map[string]domain.User{
		"Bearer token-alex": {ID: "alex", Role: domain.RoleAdmin},
		"Bearer token-sam":  {ID: "sam", Role: domain.RoleEditor},
	})
	t.Cleanup(auth.Close)

	store := policystore.NewMemoryStore()
	srv := httptest.NewServer(New(Config{
		Sessions: session.NewManager(time.Minute),
		Policies: store,
		Auth:     authclient.NewClient(auth.URL),
		Limiter:  limiter,
	}).Router())
	t.Cleanup(srv.Close)
	return &fixture{store: store, server: srv}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, buf.Bytes()
}

func (f *fixture) createSession(t *testing.T, token string) string {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/api/chat/sessions", token, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session: status %d, body %s", resp.StatusCode, body)
	}
	var out map[string]string
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out["sessionId"]
}

func TestAccessProbe(t *testing.T) {
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
	}))
	defer webhook.Close()

	f := newFixture(t, nil)

	// No policy configured yet.
	resp, body := f.do(t, http.MethodGet, "/api/chat/access", "token-alex", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var decision gate.Decision
	if err := json.Unmarshal(body, &decision); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decision.Allowed || decision.Reason != gate.ReasonUnavailable {
		t.Fatalf("decision = %+v", decision)
	}

	// Policy saved; the next probe sees it immediately.
	localPolicy(t, f.store, webhook.URL)
	_, body = f.do(t, http.MethodGet, "/api/chat/access", "token-alex", nil)
	if err := json.Unmarshal(body, &decision); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("decision = %+v", decision)
	}
}

func TestSubmitRoundTripOverLocalWebhook(t *testing.T) {
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("webhook call must be unauthenticated, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "hello from the model"})
	}))
	defer webhook.Close()

	f := newFixture(t, nil)
	localPolicy(t, f.store, webhook.URL)

	id := f.createSession(t, "token-alex")
	resp, body := f.do(t, http.MethodPost, "/api/chat/sessions/"+id+"/messages", "token-alex",
		map[string]string{"message": "hi"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit: status %d, body %s", resp.StatusCode, body)
	}
	var out struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Messages) != 2 {
		t.Fatalf("messages = %+v", out.Messages)
	}
	if out.Messages[1].Role != domain.MessageRoleAssistant || out.Messages[1].Content != "hello from the model" {
		t.Fatalf("assistant = %+v", out.Messages[1])
	}

	// Transcript visible on the list endpoint.
	_, body = f.do(t, http.MethodGet, "/api/chat/sessions/"+id+"/messages", "token-alex", nil)
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Messages) != 2 {
		t.Fatalf("transcript = %+v", out.Messages)
	}
}

func TestSubmitDispatchFailureShowsSystemMessage(t *testing.T) {
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer webhook.Close()

	f := newFixture(t, nil)
	localPolicy(t, f.store, webhook.URL)

	id := f.createSession(t, "token-alex")
	resp, body := f.do(t, http.MethodPost, "/api/chat/sessions/"+id+"/messages", "token-alex",
		map[string]string{"message": "hi"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit: status %d", resp.StatusCode)
	}
	var out struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Messages[1].Role != domain.MessageRoleSystem {
		t.Fatalf("expected system message, got %+v", out.Messages[1])
	}
}

func TestSessionDeniedAndValidationStatuses(t *testing.T) {
	f := newFixture(t, nil)

	// No policy: session creation is forbidden as unavailable.
	resp, _ := f.do(t, http.MethodPost, "/api/chat/sessions", "token-alex", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("no-policy create: status %d", resp.StatusCode)
	}

	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
	}))
	defer webhook.Close()
	localPolicy(t, f.store, webhook.URL)

	id := f.createSession(t, "token-alex")

	// Blank message.
	resp, _ = f.do(t, http.MethodPost, "/api/chat/sessions/"+id+"/messages", "token-alex",
		map[string]string{"message": "   "})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("blank message: status %d", resp.StatusCode)
	}

	// Policy disabled after session creation: submit re-checks the gate.
	if err := f.store.SavePolicy(domain.AccessPolicy{
		Status:       domain.StatusDisabled,
		AllowedRoles: []domain.UserRole{domain.RoleAdmin},
		Provider:     domain.ProviderLocal,
		APIConfig:    domain.APIConfig{WebhookURL: webhook.URL},
	}); err != nil {
		t.Fatalf("save policy: %v", err)
	}
	resp, body := f.do(t, http.MethodPost, "/api/chat/sessions/"+id+"/messages", "token-alex",
		map[string]string{"message": "hi"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("disabled policy: status %d, body %s", resp.StatusCode, body)
	}
}

func TestSessionOwnership(t *testing.T) {
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
	}))
	defer webhook.Close()

	f := newFixture(t, nil)
	localPolicy(t, f.store, webhook.URL)

	id := f.createSession(t, "token-alex")
	resp, _ := f.do(t, http.MethodGet, "/api/chat/sessions/"+id+"/messages", "token-sam", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign session read: status %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodDelete, "/api/chat/sessions/"+id, "token-sam", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign session delete: status %d", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodDelete, "/api/chat/sessions/"+id, "token-alex", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("owner delete: status %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodGet, "/api/chat/sessions/"+id+"/messages", "token-alex", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted session read: status %d", resp.StatusCode)
	}
}

func TestUnauthorizedWithoutToken(t *testing.T) {
	f := newFixture(t, nil)
	resp, _ := f.do(t, http.MethodGet, "/api/chat/access", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodGet, "/api/chat/access", "unknown-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestTokenVerifierBlocksForgedTokensBeforeAuthMe(t *testing.T) {
	authCalls := 0
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCalls++
		_ = json.NewEncoder(w).Encode(domain.User{ID: "alex", Role: domain.RoleAdmin})
	}))
	defer auth.Close()

	verifier, err := usertoken.NewVerifier(usertoken.Config{Secret: "unit-secret", Issuer: "jhpc-auth"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	srv := httptest.NewServer(New(Config{
		Sessions:      session.NewManager(time.Minute),
		Policies:      policystore.NewMemoryStore(),
		Auth:          authclient.NewClient(auth.URL),
		TokenVerifier: verifier,
	}).Router())
	defer srv.Close()

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "jhpc-auth",
		Subject:   "alex",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("wrong-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/chat/access", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if authCalls != 0 {
		t.Fatalf("auth/me called %d times for a forged token", authCalls)
	}
}

func TestSubmitRateLimited(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(redis.Addr(), "", "test:chat", 1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
	}))
	defer webhook.Close()

	f := newFixture(t, limiter)
	localPolicy(t, f.store, webhook.URL)

	id := f.createSession(t, "token-alex")
	resp, _ := f.do(t, http.MethodPost, "/api/chat/sessions/"+id+"/messages", "token-alex",
		map[string]string{"message": "one"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first submit: status %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodPost, "/api/chat/sessions/"+id+"/messages", "token-alex",
		map[string]string{"message": "two"})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second submit: status %d", resp.StatusCode)
	}
}
