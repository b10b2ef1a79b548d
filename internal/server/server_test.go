package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"codeloom/internal/auth"
	"codeloom/internal/config"
)

type testEnv struct {
	server   *Server
	handler  http.Handler
	users    *fakeUserStore
	sessions *fakeSessionStore
	limiter  *fakeRateLimiter
	audit    *fakeAuditor
	mailer   *fakeMailer
	states   *fakeStateStore
	objects  *fakeObjectStore
	projects *fakeProjectStore
	chats    *fakeChatStore
	credits  *fakeCreditStore
	builder  *fakeBuilder
}

func newTestEnv() *testEnv {
	env := &testEnv{
		users:    newFakeUserStore(),
		sessions: newFakeSessionStore(),
		limiter:  newFakeRateLimiter(),
		audit:    &fakeAuditor{},
		mailer:   &fakeMailer{},
		states:   newFakeStateStore(),
		objects:  newFakeObjectStore(),
		projects: newFakeProjectStore(),
		chats:    newFakeChatStore(),
		credits:  newFakeCreditStore(),
		builder:  newFakeBuilder(),
	}

	cfg := config.Config{
		Port:           "8080",
		BaseURL:        "http://localhost:3000",
		JWTSecret:      "test-secret-test-secret-test-secret",
		AccessTokenTTL: 15 * time.Minute,
		SessionTTL:     30 * 24 * time.Hour,
		TOTPIssuer:     "codeloom-test",
		NoEmailVerify:  false,
	}

	env.server = NewServer(cfg, Deps{
		Users:       env.users,
		Sessions:    env.sessions,
		RateLimiter: env.limiter,
		Audit:       env.audit,
		Mailer:      env.mailer,
		States:      env.states,
		Objects:     env.objects,
		Projects:    env.projects,
		Chats:       env.chats,
		Credits:     env.credits,
		Builder:     env.builder,
		Tokens:      auth.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL),
		TOTP:        auth.NewTOTPService(cfg.TOTPIssuer),
		Hasher:      plainHasher{},
	})
	env.handler = env.server.Router()
	return env
}

// addVerifiedUser registers a user directly in the fake store with a
// plainHasher-compatible password hash.
func (e *testEnv) addVerifiedUser(email, password string) *auth.User {
	now := time.Now()
	hash := "plain:" + password
	u := &auth.User{
		Email:         email,
		EmailVerified: &now,
		PasswordHash:  &hash,
		Theme:         "system",
		Role:          auth.RoleUser,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	e.users.addUser(u)
	return u
}

func (e *testEnv) do(method, path string, body interface{}, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.10:52110"
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

func withRemoteAddr(addr string) func(*http.Request) {
	return func(r *http.Request) {
		r.RemoteAddr = addr
	}
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) {
		r.AddCookie(c)
	}
}

// login performs a full login and returns the access token plus the refresh
// cookie from the response.
func (e *testEnv) login(email, password string) (string, *http.Cookie) {
	rec := e.do(http.MethodPost, "/api/auth/login", map[string]interface{}{
		"email":    email,
		"password": password,
	})
	if rec.Code != http.StatusOK {
		return "", nil
	}
	var resp struct {
		AccessToken string `json:"accessToken"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return resp.AccessToken, refreshCookie(rec)
}

func refreshCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	res := http.Response{Header: rec.Header()}
	for _, c := range res.Cookies() {
		if c.Name == "refresh_token" && c.Value != "" {
			return c
		}
	}
	return nil
}
