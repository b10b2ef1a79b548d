package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeloom/internal/auth"
)

func TestLoginSuccessIssuesTokens(t *testing.T) {
	env := newTestEnv()
	env.addVerifiedUser("dev@example.com", "Sup3r$ecret")

	rec := env.do(http.MethodPost, "/api/auth/login", map[string]interface{}{
		"email":    "dev@example.com",
		"password": "Sup3r$ecret",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		AccessToken string `json:"accessToken"`
		SessionID   string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.SessionID)

	claims, err := env.server.Tokens.ParseAccess(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, resp.SessionID, claims.SessionID)
	assert.Equal(t, auth.RoleUser, claims.Role)

	cookie := refreshCookie(rec)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/api/auth", cookie.Path)
}

func TestLoginWrongPasswordIsGeneric(t *testing.T) {
	env := newTestEnv()
	env.addVerifiedUser("dev@example.com", "Sup3r$ecret")

	wrongPassword := env.do(http.MethodPost, "/api/auth/login", map[string]interface{}{
		"email":    "dev@example.com",
		"password": "Wr0ng-pass!",
	})
	unknownUser := env.do(http.MethodPost, "/api/auth/login", map[string]interface{}{
		"email":    "nobody@example.com",
		"password": "Wr0ng-pass!",
	})

	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownUser.Code)
	// Unknown account and bad password must be indistinguishable.
	assert.Equal(t, wrongPassword.Body.String(), unknownUser.Body.String())
}

func TestLoginLockoutPerIP(t *testing.T) {
	env := newTestEnv()
	env.addVerifiedUser("dev@example.com", "Sup3r$ecret")

	for i := 0; i < 5; i++ {
		rec := env.do(http.MethodPost, "/api/auth/login", map[string]interface{}{
			"email":    "dev@example.com",
			"password": "Wr0ng-pass!",
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	// Sixth attempt from the same IP fails with 429 even though the
	// credentials are now correct.
	rec := env.do(http.MethodPost, "/api/auth/login", map[string]interface{}{
		"email":    "dev@example.com",
		"password": "Sup3r$ecret",
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestLoginLockoutPerAccountAcrossIPs(t *testing.T) {
	env := newTestEnv()
	env.addVerifiedUser("dev@example.com", "Sup3r$ecret")

	addrs := []string{
		"203.0.113.1:1001", "203.0.113.2:1002", "203.0.113.3:1003",
		"203.0.113.4:1004", "203.0.113.5:1005",
	}
	for _, addr := range addrs {
		rec := env.do(http.MethodPost, "/api/auth/login", map[string]interface{}{
			"email":    "dev@example.com",
			"password": "Wr0ng-pass!",
		}, withRemoteAddr(addr))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	// The account window is exhausted, so a fresh IP is still rejected.
	rec := env.do(http.MethodPost, "/api/auth/login", map[string]interface{}{
		"email":    "dev@example.com",
		"password": "Sup3r$ecret",
	}, withRemoteAddr("203.0.113.99:2000"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A different account from a fresh IP is unaffected.
	env.addVerifiedUser("other@example.com", "Sup3r$ecret")
	rec = env.do(http.MethodPost, "/api/auth/login", map[string]interface{}{
		"email":    "other@example.com",
		"password": "Sup3r$ecret",
	}, withRemoteAddr("203.0.113.100:2001"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginSuccessResetsCounters(t *testing.T) {
	env := newTestEnv()
	env.addVerifiedUser("dev@example.com", "Sup3r$ecret")

	for i := 0; i < 4; i++ {
		env.do(http.MethodPost, "/api/auth/login", map[string]interface{}{
			"email":    "dev@example.com",
			"password": "Wr0ng-pass!",
		})
	}
	rec := env.do(http.MethodPost, "/api/auth/login", map[string]interface{}{
		"email":    "dev@example.com",
		"password": "Sup3r$ecret",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// Counters reset on success; the next failure starts a fresh window.
	rec = env.do(http.MethodPost, "/api/auth/login", map[string]interface{}{
		"email":    "dev@example.com",
		"password": "Wr0ng-pass!",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginUnverifiedEmailRejected(t *testing.T) {
	env := newTestEnv()
	u := env.addVerifiedUser("dev@example.com", "Sup3r$ecret")
	u.EmailVerified = nil

	rec := env.do(http.MethodPost, "/api/auth/login", map[string]interface{}{
		"email":    "dev@example.com",
		"password": "Sup3r$ecret",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "EMAIL_NOT_VERIFIED")
}

func TestRefreshRotatesToken(t *testing.T) {
	env := newTestEnv()
	env.addVerifiedUser("dev@example.com", "Sup3r$ecret")
	_, cookie := env.login("dev@example.com", "Sup3r$ecret")
	require.NotNil(t, cookie)

	first := env.do(http.MethodPost, "/api/auth/refresh", nil, withCookie(cookie))
	require.Equal(t, http.StatusOK, first.Code)
	rotated := refreshCookie(first)
	require.NotNil(t, rotated)
	assert.NotEqual(t, cookie.Value, rotated.Value)

	// The consumed token never validates a second time.
	replay := env.do(http.MethodPost, "/api/auth/refresh", nil, withCookie(cookie))
	assert.Equal(t, http.StatusUnauthorized, replay.Code)

	// The rotated token still works.
	next := env.do(http.MethodPost, "/api/auth/refresh", nil, withCookie(rotated))
	assert.Equal(t, http.StatusOK, next.Code)
}

func TestRefreshWithoutCookie(t *testing.T) {
	env := newTestEnv()
	rec := env.do(http.MethodPost, "/api/auth/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshAfterSessionRevoked(t *testing.T) {
	env := newTestEnv()
	env.addVerifiedUser("dev@example.com", "Sup3r$ecret")
	access, cookie := env.login("dev@example.com", "Sup3r$ecret")
	require.NotNil(t, cookie)

	claims, err := env.server.Tokens.ParseAccess(access)
	require.NoError(t, err)
	require.NoError(t, env.sessions.Delete(context.Background(), claims.SessionID))

	rec := env.do(http.MethodPost, "/api/auth/refresh", nil, withCookie(cookie))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutInvalidatesSession(t *testing.T) {
	env := newTestEnv()
	env.addVerifiedUser("dev@example.com", "Sup3r$ecret")
	access, cookie := env.login("dev@example.com", "Sup3r$ecret")

	me := env.do(http.MethodGet, "/api/auth/me", nil, withBearer(access))
	require.Equal(t, http.StatusOK, me.Code)

	logout := env.do(http.MethodPost, "/api/auth/logout", nil, withBearer(access), withCookie(cookie))
	require.Equal(t, http.StatusNoContent, logout.Code)

	me = env.do(http.MethodGet, "/api/auth/me", nil, withBearer(access))
	assert.Equal(t, http.StatusUnauthorized, me.Code)
}

func TestRequireAuthRejectsGarbageToken(t *testing.T) {
	env := newTestEnv()
	rec := env.do(http.MethodGet, "/api/auth/me", nil, withBearer("not-a-jwt"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodGet, "/api/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterGrantsSignupCredits(t *testing.T) {
	env := newTestEnv()
	rec := env.do(http.MethodPost, "/api/auth/register", map[string]interface{}{
		"email":    "new@example.com",
		"password": "Sup3r$ecret",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	u, err := env.users.FindByEmail(context.Background(), "new@example.com")
	require.NoError(t, err)
	require.NotNil(t, u)

	balance, err := env.credits.Balance(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(signupCreditGrant), balance)

	// Verification email went out.
	assert.Equal(t, []string{"new@example.com"}, env.mailer.sent)
}

func TestVerifyEmailCodeSingleUse(t *testing.T) {
	env := newTestEnv()
	rec := env.do(http.MethodPost, "/api/auth/register", map[string]interface{}{
		"email":    "new@example.com",
		"password": "Sup3r$ecret",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	u, _ := env.users.FindByEmail(context.Background(), "new@example.com")
	require.NotNil(t, u)

	// Codes are stored hash-only, so plant a known one for the check.
	_, err := env.users.CreateAuthToken(context.Background(), u.ID, auth.TokenTypeEmailVerify, "123456", time.Now().Add(10*time.Minute))
	require.NoError(t, err)

	ok := env.do(http.MethodPost, "/api/auth/verify-email", map[string]interface{}{
		"email": "new@example.com",
		"code":  "123456",
	})
	require.Equal(t, http.StatusOK, ok.Code)

	u, _ = env.users.FindByEmail(context.Background(), "new@example.com")
	assert.NotNil(t, u.EmailVerified)

	replay := env.do(http.MethodPost, "/api/auth/verify-email", map[string]interface{}{
		"email": "new@example.com",
		"code":  "123456",
	})
	assert.Equal(t, http.StatusBadRequest, replay.Code)
}

func TestRegisterSucceedsWithoutMailer(t *testing.T) {
	env := newTestEnv()
	env.server.Mailer = nil

	rec := env.do(http.MethodPost, "/api/auth/register", map[string]interface{}{
		"email":    "new@example.com",
		"password": "Sup3r$ecret",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	u, err := env.users.FindByEmail(context.Background(), "new@example.com")
	require.NoError(t, err)
	require.NotNil(t, u)
}

func TestResendVerificationWithoutMailer(t *testing.T) {
	env := newTestEnv()
	env.server.Mailer = nil

	rec := env.do(http.MethodPost, "/api/auth/register", map[string]interface{}{
		"email":    "new@example.com",
		"password": "Sup3r$ecret",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(http.MethodPost, "/api/auth/resend-verification", map[string]interface{}{
		"email": "new@example.com",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}
