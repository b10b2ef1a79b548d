package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"codeloom/internal/auth"
	"codeloom/internal/config"
	"codeloom/internal/credit"
	"codeloom/internal/i18n"
)

const oauthStatePrefix = "oauth_state:"
const oauthStateTTL = 10 * time.Minute
const oauthPendingPrefix = "oauth_pending:"
const oauthPendingTTL = 10 * time.Minute

type oauthState struct {
	Provider string `json:"provider"`
	ReturnTo string `json:"returnTo"`
	IssuedAt int64  `json:"issuedAt"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

type oauthUser struct {
	ID     string
	Email  string
	Name   string
	Avatar string
}

type oauthPendingLogin struct {
	UserID    string `json:"userId"`
	Provider  string `json:"provider"`
	AccountID string `json:"accountId"`
	ReturnTo  string `json:"returnTo"`
	IP        string `json:"ip"`
	UserAgent string `json:"userAgent"`
	Location  string `json:"location"`
}

func (s *Server) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(chi.URLParam(r, "provider"))
	cfg := s.getProviderConfig(provider)
	state := auth.NewSessionID()
	returnTo := sanitizeReturnTo(r.URL.Query().Get("returnTo"))

	if cfg == nil {
		log.Printf("oauth start: provider %s not configured", provider)
		s.oauthErrorRedirect(w, r, returnTo, "provider_unavailable")
		return
	}

	raw, _ := json.Marshal(oauthState{Provider: provider, ReturnTo: returnTo, IssuedAt: time.Now().Unix()})
	if err := s.States.Set(r.Context(), oauthStatePrefix+state, raw, oauthStateTTL); err != nil {
		log.Printf("oauth start: failed to persist state for provider %s: %v", provider, err)
		s.oauthErrorRedirect(w, r, returnTo, "state_persist_failed")
		return
	}

	authURL := s.buildAuthURL(provider, *cfg, state)
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	returnTo := "/"
	provider := strings.ToLower(chi.URLParam(r, "provider"))
	cfg := s.getProviderConfig(provider)
	locale := i18n.LocaleFromRequest(r)
	if cfg == nil {
		log.Printf("oauth callback: unsupported provider %s", provider)
		s.oauthErrorRedirect(w, r, returnTo, "unsupported_provider")
		return
	}

	stateParam := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if stateParam == "" || code == "" {
		log.Printf("oauth callback: missing state/code for provider %s", provider)
		s.oauthErrorRedirect(w, r, returnTo, "missing_state")
		return
	}

	// One-time consume: a replayed state never resolves a second time.
	rawState, err := s.States.Consume(r.Context(), oauthStatePrefix+stateParam)
	if err != nil || rawState == nil {
		log.Printf("oauth callback: state lookup failed for provider %s: %v", provider, err)
		s.oauthErrorRedirect(w, r, returnTo, "state_invalid")
		return
	}

	var st oauthState
	_ = json.Unmarshal(rawState, &st)
	returnTo = sanitizeReturnTo(st.ReturnTo)
	if st.Provider != provider {
		log.Printf("oauth callback: state mismatch expected %s got %s", st.Provider, provider)
		s.oauthErrorRedirect(w, r, returnTo, "state_mismatch")
		return
	}
	if st.IssuedAt == 0 || time.Since(time.Unix(st.IssuedAt, 0)) > oauthStateTTL {
		log.Printf("oauth callback: expired state for provider %s", provider)
		s.oauthErrorRedirect(w, r, returnTo, "state_expired")
		return
	}

	token, err := s.exchangeCode(r.Context(), provider, *cfg, code)
	if err != nil {
		log.Printf("oauth callback: token exchange failed for %s: %v", provider, err)
		s.oauthErrorRedirect(w, r, returnTo, "token_exchange_failed")
		return
	}
	userInfo, err := s.fetchOAuthUser(r.Context(), provider, token.AccessToken)
	if err != nil {
		log.Printf("oauth callback: fetch user failed for %s: %v", provider, err)
		s.oauthErrorRedirect(w, r, returnTo, "profile_fetch_failed")
		return
	}
	if userInfo.Email == "" {
		log.Printf("oauth callback: provider %s missing email", provider)
		s.oauthErrorRedirect(w, r, returnTo, "email_required")
		return
	}

	ctx := r.Context()
	ip := clientIP(r, s.trustedProxies)
	ua := r.UserAgent()
	loc := deriveLocation(r)

	user, err := s.Users.FindByOAuth(ctx, provider, userInfo.ID)
	if err != nil {
		log.Printf("oauth callback: lookup by oauth failed for %s: %v", provider, err)
		s.oauthErrorRedirect(w, r, returnTo, "lookup_failed")
		return
	}
	if user == nil {
		user, err = s.Users.FindByEmail(ctx, userInfo.Email)
		if err != nil {
			log.Printf("oauth callback: lookup by email failed for %s: %v", provider, err)
			s.oauthErrorRedirect(w, r, returnTo, "lookup_failed")
			return
		}
	}

	verifiedAt := time.Now()
	if user == nil {
		var name *string
		if strings.TrimSpace(userInfo.Name) != "" {
			name = &userInfo.Name
		}
		user, err = s.Users.Create(ctx, name, userInfo.Email, nil, &verifiedAt)
		if err != nil {
			log.Printf("oauth callback: create user failed for %s: %v", provider, err)
			s.oauthErrorRedirect(w, r, returnTo, "create_failed")
			return
		}
		if err := s.Credits.Grant(ctx, user.ID, signupCreditGrant, credit.ReasonSignupGrant, user.ID); err != nil {
			log.Printf("oauth callback: signup credit grant failed for %s: %v", user.ID, err)
		}
		if userInfo.Avatar != "" {
			_ = s.Users.UpdateImage(ctx, user.ID, userInfo.Avatar)
		}
	}

	if _, err := s.Users.LinkOAuthAccount(ctx, user.ID, provider, userInfo.ID); err != nil {
		log.Printf("oauth callback: link account failed for %s: %v", provider, err)
		s.oauthErrorRedirect(w, r, returnTo, "link_failed")
		return
	}

	if user.TwoFactorEnabled {
		pendingID := auth.NewSessionID()
		pending := oauthPendingLogin{
			UserID:    user.ID,
			Provider:  provider,
			AccountID: userInfo.ID,
			ReturnTo:  returnTo,
			IP:        ip,
			UserAgent: ua,
			Location:  loc,
		}
		rawPending, _ := json.Marshal(pending)
		if err := s.States.Set(ctx, oauthPendingPrefix+pendingID, rawPending, oauthPendingTTL); err != nil {
			log.Printf("oauth callback: failed to store pending 2fa login: %v", err)
			s.oauthErrorRedirect(w, r, returnTo, "two_factor_failed")
			return
		}

		loginPath := s.oauthChallengePath(returnTo)
		redirectURL := appendQueryParams(loginPath, map[string]string{
			"oauth_pending":  pendingID,
			"oauth_provider": provider,
			"oauth_return":   returnTo,
		})

		http.Redirect(w, r, redirectURL, http.StatusFound)
		return
	}

	session, _, _, err := s.startSession(ctx, user, ip, ua, loc, true)
	if err != nil {
		log.Printf("oauth callback: session create failed for user %s: %v", user.ID, err)
		s.oauthErrorRedirect(w, r, returnTo, "session_failed")
		return
	}
	s.RateLimiter.ResetLogin(ctx, ip, user.Email)
	_ = s.Audit.Log(ctx, auth.AuditEvent{
		UserID:    user.ID,
		EventType: auth.EventOAuthLogin,
		IP:        ip,
		UserAgent: ua,
		Timestamp: time.Now(),
		Meta:      map[string]interface{}{"provider": provider},
	})

	// The browser lands back on the app with only the refresh cookie; the
	// frontend trades it for an access token at /api/auth/refresh.
	auth.SetRefreshCookie(w, session.rawRefresh, session.sess.ExpiresAt)
	_ = s.sendSignInAlert(ctx, user, session.sess, locale)

	http.Redirect(w, r, returnTo, http.StatusFound)
}

func (s *Server) handleOAuthTwoFactor(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(chi.URLParam(r, "provider"))
	pendingID := r.URL.Query().Get("pending")
	if pendingID == "" {
		writeError(w, http.StatusBadRequest, "Missing pending token")
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil || len(req.Code) != 6 {
		writeError(w, http.StatusBadRequest, "Invalid code")
		return
	}

	raw, err := s.States.Consume(r.Context(), oauthPendingPrefix+pendingID)
	if err != nil || raw == nil {
		writeError(w, http.StatusBadRequest, "Expired or invalid challenge")
		return
	}

	var pending oauthPendingLogin
	if err := json.Unmarshal(raw, &pending); err != nil {
		writeError(w, http.StatusBadRequest, "Corrupt challenge")
		return
	}
	if pending.Provider != provider {
		writeError(w, http.StatusBadRequest, "Provider mismatch")
		return
	}

	user, err := s.Users.FindByID(r.Context(), pending.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusBadRequest, "User not found")
		return
	}

	if !s.verifyTwoFactor(user, req.Code) {
		writeError(w, http.StatusForbidden, "INVALID_2FA_CODE")
		return
	}
	s.RateLimiter.Reset2FA(r.Context(), user.ID)

	session, accessToken, accessExpiry, err := s.startSession(r.Context(), user, pending.IP, pending.UserAgent, pending.Location, true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SESSION_CREATE_FAILED")
		return
	}

	s.RateLimiter.ResetLogin(r.Context(), pending.IP, user.Email)
	_ = s.Audit.Log(r.Context(), auth.AuditEvent{
		UserID:    user.ID,
		EventType: auth.EventOAuthLogin,
		IP:        pending.IP,
		UserAgent: pending.UserAgent,
		Timestamp: time.Now(),
		Meta:      map[string]interface{}{"provider": provider},
	})
	auth.SetRefreshCookie(w, session.rawRefresh, session.sess.ExpiresAt)
	locale := i18n.LocaleFromRequest(r)
	_ = s.sendSignInAlert(r.Context(), user, session.sess, locale)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":        userPayload(user, true),
		"accessToken": accessToken,
		"expiresAt":   accessExpiry.Unix(),
		"sessionId":   session.sess.ID,
		"returnTo":    pending.ReturnTo,
	})
}

func (s *Server) getProviderConfig(provider string) *config.OAuthProvider {
	switch provider {
	case "github":
		if s.Config.OAuth.GitHub.ClientID == "" || s.Config.OAuth.GitHub.ClientSecret == "" {
			return nil
		}
		return &s.Config.OAuth.GitHub
	case "google":
		if s.Config.OAuth.Google.ClientID == "" || s.Config.OAuth.Google.ClientSecret == "" {
			return nil
		}
		return &s.Config.OAuth.Google
	default:
		return nil
	}
}

func (s *Server) buildAuthURL(provider string, cfg config.OAuthProvider, state string) string {
	switch provider {
	case "github":
		u, _ := url.Parse("https://github.com/login/oauth/authorize")
		q := u.Query()
		q.Set("client_id", cfg.ClientID)
		q.Set("redirect_uri", cfg.RedirectURL)
		q.Set("scope", "read:user user:email")
		q.Set("state", state)
		u.RawQuery = q.Encode()
		return u.String()
	case "google":
		u, _ := url.Parse("https://accounts.google.com/o/oauth2/v2/auth")
		q := u.Query()
		q.Set("client_id", cfg.ClientID)
		q.Set("redirect_uri", cfg.RedirectURL)
		q.Set("response_type", "code")
		q.Set("scope", "openid email profile")
		q.Set("state", state)
		u.RawQuery = q.Encode()
		return u.String()
	default:
		return ""
	}
}

func (s *Server) exchangeCode(ctx context.Context, provider string, cfg config.OAuthProvider, code string) (*tokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", cfg.ClientID)
	form.Set("client_secret", cfg.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", cfg.RedirectURL)
	form.Set("grant_type", "authorization_code")

	var endpoint string
	var accept string
	switch provider {
	case "github":
		endpoint = "https://github.com/login/oauth/access_token"
		accept = "application/json"
	case "google":
		endpoint = "https://oauth2.googleapis.com/token"
	default:
		return nil, errors.New("unsupported provider")
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, errors.New("missing access token")
	}
	return &tok, nil
}

func (s *Server) fetchOAuthUser(ctx context.Context, provider, accessToken string) (*oauthUser, error) {
	switch provider {
	case "github":
		return fetchGitHubUser(ctx, accessToken)
	case "google":
		return fetchGoogleUser(ctx, accessToken)
	default:
		return nil, errors.New("unsupported provider")
	}
}

func fetchGitHubUser(ctx context.Context, token string) (*oauthUser, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.github.com/user", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var data struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	email := data.Email
	if email == "" {
		email, _ = fetchGitHubPrimaryEmail(ctx, token)
	}
	return &oauthUser{
		ID:     fmt.Sprintf("%d", data.ID),
		Email:  email,
		Name:   firstNonEmptyLocal(data.Name, data.Login),
		Avatar: data.AvatarURL,
	}, nil
}

func fetchGitHubPrimaryEmail(ctx context.Context, token string) (string, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.github.com/user/emails", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return "", err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	if len(emails) > 0 {
		return emails[0].Email, nil
	}
	return "", nil
}

func fetchGoogleUser(ctx context.Context, token string) (*oauthUser, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "https://www.googleapis.com/oauth2/v2/userinfo", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var data struct {
		ID            string `json:"id"`
		Email         string `json:"email"`
		VerifiedEmail bool   `json:"verified_email"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	if !data.VerifiedEmail {
		return nil, errors.New("google account email not verified")
	}
	return &oauthUser{
		ID:     data.ID,
		Email:  data.Email,
		Name:   data.Name,
		Avatar: data.Picture,
	}, nil
}

func firstNonEmptyLocal(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func (s *Server) oauthErrorRedirect(w http.ResponseWriter, r *http.Request, returnTo, reason string) {
	target := sanitizeReturnTo(returnTo)
	u, err := url.Parse(target)
	if err != nil || u.IsAbs() {
		u = &url.URL{Path: "/"}
	}
	q := u.Query()
	q.Set("toast", "oauth_error")
	if reason != "" {
		q.Set("reason", reason)
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

func sanitizeReturnTo(raw string) string {
	if raw == "" {
		return "/"
	}
	if strings.HasPrefix(raw, "//") {
		return "/"
	}
	if strings.HasPrefix(raw, "/") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() {
		return "/"
	}

	path := u.Path
	if path == "" || !strings.HasPrefix(path, "/") {
		path = "/" + strings.TrimPrefix(path, "/")
	}
	if u.RawQuery != "" {
		path = path + "?" + u.RawQuery
	}
	return path
}

func (s *Server) oauthChallengePath(returnTo string) string {
	// Try to preserve locale from the original returnTo path (e.g., /en/dashboard -> /en/login).
	locale := "en"
	segments := strings.Split(strings.TrimPrefix(returnTo, "/"), "/")
	if len(segments) > 0 && len(segments[0]) == 2 {
		locale = segments[0]
	}
	return "/" + locale + "/login"
}

func appendQueryParams(path string, params map[string]string) string {
	u, err := url.Parse(path)
	if err != nil {
		return path
	}
	q := u.Query()
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
