package server

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"codeloom/internal/auth"
	"codeloom/internal/credit"
	"codeloom/internal/i18n"
)

const signupCreditGrant = 50

type registerRequest struct {
	Name     *string `json:"name"`
	Email    string  `json:"email"`
	Password string  `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !validateEmail(req.Email) {
		writeError(w, http.StatusBadRequest, "Invalid email format")
		return
	}
	if err := validatePassword(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	locale := i18n.LocaleFromRequest(r)
	ip := clientIP(r, s.trustedProxies)
	if locked, ttl, err := s.RateLimiter.RegisterRegisterAttempt(ctx, req.Email, ip); err != nil {
		log.Printf("register: rate limit check failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Registration throttled")
		return
	} else if locked {
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"message":  "Too many signup attempts. Try again later.",
			"cooldown": int64(ttl.Seconds()),
		})
		return
	}

	existing, err := s.Users.FindByEmail(ctx, req.Email)
	if err != nil {
		log.Printf("register: lookup by email failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to check user")
		return
	}
	if existing != nil {
		if existing.EmailVerified == nil {
			writeError(w, http.StatusConflict, "User already exists. Please verify your email or sign in to resend the code.")
			return
		}
		writeError(w, http.StatusConflict, "A user with this email already exists.")
		return
	}

	hashed, err := s.Hasher.Hash(req.Password)
	if err != nil {
		log.Printf("register: hash failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}

	var verifiedAt *time.Time
	if s.Config.NoEmailVerify {
		now := time.Now()
		verifiedAt = &now
	}

	user, err := s.Users.Create(ctx, req.Name, req.Email, &hashed, verifiedAt)
	if err != nil {
		log.Printf("register: create user failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	if err := s.Credits.Grant(ctx, user.ID, signupCreditGrant, credit.ReasonSignupGrant, user.ID); err != nil {
		log.Printf("register: signup credit grant failed for %s: %v", user.ID, err)
	}
	_ = s.Audit.Log(ctx, auth.AuditEvent{
		UserID:    user.ID,
		EventType: auth.EventRegister,
		IP:        ip,
		Timestamp: time.Now(),
	})

	if !s.Config.NoEmailVerify {
		if err := s.issueVerification(ctx, user, locale); err != nil {
			log.Printf("register: issue verification failed: %v", err)
			writeError(w, http.StatusInternalServerError, "Registration failed: could not send verification code")
			return
		}
	}

	emailVerificationRequired := !s.Config.NoEmailVerify
	message := "Registration successful! Please check your email to verify your account."
	if !emailVerificationRequired {
		message = "Registration successful! You can now sign in."
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":                   message,
		"emailVerificationRequired": emailVerificationRequired,
		"user": map[string]string{
			"id":    user.ID,
			"email": user.Email,
		},
	})
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !validateEmail(req.Email) || len(req.Code) != 6 {
		writeError(w, http.StatusBadRequest, "Invalid request data")
		return
	}

	ctx := r.Context()
	locked, ttl, err := s.RateLimiter.RegisterVerifyAttempt(ctx, req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to verify email")
		return
	}
	if locked {
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"message":  "Too many verification attempts. Try again later.",
			"cooldown": int64(ttl.Seconds()),
		})
		return
	}

	user, err := s.Users.FindByEmail(ctx, req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to verify email")
		return
	}
	if user == nil {
		writeError(w, http.StatusBadRequest, "Invalid or expired code.")
		return
	}

	token, err := s.Users.ConsumeAuthTokenForUser(ctx, user.ID, auth.TokenTypeEmailVerify, req.Code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to verify email")
		return
	}
	if token == nil {
		writeError(w, http.StatusBadRequest, "Invalid or expired code.")
		return
	}

	if err := s.Users.SetEmailVerified(ctx, user.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to mark email verified")
		return
	}
	_ = s.Users.DeleteAuthTokens(ctx, user.ID, auth.TokenTypeEmailVerify)
	s.RateLimiter.ResetVerify(ctx, req.Email)

	writeJSON(w, http.StatusOK, map[string]string{"message": "Email successfully verified."})
}

type resendVerificationRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req resendVerificationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !validateEmail(req.Email) {
		writeError(w, http.StatusBadRequest, "Invalid email format")
		return
	}

	ctx := r.Context()
	locale := i18n.LocaleFromRequest(r)
	cooldownKey := "resend_cooldown:" + strings.ToLower(req.Email)
	if ttl := s.RateLimiter.CooldownTTL(ctx, cooldownKey); ttl > 0 {
		writeJSON(w, http.StatusTooManyRequests, map[string]int64{"cooldown": int64(ttl.Seconds())})
		return
	}
	if locked, ttl, err := s.RateLimiter.RegisterRegisterAttempt(ctx, req.Email, clientIP(r, s.trustedProxies)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to process request")
		return
	} else if locked {
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"cooldown": int64(ttl.Seconds()),
			"message":  "Too many attempts. Try again later.",
		})
		return
	}

	user, err := s.Users.FindByEmail(ctx, req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}

	if user != nil && user.EmailVerified == nil {
		if err := s.issueVerification(ctx, user, locale); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to send verification code")
			return
		}
	}
	s.RateLimiter.SetCooldown(ctx, cooldownKey, auth.EmailCooldown)

	writeJSON(w, http.StatusOK, map[string]string{"message": "If the account exists, a verification code has been sent."})
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Code       string `json:"code,omitempty"`
	RememberMe bool   `json:"rememberMe"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !validateEmail(req.Email) || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Invalid credentials")
		return
	}

	ctx := r.Context()
	locale := i18n.LocaleFromRequest(r)
	ip := clientIP(r, s.trustedProxies)
	ua := r.UserAgent()
	location := deriveLocation(r)

	// Lockout check comes before credential verification: once either the IP
	// or the account window is exhausted, even correct credentials get a 429.
	if s.RateLimiter.IsLoginLocked(ctx, ip, req.Email) {
		writeError(w, http.StatusTooManyRequests, "Too many failed attempts. Try again later.")
		return
	}

	user, err := s.Users.FindByEmail(ctx, req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}
	if user == nil || user.PasswordHash == nil || !s.Hasher.Compare(*user.PasswordHash, req.Password) {
		_ = s.RateLimiter.RegisterLoginFailure(ctx, ip, req.Email)
		if user != nil {
			_ = s.Audit.Log(ctx, auth.AuditEvent{UserID: user.ID, EventType: auth.EventLoginFailed, IP: ip, Timestamp: time.Now()})
		}
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS")
		return
	}

	if user.EmailVerified == nil {
		writeError(w, http.StatusForbidden, "EMAIL_NOT_VERIFIED")
		return
	}

	if user.TwoFactorEnabled {
		if req.Code == "" {
			writeError(w, http.StatusForbidden, "TWO_FACTOR_REQUIRED")
			return
		}
		if !s.verifyTwoFactor(user, req.Code) {
			locked, _ := s.RateLimiter.Register2FAFailure(ctx, user.ID)
			if locked {
				writeError(w, http.StatusForbidden, "TWO_FACTOR_LOCKED")
				return
			}
			writeError(w, http.StatusForbidden, "INVALID_2FA_CODE")
			return
		}
		s.RateLimiter.Reset2FA(ctx, user.ID)
	}

	session, accessToken, accessExpiry, err := s.startSession(ctx, user, ip, ua, location, req.RememberMe)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SESSION_CREATE_FAILED")
		return
	}

	s.RateLimiter.ResetLogin(ctx, ip, req.Email)
	auth.SetRefreshCookie(w, session.rawRefresh, session.sess.ExpiresAt)
	_ = s.Audit.Log(ctx, auth.AuditEvent{UserID: user.ID, EventType: auth.EventLogin, IP: ip, UserAgent: ua, Timestamp: time.Now()})
	_ = s.sendSignInAlert(ctx, user, session.sess, locale)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":        userPayload(user, true),
		"accessToken": accessToken,
		"expiresAt":   accessExpiry.Unix(),
		"sessionId":   session.sess.ID,
	})
}

// startedSession bundles the created session with the raw refresh token, which
// exists only for the duration of the response.
type startedSession struct {
	sess       auth.Session
	rawRefresh string
}

func (s *Server) startSession(ctx context.Context, user *auth.User, ip, ua, location string, rememberMe bool) (*startedSession, string, time.Time, error) {
	now := time.Now()
	sessionTTL := s.Config.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = 7 * 24 * time.Hour
	}
	if !rememberMe {
		limit := 24 * time.Hour
		if sessionTTL > limit {
			sessionTTL = limit
		}
	}

	refresh, err := auth.NewRefreshToken()
	if err != nil {
		return nil, "", time.Time{}, err
	}

	sess := auth.Session{
		ID:          auth.NewSessionID(),
		UserID:      user.ID,
		Role:        user.Role,
		IP:          ip,
		Location:    location,
		UserAgent:   ua,
		RefreshHash: refresh.Hash,
		LoginTime:   now,
		ExpiresAt:   now.Add(sessionTTL),
	}

	if err := s.Sessions.Create(ctx, sess); err != nil {
		return nil, "", time.Time{}, err
	}

	accessToken, accessExpiry, err := s.Tokens.IssueAccess(user.ID, sess.ID, user.Role)
	if err != nil {
		_ = s.Sessions.Delete(ctx, sess.ID)
		return nil, "", time.Time{}, err
	}

	return &startedSession{sess: sess, rawRefresh: refresh.Raw}, accessToken, accessExpiry, nil
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw := auth.RefreshTokenFromRequest(r)
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "MISSING_REFRESH_TOKEN")
		return
	}

	ctx := r.Context()
	sess, err := s.Sessions.ConsumeRefresh(ctx, raw)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to refresh session")
		return
	}
	if sess == nil {
		auth.ClearRefreshCookie(w)
		writeError(w, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN")
		return
	}

	refresh, err := auth.NewRefreshToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to refresh session")
		return
	}
	if err := s.Sessions.RotateRefresh(ctx, sess, refresh.Hash); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to refresh session")
		return
	}

	accessToken, accessExpiry, err := s.Tokens.IssueAccess(sess.UserID, sess.ID, sess.Role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to refresh session")
		return
	}

	auth.SetRefreshCookie(w, refresh.Raw, sess.ExpiresAt)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accessToken": accessToken,
		"expiresAt":   accessExpiry.Unix(),
		"sessionId":   sess.ID,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var userID string

	if raw := bearerToken(r); raw != "" {
		if claims, err := s.Tokens.ParseAccess(raw); err == nil {
			userID = claims.Subject
			_ = s.Sessions.Delete(ctx, claims.SessionID)
		}
	}
	if raw := auth.RefreshTokenFromRequest(r); raw != "" {
		if sess, err := s.Sessions.ConsumeRefresh(ctx, raw); err == nil && sess != nil {
			userID = sess.UserID
			_ = s.Sessions.Delete(ctx, sess.ID)
		}
	}

	if userID != "" {
		_ = s.Audit.Log(ctx, auth.AuditEvent{
			UserID:    userID,
			EventType: auth.EventLogout,
			IP:        clientIP(r, s.trustedProxies),
			Timestamp: time.Now(),
		})
	}
	auth.ClearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED")
		return
	}

	user, err := s.Users.FindByID(r.Context(), sess.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}
	oauthLinked, _ := s.Users.HasOAuthAccount(r.Context(), sess.UserID)

	payload := userPayload(user, oauthLinked)
	payload["sessionId"] = sess.ID
	writeJSON(w, http.StatusOK, payload)
}

func userPayload(user *auth.User, oauthLinked bool) map[string]interface{} {
	return map[string]interface{}{
		"id":               user.ID,
		"email":            user.Email,
		"name":             user.Name,
		"role":             user.Role,
		"theme":            user.Theme,
		"image":            user.Image,
		"twoFactorEnabled": user.TwoFactorEnabled,
		"hasPassword":      user.PasswordHash != nil,
		"oauthLinked":      oauthLinked,
	}
}

func (s *Server) issueVerification(ctx context.Context, user *auth.User, locale string) error {
	code := randomSixDigitCode()
	expires := time.Now().Add(10 * time.Minute)

	if _, err := s.Users.CreateAuthToken(ctx, user.ID, auth.TokenTypeEmailVerify, code, expires); err != nil {
		return err
	}

	content := i18n.VerificationEmail(locale, code, 10)
	return s.sendMail(ctx, user.Email, content)
}

func (s *Server) verifyTwoFactor(user *auth.User, code string) bool {
	if user.TOTPSecret == nil {
		return false
	}
	return s.TOTP.Verify(*user.TOTPSecret, code)
}
