package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"codeloom/internal/auth"
	"codeloom/internal/i18n"
)

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
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
	cooldownKey := "forgot_password_cooldown:" + strings.ToLower(req.Email)
	if ttl := s.RateLimiter.CooldownTTL(ctx, cooldownKey); ttl > 0 {
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"cooldown": int64(ttl.Seconds()),
			"message":  fmt.Sprintf("Please wait %d seconds before making another request.", int(ttl.Seconds())),
		})
		return
	}

	ip := clientIP(r, s.trustedProxies)
	if locked, ttl, err := s.RateLimiter.RegisterResetAttempt(ctx, req.Email, ip); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to process request")
		return
	} else if locked {
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"cooldown": int64(ttl.Seconds()),
			"message":  "Too many reset requests. Try again later.",
		})
		return
	}

	user, err := s.Users.FindByEmail(ctx, req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to process request")
		return
	}

	if user != nil {
		if user.PasswordHash == nil {
			content := i18n.OAuthNoticeEmail(locale)
			_ = s.sendMail(ctx, user.Email, content)
		} else {
			token := randomToken(32)
			expires := time.Now().Add(1 * time.Hour)
			if _, err := s.Users.CreateAuthToken(ctx, user.ID, auth.TokenTypePasswordReset, token, expires); err != nil {
				writeError(w, http.StatusInternalServerError, "Failed to store token")
				return
			}

			resetLink := fmt.Sprintf("%s/reset-password?token=%s", s.Config.BaseURL, token)
			content := i18n.PasswordResetEmail(locale, resetLink, 1)
			_ = s.sendMail(ctx, user.Email, content)
		}
	}

	s.RateLimiter.SetCooldown(ctx, cooldownKey, auth.EmailCooldown)

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "If the email address exists, a password reset email has been sent with instructions.",
	})
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "Token is required")
		return
	}
	if err := validatePassword(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	token, err := s.Users.ConsumeAuthToken(ctx, auth.TokenTypePasswordReset, req.Token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset password")
		return
	}
	if token == nil {
		writeError(w, http.StatusBadRequest, "Invalid or expired token.")
		return
	}

	hashed, err := s.Hasher.Hash(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}
	if err := s.Users.UpdatePassword(ctx, token.UserID, hashed); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update password")
		return
	}

	// Every live session belongs to the pre-reset credential holder.
	_ = s.Sessions.DeleteByUser(ctx, token.UserID)
	_ = s.Audit.Log(ctx, auth.AuditEvent{
		UserID:    token.UserID,
		EventType: auth.EventPasswordReset,
		IP:        clientIP(r, s.trustedProxies),
		Timestamp: time.Now(),
	})

	writeJSON(w, http.StatusOK, map[string]string{"message": "Password has been reset successfully."})
}
