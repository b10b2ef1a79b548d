package server

import (
	"net/http"
)

func (s *Server) handleTwoFactorSetupStart(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	user, err := s.Users.FindByID(r.Context(), sess.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusInternalServerError, "User not found")
		return
	}
	if user.TwoFactorEnabled {
		writeError(w, http.StatusConflict, "Two-factor authentication is already enabled.")
		return
	}

	secret, otpauth, qr, err := s.TOTP.Generate(user.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate secret")
		return
	}

	// Secret is stored but 2FA stays off until the first code verifies.
	if err := s.Users.UpdateTOTPSecret(r.Context(), user.ID, &secret); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store secret")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"qrCodeUrl":  qr,
		"secret":     secret,
		"otpauthUrl": otpauth,
		"message":    "QR code generated. Please scan it.",
	})
}

type twoFactorFinalizeRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleTwoFactorSetupFinalize(w http.ResponseWriter, r *http.Request) {
	var req twoFactorFinalizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Code) != 6 {
		writeError(w, http.StatusBadRequest, "Invalid code")
		return
	}

	sess := sessionFromContext(r.Context())
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	user, err := s.Users.FindByID(r.Context(), sess.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusInternalServerError, "User not found")
		return
	}
	if user.TOTPSecret == nil {
		writeError(w, http.StatusBadRequest, "2FA setup not started")
		return
	}

	if !s.TOTP.Verify(*user.TOTPSecret, req.Code) {
		writeError(w, http.StatusForbidden, "The code is invalid or expired.")
		return
	}

	if err := s.Users.EnableTwoFactor(r.Context(), user.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to enable 2FA")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Two-factor authentication enabled.",
	})
}

type twoFactorDisableRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleTwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req twoFactorDisableRequest
	if err := decodeJSON(r, &req); err != nil || len(req.Code) != 6 {
		writeError(w, http.StatusBadRequest, "Invalid code")
		return
	}

	user, err := s.Users.FindByID(r.Context(), sess.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusInternalServerError, "User not found")
		return
	}
	if !user.TwoFactorEnabled {
		writeError(w, http.StatusBadRequest, "Two-factor authentication is not enabled.")
		return
	}

	if !s.verifyTwoFactor(user, req.Code) {
		writeError(w, http.StatusForbidden, "INVALID_2FA_CODE")
		return
	}

	if err := s.Users.DisableTwoFactor(r.Context(), sess.UserID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to disable 2FA")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Two-factor authentication disabled.",
	})
}
