package server

import (
	"net/http"
	"strconv"

	"codeloom/internal/credit"
)

func (s *Server) handleCreditBalance(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	balance, err := s.Credits.Balance(r.Context(), sess.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch balance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (s *Server) handleCreditLedger(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	entries, err := s.Credits.Ledger(r.Context(), sess.UserID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch ledger")
		return
	}
	if entries == nil {
		entries = []credit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}
