package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"codeloom/internal/chat"
	"codeloom/internal/credit"
)

type createChatRequest struct {
	ProjectID string `json:"projectId"`
	Title     string `json:"title"`
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	var req createChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "projectId is required")
		return
	}

	proj, err := s.Projects.FindByID(r.Context(), req.ProjectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch project")
		return
	}
	if proj == nil || proj.UserID != sess.UserID {
		writeError(w, http.StatusNotFound, "Project not found")
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "New chat"
	}
	if runes := []rune(title); len(runes) > 200 {
		title = string(runes[:200])
	}

	c, err := s.Chats.Create(r.Context(), proj.ID, sess.UserID, title)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create chat")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	chats, err := s.Chats.ListForUser(r.Context(), sess.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch chats")
		return
	}

	if projectID := r.URL.Query().Get("projectId"); projectID != "" {
		filtered := chats[:0]
		for _, c := range chats {
			if c.ProjectID == projectID {
				filtered = append(filtered, c)
			}
		}
		chats = filtered
	}
	if chats == nil {
		chats = []chat.Chat{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"chats": chats})
}

func (s *Server) ownedChat(w http.ResponseWriter, r *http.Request) *chat.Chat {
	sess := sessionFromContext(r.Context())
	id := chi.URLParam(r, "id")

	c, err := s.Chats.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch chat")
		return nil
	}
	if c == nil || c.UserID != sess.UserID {
		writeError(w, http.StatusNotFound, "Chat not found")
		return nil
	}
	return c
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	c := s.ownedChat(w, r)
	if c == nil {
		return
	}

	messages, err := s.Chats.ListMessages(r.Context(), c.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch messages")
		return
	}
	if messages == nil {
		messages = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"chat":     c,
		"messages": messages,
	})
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	c := s.ownedChat(w, r)
	if c == nil {
		return
	}
	if err := s.Chats.Delete(r.Context(), c.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete chat")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	c := s.ownedChat(w, r)
	if c == nil {
		return
	}

	var req addMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Role == "" {
		req.Role = chat.RoleUser
	}
	if req.Role != chat.RoleUser && req.Role != chat.RoleAssistant {
		writeError(w, http.StatusBadRequest, "Invalid role")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "Message content is required")
		return
	}
	if len(req.Content) > 64*1024 {
		writeError(w, http.StatusBadRequest, "Message too long")
		return
	}

	cost := estimateTokenCost(req.Content)
	if req.Role == chat.RoleUser {
		if err := s.Credits.Debit(r.Context(), sess.UserID, int64(cost), credit.ReasonChatMessage, c.ID); err != nil {
			if errors.Is(err, credit.ErrInsufficientCredits) {
				writeError(w, http.StatusPaymentRequired, "Not enough credits.")
				return
			}
			writeError(w, http.StatusInternalServerError, "Failed to debit credits")
			return
		}
	}

	msg, err := s.Chats.AddMessage(r.Context(), c.ID, req.Role, req.Content, cost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store message")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// estimateTokenCost is the rough chars/4 heuristic, floored at 1.
func estimateTokenCost(content string) int {
	cost := len(content) / 4
	if cost < 1 {
		cost = 1
	}
	return cost
}
