package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"novachat/pkg/domain"
	"novachat/services/chatbot/internal/app"
)

type chatMessageRequest struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversationId"`
}

type chatMessageResponse struct {
	Success bool `json:"success"`
	app.MessageResult
	// BotMessage repeats BotText for older web clients.
	BotMessage string `json:"botMessage"`
}

type createConversationRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req chatMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.app.HandleMessage(r.Context(), p, req.Text, req.ConversationID)
	if err != nil {
		s.auditConversationMiss(r, req.ConversationID, err)
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatMessageResponse{Success: true, MessageResult: res, BotMessage: res.BotText})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.app.ListConversations(r.Context(), p)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":       true,
			"conversations": items,
			"count":         len(items),
		})
	case http.MethodPost:
		s.createConversation(w, r, p)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleConversationByID(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	id := conversationIDFromPath(r.URL.Path)
	if id == "" {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		conv, err := s.app.GetConversation(r.Context(), p, id)
		if err != nil {
			s.auditConversationMiss(r, id, err)
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "conversation": withMessages(conv)})
	case http.MethodDelete:
		if err := s.app.DeleteConversation(r.Context(), p, id); err != nil {
			s.auditConversationMiss(r, id, err)
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Conversation deleted"})
	case http.MethodPost:
		if id != "new" {
			methodNotAllowed(w)
			return
		}
		s.createConversation(w, r, p)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) createConversation(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	var req createConversationRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	conv, err := s.app.CreateConversation(r.Context(), p, req.Title)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "conversation": withMessages(conv)})
}

// auditConversationMiss records lookups of ids the caller does not own,
// which is how conversation ids get enumerated.
func (s *Server) auditConversationMiss(r *http.Request, id string, err error) {
	if errors.Is(err, app.ErrNotFound) {
		s.audit(r, "chat.conversation", "not_found", "conversation_id", id)
	}
}

// conversationIDFromPath extracts {id} from ".../conversations/{id}".
func conversationIDFromPath(path string) string {
	const marker = "/conversations/"
	i := strings.LastIndex(path, marker)
	if i < 0 {
		return ""
	}
	id := strings.Trim(path[i+len(marker):], "/")
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}

func withMessages(c domain.Conversation) domain.Conversation {
	if c.Messages == nil {
		c.Messages = []domain.Message{}
	}
	return c
}
