package api

import (
	"errors"
	"net/http"

	"github.com/foxzi/hookdesk/internal/chat"
)

// chatError is the chat proxy error body
type chatError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chat == nil || !s.deps.Chat.Enabled() {
		sendJSON(w, http.StatusServiceUnavailable, chatError{
			Error:   "Service Unavailable",
			Message: chat.ErrUnavailable.Error(),
		})
		return
	}

	var req chat.Request
	if err := decodeJSON(r, &req); err != nil {
		sendJSON(w, http.StatusBadRequest, chatError{Error: "Bad Request", Message: "Invalid request body"})
		return
	}
	if req.UserID == "" {
		req.UserID = actorFrom(r).UserID
	}

	result, err := s.deps.Chat.Complete(r.Context(), &req)
	switch {
	case err == nil:
		sendJSON(w, http.StatusOK, result)
	case errors.Is(err, chat.ErrInvalidRequest):
		sendJSON(w, http.StatusBadRequest, chatError{Error: "Bad Request", Message: err.Error()})
	case errors.Is(err, chat.ErrUnavailable):
		sendJSON(w, http.StatusServiceUnavailable, chatError{Error: "Service Unavailable", Message: err.Error()})
	default:
		sendJSON(w, http.StatusInternalServerError, chatError{Error: "Internal Server Error", Message: err.Error()})
	}
}
