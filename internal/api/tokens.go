package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/hookdesk/internal/models"
	"github.com/foxzi/hookdesk/internal/tokens"
)

// ListResponse wraps collection responses
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Tokens.ListTokens(r.Context())
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, ListResponse[models.WebhookToken]{Items: list, Total: len(list)})
}

func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req tokens.CreateTokenInput
	if err := decodeJSON(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, codeValidation, "Invalid request body")
		return
	}

	token, err := s.deps.Tokens.CreateToken(r.Context(), actorFrom(r), req)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, token)
}

func (s *Server) handleToggleToken(w http.ResponseWriter, r *http.Request) {
	token, err := s.deps.Tokens.ToggleToken(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, token)
}

func (s *Server) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Tokens.DeleteToken(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Tokens.ListKeys(r.Context())
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, ListResponse[models.WebhookKey]{Items: list, Total: len(list)})
}

func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req tokens.CreateKeyInput
	if err := decodeJSON(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, codeValidation, "Invalid request body")
		return
	}

	key, err := s.deps.Tokens.CreateKey(r.Context(), actorFrom(r), req)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, key)
}

func (s *Server) handleToggleKey(w http.ResponseWriter, r *http.Request) {
	key, err := s.deps.Tokens.ToggleKey(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, key)
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Tokens.DeleteKey(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

