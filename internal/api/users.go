package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/hookdesk/internal/models"
)

// SetRoleRequest is the request body for PUT /api/v1/users/{id}/role
type SetRoleRequest struct {
	Role string `json:"role"`
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.deps.Auth.ListUsers(r.Context())
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, ListResponse[models.User]{Items: users, Total: len(users)})
}

func (s *Server) handleSetUserRole(w http.ResponseWriter, r *http.Request) {
	var req SetRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, codeValidation, "Invalid request body")
		return
	}

	user, err := s.deps.Auth.SetRole(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req.Role)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, user)
}
