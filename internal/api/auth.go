package api

import (
	"net/http"

	"go.uber.org/zap"
)

// LoginRequest is the request body for POST /api/v1/auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, codeValidation, "Invalid request body")
		return
	}

	session, err := s.deps.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}

	s.logger.Info("user logged in", zap.String("email", session.User.Email))
	sendJSON(w, http.StatusOK, session)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.deps.Auth.GetUser(r.Context(), actorFrom(r).UserID)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, user)
}

// handleOIDCLogin redirects to the identity provider
func (s *Server) handleOIDCLogin(w http.ResponseWriter, r *http.Request) {
	if s.deps.OIDC == nil {
		sendError(w, http.StatusNotFound, codeNotFound, "OIDC login is not enabled")
		return
	}

	url, err := s.deps.OIDC.AuthCodeURL()
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// handleOIDCCallback exchanges the code and returns a session
func (s *Server) handleOIDCCallback(w http.ResponseWriter, r *http.Request) {
	if s.deps.OIDC == nil {
		sendError(w, http.StatusNotFound, codeNotFound, "OIDC login is not enabled")
		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		s.logger.Warn("OIDC provider returned error",
			zap.String("error", errParam),
			zap.String("description", r.URL.Query().Get("error_description")),
		)
		sendError(w, http.StatusUnauthorized, codeUnauthorized, "Authentication failed")
		return
	}

	info, err := s.deps.OIDC.Exchange(r.Context(), r.URL.Query().Get("state"), r.URL.Query().Get("code"))
	if err != nil {
		s.logger.Warn("OIDC exchange failed", zap.Error(err))
		sendError(w, http.StatusUnauthorized, codeUnauthorized, "Authentication failed")
		return
	}

	session, err := s.deps.Auth.LoginOIDC(r.Context(), info)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}

	s.logger.Info("user logged in via OIDC", zap.String("email", session.User.Email))
	sendJSON(w, http.StatusOK, session)
}
