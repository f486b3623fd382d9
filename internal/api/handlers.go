package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/foxzi/hookdesk/internal/auth"
	"github.com/foxzi/hookdesk/internal/chat"
	"github.com/foxzi/hookdesk/internal/repository"
	"github.com/foxzi/hookdesk/internal/tokens"
)

// Error codes returned in ErrorResponse.Code
const (
	codeValidation   = "validation_failed"
	codeUnauthorized = "unauthorized"
	codeForbidden    = "forbidden"
	codeNotFound     = "not_found"
	codeConflict     = "conflict"
	codeUnavailable  = "unavailable"
	codeInternal     = "internal_error"
)

// ErrorResponse is the admin API error body
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// sendServiceError maps service errors to HTTP status codes
func (s *Server) sendServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		sendError(w, http.StatusNotFound, codeNotFound, "Not found")
	case errors.Is(err, repository.ErrDuplicate):
		sendError(w, http.StatusConflict, codeConflict, "Already exists")
	case errors.Is(err, tokens.ErrNameRequired),
		errors.Is(err, tokens.ErrInvalidExpiry),
		errors.Is(err, auth.ErrInvalidRole),
		errors.Is(err, auth.ErrEmailRequired),
		errors.Is(err, auth.ErrOwnRole),
		errors.Is(err, chat.ErrInvalidRequest):
		sendError(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidState),
		errors.Is(err, auth.ErrInvalidSession):
		sendError(w, http.StatusUnauthorized, codeUnauthorized, err.Error())
	default:
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		sendError(w, http.StatusInternalServerError, codeInternal, "Internal server error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}

// queryInt parses an optional non-negative integer parameter
func queryInt(r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, status int, code, message string) {
	sendJSON(w, status, ErrorResponse{Error: message, Code: code})
}
