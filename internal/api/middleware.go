package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/foxzi/hookdesk/internal/auth"
	"github.com/foxzi/hookdesk/internal/models"
)

type contextKey string

const actorKey contextKey = "actor"

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.Int("bytes", ww.BytesWritten()),
			zap.String("client_ip", s.clientIP(r)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// authMiddleware requires a valid session token and stores the actor
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			sendError(w, http.StatusUnauthorized, codeUnauthorized, "Authorization required")
			return
		}

		actor, err := s.deps.Auth.Verify(r.Context(), token)
		if errors.Is(err, auth.ErrInvalidSession) {
			s.logger.Warn("rejected session token",
				zap.String("client_ip", s.clientIP(r)),
				zap.String("path", r.URL.Path),
			)
			sendError(w, http.StatusUnauthorized, codeUnauthorized, "Invalid or expired session")
			return
		}
		if err != nil {
			s.sendServiceError(w, r, err)
			return
		}
		actor.IP = s.clientIP(r)

		ctx := context.WithValue(r.Context(), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole rejects actors below min
func requireRole(min string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !models.RoleAtLeast(actorFrom(r).Role, min) {
				sendError(w, http.StatusForbidden, codeForbidden, "Insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func actorFrom(r *http.Request) models.Actor {
	actor, _ := r.Context().Value(actorKey).(models.Actor)
	return actor
}

// clientIP resolves the caller through the trusted proxies
func (s *Server) clientIP(r *http.Request) string {
	if ip := s.proxies.ClientIP(r); ip != nil {
		return ip.String()
	}
	return r.RemoteAddr
}
