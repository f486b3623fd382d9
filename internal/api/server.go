// Package api serves the webhook ingestion endpoint, the chat completion
// proxy and the admin API.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/foxzi/hookdesk/internal/auth"
	"github.com/foxzi/hookdesk/internal/chat"
	"github.com/foxzi/hookdesk/internal/config"
	"github.com/foxzi/hookdesk/internal/ipfilter"
	"github.com/foxzi/hookdesk/internal/metrics"
	"github.com/foxzi/hookdesk/internal/models"
	"github.com/foxzi/hookdesk/internal/ratelimit"
	"github.com/foxzi/hookdesk/internal/tokens"
	"github.com/foxzi/hookdesk/internal/viewer"
)

// RateLimitStats reads live limiter counters
type RateLimitStats interface {
	GetStats(ctx context.Context, level ratelimit.Level, key string) (*ratelimit.Stats, error)
}

// Deps are the services behind the routes. OIDC and RateLimits may be nil.
type Deps struct {
	Auth       *auth.Service
	OIDC       *auth.OIDCProvider
	Tokens     *tokens.Service
	Viewer     *viewer.Service
	Chat       *chat.Service
	Webhook    http.Handler
	RateLimits RateLimitStats
	Metrics    *metrics.Metrics
}

// Server is the HTTP API server
type Server struct {
	router      *chi.Mux
	httpServer  *http.Server
	config      *config.ServerConfig
	webhookPath string
	deps        Deps
	logger      *zap.Logger
	startTime   time.Time
	version     string
	tlsConfig   *tls.Config
	proxies     *ipfilter.Proxies
}

// NewServer creates a new API server
func NewServer(cfg *config.ServerConfig, webhookPath string, deps Deps, version string, logger *zap.Logger) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		config:      cfg,
		webhookPath: webhookPath,
		deps:        deps,
		logger:      logger.With(zap.String("component", "api")),
		startTime:   time.Now(),
		version:     version,
		proxies:     ipfilter.NewProxies(cfg.TrustedProxies, logger),
	}

	s.setupRoutes()
	return s
}

// UseTLS makes ListenAndServe serve HTTPS with cfg
func (s *Server) UseTLS(cfg *tls.Config) {
	s.tlsConfig = cfg
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.deps.Metrics.HTTPMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.corsMiddleware())

	s.router.Get("/health", s.handleHealth)

	// The ingestion handler answers every method itself
	s.router.Handle(s.webhookPath, s.deps.Webhook)

	s.router.With(s.authMiddleware).Post("/chat-completions", s.handleChatCompletion)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(ipfilter.New(s.config.AdminAllowedIPs, s.logger).BehindProxies(s.proxies).Middleware)

		r.Post("/auth/login", s.handleLogin)
		r.Get("/auth/oidc/login", s.handleOIDCLogin)
		r.Get("/auth/oidc/callback", s.handleOIDCCallback)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleMe)

			r.Get("/webhook-logs", s.handleListWebhookLogs)
			r.Get("/webhook-logs/stats", s.handleWebhookLogStats)

			r.Group(func(r chi.Router) {
				r.Use(requireRole(models.RoleAdmin))

				r.Route("/webhook-tokens", func(r chi.Router) {
					r.Get("/", s.handleListTokens)
					r.Post("/", s.handleCreateToken)
					r.Post("/{id}/toggle", s.handleToggleToken)
					r.Delete("/{id}", s.handleDeleteToken)
				})

				r.Route("/webhook-keys", func(r chi.Router) {
					r.Get("/", s.handleListKeys)
					r.Post("/", s.handleCreateKey)
					r.Post("/{id}/toggle", s.handleToggleKey)
					r.Delete("/{id}", s.handleDeleteKey)
				})

				r.Get("/audit-logs", s.handleListAuditLogs)
				r.Get("/rate-limits/{level}/{key}", s.handleRateLimitStats)
				r.Get("/users", s.handleListUsers)
			})

			r.With(requireRole(models.RoleOwner)).Put("/users/{id}/role", s.handleSetUserRole)
		})
	})
}

// corsMiddleware applies the configured origins to everything except the
// webhook path, which sets its own headers and answers OPTIONS with 204.
func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	handler := cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Client-Info", "Apikey"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	})

	return func(next http.Handler) http.Handler {
		withCORS := handler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == s.webhookPath {
				next.ServeHTTP(w, r)
				return
			}
			withCORS.ServeHTTP(w, r)
		})
	}
}

// ListenAndServe starts the HTTP server. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
		TLSConfig:    s.tlsConfig,
	}

	s.logger.Info("starting HTTP server",
		zap.String("addr", s.config.ListenAddr),
		zap.String("webhook_path", s.webhookPath),
		zap.Bool("tls", s.tlsConfig != nil),
	)

	var err error
	if s.tlsConfig != nil {
		err = s.httpServer.ListenAndServeTLS("", "")
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
