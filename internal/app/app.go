// Package app wires configuration, storage and services into a runnable
// hookdesk server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/foxzi/hookdesk/internal/api"
	"github.com/foxzi/hookdesk/internal/audit"
	"github.com/foxzi/hookdesk/internal/auth"
	"github.com/foxzi/hookdesk/internal/chat"
	"github.com/foxzi/hookdesk/internal/config"
	"github.com/foxzi/hookdesk/internal/ipfilter"
	"github.com/foxzi/hookdesk/internal/metrics"
	"github.com/foxzi/hookdesk/internal/ratelimit"
	hookdeskTLS "github.com/foxzi/hookdesk/internal/tls"
	"github.com/foxzi/hookdesk/internal/tokens"
	"github.com/foxzi/hookdesk/internal/viewer"
	"github.com/foxzi/hookdesk/internal/webhook"
	"github.com/foxzi/hookdesk/internal/worker"
)

// App is the main application
type App struct {
	config        *config.Config
	logger        *zap.Logger
	closeStore    func() error
	apiServer     *api.Server
	metricsServer *metrics.Server
	rateLimiter   *ratelimit.Limiter
	rateLimitDB   *bolt.DB
	sweeper       *worker.Sweeper
	retention     *worker.Retention
	acmeManager   *hookdeskTLS.ACMEManager
	acmeServer    *http.Server
}

// New creates a new application
func New(ctx context.Context, cfg *config.Config, version string, logger *zap.Logger) (*App, error) {
	store, closeStore, err := OpenStore(&cfg.Database)
	if err != nil {
		return nil, err
	}

	a := &App{
		config:     cfg,
		logger:     logger,
		closeStore: closeStore,
	}

	m := metrics.New()
	recorder := audit.NewRecorder(store.Audit, m, logger)

	authSvc := auth.NewService(store.Users, recorder, auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), logger)
	tokenSvc := tokens.NewService(store.Tokens, store.Keys, recorder, m, logger)
	viewerSvc := viewer.NewService(store.Logs, store.Audit, store.Tokens, store.Users, logger)

	oidcProvider, err := auth.NewOIDCProvider(ctx, &cfg.Auth.OIDC)
	if err != nil {
		a.closeAll()
		return nil, err
	}
	if oidcProvider != nil {
		logger.Info("OIDC login enabled", zap.String("issuer", cfg.Auth.OIDC.IssuerURL))
	}

	var completer chat.Completer
	if c := chat.NewOpenAICompleter(&cfg.Chat); c != nil {
		completer = c
		logger.Info("chat completions enabled", zap.String("default_model", cfg.Chat.DefaultModel))
	}
	chatSvc := chat.NewService(store.Chats, completer, cfg.Chat.DefaultModel, cfg.Chat.Timeout, m, logger)

	webhookOpts := webhook.Options{
		EnforceExpiry: cfg.Webhook.EnforceExpiry,
		MaxBodyBytes:  cfg.Webhook.MaxBodyBytes,
		Proxies:       ipfilter.NewProxies(cfg.Server.TrustedProxies, logger),
	}
	if cfg.Webhook.RateLimit.Enabled {
		if err := a.openRateLimiter(&cfg.Webhook.RateLimit); err != nil {
			a.closeAll()
			return nil, err
		}
		webhookOpts.Limiter = a.rateLimiter
		logger.Info("webhook rate limiting enabled",
			zap.Int("per_ip_minute", cfg.Webhook.RateLimit.PerIPMinute),
			zap.Int("per_token_minute", cfg.Webhook.RateLimit.PerTokenMinute),
			zap.Int("per_token_hour", cfg.Webhook.RateLimit.PerTokenHour),
		)
	}

	if cfg.Sweeper.Enabled {
		a.sweeper, err = worker.NewSweeper(tokenSvc, cfg.Sweeper.Schedule, logger)
		if err != nil {
			a.closeAll()
			return nil, err
		}
	}

	if cfg.Retention.Enabled {
		a.retention, err = worker.NewRetention(store.Logs, store.Audit, worker.RetentionConfig{
			LogsMaxAge:  days(cfg.Retention.LogsDays),
			AuditMaxAge: days(cfg.Retention.AuditDays),
			Schedule:    cfg.Retention.Schedule,
		}, logger)
		if err != nil {
			a.closeAll()
			return nil, err
		}
	}

	deps := api.Deps{
		Auth:    authSvc,
		OIDC:    oidcProvider,
		Tokens:  tokenSvc,
		Viewer:  viewerSvc,
		Chat:    chatSvc,
		Webhook: webhook.NewHandler(store.Tokens, store.Logs, webhookOpts, m, logger),
		Metrics: m,
	}
	if a.rateLimiter != nil {
		deps.RateLimits = a.rateLimiter
	}
	a.apiServer = api.NewServer(&cfg.Server, cfg.Webhook.Path, deps, version, logger)

	if cfg.Server.TLS.Enabled {
		if err := a.setupTLS(&cfg.Server.TLS); err != nil {
			a.closeAll()
			return nil, err
		}
	}

	if cfg.Metrics.Enabled {
		a.metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, cfg.Metrics.AllowedIPs, logger)
	}

	return a, nil
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func (a *App) openRateLimiter(cfg *config.RateLimitConfig) error {
	if err := os.MkdirAll(filepath.Dir(cfg.StoragePath), 0750); err != nil {
		return fmt.Errorf("failed to create rate limit storage directory: %w", err)
	}

	db, err := bolt.Open(cfg.StoragePath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("failed to open rate limit storage: %w", err)
	}
	a.rateLimitDB = db

	rlConfig := &ratelimit.Config{FlushInterval: cfg.FlushInterval}
	if cfg.PerIPMinute > 0 {
		rlConfig.PerIP = &ratelimit.LimitConfig{RequestsPerMinute: cfg.PerIPMinute}
	}
	if cfg.PerTokenMinute > 0 || cfg.PerTokenHour > 0 {
		rlConfig.PerToken = &ratelimit.LimitConfig{
			RequestsPerMinute: cfg.PerTokenMinute,
			RequestsPerHour:   cfg.PerTokenHour,
		}
	}

	a.rateLimiter, err = ratelimit.NewLimiter(db, rlConfig)
	if err != nil {
		return fmt.Errorf("failed to create rate limiter: %w", err)
	}
	return nil
}

func (a *App) setupTLS(cfg *config.TLSConfig) error {
	if cfg.ACME.Enabled {
		a.acmeManager = hookdeskTLS.NewACMEManager(cfg.ACME.Email, cfg.ACME.Domains, cfg.ACME.CacheDir)
		a.apiServer.UseTLS(a.acmeManager.TLSConfig())
		a.logger.Info("ACME (Let's Encrypt) enabled", zap.Strings("domains", cfg.ACME.Domains))
		return nil
	}

	tlsConfig, err := hookdeskTLS.LoadCertificate(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return err
	}
	a.apiServer.UseTLS(tlsConfig)

	if info, err := hookdeskTLS.ReadCertificateInfo(cfg.CertFile); err == nil {
		a.logger.Info("TLS enabled with manual certificate",
			zap.String("subject", info.Subject),
			zap.Time("not_after", info.NotAfter),
			zap.Int("days_left", info.DaysLeft),
		)
		if info.DaysLeft < 14 {
			a.logger.Warn("TLS certificate expires soon", zap.Int("days_left", info.DaysLeft))
		}
	}
	return nil
}

// Run starts all components and waits for a signal or a server error
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting hookdesk",
		zap.String("listen_addr", a.config.Server.ListenAddr),
		zap.String("webhook_path", a.config.Webhook.Path),
		zap.String("db_driver", a.config.Database.Driver),
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	if a.acmeManager != nil {
		a.acmeServer = &http.Server{
			Addr:              a.config.Server.TLS.ACME.HTTPAddr,
			Handler:           a.acmeManager.ChallengeHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.logger.Info("starting ACME HTTP challenge server", zap.String("addr", a.acmeServer.Addr))
			if err := a.acmeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Warn("ACME HTTP server error", zap.Error(err))
			}
		}()
	}

	if a.sweeper != nil {
		a.sweeper.RunOnce(ctx)
		a.sweeper.Start()
	}
	if a.retention != nil {
		a.retention.Start()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("server error", zap.Error(runErr))
	}

	a.Shutdown(context.Background())
	return runErr
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", zap.Error(err))
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}

	if a.acmeServer != nil {
		if err := a.acmeServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("ACME server shutdown error", zap.Error(err))
		}
	}

	if a.sweeper != nil {
		a.sweeper.Stop(shutdownCtx)
	}
	if a.retention != nil {
		a.retention.Stop(shutdownCtx)
	}

	a.closeAll()
	a.logger.Info("shutdown complete")
}

// closeAll releases storage. Safe to call on a partially built App.
func (a *App) closeAll() {
	if a.rateLimiter != nil {
		if err := a.rateLimiter.Stop(); err != nil {
			a.logger.Error("rate limiter stop error", zap.Error(err))
		}
		a.rateLimiter = nil
	}
	if a.rateLimitDB != nil {
		if err := a.rateLimitDB.Close(); err != nil {
			a.logger.Error("rate limit storage close error", zap.Error(err))
		}
		a.rateLimitDB = nil
	}
	if a.closeStore != nil {
		if err := a.closeStore(); err != nil {
			a.logger.Error("database close error", zap.Error(err))
		}
		a.closeStore = nil
	}
}
