package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the main configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	Retention RetentionConfig `yaml:"retention"`
	Chat      ChatConfig      `yaml:"chat"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr" env:"HOOKDESK_LISTEN_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
	TLS             TLSConfig     `yaml:"tls"`
	// AdminAllowedIPs restricts /api/v1 to these addresses or CIDRs. Empty allows all.
	AdminAllowedIPs []string      `yaml:"admin_allowed_ips" env:"HOOKDESK_ADMIN_ALLOWED_IPS"`
	// TrustedProxies are the only peers whose X-Forwarded-For and X-Real-IP are believed.
	TrustedProxies  []string      `yaml:"trusted_proxies" env:"HOOKDESK_TRUSTED_PROXIES"`
}

// TLSConfig serves the listener over HTTPS from PEM files or Let's Encrypt
type TLSConfig struct {
	Enabled  bool       `yaml:"enabled" env:"HOOKDESK_TLS_ENABLED"`
	CertFile string     `yaml:"cert_file" env:"HOOKDESK_TLS_CERT_FILE"`
	KeyFile  string     `yaml:"key_file" env:"HOOKDESK_TLS_KEY_FILE"`
	ACME     ACMEConfig `yaml:"acme"`
}

type ACMEConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Email    string   `yaml:"email"`
	Domains  []string `yaml:"domains"`
	CacheDir string   `yaml:"cache_dir"`
	HTTPAddr string   `yaml:"http_addr"` // HTTP-01 challenges and redirects
}

// CORSConfig applies to the admin API. The webhook endpoint always allows any origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"HOOKDESK_CORS_ORIGINS"`
}

// DatabaseConfig selects the row store
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"HOOKDESK_DB_DRIVER"` // sqlite3, postgres or memory
	DSN             string        `yaml:"dsn" env:"HOOKDESK_DB_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// AuthConfig contains dashboard authentication settings
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" env:"HOOKDESK_JWT_SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	OIDC      OIDCConfig    `yaml:"oidc"`
}

type OIDCConfig struct {
	Enabled       bool     `yaml:"enabled"`
	ClientID      string   `yaml:"client_id" env:"HOOKDESK_OIDC_CLIENT_ID"`
	ClientSecret  string   `yaml:"client_secret" env:"HOOKDESK_OIDC_CLIENT_SECRET"`
	IssuerURL     string   `yaml:"issuer_url"`
	RedirectURL   string   `yaml:"redirect_url"`
	Scopes        []string `yaml:"scopes"`
	AllowedGroups []string `yaml:"allowed_groups"`
}

// WebhookConfig controls the ingestion endpoint
type WebhookConfig struct {
	Path          string          `yaml:"path"`
	EnforceExpiry bool            `yaml:"enforce_expiry" env:"HOOKDESK_WEBHOOK_ENFORCE_EXPIRY"`
	MaxBodyBytes  int64           `yaml:"max_body_bytes"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig contains per-IP and per-token limits. Zero disables a limit.
type RateLimitConfig struct {
	Enabled        bool          `yaml:"enabled"`
	PerIPMinute    int           `yaml:"per_ip_minute"`
	PerTokenMinute int           `yaml:"per_token_minute"`
	PerTokenHour   int           `yaml:"per_token_hour"`
	StoragePath    string        `yaml:"storage_path"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
}

// SweeperConfig schedules deactivation of expired tokens
type SweeperConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// RetentionConfig deletes old webhook logs and audit entries. Zero days keeps them.
type RetentionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	LogsDays  int    `yaml:"logs_days"`
	AuditDays int    `yaml:"audit_days"`
	Schedule  string `yaml:"schedule"`
}

// ChatConfig points at an OpenAI-compatible completions API
type ChatConfig struct {
	Enabled      bool          `yaml:"enabled"`
	BaseURL      string        `yaml:"base_url" env:"HOOKDESK_LLM_BASE_URL"`
	APIKey       string        `yaml:"api_key" env:"HOOKDESK_LLM_API_KEY"`
	DefaultModel string        `yaml:"default_model"`
	Timeout      time.Duration `yaml:"timeout"`
}

type MetricsConfig struct {
	Enabled    bool     `yaml:"enabled"`
	ListenAddr string   `yaml:"listen_addr"`
	Path       string   `yaml:"path"`
	AllowedIPs []string `yaml:"allowed_ips"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"HOOKDESK_LOG_LEVEL"`
	Format string `yaml:"format" env:"HOOKDESK_LOG_FORMAT"`
}

// Load reads configuration from a YAML file, applies HOOKDESK_* environment
// overrides and defaults, then validates. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.TLS.ACME.CacheDir == "" {
		c.Server.TLS.ACME.CacheDir = "/var/lib/hookdesk/certs"
	}
	if c.Server.TLS.ACME.HTTPAddr == "" {
		c.Server.TLS.ACME.HTTPAddr = ":80"
	}
	if len(c.Server.CORS.AllowedOrigins) == 0 {
		c.Server.CORS.AllowedOrigins = []string{"*"}
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite3" {
		c.Database.DSN = "/var/lib/hookdesk/hookdesk.db"
	}

	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if len(c.Auth.OIDC.Scopes) == 0 {
		c.Auth.OIDC.Scopes = []string{"openid", "email", "profile"}
	}

	if c.Webhook.Path == "" {
		c.Webhook.Path = "/n8n-webhook"
	}
	if c.Webhook.MaxBodyBytes == 0 {
		c.Webhook.MaxBodyBytes = 1 << 20
	}
	if c.Webhook.RateLimit.StoragePath == "" {
		c.Webhook.RateLimit.StoragePath = "/var/lib/hookdesk/ratelimit.db"
	}
	if c.Webhook.RateLimit.FlushInterval == 0 {
		c.Webhook.RateLimit.FlushInterval = 10 * time.Second
	}

	if c.Sweeper.Schedule == "" {
		c.Sweeper.Schedule = "@every 5m"
	}

	if c.Retention.Schedule == "" {
		c.Retention.Schedule = "0 3 * * *"
	}

	if c.Chat.DefaultModel == "" {
		c.Chat.DefaultModel = "gpt-4o-mini"
	}
	if c.Chat.Timeout == 0 {
		c.Chat.Timeout = 60 * time.Second
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %s", c.Database.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("invalid database.driver: %s (must be sqlite3, postgres, or memory)", c.Database.Driver)
	}

	if tls := c.Server.TLS; tls.Enabled {
		if tls.ACME.Enabled {
			if len(tls.ACME.Domains) == 0 || tls.ACME.Email == "" {
				return fmt.Errorf("server.tls.acme requires email and domains")
			}
		} else if tls.CertFile == "" || tls.KeyFile == "" {
			return fmt.Errorf("server.tls requires cert_file and key_file unless acme is enabled")
		}
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}

	if c.Auth.OIDC.Enabled {
		if c.Auth.OIDC.IssuerURL == "" || c.Auth.OIDC.ClientID == "" || c.Auth.OIDC.RedirectURL == "" {
			return fmt.Errorf("auth.oidc requires issuer_url, client_id and redirect_url")
		}
	}

	if !strings.HasPrefix(c.Webhook.Path, "/") {
		return fmt.Errorf("webhook.path must start with /")
	}

	rl := c.Webhook.RateLimit
	if rl.PerIPMinute < 0 || rl.PerTokenMinute < 0 || rl.PerTokenHour < 0 {
		return fmt.Errorf("webhook.rate_limit values must not be negative")
	}

	if c.Sweeper.Enabled {
		if _, err := cron.ParseStandard(c.Sweeper.Schedule); err != nil {
			return fmt.Errorf("invalid sweeper.schedule %q: %w", c.Sweeper.Schedule, err)
		}
	}

	if r := c.Retention; r.Enabled {
		if r.LogsDays < 0 || r.AuditDays < 0 {
			return fmt.Errorf("retention days must not be negative")
		}
		if _, err := cron.ParseStandard(r.Schedule); err != nil {
			return fmt.Errorf("invalid retention.schedule %q: %w", r.Schedule, err)
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}
