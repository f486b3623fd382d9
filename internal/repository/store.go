package repository

import (
	"context"
	"errors"
	"time"

	"github.com/foxzi/hookdesk/internal/db"
	"github.com/foxzi/hookdesk/internal/models"
)

var (
	// ErrNotFound is returned when a row addressed by id does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert violates a unique column
	ErrDuplicate = errors.New("already exists")
)

// TokenStore persists webhook tokens
type TokenStore interface {
	CreateToken(ctx context.Context, t *models.WebhookToken) error
	GetToken(ctx context.Context, id string) (*models.WebhookToken, error)
	// FindActiveToken matches the secret exactly and only among active tokens.
	FindActiveToken(ctx context.Context, token string) (*models.WebhookToken, error)
	ListTokens(ctx context.Context) ([]models.WebhookToken, error)
	SetTokenActive(ctx context.Context, id string, active bool) error
	DeleteToken(ctx context.Context, id string) error
	TokenNames(ctx context.Context, ids []string) (map[string]string, error)
	ListExpiredActiveTokens(ctx context.Context, now time.Time) ([]models.WebhookToken, error)
}

// KeyStore persists webhook keys
type KeyStore interface {
	CreateKey(ctx context.Context, k *models.WebhookKey) error
	GetKey(ctx context.Context, id string) (*models.WebhookKey, error)
	ListKeys(ctx context.Context) ([]models.WebhookKey, error)
	SetKeyActive(ctx context.Context, id string, active bool) error
	DeleteKey(ctx context.Context, id string) error
}

// LogStore persists webhook invocation logs. Rows are never updated.
type LogStore interface {
	InsertLog(ctx context.Context, l *models.WebhookLog) error
	ListLogs(ctx context.Context, filter models.WebhookLogFilter) ([]models.WebhookLog, int, error)
	LogStats(ctx context.Context, since time.Time) (*models.WebhookLogStats, error)
	CountLogsBefore(ctx context.Context, cutoff time.Time) (int, error)
	DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditStore persists audit entries. Rows are never updated.
type AuditStore interface {
	AddAuditLog(ctx context.Context, e *models.AuditLogEntry) error
	ListAuditLog(ctx context.Context, filter models.AuditLogFilter) ([]models.AuditLogEntry, int, error)
	CountAuditBefore(ctx context.Context, cutoff time.Time) (int, error)
	DeleteAuditBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// UserStore persists dashboard users
type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateUserRole(ctx context.Context, id, role string) error
	UserEmails(ctx context.Context, ids []string) (map[string]string, error)
}

// ChatStore persists chat completion records
type ChatStore interface {
	CreateChat(ctx context.Context, c *models.ChatCompletion) error
	CompleteChat(ctx context.Context, c *models.ChatCompletion) error
	GetChat(ctx context.Context, id string) (*models.ChatCompletion, error)
}

// Store groups every store the service needs
type Store struct {
	Tokens TokenStore
	Keys   KeyStore
	Logs   LogStore
	Audit  AuditStore
	Users  UserStore
	Chats  ChatStore
}

// NewSQLStore returns a Store backed by the given database
func NewSQLStore(database *db.DB) *Store {
	return &Store{
		Tokens: NewTokenRepository(database),
		Keys:   NewKeyRepository(database),
		Logs:   NewLogRepository(database),
		Audit:  NewAuditRepository(database),
		Users:  NewUserRepository(database),
		Chats:  NewChatRepository(database),
	}
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
