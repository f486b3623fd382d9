// Package viewer serves the read-only webhook log and audit log listings.
package viewer

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/foxzi/hookdesk/internal/models"
	"github.com/foxzi/hookdesk/internal/repository"
)

const (
	DefaultLogLimit   = 50
	DefaultAuditLimit = 100
	MaxLimit          = 100
	DefaultStatsDays  = 7

	emailCacheTTL = 5 * time.Minute
)

// LogPage is one page of enriched webhook logs
type LogPage struct {
	Logs   []models.WebhookLogView `json:"logs"`
	Total  int                     `json:"total"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}

// AuditPage is one page of audit entries
type AuditPage struct {
	Entries []models.AuditLogEntry `json:"entries"`
	Total   int                    `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

type Service struct {
	logs   repository.LogStore
	audit  repository.AuditStore
	tokens repository.TokenStore
	users  repository.UserStore
	emails *cache.Cache
	logger *zap.Logger
	now    func() time.Time
}

func NewService(logs repository.LogStore, audit repository.AuditStore, tokens repository.TokenStore, users repository.UserStore, logger *zap.Logger) *Service {
	return &Service{
		logs:   logs,
		audit:  audit,
		tokens: tokens,
		users:  users,
		emails: cache.New(emailCacheTTL, 2*emailCacheTTL),
		logger: logger.With(zap.String("component", "viewer")),
		now:    time.Now,
	}
}

// ListLogs returns webhook logs newest first with token names and user
// emails filled in. Dangling references render as empty strings.
func (s *Service) ListLogs(ctx context.Context, filter models.WebhookLogFilter) (*LogPage, error) {
	filter.Limit = clampLimit(filter.Limit, DefaultLogLimit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	rows, total, err := s.logs.ListLogs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook logs: %w", err)
	}

	var tokenIDs, userIDs []string
	for _, row := range rows {
		if row.WebhookTokenID != nil {
			tokenIDs = append(tokenIDs, *row.WebhookTokenID)
		}
		if row.UserID != nil {
			userIDs = append(userIDs, *row.UserID)
		}
	}

	names := map[string]string{}
	if len(tokenIDs) > 0 {
		names, err = s.tokens.TokenNames(ctx, tokenIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve token names: %w", err)
		}
	}

	emails, err := s.lookupEmails(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	views := make([]models.WebhookLogView, 0, len(rows))
	for _, row := range rows {
		v := models.WebhookLogView{WebhookLog: row}
		if row.WebhookTokenID != nil {
			v.TokenName = names[*row.WebhookTokenID]
		}
		if row.UserID != nil {
			v.UserEmail = emails[*row.UserID]
		}
		views = append(views, v)
	}

	return &LogPage{Logs: views, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// ListAudit returns audit entries newest first. Entries written without an
// actor email get it from the users table.
func (s *Service) ListAudit(ctx context.Context, filter models.AuditLogFilter) (*AuditPage, error) {
	filter.Limit = clampLimit(filter.Limit, DefaultAuditLimit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	entries, total, err := s.audit.ListAuditLog(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log: %w", err)
	}

	var missing []string
	for _, e := range entries {
		if e.ActorEmail == "" && e.Actor != "" && e.Actor != models.ActorSystem {
			missing = append(missing, e.Actor)
		}
	}

	emails, err := s.lookupEmails(ctx, missing)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].ActorEmail == "" {
			entries[i].ActorEmail = emails[entries[i].Actor]
		}
	}

	return &AuditPage{Entries: entries, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// Stats counts webhook logs per status over the last days
func (s *Service) Stats(ctx context.Context, days int) (*models.WebhookLogStats, error) {
	if days <= 0 {
		days = DefaultStatsDays
	}
	since := s.now().UTC().AddDate(0, 0, -days)

	stats, err := s.logs.LogStats(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to compute webhook log stats: %w", err)
	}
	return stats, nil
}

// lookupEmails resolves user ids to emails, serving repeats from the cache
// and fetching the rest in one query.
func (s *Service) lookupEmails(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string)
	var misses []string
	seen := make(map[string]bool)

	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if email, ok := s.emails.Get(id); ok {
			out[id] = email.(string)
			continue
		}
		misses = append(misses, id)
	}

	if len(misses) == 0 {
		return out, nil
	}

	found, err := s.users.UserEmails(ctx, misses)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user emails: %w", err)
	}
	for id, email := range found {
		s.emails.SetDefault(id, email)
		out[id] = email
	}
	return out, nil
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
