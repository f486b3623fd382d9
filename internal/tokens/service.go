// Package tokens manages the lifecycle of webhook tokens and keys. Every
// successful mutation is followed by an audit entry.
package tokens

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foxzi/hookdesk/internal/audit"
	"github.com/foxzi/hookdesk/internal/metrics"
	"github.com/foxzi/hookdesk/internal/models"
	"github.com/foxzi/hookdesk/internal/repository"
)

var (
	ErrNameRequired  = errors.New("name is required")
	ErrInvalidExpiry = errors.New("expires_in_days must not be negative")
)

// secretBytes of randomness give a 96 character hex secret
const secretBytes = 48

// Audit actions
const (
	ActionCreateToken  = "create_webhook_token"
	ActionEnableToken  = "enable_webhook_token"
	ActionDisableToken = "disable_webhook_token"
	ActionDeleteToken  = "delete_webhook_token"
	ActionCreateKey    = "create_webhook_key"
	ActionEnableKey    = "enable_webhook_key"
	ActionDisableKey   = "disable_webhook_key"
	ActionDeleteKey    = "delete_webhook_key"
)

// CreateTokenInput holds the admin-supplied fields of a new token
type CreateTokenInput struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	ExpiresInDays int    `json:"expires_in_days"`
}

// CreateKeyInput holds the admin-supplied fields of a new key
type CreateKeyInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Service struct {
	tokens  repository.TokenStore
	keys    repository.KeyStore
	audit   *audit.Recorder
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(tokens repository.TokenStore, keys repository.KeyStore, recorder *audit.Recorder, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		tokens:  tokens,
		keys:    keys,
		audit:   recorder,
		metrics: m,
		logger:  logger.With(zap.String("component", "tokens")),
		now:     time.Now,
	}
}

// CreateToken validates input, stores a new active token and audits it.
// Nothing is stored when validation fails.
func (s *Service) CreateToken(ctx context.Context, actor models.Actor, in CreateTokenInput) (*models.WebhookToken, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrNameRequired
	}
	if in.ExpiresInDays < 0 {
		return nil, ErrInvalidExpiry
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	token := &models.WebhookToken{
		ID:          uuid.New().String(),
		Name:        name,
		Token:       secret,
		Description: strings.TrimSpace(in.Description),
		IsActive:    true,
		CreatedBy:   actor.UserID,
		CreatedAt:   now,
	}
	if in.ExpiresInDays > 0 {
		expiresAt := now.Add(time.Duration(in.ExpiresInDays) * 24 * time.Hour)
		token.ExpiresAt = &expiresAt
	}

	if err := s.tokens.CreateToken(ctx, token); err != nil {
		return nil, err
	}

	s.mutated(ctx, actor, ActionCreateToken, models.TableWebhookTokens, token.ID, map[string]any{
		"token_name": token.Name,
	})

	return token, nil
}

// ToggleToken flips is_active and returns the updated token. The audit action
// is chosen from the state before the flip.
func (s *Service) ToggleToken(ctx context.Context, actor models.Actor, id string) (*models.WebhookToken, error) {
	token, err := s.tokens.GetToken(ctx, id)
	if err != nil {
		return nil, err
	}

	newStatus := !token.IsActive
	if err := s.tokens.SetTokenActive(ctx, id, newStatus); err != nil {
		return nil, err
	}

	action := ActionEnableToken
	if token.IsActive {
		action = ActionDisableToken
	}
	token.IsActive = newStatus

	s.mutated(ctx, actor, action, models.TableWebhookTokens, id, map[string]any{
		"token_name": token.Name,
		"new_status": newStatus,
	})

	return token, nil
}

// DeleteToken records the deletion, then deletes. The two writes are not atomic.
func (s *Service) DeleteToken(ctx context.Context, actor models.Actor, id string) error {
	token, err := s.tokens.GetToken(ctx, id)
	if err != nil {
		return err
	}

	s.mutated(ctx, actor, ActionDeleteToken, models.TableWebhookTokens, id, map[string]any{
		"token_name": token.Name,
	})

	if err := s.tokens.DeleteToken(ctx, id); err != nil {
		return fmt.Errorf("failed to delete webhook token: %w", err)
	}
	return nil
}

// ListTokens returns all tokens, newest first
func (s *Service) ListTokens(ctx context.Context) ([]models.WebhookToken, error) {
	return s.tokens.ListTokens(ctx)
}

func (s *Service) CreateKey(ctx context.Context, actor models.Actor, in CreateKeyInput) (*models.WebhookKey, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrNameRequired
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}

	key := &models.WebhookKey{
		ID:          uuid.New().String(),
		Name:        name,
		Key:         secret,
		Description: strings.TrimSpace(in.Description),
		IsActive:    true,
		CreatedBy:   actor.UserID,
		CreatedAt:   s.now().UTC(),
	}

	if err := s.keys.CreateKey(ctx, key); err != nil {
		return nil, err
	}

	s.mutated(ctx, actor, ActionCreateKey, models.TableWebhookKeys, key.ID, map[string]any{
		"key_name": key.Name,
	})

	return key, nil
}

func (s *Service) ToggleKey(ctx context.Context, actor models.Actor, id string) (*models.WebhookKey, error) {
	key, err := s.keys.GetKey(ctx, id)
	if err != nil {
		return nil, err
	}

	newStatus := !key.IsActive
	if err := s.keys.SetKeyActive(ctx, id, newStatus); err != nil {
		return nil, err
	}

	action := ActionEnableKey
	if key.IsActive {
		action = ActionDisableKey
	}
	key.IsActive = newStatus

	s.mutated(ctx, actor, action, models.TableWebhookKeys, id, map[string]any{
		"key_name":   key.Name,
		"new_status": newStatus,
	})

	return key, nil
}

func (s *Service) DeleteKey(ctx context.Context, actor models.Actor, id string) error {
	key, err := s.keys.GetKey(ctx, id)
	if err != nil {
		return err
	}

	s.mutated(ctx, actor, ActionDeleteKey, models.TableWebhookKeys, id, map[string]any{
		"key_name": key.Name,
	})

	if err := s.keys.DeleteKey(ctx, id); err != nil {
		return fmt.Errorf("failed to delete webhook key: %w", err)
	}
	return nil
}

func (s *Service) ListKeys(ctx context.Context) ([]models.WebhookKey, error) {
	return s.keys.ListKeys(ctx)
}

// ExpireTokens deactivates active tokens whose expiry has passed and returns
// how many were deactivated.
func (s *Service) ExpireTokens(ctx context.Context) (int, error) {
	expired, err := s.tokens.ListExpiredActiveTokens(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to list expired tokens: %w", err)
	}

	system := models.Actor{UserID: models.ActorSystem}
	count := 0
	for _, token := range expired {
		if err := s.tokens.SetTokenActive(ctx, token.ID, false); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return count, fmt.Errorf("failed to deactivate token %s: %w", token.ID, err)
		}
		count++
		s.mutated(ctx, system, ActionDisableToken, models.TableWebhookTokens, token.ID, map[string]any{
			"token_name": token.Name,
			"new_status": false,
			"reason":     "expired",
		})
	}

	s.metrics.AddTokensExpired(count)
	return count, nil
}

func (s *Service) mutated(ctx context.Context, actor models.Actor, action, table, id string, details map[string]any) {
	s.metrics.IncAdminMutation(action)
	s.audit.Record(ctx, actor, action, table, id, details)
	s.logger.Info(action,
		zap.String("entity_id", id),
		zap.String("actor", actor.UserID),
	)
}

func generateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
