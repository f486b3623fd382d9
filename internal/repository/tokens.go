package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/foxzi/hookdesk/internal/db"
	"github.com/foxzi/hookdesk/internal/models"
)

const tokenColumns = `id, name, token, description, is_active, expires_at, created_by, created_at`

type TokenRepository struct {
	db *db.DB
}

func NewTokenRepository(database *db.DB) *TokenRepository {
	return &TokenRepository{db: database}
}

// CreateToken inserts a token row as given
func (r *TokenRepository) CreateToken(ctx context.Context, t *models.WebhookToken) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO webhook_tokens (`+tokenColumns+`)
		VALUES (:id, :name, :token, :description, :is_active, :expires_at, :created_by, :created_at)`, t)
	if err != nil {
		return fmt.Errorf("failed to create webhook token: %w", err)
	}
	return nil
}

// GetToken returns a token by ID
func (r *TokenRepository) GetToken(ctx context.Context, id string) (*models.WebhookToken, error) {
	var t models.WebhookToken
	err := r.db.GetContext(ctx, &t, r.db.Rebind(`SELECT `+tokenColumns+` FROM webhook_tokens WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FindActiveToken returns the active token with the exact secret value
func (r *TokenRepository) FindActiveToken(ctx context.Context, token string) (*models.WebhookToken, error) {
	var t models.WebhookToken
	err := r.db.GetContext(ctx, &t,
		r.db.Rebind(`SELECT `+tokenColumns+` FROM webhook_tokens WHERE token = ? AND is_active = ?`),
		token, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTokens returns all tokens, newest first
func (r *TokenRepository) ListTokens(ctx context.Context) ([]models.WebhookToken, error) {
	tokens := []models.WebhookToken{}
	err := r.db.SelectContext(ctx, &tokens, `SELECT `+tokenColumns+` FROM webhook_tokens ORDER BY created_at DESC`)
	return tokens, err
}

func (r *TokenRepository) SetTokenActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind("UPDATE webhook_tokens SET is_active = ? WHERE id = ?"), active, id)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteToken permanently deletes a token
func (r *TokenRepository) DeleteToken(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind("DELETE FROM webhook_tokens WHERE id = ?"), id)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// TokenNames resolves token ids to names in one query. Unknown ids are absent.
func (r *TokenRepository) TokenNames(ctx context.Context, ids []string) (map[string]string, error) {
	return lookupColumn(ctx, r.db, `SELECT id, name AS value FROM webhook_tokens WHERE id IN (?)`, ids)
}

// ListExpiredActiveTokens returns active tokens whose expiry is not after now
func (r *TokenRepository) ListExpiredActiveTokens(ctx context.Context, now time.Time) ([]models.WebhookToken, error) {
	tokens := []models.WebhookToken{}
	err := r.db.SelectContext(ctx, &tokens, r.db.Rebind(`
		SELECT `+tokenColumns+` FROM webhook_tokens
		WHERE is_active = ? AND expires_at IS NOT NULL AND expires_at <= ?`),
		true, now.UTC())
	return tokens, err
}

type idValue struct {
	ID    string `db:"id"`
	Value string `db:"value"`
}

func lookupColumn(ctx context.Context, database *db.DB, query string, ids []string) (map[string]string, error) {
	result := make(map[string]string)
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(query, ids)
	if err != nil {
		return nil, err
	}

	var rows []idValue
	if err := database.SelectContext(ctx, &rows, database.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.ID] = row.Value
	}
	return result, nil
}
