package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/foxzi/hookdesk/internal/db"
	"github.com/foxzi/hookdesk/internal/models"
)

const keyColumns = `id, name, key, description, is_active, created_by, created_at`

type KeyRepository struct {
	db *db.DB
}

func NewKeyRepository(database *db.DB) *KeyRepository {
	return &KeyRepository{db: database}
}

func (r *KeyRepository) CreateKey(ctx context.Context, k *models.WebhookKey) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO webhook_keys (`+keyColumns+`)
		VALUES (:id, :name, :key, :description, :is_active, :created_by, :created_at)`, k)
	if err != nil {
		return fmt.Errorf("failed to create webhook key: %w", err)
	}
	return nil
}

func (r *KeyRepository) GetKey(ctx context.Context, id string) (*models.WebhookKey, error) {
	var k models.WebhookKey
	err := r.db.GetContext(ctx, &k, r.db.Rebind(`SELECT `+keyColumns+` FROM webhook_keys WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// ListKeys returns all keys, newest first
func (r *KeyRepository) ListKeys(ctx context.Context) ([]models.WebhookKey, error) {
	keys := []models.WebhookKey{}
	err := r.db.SelectContext(ctx, &keys, `SELECT `+keyColumns+` FROM webhook_keys ORDER BY created_at DESC`)
	return keys, err
}

func (r *KeyRepository) SetKeyActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind("UPDATE webhook_keys SET is_active = ? WHERE id = ?"), active, id)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *KeyRepository) DeleteKey(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind("DELETE FROM webhook_keys WHERE id = ?"), id)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
