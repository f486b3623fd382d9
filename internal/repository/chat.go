package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/foxzi/hookdesk/internal/db"
	"github.com/foxzi/hookdesk/internal/models"
)

const chatColumns = `id, user_id, solution_id, model, request, response, status, error, created_at, completed_at`

type ChatRepository struct {
	db *db.DB
}

func NewChatRepository(database *db.DB) *ChatRepository {
	return &ChatRepository{db: database}
}

// CreateChat stores a pending completion before the upstream call
func (r *ChatRepository) CreateChat(ctx context.Context, c *models.ChatCompletion) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO chat_completions (`+chatColumns+`)
		VALUES (:id, :user_id, :solution_id, :model, :request, :response, :status, :error, :created_at, :completed_at)`, c)
	if err != nil {
		return fmt.Errorf("failed to create chat completion: %w", err)
	}
	return nil
}

// CompleteChat records the outcome of the upstream call
func (r *ChatRepository) CompleteChat(ctx context.Context, c *models.ChatCompletion) error {
	result, err := r.db.NamedExecContext(ctx, `
		UPDATE chat_completions
		SET response = :response, status = :status, error = :error, completed_at = :completed_at
		WHERE id = :id`, c)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ChatRepository) GetChat(ctx context.Context, id string) (*models.ChatCompletion, error) {
	var c models.ChatCompletion
	err := r.db.GetContext(ctx, &c, r.db.Rebind(`SELECT `+chatColumns+` FROM chat_completions WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
