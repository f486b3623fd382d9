package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/hookdesk/internal/db"
	"github.com/foxzi/hookdesk/internal/models"
)

const auditColumns = `id, action, entity_table, entity_id, details, actor, actor_email, ip_address, created_at`

type AuditRepository struct {
	db *db.DB
}

func NewAuditRepository(database *db.DB) *AuditRepository {
	return &AuditRepository{db: database}
}

// AddAuditLog adds an audit log entry, filling ID and CreatedAt when unset
func (r *AuditRepository) AddAuditLog(ctx context.Context, e *models.AuditLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO audit_log (`+auditColumns+`)
		VALUES (:id, :action, :entity_table, :entity_id, :details, :actor, :actor_email, :ip_address, :created_at)`, e)
	if err != nil {
		return fmt.Errorf("failed to add audit log: %w", err)
	}
	return nil
}

// ListAuditLog returns audit log entries newest first and the total count
func (r *AuditRepository) ListAuditLog(ctx context.Context, filter models.AuditLogFilter) ([]models.AuditLogEntry, int, error) {
	where := " WHERE 1=1"
	args := []any{}

	if filter.Actor != "" {
		where += " AND actor = ?"
		args = append(args, filter.Actor)
	}
	if filter.Action != "" {
		where += " AND action = ?"
		args = append(args, filter.Action)
	}
	if filter.EntityTable != "" {
		where += " AND entity_table = ?"
		args = append(args, filter.EntityTable)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, r.db.Rebind("SELECT COUNT(*) FROM audit_log"+where), args...); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + auditColumns + " FROM audit_log" + where + " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	entries := []models.AuditLogEntry{}
	if err := r.db.SelectContext(ctx, &entries, r.db.Rebind(query), args...); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *AuditRepository) CountAuditBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, r.db.Rebind("SELECT COUNT(*) FROM audit_log WHERE created_at < ?"), cutoff.UTC())
	return count, err
}

func (r *AuditRepository) DeleteAuditBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, r.db.Rebind("DELETE FROM audit_log WHERE created_at < ?"), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
