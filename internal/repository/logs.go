package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/foxzi/hookdesk/internal/db"
	"github.com/foxzi/hookdesk/internal/models"
)

const logColumns = `id, execution_id, webhook_token_id, user_id, request_data, response_data, ip_address, status, execution_timestamp`

type LogRepository struct {
	db *db.DB
}

func NewLogRepository(database *db.DB) *LogRepository {
	return &LogRepository{db: database}
}

// InsertLog appends a webhook log row
func (r *LogRepository) InsertLog(ctx context.Context, l *models.WebhookLog) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO webhook_logs (`+logColumns+`)
		VALUES (:id, :execution_id, :webhook_token_id, :user_id, :request_data, :response_data, :ip_address, :status, :execution_timestamp)`, l)
	if err != nil {
		return fmt.Errorf("failed to insert webhook log: %w", err)
	}
	return nil
}

// ListLogs returns log rows newest first and the total matching count
func (r *LogRepository) ListLogs(ctx context.Context, filter models.WebhookLogFilter) ([]models.WebhookLog, int, error) {
	where := " WHERE 1=1"
	args := []any{}

	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.TokenID != "" {
		where += " AND webhook_token_id = ?"
		args = append(args, filter.TokenID)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, r.db.Rebind("SELECT COUNT(*) FROM webhook_logs"+where), args...); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + logColumns + " FROM webhook_logs" + where + " ORDER BY execution_timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	logs := []models.WebhookLog{}
	if err := r.db.SelectContext(ctx, &logs, r.db.Rebind(query), args...); err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// LogStats counts rows per status since the given time
func (r *LogRepository) LogStats(ctx context.Context, since time.Time) (*models.WebhookLogStats, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT status, COUNT(*) AS count FROM webhook_logs
		WHERE execution_timestamp >= ?
		GROUP BY status`), since.UTC())
	if err != nil {
		return nil, err
	}

	stats := &models.WebhookLogStats{Since: since, ByStatus: make(map[string]int)}
	for _, row := range rows {
		stats.ByStatus[row.Status] = row.Count
		stats.Total += row.Count
	}
	return stats, nil
}

func (r *LogRepository) CountLogsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, r.db.Rebind("SELECT COUNT(*) FROM webhook_logs WHERE execution_timestamp < ?"), cutoff.UTC())
	return count, err
}

func (r *LogRepository) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, r.db.Rebind("DELETE FROM webhook_logs WHERE execution_timestamp < ?"), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
