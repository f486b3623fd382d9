package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/foxzi/hookdesk/internal/models"
	"github.com/foxzi/hookdesk/internal/repository/memory"
)

func TestRetentionRunOnce(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, age := range []time.Duration{time.Hour, 10 * 24 * time.Hour, 40 * 24 * time.Hour} {
		require.NoError(t, mem.InsertLog(ctx, &models.WebhookLog{
			ID:                 string(rune('a' + i)),
			Status:             models.LogStatusSuccess,
			ExecutionTimestamp: now.Add(-age),
		}))
		require.NoError(t, mem.AddAuditLog(ctx, &models.AuditLogEntry{
			Action:    "create_webhook_token",
			Actor:     models.ActorSystem,
			CreatedAt: now.Add(-age),
		}))
	}

	r, err := NewRetention(mem, mem, RetentionConfig{
		LogsMaxAge:  7 * 24 * time.Hour,
		AuditMaxAge: 30 * 24 * time.Hour,
		Schedule:    "0 3 * * *",
	}, zap.NewNop())
	require.NoError(t, err)
	r.now = func() time.Time { return now }

	logs, audit := r.RunOnce(ctx)
	assert.Equal(t, int64(2), logs)
	assert.Equal(t, int64(1), audit)
	assert.Len(t, mem.Logs(), 1)
	assert.Len(t, mem.AuditEntries(), 2)
}

func TestRetentionZeroKeepsRows(t *testing.T) {
	mem := memory.New()
	r, err := NewRetention(mem, mem, RetentionConfig{Schedule: "@daily"}, zap.NewNop())
	require.NoError(t, err)

	logs, audit := r.RunOnce(context.Background())
	assert.Zero(t, logs)
	assert.Zero(t, audit)
	assert.Zero(t, mem.Calls("DeleteLogsBefore"))
	assert.Zero(t, mem.Calls("DeleteAuditBefore"))
}

func TestRetentionStartStop(t *testing.T) {
	mem := memory.New()
	r, err := NewRetention(mem, mem, RetentionConfig{Schedule: "@hourly"}, zap.NewNop())
	require.NoError(t, err)

	r.Start()
	r.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.Stop(ctx)
	r.Stop(ctx)

	_, err = NewRetention(mem, mem, RetentionConfig{Schedule: "sometimes"}, zap.NewNop())
	assert.Error(t, err)
}
