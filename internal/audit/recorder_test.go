package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/foxzi/hookdesk/internal/metrics"
	"github.com/foxzi/hookdesk/internal/models"
	"github.com/foxzi/hookdesk/internal/repository/memory"
)

func TestRecord(t *testing.T) {
	mem := memory.New()
	r := NewRecorder(mem, nil, zap.NewNop())

	actor := models.Actor{UserID: "u1", Email: "ann@example.com", IP: "10.0.0.1"}
	ok := r.Record(context.Background(), actor, "create_webhook_token", models.TableWebhookTokens, "t1",
		map[string]any{"token_name": "ci"})
	require.True(t, ok)

	entries := mem.AuditEntries()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "create_webhook_token", e.Action)
	assert.Equal(t, models.TableWebhookTokens, e.EntityTable)
	assert.Equal(t, "t1", e.EntityID)
	assert.Equal(t, "u1", e.Actor)
	assert.Equal(t, "ann@example.com", e.ActorEmail)
	assert.Equal(t, "10.0.0.1", e.IPAddress)
	assert.JSONEq(t, `{"token_name":"ci"}`, e.Details.String())
	assert.NotEmpty(t, e.ID)
}

func TestRecordFailureIsSwallowed(t *testing.T) {
	mem := memory.New()
	mem.AuditErr = errors.New("disk full")
	m := metrics.New()
	r := NewRecorder(mem, m, zap.NewNop())

	ok := r.Record(context.Background(), models.Actor{UserID: "u1"}, "delete_webhook_key", models.TableWebhookKeys, "k1", nil)
	assert.False(t, ok)
	assert.Empty(t, mem.AuditEntries())
}
