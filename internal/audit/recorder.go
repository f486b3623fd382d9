// Package audit writes audit trail entries for privileged mutations.
package audit

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/foxzi/hookdesk/internal/metrics"
	"github.com/foxzi/hookdesk/internal/models"
	"github.com/foxzi/hookdesk/internal/repository"
)

// Recorder appends audit entries. Failures are logged and counted but never
// returned: a mutation that already happened is not rolled back.
type Recorder struct {
	store   repository.AuditStore
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewRecorder(store repository.AuditStore, m *metrics.Metrics, logger *zap.Logger) *Recorder {
	return &Recorder{
		store:   store,
		metrics: m,
		logger:  logger.With(zap.String("component", "audit")),
	}
}

// Record writes one entry and reports whether it was stored
func (r *Recorder) Record(ctx context.Context, actor models.Actor, action, table, entityID string, details map[string]any) bool {
	entry := &models.AuditLogEntry{
		Action:      action,
		EntityTable: table,
		EntityID:    entityID,
		Actor:       actor.UserID,
		ActorEmail:  actor.Email,
		IPAddress:   actor.IP,
	}

	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			r.logger.Error("failed to encode audit details", zap.String("action", action), zap.Error(err))
		} else {
			entry.Details = data
		}
	}

	if err := r.store.AddAuditLog(ctx, entry); err != nil {
		r.metrics.IncAuditWriteFailure()
		r.logger.Error("failed to write audit entry",
			zap.String("action", action),
			zap.String("entity_table", table),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
		return false
	}
	return true
}
