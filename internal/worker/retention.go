package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// LogPruner deletes webhook logs older than a cutoff
type LogPruner interface {
	DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditPruner deletes audit entries older than a cutoff
type AuditPruner interface {
	DeleteAuditBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionConfig sets how long rows are kept. Zero keeps them forever.
type RetentionConfig struct {
	LogsMaxAge  time.Duration
	AuditMaxAge time.Duration
	Schedule    string
}

// Retention deletes old webhook logs and audit entries on a schedule
type Retention struct {
	cron   *cron.Cron
	logs   LogPruner
	audit  AuditPruner
	cfg    RetentionConfig
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
}

func NewRetention(logs LogPruner, audit AuditPruner, cfg RetentionConfig, logger *zap.Logger) (*Retention, error) {
	r := &Retention{
		cron:   cron.New(),
		logs:   logs,
		audit:  audit,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "retention")),
		now:    time.Now,
	}

	if _, err := r.cron.AddFunc(cfg.Schedule, func() { r.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", cfg.Schedule, err)
	}

	return r, nil
}

func (r *Retention) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}
	r.cron.Start()
	r.running = true
	r.logger.Info("retention started",
		zap.Duration("logs_max_age", r.cfg.LogsMaxAge),
		zap.Duration("audit_max_age", r.cfg.AuditMaxAge),
		zap.String("schedule", r.cfg.Schedule),
	)
}

func (r *Retention) Stop(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}

	select {
	case <-r.cron.Stop().Done():
		r.logger.Info("retention stopped")
	case <-ctx.Done():
		r.logger.Warn("retention stop timeout")
	}
	r.running = false
}

// RunOnce prunes both tables and returns the deleted row counts
func (r *Retention) RunOnce(ctx context.Context) (logs, audit int64) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	now := r.now()

	if r.cfg.LogsMaxAge > 0 {
		n, err := r.logs.DeleteLogsBefore(ctx, now.Add(-r.cfg.LogsMaxAge))
		if err != nil {
			r.logger.Error("webhook log cleanup failed", zap.Error(err))
		} else if n > 0 {
			r.logger.Info("deleted old webhook logs", zap.Int64("count", n))
		}
		logs = n
	}

	if r.cfg.AuditMaxAge > 0 {
		n, err := r.audit.DeleteAuditBefore(ctx, now.Add(-r.cfg.AuditMaxAge))
		if err != nil {
			r.logger.Error("audit log cleanup failed", zap.Error(err))
		} else if n > 0 {
			r.logger.Info("deleted old audit entries", zap.Int64("count", n))
		}
		audit = n
	}

	return logs, audit
}
