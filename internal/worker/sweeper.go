// Package worker runs background maintenance jobs.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Expirer deactivates expired tokens and reports how many it touched
type Expirer interface {
	ExpireTokens(ctx context.Context) (int, error)
}

// Sweeper periodically deactivates tokens whose expiry has passed
type Sweeper struct {
	cron    *cron.Cron
	expirer Expirer
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	running bool
}

// NewSweeper schedules the sweep. schedule uses the standard five-field
// cron format or a descriptor such as "@every 5m".
func NewSweeper(expirer Expirer, schedule string, logger *zap.Logger) (*Sweeper, error) {
	s := &Sweeper{
		cron:    cron.New(),
		expirer: expirer,
		logger:  logger.With(zap.String("component", "sweeper")),
		timeout: time.Minute,
	}

	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid sweeper schedule %q: %w", schedule, err)
	}

	return s, nil
}

// Start starts the scheduler
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("token sweeper started")
}

// Stop waits for a running sweep or for ctx to end
func (s *Sweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("token sweeper stopped")
	case <-ctx.Done():
		s.logger.Warn("token sweeper stop timeout")
	}
	s.running = false
}

// RunOnce performs a single sweep
func (s *Sweeper) RunOnce(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.expirer.ExpireTokens(ctx)
	if err != nil {
		s.logger.Error("token sweep failed", zap.Int("expired", n), zap.Error(err))
		return n
	}
	if n > 0 {
		s.logger.Info("expired tokens deactivated", zap.Int("count", n))
	}
	return n
}
