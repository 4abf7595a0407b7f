package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// PendingRenderer re-renders certificates whose documents were never
// stored.
type PendingRenderer interface {
	RerenderPending(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// RerenderConfig configuration for the re-render scheduler
type RerenderConfig struct {
	// CronExpression uses the six-field format with seconds.
	CronExpression string
	// GracePeriod skips certificates younger than this so in-flight
	// issuances are left alone.
	GracePeriod time.Duration
	BatchSize   int
}

// DefaultRerenderConfig returns default configuration
func DefaultRerenderConfig() RerenderConfig {
	return RerenderConfig{
		CronExpression: "0 */5 * * * *",
		GracePeriod:    5 * time.Minute,
		BatchSize:      50,
	}
}

// RerenderScheduler periodically completes pending certificates.
type RerenderScheduler struct {
	cron     *cron.Cron
	renderer PendingRenderer
	config   RerenderConfig
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	busy    bool
	ctx     context.Context
}

// NewRerenderScheduler creates a new scheduler. The cron expression is
// validated here rather than at Start.
func NewRerenderScheduler(renderer PendingRenderer, logger *zap.Logger, config RerenderConfig) (*RerenderScheduler, error) {
	def := DefaultRerenderConfig()
	if config.CronExpression == "" {
		config.CronExpression = def.CronExpression
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}

	s := &RerenderScheduler{
		cron:     cron.New(cron.WithSeconds()),
		renderer: renderer,
		config:   config,
		logger:   logger.With(zap.String("component", "rerender_scheduler")),
		now:      time.Now,
		ctx:      context.Background(),
	}
	if _, err := s.cron.AddFunc(config.CronExpression, s.tick); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", config.CronExpression, err)
	}
	return s, nil
}

// Start starts the cron scheduler. Runs stop when ctx is cancelled.
func (s *RerenderScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("rerender scheduler already running")
	}
	s.running = true
	s.ctx = ctx

	s.logger.Info("Starting rerender scheduler",
		zap.String("cron", s.config.CronExpression),
		zap.Duration("grace_period", s.config.GracePeriod),
		zap.Int("batch_size", s.config.BatchSize))
	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for a running pass to finish.
func (s *RerenderScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Stopping rerender scheduler")
	<-s.cron.Stop().Done()
}

func (s *RerenderScheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	s.RunOnce(ctx)
}

// RunOnce performs one pass. Overlapping passes are skipped.
func (s *RerenderScheduler) RunOnce(ctx context.Context) int {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		s.logger.Debug("Previous rerender pass still running, skipping")
		return 0
	}
	s.busy = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	cutoff := s.now().Add(-s.config.GracePeriod)
	done, err := s.renderer.RerenderPending(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		s.logger.Error("Rerender pass failed", zap.Error(err))
		return 0
	}
	if done > 0 {
		s.logger.Info("Rerender pass completed", zap.Int("rendered", done))
	}
	return done
}
