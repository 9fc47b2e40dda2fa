// Package cleanup enforces the data retention policy in the background.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/opsgate/opsgate/pkg/services"
)

// Config tunes the retention sweep.
type Config struct {
	// RetentionDays is how long terminal executions are kept.
	RetentionDays int

	// Interval between sweeps.
	Interval time.Duration
}

// DefaultConfig returns the built-in retention settings.
func DefaultConfig() Config {
	return Config{
		RetentionDays: 90,
		Interval:      12 * time.Hour,
	}
}

// Service periodically purges terminal executions past the retention
// window. Sweeps are idempotent and safe to run from multiple replicas.
type Service struct {
	config    Config
	retention *services.RetentionService
	logger    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention sweep service.
func NewService(cfg Config, retention *services.RetentionService, logger *slog.Logger) *Service {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultConfig().RetentionDays
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Service{
		config:    cfg,
		retention: retention,
		logger:    logger.With("component", "cleanup"),
	}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Cleanup service started",
		"retention_days", s.config.RetentionDays,
		"interval", s.config.Interval.String())
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.RetentionDays)

	count, err := s.retention.PurgeOldExecutions(ctx, cutoff)
	if err != nil {
		s.logger.Error("Retention sweep failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("Retention: purged old executions", "count", count)
	}
}
