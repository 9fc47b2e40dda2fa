package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ExpiryConfig controls the background TTL sweep.
type ExpiryConfig struct {
	// Interval between sweeps.
	Interval time.Duration
}

// DefaultExpiryConfig returns the built-in sweep settings.
func DefaultExpiryConfig() ExpiryConfig {
	return ExpiryConfig{Interval: 30 * time.Second}
}

// ExpiryProcessor periodically expires overdue pending approvals. Sweeps
// are idempotent, so running multiple replicas is safe.
type ExpiryProcessor struct {
	executor *Executor
	config   ExpiryConfig
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewExpiryProcessor creates the TTL sweep processor.
func NewExpiryProcessor(executor *Executor, config ExpiryConfig, logger *slog.Logger) *ExpiryProcessor {
	if config.Interval <= 0 {
		config.Interval = DefaultExpiryConfig().Interval
	}
	return &ExpiryProcessor{
		executor: executor,
		config:   config,
		logger:   logger.With("component", "approval_expiry"),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop. The first sweep runs immediately so
// entries that expired while the process was down are handled at startup.
func (p *ExpiryProcessor) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
	p.logger.Info("Approval expiry processor started",
		"interval", p.config.Interval.String())
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (p *ExpiryProcessor) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()
	p.logger.Info("Approval expiry processor stopped")
}

func (p *ExpiryProcessor) run(ctx context.Context) {
	defer p.wg.Done()

	p.sweep(ctx)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *ExpiryProcessor) sweep(ctx context.Context) {
	count, err := p.executor.ExpireStale(ctx)
	if err != nil {
		p.logger.Error("Approval expiry sweep failed", "error", err)
		return
	}
	if count > 0 {
		p.logger.Warn("Expired overdue approval requests", "count", count)
	}
}
