package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opsgate/opsgate/pkg/services"
)

// RollupConfig tunes the background rollup processor.
type RollupConfig struct {
	// Interval between sweeps.
	Interval time.Duration

	// Period is the rollup window; sweeps aggregate the most recent closed
	// period aligned to this duration.
	Period time.Duration
}

// DefaultRollupConfig returns the built-in rollup settings.
func DefaultRollupConfig() RollupConfig {
	return RollupConfig{
		Interval: 5 * time.Minute,
		Period:   time.Hour,
	}
}

// RollupProcessor periodically aggregates completed executions into the
// metrics table. Periods are aligned, so repeated sweeps over an unchanged
// window upsert the same rows and the loop is idempotent.
type RollupProcessor struct {
	svc    *services.MetricsService
	config RollupConfig
	logger *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRollupProcessor creates a rollup processor.
func NewRollupProcessor(svc *services.MetricsService, config RollupConfig, logger *slog.Logger) *RollupProcessor {
	return &RollupProcessor{
		svc:    svc,
		config: config,
		logger: logger.With("component", "metrics_rollup"),
		stopCh: make(chan struct{}),
	}
}

// Start launches the background loop with an immediate first sweep.
func (p *RollupProcessor) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		p.sweep(ctx)
		ticker := time.NewTicker(p.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.sweep(ctx)
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	p.logger.Info("Rollup processor started",
		"interval", p.config.Interval.String(),
		"period", p.config.Period.String())
}

// Stop terminates the loop and waits for the in-flight sweep. Idempotent.
func (p *RollupProcessor) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	p.logger.Info("Rollup processor stopped")
}

func (p *RollupProcessor) sweep(ctx context.Context) {
	periodEnd := time.Now().UTC().Truncate(p.config.Period)
	periodStart := periodEnd.Add(-p.config.Period)

	n, err := p.svc.RollupExecutions(ctx, periodStart, periodEnd)
	if err != nil {
		p.logger.Error("Rollup sweep failed",
			"period_start", periodStart, "period_end", periodEnd, "error", err)
		return
	}
	if n > 0 {
		p.logger.Debug("Rollup sweep completed",
			"period_start", periodStart, "metrics", n)
	}
}
