package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opsgate/opsgate/pkg/models"
)

// MetricRecord is one persisted rollup value for a reporting period.
type MetricRecord struct {
	ID          int64   `db:"id" json:"-"`
	PeriodStart string  `db:"period_start" json:"period_start"`
	PeriodEnd   string  `db:"period_end" json:"period_end"`
	MetricName  string  `db:"metric_name" json:"metric_name"`
	MetricValue float64 `db:"metric_value" json:"metric_value"`
	Dimensions  string  `db:"dimensions" json:"dimensions"`
}

// MetricsService persists periodic rollups computed from execution history.
type MetricsService struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewMetricsService creates a metrics rollup service.
func NewMetricsService(db *sqlx.DB, logger *slog.Logger) *MetricsService {
	return &MetricsService{
		db:     db,
		logger: logger.With("component", "metrics_service"),
	}
}

// RecordRollup upserts one metric value for a period. Re-recording the
// same (period, name, dimensions) key overwrites the value, so rollup
// passes are idempotent.
func (s *MetricsService) RecordRollup(ctx context.Context, periodStart, periodEnd time.Time, name string, value float64, dimensions map[string]string) error {
	if name == "" {
		return NewValidationError("metric_name", "cannot be empty")
	}

	dims := "{}"
	if len(dimensions) > 0 {
		data, err := json.Marshal(dimensions)
		if err != nil {
			return fmt.Errorf("failed to marshal metric dimensions: %w", err)
		}
		dims = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metrics (period_start, period_end, metric_name, metric_value, dimensions)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (period_start, period_end, metric_name, dimensions)
		DO UPDATE SET metric_value = excluded.metric_value`,
		models.FormatTimestamp(periodStart), models.FormatTimestamp(periodEnd),
		name, value, dims,
	)
	if err != nil {
		return fmt.Errorf("failed to record metric %s: %w", name, err)
	}
	return nil
}

// ListRollups returns all rollups for a metric whose period starts within
// [from, to), oldest first.
func (s *MetricsService) ListRollups(ctx context.Context, name string, from, to time.Time) ([]MetricRecord, error) {
	var recs []MetricRecord
	err := s.db.SelectContext(ctx, &recs, `
		SELECT * FROM metrics
		WHERE metric_name = ? AND period_start >= ? AND period_start < ?
		ORDER BY period_start ASC`,
		name, models.FormatTimestamp(from), models.FormatTimestamp(to),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list rollups for %s: %w", name, err)
	}
	return recs, nil
}

// RollupExecutions computes success-rate and duration rollups over the
// executions that completed within [periodStart, periodEnd) and persists
// them. Returns the number of executions covered.
func (s *MetricsService) RollupExecutions(ctx context.Context, periodStart, periodEnd time.Time) (int, error) {
	var agg struct {
		Total     int     `db:"total"`
		Succeeded int     `db:"succeeded"`
		AvgMS     float64 `db:"avg_ms"`
	}
	err := s.db.GetContext(ctx, &agg, `
		SELECT COUNT(*) AS total,
		       COALESCE(SUM(CASE WHEN state = 'completed' THEN 1 ELSE 0 END), 0) AS succeeded,
		       COALESCE(AVG(duration_ms), 0) AS avg_ms
		FROM executions
		WHERE completed_at >= ? AND completed_at < ?`,
		models.FormatTimestamp(periodStart), models.FormatTimestamp(periodEnd),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to aggregate executions: %w", err)
	}
	if agg.Total == 0 {
		return 0, nil
	}

	successRate := float64(agg.Succeeded) / float64(agg.Total)
	rollups := map[string]float64{
		"executions_total":       float64(agg.Total),
		"execution_success_rate": successRate,
		"execution_avg_ms":       agg.AvgMS,
	}
	for metric, value := range rollups {
		if err := s.RecordRollup(ctx, periodStart, periodEnd, metric, value, nil); err != nil {
			return 0, err
		}
	}

	s.logger.Debug("Execution rollup recorded",
		"period_start", models.FormatTimestamp(periodStart),
		"executions", agg.Total,
		"success_rate", successRate)
	return agg.Total, nil
}
