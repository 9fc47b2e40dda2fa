package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opsgate/opsgate/pkg/models"
)

// RetentionService purges terminal executions past the retention window,
// together with their step results, approval entries, and audit trail.
type RetentionService struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewRetentionService creates a retention service.
func NewRetentionService(db *sqlx.DB, logger *slog.Logger) *RetentionService {
	return &RetentionService{
		db:     db,
		logger: logger.With("component", "retention_service"),
	}
}

// PurgeOldExecutions deletes executions that reached a terminal state before
// the cutoff. Dependent rows go first so foreign keys hold throughout the
// transaction. Returns the number of executions removed.
func (s *RetentionService) PurgeOldExecutions(ctx context.Context, olderThan time.Time) (int, error) {
	cutoff := olderThan.UTC().Format(models.TimestampFormat)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin retention transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const candidates = `
		SELECT execution_id FROM executions
		WHERE state IN ('completed', 'failed', 'cancelled')
		  AND completed_at IS NOT NULL AND completed_at < ?`

	for _, stmt := range []string{
		`DELETE FROM audit_log WHERE execution_id IN (` + candidates + `)`,
		`DELETE FROM approval_queue WHERE execution_id IN (` + candidates + `)`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, cutoff); err != nil {
			return 0, fmt.Errorf("failed to purge dependent rows: %w", err)
		}
	}

	// step_results cascade with the execution row.
	res, err := tx.ExecContext(ctx, `
		DELETE FROM executions
		WHERE state IN ('completed', 'failed', 'cancelled')
		  AND completed_at IS NOT NULL AND completed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge executions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit retention transaction: %w", err)
	}
	return int(n), nil
}
