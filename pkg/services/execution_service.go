package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opsgate/opsgate/pkg/models"
)

// ExecutionRecord is the persisted form of one runbook execution.
type ExecutionRecord struct {
	ExecutionID     string         `db:"execution_id" json:"execution_id"`
	RunbookID       string         `db:"runbook_id" json:"runbook_id"`
	RunbookVersion  string         `db:"runbook_version" json:"runbook_version"`
	RunbookName     string         `db:"runbook_name" json:"runbook_name"`
	State           string         `db:"state" json:"state"`
	Mode            string         `db:"mode" json:"mode"`
	ContextSnapshot sql.NullString `db:"context_snapshot" json:"-"`
	Error           sql.NullString `db:"error" json:"error,omitempty"`
	StartedAt       string         `db:"started_at" json:"started_at"`
	CompletedAt     sql.NullString `db:"completed_at" json:"completed_at,omitempty"`
	DurationMS      sql.NullInt64  `db:"duration_ms" json:"duration_ms,omitempty"`
}

// StepResultRecord is the persisted form of one step attempt.
type StepResultRecord struct {
	ID          int64          `db:"id" json:"-"`
	ExecutionID string         `db:"execution_id" json:"execution_id"`
	StepID      string         `db:"step_id" json:"step_id"`
	StepName    string         `db:"step_name" json:"step_name"`
	Action      string         `db:"action" json:"action"`
	Success     bool           `db:"success" json:"success"`
	Output      sql.NullString `db:"output" json:"output,omitempty"`
	Error       sql.NullString `db:"error" json:"error,omitempty"`
	StartedAt   string         `db:"started_at" json:"started_at"`
	CompletedAt string         `db:"completed_at" json:"completed_at"`
	DurationMS  int64          `db:"duration_ms" json:"duration_ms"`
}

// NewExecution is the input for CreateExecution.
type NewExecution struct {
	ExecutionID    string
	RunbookID      string
	RunbookVersion string
	RunbookName    string
	State          models.ExecutionState
	Mode           models.ExecutionMode
	StartedAt      time.Time
}

// ExecutionService persists executions and their step results.
type ExecutionService struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewExecutionService creates an execution persistence service.
func NewExecutionService(db *sqlx.DB, logger *slog.Logger) *ExecutionService {
	return &ExecutionService{
		db:     db,
		logger: logger.With("component", "execution_service"),
	}
}

// CreateExecution inserts a new execution row in its initial state.
func (s *ExecutionService) CreateExecution(ctx context.Context, ec *NewExecution) error {
	if ec.ExecutionID == "" {
		return NewValidationError("execution_id", "cannot be empty")
	}
	if ec.RunbookID == "" {
		return NewValidationError("runbook_id", "cannot be empty")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (execution_id, runbook_id, runbook_version, runbook_name, state, mode, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ec.ExecutionID, ec.RunbookID, ec.RunbookVersion, ec.RunbookName,
		string(ec.State), string(ec.Mode), models.FormatTimestamp(ec.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create execution %s: %w", ec.ExecutionID, err)
	}

	s.logger.Debug("Execution created",
		"execution_id", ec.ExecutionID,
		"runbook_id", ec.RunbookID,
		"mode", string(ec.Mode))
	return nil
}

// UpdateExecutionState moves an execution between states. The previous
// state is part of the WHERE clause so a stale writer loses cleanly.
func (s *ExecutionService) UpdateExecutionState(ctx context.Context, executionID string, from, to models.ExecutionState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET state = ? WHERE execution_id = ? AND state = ?`,
		string(to), executionID, string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update execution state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check state update: %w", err)
	}
	if n == 0 {
		// Distinguish a missing row from a lost transition.
		var exists bool
		if err := s.db.GetContext(ctx, &exists,
			`SELECT COUNT(*) > 0 FROM executions WHERE execution_id = ?`, executionID); err != nil {
			return fmt.Errorf("failed to check execution existence: %w", err)
		}
		if !exists {
			return fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
		}
		return fmt.Errorf("execution %s not in state %s: %w", executionID, from, ErrConflict)
	}
	return nil
}

// SaveContextSnapshot stores the serialized execution context. Called
// before parking a run on an approval gate so it can be resumed later.
func (s *ExecutionService) SaveContextSnapshot(ctx context.Context, executionID string, snapshot []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET context_snapshot = ? WHERE execution_id = ?`,
		string(snapshot), executionID,
	)
	if err != nil {
		return fmt.Errorf("failed to save context snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
	}
	return nil
}

// GetContextSnapshot loads a previously saved execution context.
func (s *ExecutionService) GetContextSnapshot(ctx context.Context, executionID string) ([]byte, error) {
	var snapshot sql.NullString
	err := s.db.GetContext(ctx, &snapshot,
		`SELECT context_snapshot FROM executions WHERE execution_id = ?`, executionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load context snapshot: %w", err)
	}
	if !snapshot.Valid || snapshot.String == "" {
		return nil, fmt.Errorf("execution %s has no context snapshot: %w", executionID, ErrNotFound)
	}
	return []byte(snapshot.String), nil
}

// CompleteExecution seals an execution in a terminal state with its
// completion time, duration, and optional error.
func (s *ExecutionService) CompleteExecution(ctx context.Context, executionID string, state models.ExecutionState, completedAt time.Time, durationMS int64, execErr *models.StepError) error {
	if !state.IsTerminal() {
		return NewValidationError("state", fmt.Sprintf("%s is not a terminal state", state))
	}

	var errJSON sql.NullString
	if execErr != nil {
		data, err := json.Marshal(execErr)
		if err != nil {
			return fmt.Errorf("failed to marshal execution error: %w", err)
		}
		errJSON = sql.NullString{String: string(data), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE executions
		SET state = ?, completed_at = ?, duration_ms = ?, error = ?
		WHERE execution_id = ?`,
		string(state), models.FormatTimestamp(completedAt), durationMS, errJSON, executionID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete execution %s: %w", executionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
	}

	s.logger.Info("Execution completed",
		"execution_id", executionID,
		"state", string(state),
		"duration_ms", durationMS)
	return nil
}

// SaveStepResult appends an immutable step attempt record.
func (s *ExecutionService) SaveStepResult(ctx context.Context, executionID string, sr *models.StepResult) error {
	var output sql.NullString
	if sr.Output != nil {
		data, err := json.Marshal(sr.Output)
		if err != nil {
			return fmt.Errorf("failed to marshal step output: %w", err)
		}
		output = sql.NullString{String: string(data), Valid: true}
	}
	var stepErr sql.NullString
	if sr.Error != nil {
		data, err := json.Marshal(sr.Error)
		if err != nil {
			return fmt.Errorf("failed to marshal step error: %w", err)
		}
		stepErr = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO step_results (execution_id, step_id, step_name, action, success, output, error, started_at, completed_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		executionID, sr.StepID, sr.StepName, sr.Action, sr.Success,
		output, stepErr,
		models.FormatTimestamp(sr.StartedAt), models.FormatTimestamp(sr.CompletedAt),
		sr.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to save step result %s/%s: %w", executionID, sr.StepID, err)
	}
	return nil
}

// GetExecution loads one execution row.
func (s *ExecutionService) GetExecution(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	var rec ExecutionRecord
	err := s.db.GetContext(ctx, &rec,
		`SELECT * FROM executions WHERE execution_id = ?`, executionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}
	return &rec, nil
}

// GetStepResults lists the step records of an execution in insertion order.
func (s *ExecutionService) GetStepResults(ctx context.Context, executionID string) ([]StepResultRecord, error) {
	var recs []StepResultRecord
	err := s.db.SelectContext(ctx, &recs,
		`SELECT * FROM step_results WHERE execution_id = ? ORDER BY id ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step results for %s: %w", executionID, err)
	}
	return recs, nil
}

// ListExecutions returns the most recent executions, newest first.
// A zero limit applies the default page size.
func (s *ExecutionService) ListExecutions(ctx context.Context, state string, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var recs []ExecutionRecord
	var err error
	if state != "" {
		err = s.db.SelectContext(ctx, &recs,
			`SELECT * FROM executions WHERE state = ? ORDER BY started_at DESC LIMIT ?`, state, limit)
	} else {
		err = s.db.SelectContext(ctx, &recs,
			`SELECT * FROM executions ORDER BY started_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	return recs, nil
}

// CountExecutionsByState groups active and finished runs for the health
// and metrics surfaces.
func (s *ExecutionService) CountExecutionsByState(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT state, COUNT(*) AS n FROM executions GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan execution count: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}
