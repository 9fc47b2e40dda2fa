package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/opsgate/opsgate/pkg/models"
)

// approvalRow is the raw table shape; timestamps travel as canonical
// wire-format strings.
type approvalRow struct {
	RequestID        string         `db:"request_id"`
	ExecutionID      string         `db:"execution_id"`
	RunbookID        string         `db:"runbook_id"`
	RunbookName      string         `db:"runbook_name"`
	StepID           string         `db:"step_id"`
	StepName         string         `db:"step_name"`
	Action           string         `db:"action"`
	Executor         string         `db:"executor"`
	Parameters       string         `db:"parameters"`
	SimulationResult string         `db:"simulation_result"`
	Status           string         `db:"status"`
	RequestedAt      string         `db:"requested_at"`
	ExpiresAt        string         `db:"expires_at"`
	ApprovedBy       sql.NullString `db:"approved_by"`
	ApprovedAt       sql.NullString `db:"approved_at"`
	DenialReason     sql.NullString `db:"denial_reason"`
}

func (r *approvalRow) toEntry() (*models.ApprovalQueueEntry, error) {
	requestedAt, err := time.Parse(models.TimestampFormat, r.RequestedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid requested_at on %s: %w", r.RequestID, err)
	}
	expiresAt, err := time.Parse(models.TimestampFormat, r.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("invalid expires_at on %s: %w", r.RequestID, err)
	}

	entry := &models.ApprovalQueueEntry{
		RequestID:        r.RequestID,
		ExecutionID:      r.ExecutionID,
		RunbookID:        r.RunbookID,
		RunbookName:      r.RunbookName,
		StepID:           r.StepID,
		StepName:         r.StepName,
		Action:           r.Action,
		Executor:         r.Executor,
		Parameters:       json.RawMessage(r.Parameters),
		SimulationResult: json.RawMessage(r.SimulationResult),
		Status:           models.ApprovalStatus(r.Status),
		RequestedAt:      requestedAt,
		ExpiresAt:        expiresAt,
	}
	if r.ApprovedBy.Valid {
		entry.ApprovedBy = &r.ApprovedBy.String
	}
	if r.ApprovedAt.Valid {
		approvedAt, err := time.Parse(models.TimestampFormat, r.ApprovedAt.String)
		if err != nil {
			return nil, fmt.Errorf("invalid approved_at on %s: %w", r.RequestID, err)
		}
		entry.ApprovedAt = &approvedAt
	}
	if r.DenialReason.Valid {
		entry.DenialReason = &r.DenialReason.String
	}
	return entry, nil
}

// Store persists approval queue entries and serializes their status
// transitions.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger

	// now is replaceable for tests.
	now func() time.Time
}

// NewStore creates an approval queue store.
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With("component", "approval_queue"),
		now:    time.Now,
	}
}

// Create inserts a pending entry with expires_at = requested_at + ttl.
// The parameter and simulation payloads are stored byte for byte.
func (s *Store) Create(ctx context.Context, req models.ApprovalRequest) (*models.ApprovalQueueEntry, error) {
	if req.ExecutionID == "" {
		return nil, fmt.Errorf("create approval request: execution_id is required")
	}
	if req.Action == "" {
		return nil, fmt.Errorf("create approval request: action is required")
	}

	params := req.Parameters
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	simResult := req.SimulationResult
	if len(simResult) == 0 {
		simResult = json.RawMessage("{}")
	}

	requestedAt := s.now().UTC()
	entry := &models.ApprovalQueueEntry{
		RequestID:        uuid.New().String(),
		ExecutionID:      req.ExecutionID,
		RunbookID:        req.RunbookID,
		RunbookName:      req.RunbookName,
		StepID:           req.StepID,
		StepName:         req.StepName,
		Action:           req.Action,
		Executor:         req.Executor,
		Parameters:       params,
		SimulationResult: simResult,
		Status:           models.ApprovalStatusPending,
		RequestedAt:      requestedAt,
		ExpiresAt:        requestedAt.Add(req.TTL),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approval_queue
			(request_id, execution_id, runbook_id, runbook_name, step_id, step_name, action,
			 executor, parameters, simulation_result, status, requested_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID, entry.ExecutionID, entry.RunbookID, entry.RunbookName,
		entry.StepID, entry.StepName, entry.Action,
		entry.Executor, string(entry.Parameters), string(entry.SimulationResult),
		string(entry.Status),
		models.FormatTimestamp(entry.RequestedAt), models.FormatTimestamp(entry.ExpiresAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create approval request: %w", err)
	}

	s.logger.Info("Approval request created",
		"request_id", entry.RequestID,
		"execution_id", entry.ExecutionID,
		"action", entry.Action,
		"expires_at", models.FormatTimestamp(entry.ExpiresAt))
	return entry, nil
}

// GetByID loads one entry.
func (s *Store) GetByID(ctx context.Context, requestID string) (*models.ApprovalQueueEntry, error) {
	var row approvalRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM approval_queue WHERE request_id = ?`, requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request %s: %w", requestID, ErrRequestNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load approval request %s: %w", requestID, err)
	}
	return row.toEntry()
}

// Approve atomically transitions pending → approved. An approve call at or
// after expires_at transitions the entry to expired instead and reports
// ErrRequestExpired; a non-pending entry reports ErrRequestNotPending.
func (s *Store) Approve(ctx context.Context, requestID, approver string) (*models.ApprovalQueueEntry, error) {
	now := s.now().UTC()

	entry, err := s.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if entry.Status != models.ApprovalStatusPending {
		return nil, fmt.Errorf("request %s is %s: %w", requestID, entry.Status, ErrRequestNotPending)
	}
	if entry.Expired(now) {
		// Late approval detects expiry itself rather than waiting for the
		// sweep.
		if _, err := s.expireOne(ctx, requestID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("request %s expired at %s: %w",
			requestID, models.FormatTimestamp(entry.ExpiresAt), ErrRequestExpired)
	}

	// The status guard serializes concurrent approvers: only one update
	// can observe pending.
	res, err := s.db.ExecContext(ctx, `
		UPDATE approval_queue
		SET status = ?, approved_by = ?, approved_at = ?
		WHERE request_id = ? AND status = ?`,
		string(models.ApprovalStatusApproved), approver, models.FormatTimestamp(now),
		requestID, string(models.ApprovalStatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to approve request %s: %w", requestID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("request %s lost approval race: %w", requestID, ErrRequestNotPending)
	}

	entry.Status = models.ApprovalStatusApproved
	entry.ApprovedBy = &approver
	entry.ApprovedAt = &now

	s.logger.Info("Approval granted",
		"request_id", requestID,
		"approver", approver,
		"action", entry.Action)
	return entry, nil
}

// Deny atomically transitions pending → denied with the given reason.
func (s *Store) Deny(ctx context.Context, requestID, reason string) (*models.ApprovalQueueEntry, error) {
	entry, err := s.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if entry.Status != models.ApprovalStatusPending {
		return nil, fmt.Errorf("request %s is %s: %w", requestID, entry.Status, ErrRequestNotPending)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE approval_queue
		SET status = ?, denial_reason = ?
		WHERE request_id = ? AND status = ?`,
		string(models.ApprovalStatusDenied), reason,
		requestID, string(models.ApprovalStatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to deny request %s: %w", requestID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("request %s lost denial race: %w", requestID, ErrRequestNotPending)
	}

	entry.Status = models.ApprovalStatusDenied
	entry.DenialReason = &reason

	s.logger.Info("Approval denied", "request_id", requestID, "reason", reason)
	return entry, nil
}

// ExpireStale bulk-transitions every pending entry past its expires_at to
// expired and returns the entries it expired. Idempotent: a second call on
// an unchanged queue expires nothing.
func (s *Store) ExpireStale(ctx context.Context) ([]models.ApprovalQueueEntry, error) {
	now := s.now().UTC()
	nowStr := models.FormatTimestamp(now)

	var rows []approvalRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM approval_queue
		WHERE status = ? AND expires_at <= ?
		ORDER BY expires_at ASC`,
		string(models.ApprovalStatusPending), nowStr,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale approvals: %w", err)
	}

	var expired []models.ApprovalQueueEntry
	for _, row := range rows {
		changed, err := s.expireOne(ctx, row.RequestID)
		if err != nil {
			return expired, err
		}
		if !changed {
			// Raced with an approver or another sweep; skip silently.
			continue
		}
		row.Status = string(models.ApprovalStatusExpired)
		entry, err := row.toEntry()
		if err != nil {
			return expired, err
		}
		expired = append(expired, *entry)
	}

	if len(expired) > 0 {
		s.logger.Info("Expired stale approval requests", "count", len(expired))
	}
	return expired, nil
}

// expireOne applies the guarded pending → expired transition for one entry.
func (s *Store) expireOne(ctx context.Context, requestID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE approval_queue SET status = ? WHERE request_id = ? AND status = ?`,
		string(models.ApprovalStatusExpired), requestID, string(models.ApprovalStatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("failed to expire request %s: %w", requestID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check expiry of %s: %w", requestID, err)
	}
	return n > 0, nil
}

// ListByStatus returns entries with the given status, oldest request first.
func (s *Store) ListByStatus(ctx context.Context, status models.ApprovalStatus, limit int) ([]models.ApprovalQueueEntry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var rows []approvalRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM approval_queue
		WHERE status = ?
		ORDER BY requested_at ASC
		LIMIT ?`,
		string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals by status: %w", err)
	}
	return rowsToEntries(rows)
}

// ListPending returns pending entries, optionally filtered by runbook.
func (s *Store) ListPending(ctx context.Context, opts ListOptions) ([]models.ApprovalQueueEntry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var rows []approvalRow
	var err error
	if opts.RunbookID != "" {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT * FROM approval_queue
			WHERE status = ? AND runbook_id = ?
			ORDER BY requested_at ASC
			LIMIT ?`,
			string(models.ApprovalStatusPending), opts.RunbookID, limit,
		)
	} else {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT * FROM approval_queue
			WHERE status = ?
			ORDER BY requested_at ASC
			LIMIT ?`,
			string(models.ApprovalStatusPending), limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	return rowsToEntries(rows)
}

func rowsToEntries(rows []approvalRow) ([]models.ApprovalQueueEntry, error) {
	entries := make([]models.ApprovalQueueEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := row.toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}
