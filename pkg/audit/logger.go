package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/opsgate/opsgate/pkg/models"
)

// Logger is the SQL-backed Recorder. Each write fetches the latest hash for
// the execution, computes the new hash, and inserts the row inside a single
// transaction so concurrent writers cannot interleave within one chain.
type Logger struct {
	db *sqlx.DB
}

// NewLogger creates a Logger on the given store.
func NewLogger(db *sqlx.DB) *Logger {
	return &Logger{db: db}
}

// Record appends one entry to the journal and returns the stored row.
func (l *Logger) Record(ctx context.Context, event Event) (*models.AuditEntry, error) {
	detailsJSON, err := marshalDetails(event.Details)
	if err != nil {
		return nil, fmt.Errorf("marshal audit details: %w", err)
	}

	actor := event.Actor
	if actor == "" {
		actor = DefaultActor
	}
	timestamp := models.FormatTimestamp(time.Now())

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin audit transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prevHash string
	err = tx.GetContext(ctx, &prevHash,
		`SELECT hash FROM audit_log WHERE execution_id = ? ORDER BY id DESC LIMIT 1`,
		event.ExecutionID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fetch previous audit hash: %w", err)
	}

	entry := models.AuditEntry{
		Timestamp:   timestamp,
		ExecutionID: event.ExecutionID,
		RunbookID:   event.RunbookID,
		EventType:   event.Type,
		Actor:       actor,
		Details:     detailsJSON,
		Success:     event.Type.Success(),
		PrevHash:    prevHash,
		Hash:        ComputeHash(prevHash, event.Type, event.ExecutionID, detailsJSON, timestamp),
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO audit_log (timestamp, execution_id, runbook_id, event_type, actor, details, success, prev_hash, hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp, entry.ExecutionID, entry.RunbookID, entry.EventType,
		entry.Actor, string(entry.Details), entry.Success, entry.PrevHash, entry.Hash)
	if err != nil {
		return nil, fmt.Errorf("insert audit entry: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit audit entry: %w", err)
	}
	return &entry, nil
}

// auditRow is the raw table shape; details travels as the stored TEXT so
// scanning does not depend on driver JSON support.
type auditRow struct {
	ID          int64  `db:"id"`
	Timestamp   string `db:"timestamp"`
	ExecutionID string `db:"execution_id"`
	RunbookID   string `db:"runbook_id"`
	EventType   string `db:"event_type"`
	Actor       string `db:"actor"`
	Details     string `db:"details"`
	Success     bool   `db:"success"`
	PrevHash    string `db:"prev_hash"`
	Hash        string `db:"hash"`
}

func (r *auditRow) toEntry() models.AuditEntry {
	return models.AuditEntry{
		ID:          r.ID,
		Timestamp:   r.Timestamp,
		ExecutionID: r.ExecutionID,
		RunbookID:   r.RunbookID,
		EventType:   models.AuditEventType(r.EventType),
		Actor:       r.Actor,
		Details:     json.RawMessage(r.Details),
		Success:     r.Success,
		PrevHash:    r.PrevHash,
		Hash:        r.Hash,
	}
}

// GetExecutionLog returns every entry for an execution in insertion order.
func (l *Logger) GetExecutionLog(ctx context.Context, executionID string) ([]models.AuditEntry, error) {
	var rows []auditRow
	err := l.db.SelectContext(ctx, &rows,
		`SELECT id, timestamp, execution_id, runbook_id, event_type, actor, details, success, prev_hash, hash
		 FROM audit_log WHERE execution_id = ? ORDER BY id ASC`,
		executionID)
	if err != nil {
		return nil, fmt.Errorf("query execution log: %w", err)
	}
	entries := make([]models.AuditEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.toEntry())
	}
	return entries, nil
}

// VerifyExecution replays the chain for one execution.
func (l *Logger) VerifyExecution(ctx context.Context, executionID string) (VerifyResult, error) {
	entries, err := l.GetExecutionLog(ctx, executionID)
	if err != nil {
		return VerifyResult{}, err
	}
	return VerifyChain(entries), nil
}
