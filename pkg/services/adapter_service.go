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

// AdapterRecord is the persisted registration state of one adapter.
type AdapterRecord struct {
	Name            string         `db:"name" json:"name"`
	Type            string         `db:"type" json:"type"`
	Enabled         bool           `db:"enabled" json:"enabled"`
	Config          string         `db:"config" json:"-"`
	HealthStatus    sql.NullString `db:"health_status" json:"health_status,omitempty"`
	LastHealthCheck sql.NullString `db:"last_health_check" json:"last_health_check,omitempty"`
}

// AdapterService persists adapter registrations and health sweep results.
type AdapterService struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewAdapterService creates an adapter persistence service.
func NewAdapterService(db *sqlx.DB, logger *slog.Logger) *AdapterService {
	return &AdapterService{
		db:     db,
		logger: logger.With("component", "adapter_service"),
	}
}

// UpsertAdapter records an adapter registration. Re-registering an
// existing name replaces its type and config.
func (s *AdapterService) UpsertAdapter(ctx context.Context, name, adapterType string, config map[string]any) error {
	if name == "" {
		return NewValidationError("name", "cannot be empty")
	}

	cfgJSON := "{}"
	if config != nil {
		data, err := json.Marshal(config)
		if err != nil {
			return fmt.Errorf("failed to marshal adapter config: %w", err)
		}
		cfgJSON = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO adapters (name, type, enabled, config)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (name) DO UPDATE SET type = excluded.type, config = excluded.config`,
		name, adapterType, cfgJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert adapter %s: %w", name, err)
	}
	return nil
}

// RecordHealth stores the outcome of one health sweep for an adapter.
func (s *AdapterService) RecordHealth(ctx context.Context, name, status string, checkedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE adapters SET health_status = ?, last_health_check = ? WHERE name = ?`,
		status, models.FormatTimestamp(checkedAt), name,
	)
	if err != nil {
		return fmt.Errorf("failed to record adapter health: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("adapter %s: %w", name, ErrNotFound)
	}
	return nil
}

// SetEnabled toggles an adapter on or off without unregistering it.
func (s *AdapterService) SetEnabled(ctx context.Context, name string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE adapters SET enabled = ? WHERE name = ?`, enabled, name)
	if err != nil {
		return fmt.Errorf("failed to toggle adapter %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("adapter %s: %w", name, ErrNotFound)
	}
	return nil
}

// GetAdapter loads one adapter record.
func (s *AdapterService) GetAdapter(ctx context.Context, name string) (*AdapterRecord, error) {
	var rec AdapterRecord
	err := s.db.GetContext(ctx, &rec, `SELECT * FROM adapters WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("adapter %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load adapter %s: %w", name, err)
	}
	return &rec, nil
}

// ListAdapters returns all adapter records ordered by name.
func (s *AdapterService) ListAdapters(ctx context.Context) ([]AdapterRecord, error) {
	var recs []AdapterRecord
	if err := s.db.SelectContext(ctx, &recs, `SELECT * FROM adapters ORDER BY name ASC`); err != nil {
		return nil, fmt.Errorf("failed to list adapters: %w", err)
	}
	return recs, nil
}
