package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// HealthStatus describes store health for the health endpoint.
type HealthStatus struct {
	Reachable bool   `json:"reachable"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Health pings the store and reports reachability with latency.
func Health(ctx context.Context, db *sqlx.DB) (HealthStatus, error) {
	started := time.Now()
	if err := db.PingContext(ctx); err != nil {
		return HealthStatus{
			Reachable: false,
			LatencyMS: time.Since(started).Milliseconds(),
			Error:     err.Error(),
		}, fmt.Errorf("database ping failed: %w", err)
	}
	return HealthStatus{
		Reachable: true,
		LatencyMS: time.Since(started).Milliseconds(),
	}, nil
}
