// Package database provides a shared store helper for tests: each call
// provisions a fresh, fully migrated in-memory SQLite database.
package database

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/opsgate/opsgate/pkg/database"
)

var dbCounter atomic.Int64

// NewTestClient opens a migrated in-memory store isolated to the calling
// test. The store is closed automatically on test cleanup.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()

	// A named shared-cache in-memory database keeps all pool connections
	// on the same store while isolating parallel tests from each other.
	cfg := database.DefaultConfig()
	cfg.Path = fmt.Sprintf("testdb-%d?mode=memory&cache=shared", dbCounter.Add(1))
	cfg.MaxOpenConns = 1

	client, err := database.NewClient(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}
