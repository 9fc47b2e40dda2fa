package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/opsgate/opsgate/test/database"
)

func TestAdapterService_UpsertAndGet(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewAdapterService(client.DB(), slog.Default())
	ctx := context.Background()

	require.NoError(t, svc.UpsertAdapter(ctx, "firewall", "network", map[string]any{"endpoint": "https://fw.internal"}))

	rec, err := svc.GetAdapter(ctx, "firewall")
	require.NoError(t, err)
	assert.Equal(t, "network", rec.Type)
	assert.True(t, rec.Enabled)
	assert.Contains(t, rec.Config, "endpoint")
	assert.False(t, rec.HealthStatus.Valid)

	// Re-registration replaces type and config in place.
	require.NoError(t, svc.UpsertAdapter(ctx, "firewall", "edge", nil))
	rec, err = svc.GetAdapter(ctx, "firewall")
	require.NoError(t, err)
	assert.Equal(t, "edge", rec.Type)
	assert.Equal(t, "{}", rec.Config)
}

func TestAdapterService_UpsertValidation(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewAdapterService(client.DB(), slog.Default())

	err := svc.UpsertAdapter(context.Background(), "", "network", nil)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestAdapterService_RecordHealth(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewAdapterService(client.DB(), slog.Default())
	ctx := context.Background()

	require.NoError(t, svc.UpsertAdapter(ctx, "edr", "endpoint", nil))

	checkedAt := time.Date(2026, 8, 25, 11, 30, 0, 0, time.UTC)
	require.NoError(t, svc.RecordHealth(ctx, "edr", "healthy", checkedAt))

	rec, err := svc.GetAdapter(ctx, "edr")
	require.NoError(t, err)
	assert.Equal(t, "healthy", rec.HealthStatus.String)
	assert.Equal(t, "2026-08-25T11:30:00.000Z", rec.LastHealthCheck.String)

	err = svc.RecordHealth(ctx, "missing", "healthy", checkedAt)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdapterService_SetEnabledAndList(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewAdapterService(client.DB(), slog.Default())
	ctx := context.Background()

	require.NoError(t, svc.UpsertAdapter(ctx, "siem", "query", nil))
	require.NoError(t, svc.UpsertAdapter(ctx, "chat", "notification", nil))
	require.NoError(t, svc.SetEnabled(ctx, "chat", false))

	recs, err := svc.ListAdapters(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "chat", recs[0].Name)
	assert.False(t, recs[0].Enabled)
	assert.Equal(t, "siem", recs[1].Name)
	assert.True(t, recs[1].Enabled)
}
