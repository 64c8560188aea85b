//go:build integration

package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stuartshay/ride-window-worker/internal/config"
)

// setupTestClient creates a test database client
func setupTestClient(t *testing.T) (*Client, func()) {
	t.Helper()

	cfg, err := config.Load()
	require.NoError(t, err, "Failed to load config")

	client, err := NewClient(cfg.DatabaseDSN())
	require.NoError(t, err, "Failed to create database client")

	cleanup := func() {
		if client != nil {
			_ = client.Close()
		}
	}

	return client, cleanup
}

func TestClient_HealthCheck(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	client, cleanup := setupTestClient(t)
	defer cleanup()

	err := client.HealthCheck(context.Background())
	assert.NoError(t, err, "Health check should succeed")
}

func TestClient_GetRidesByDateRange(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	client, cleanup := setupTestClient(t)
	defer cleanup()

	ctx := context.Background()

	rides, err := client.GetRidesByDateRange(ctx, "2024-03-01", "2024-03-31")
	require.NoError(t, err)

	count, err := client.CountRides(ctx, "2024-03-01", "2024-03-31")
	require.NoError(t, err)
	assert.Equal(t, count, len(rides))

	for i := 1; i < len(rides); i++ {
		assert.False(t, rides[i].Timestamp.Before(rides[i-1].Timestamp), "rides must be ordered by timestamp")
	}
}

func TestClient_GetRidesByDateRange_Empty(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	client, cleanup := setupTestClient(t)
	defer cleanup()

	rides, err := client.GetRidesByDateRange(context.Background(), "1990-01-01", "1990-01-02")
	require.NoError(t, err)
	assert.Empty(t, rides)
}
