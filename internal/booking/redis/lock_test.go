package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestSlotLockIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis integration test in short mode")
	}

	ctx := context.Background()
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:latest",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	defer redisContainer.Terminate(ctx)

	host, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	port, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := goredis.NewClient(&goredis.Options{
		Addr: host + ":" + port.Port(),
	})
	lock := NewSlotLock(client, 5*time.Minute, nil)

	const date, start = "2026-09-07", "14:00"

	free, err := lock.CheckSlotAvailability(ctx, date, start)
	require.NoError(t, err)
	assert.True(t, free)

	ok, err := lock.ClaimSlot(ctx, date, start, "attempt-a")
	require.NoError(t, err)
	assert.True(t, ok)

	// A second checkout for the same slot loses the claim race.
	ok, err = lock.ClaimSlot(ctx, date, start, "attempt-b")
	require.NoError(t, err)
	assert.False(t, ok)

	free, err = lock.CheckSlotAvailability(ctx, date, start)
	require.NoError(t, err)
	assert.False(t, free)

	// Only the owner can release.
	require.NoError(t, lock.ReleaseSlot(ctx, date, start, "attempt-b"))
	free, err = lock.CheckSlotAvailability(ctx, date, start)
	require.NoError(t, err)
	assert.False(t, free)

	require.NoError(t, lock.ReleaseSlot(ctx, date, start, "attempt-a"))
	ok, err = lock.ClaimSlot(ctx, date, start, "attempt-b")
	require.NoError(t, err)
	assert.True(t, ok)

	// Releasing an unclaimed slot is a no-op.
	require.NoError(t, lock.ReleaseSlot(ctx, "2026-09-08", "10:00", "attempt-a"))
}
