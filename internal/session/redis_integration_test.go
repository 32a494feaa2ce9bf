package session

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) (*redis.Client, func()) {
	if testing.Short() {
		t.Skip("redis container test skipped in short mode")
	}
	ctx := context.Background()

	redisC, err := testcontainers.Run(
		ctx, "redis:latest",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("6379/tcp"),
			wait.ForLog("Ready to accept connections"),
		),
	)
	require.NoError(t, err)

	endpoint, err := redisC.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	cleanup := func() {
		client.Close()
		testcontainers.CleanupContainer(t, redisC)
	}
	return client, cleanup
}

func TestManager_RedisReplicasConverge(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()
	ctx := context.Background()

	m1 := NewManager(RedisOpener(client, time.Hour), WithIdleTTL(0))
	defer m1.Close()
	m2 := NewManager(RedisOpener(client, time.Hour), WithIdleTTL(0))
	defer m2.Close()

	s1, err := m1.Get(ctx, "shared")
	require.NoError(t, err)
	s2, err := m2.Get(ctx, "shared")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		subs, err := client.PubSubNumSub(ctx, "cart:shared:changes").Result()
		return err == nil && subs["cart:shared:changes"] == 2
	}, 5*time.Second, 20*time.Millisecond)

	_, err = s1.Store.Add(ctx, artwork("fox"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s2.Store.ItemCount() == 1 }, 5*time.Second, 20*time.Millisecond)

	// last writer wins in both directions
	_, err = s2.Store.Clear(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s1.Store.IsEmpty() }, 5*time.Second, 20*time.Millisecond)

	ttl, err := client.TTL(ctx, "cart:shared").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestManager_RedisSessionSurvivesRestart(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()
	ctx := context.Background()

	m1 := NewManager(RedisOpener(client, 0), WithIdleTTL(0))
	s, err := m1.Get(ctx, "returning")
	require.NoError(t, err)
	_, err = s.Store.Add(ctx, artwork("koi"))
	require.NoError(t, err)
	m1.Close()

	m2 := NewManager(RedisOpener(client, 0), WithIdleTTL(0))
	defer m2.Close()
	s, err = m2.Get(ctx, "returning")
	require.NoError(t, err)

	assert.Equal(t, 1, s.Store.ItemCount())
	assert.Equal(t, "koi", s.Store.Items()[0].ID)
}
