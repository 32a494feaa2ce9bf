package slot

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a miniredis server and a client pointing at it
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis, func()) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return client, mr, cleanup
}

func TestRedisSlot_LoadMissing(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	s := NewRedisSlot(client, Key("nobody"))
	v, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestRedisSlot_SaveAndLoad(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	s := NewRedisSlot(client, Key("user456"))

	data, err := Encode(sampleItems())
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, data))

	stored, err := mr.Get("cart:user456")
	require.NoError(t, err)
	assert.JSONEq(t, string(data), stored)

	other := NewRedisSlot(client, Key("user456"))
	loaded, err := other.Load(ctx)
	require.NoError(t, err)
	items, err := Decode(loaded)
	require.NoError(t, err)
	assert.Equal(t, sampleItems(), items)
}

func TestRedisSlot_WithTTL(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	s := NewRedisSlot(client, Key("user789"), WithTTL(30*24*time.Hour))
	require.NoError(t, s.Save(context.Background(), []byte(`[]`)))

	assert.Equal(t, 30*24*time.Hour, mr.TTL("cart:user789"))
}

func TestRedisSlot_NoTTLByDefault(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	s := NewRedisSlot(client, Key("user1"))
	require.NoError(t, s.Save(context.Background(), []byte(`[]`)))

	assert.Equal(t, time.Duration(0), mr.TTL("cart:user1"))
}

func TestRedisSlot_WatchSeesOtherHandleWrites(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tab1 := NewRedisSlot(client, Key("shared"))
	tab2 := NewRedisSlot(client, Key("shared"))

	changes, err := tab2.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, tab1.Save(ctx, []byte(`[{"_id":"x"}]`)))

	select {
	case c := <-changes:
		assert.Equal(t, tab1.Origin(), c.Origin)
		assert.Equal(t, "cart:shared", c.Key)
		assert.JSONEq(t, `[{"_id":"x"}]`, string(c.Value))
	case <-time.After(2 * time.Second):
		t.Fatal("change not delivered")
	}
}

func TestRedisSlot_LoadError(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	mr.SetError("server down")
	s := NewRedisSlot(client, Key("u"))
	_, err := s.Load(context.Background())
	require.ErrorContains(t, err, "redis get failed")
}
