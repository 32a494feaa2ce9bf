package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/JoJoGatito/koji-gallery/internal/domain"
	"github.com/JoJoGatito/koji-gallery/internal/slot"
)

type countingGauge struct {
	open atomic.Int32
}

func (g *countingGauge) SessionOpened() { g.open.Add(1) }
func (g *countingGauge) SessionClosed() { g.open.Add(-1) }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func artwork(id string) domain.Artwork {
	return domain.Artwork{ID: id, Title: id, Price: 4500, Currency: "USD", Availability: domain.Available}
}

func TestManager_GetCreatesOncePerSession(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	gauge := &countingGauge{}
	m := NewManager(MemoryOpener(slot.NewMemoryHub()), WithGauge(gauge), WithIdleTTL(0))
	defer m.Close()

	var wg sync.WaitGroup
	got := make([]*Session, 10)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.Get(context.Background(), "abc")
			assert.NoError(t, err)
			got[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range got {
		assert.Same(t, got[0], s)
	}
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, int32(1), gauge.open.Load())
	assert.Equal(t, "cart:abc", got[0].Store.Key())
}

func TestManager_InvalidID(t *testing.T) {
	m := NewManager(MemoryOpener(slot.NewMemoryHub()), WithIdleTTL(0))
	defer m.Close()

	for _, id := range []string{"", "has space", "semi;colon", string(make([]byte, 200))} {
		_, err := m.Get(context.Background(), id)
		assert.ErrorIs(t, err, ErrInvalidID, id)
	}
}

func TestManager_SessionsAreIsolated(t *testing.T) {
	m := NewManager(MemoryOpener(slot.NewMemoryHub()), WithIdleTTL(0))
	defer m.Close()
	ctx := context.Background()

	a, err := m.Get(ctx, "a")
	require.NoError(t, err)
	b, err := m.Get(ctx, "b")
	require.NoError(t, err)

	_, err = a.Store.Add(ctx, artwork("x"))
	require.NoError(t, err)

	assert.Equal(t, 1, a.Store.ItemCount())
	assert.True(t, b.Store.IsEmpty())
}

func TestManager_EvictKeepsSlot(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub := slot.NewMemoryHub()
	gauge := &countingGauge{}
	m := NewManager(MemoryOpener(hub), WithGauge(gauge), WithIdleTTL(0))
	defer m.Close()
	ctx := context.Background()

	s, err := m.Get(ctx, "a")
	require.NoError(t, err)
	_, err = s.Store.Add(ctx, artwork("x"))
	require.NoError(t, err)

	assert.True(t, m.Evict("a"))
	assert.False(t, m.Evict("a"))
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, int32(0), gauge.open.Load())
	assert.Equal(t, 0, hub.Watchers("cart:a"))

	reopened, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.NotSame(t, s, reopened)
	assert.Equal(t, 1, reopened.Store.ItemCount())
}

func TestManager_EvictIdle(t *testing.T) {
	clk := &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(MemoryOpener(slot.NewMemoryHub()), WithIdleTTL(time.Minute), WithClock(clk.Now))
	defer m.Close()
	ctx := context.Background()

	_, err := m.Get(ctx, "old")
	require.NoError(t, err)
	clk.Advance(45 * time.Second)
	_, err = m.Get(ctx, "fresh")
	require.NoError(t, err)
	clk.Advance(30 * time.Second)

	assert.Equal(t, 1, m.EvictIdle())
	_, ok := m.Lookup("old")
	assert.False(t, ok)
	_, ok = m.Lookup("fresh")
	assert.True(t, ok)
}

func TestManager_SessionsSyncAcrossManagers(t *testing.T) {
	hub := slot.NewMemoryHub()
	// two managers over one hub behave like two service replicas
	m1 := NewManager(MemoryOpener(hub), WithIdleTTL(0))
	defer m1.Close()
	m2 := NewManager(MemoryOpener(hub), WithIdleTTL(0))
	defer m2.Close()
	ctx := context.Background()

	s1, err := m1.Get(ctx, "shared")
	require.NoError(t, err)
	s2, err := m2.Get(ctx, "shared")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Watchers("cart:shared") == 2 }, time.Second, 5*time.Millisecond)

	_, err = s1.Store.Add(ctx, artwork("x"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s2.Store.ItemCount() == 1 }, time.Second, 5*time.Millisecond)
}

type failingSlot struct{ slot.Slot }

func (failingSlot) Load(context.Context) ([]byte, error) { return nil, errors.New("connection refused") }

func TestManager_LoadFailureIsNotCached(t *testing.T) {
	hub := slot.NewMemoryHub()
	var fail atomic.Bool
	fail.Store(true)
	open := func(key string) (slot.Slot, slot.Watcher) {
		s := hub.Open(key)
		if fail.Load() {
			return failingSlot{s}, nil
		}
		return s, s
	}
	m := NewManager(open, WithIdleTTL(0))
	defer m.Close()

	_, err := m.Get(context.Background(), "a")
	require.Error(t, err)
	assert.Equal(t, 0, m.Len())

	fail.Store(false)
	_, err = m.Get(context.Background(), "a")
	require.NoError(t, err)
}

func TestManager_ClosedRejectsNewSessions(t *testing.T) {
	m := NewManager(MemoryOpener(slot.NewMemoryHub()), WithIdleTTL(time.Minute))
	_, err := m.Get(context.Background(), "a")
	require.NoError(t, err)

	m.Close()
	m.Close()

	assert.Equal(t, 0, m.Len())
	_, err = m.Get(context.Background(), "b")
	assert.ErrorIs(t, err, ErrClosed)
}

// slowWatcher confirms its subscription only after a delay, like a remote
// pub/sub round trip.
type slowWatcher struct {
	slot.Watcher
	delay time.Duration
}

func (w slowWatcher) Watch(ctx context.Context) (<-chan slot.Change, error) {
	time.Sleep(w.delay)
	return w.Watcher.Watch(ctx)
}

func TestManager_ForeignWriteRightAfterGetIsApplied(t *testing.T) {
	hub := slot.NewMemoryHub()
	open := func(key string) (slot.Slot, slot.Watcher) {
		s := hub.Open(key)
		return s, slowWatcher{Watcher: s, delay: 50 * time.Millisecond}
	}
	m := NewManager(open, WithIdleTTL(0))
	defer m.Close()

	s, err := m.Get(context.Background(), "a")
	require.NoError(t, err)
	require.True(t, s.Store.IsEmpty())

	hub.Set("cart:a", "other-replica", []byte(`[{"_id":"x","title":"X","price":100,"currency":"USD","availability":"Available","quantity":1}]`))

	require.Eventually(t, func() bool { return s.Store.ItemCount() == 1 }, time.Second, 5*time.Millisecond)
}

type failingWatcher struct{}

func (failingWatcher) Watch(context.Context) (<-chan slot.Change, error) {
	return nil, errors.New("subscribe refused")
}

func TestManager_WatchFailureIsNotCached(t *testing.T) {
	hub := slot.NewMemoryHub()
	m := NewManager(func(key string) (slot.Slot, slot.Watcher) {
		return hub.Open(key), failingWatcher{}
	}, WithIdleTTL(0))
	defer m.Close()

	_, err := m.Get(context.Background(), "a")

	require.Error(t, err)
	assert.Equal(t, 0, m.Len())
}
