package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/JoJoGatito/koji-gallery/internal/domain"
	"github.com/JoJoGatito/koji-gallery/internal/slot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockUI struct {
	m        sync.Mutex
	counters []int
	notices  []Notice
	opened   int
	closed   int
}

func (u *mockUI) RefreshCounters(n int) {
	u.m.Lock()
	defer u.m.Unlock()
	u.counters = append(u.counters, n)
}

func (u *mockUI) Notify(n Notice) {
	u.m.Lock()
	defer u.m.Unlock()
	u.notices = append(u.notices, n)
}

func (u *mockUI) OpenDrawer() {
	u.m.Lock()
	defer u.m.Unlock()
	u.opened++
}

func (u *mockUI) CloseDrawer() {
	u.m.Lock()
	defer u.m.Unlock()
	u.closed++
}

func (u *mockUI) lastNotice() Notice {
	u.m.Lock()
	defer u.m.Unlock()
	if len(u.notices) == 0 {
		return Notice{}
	}
	return u.notices[len(u.notices)-1]
}

type mockObserver struct {
	m         sync.Mutex
	mutations []string
	syncs     int
}

func (o *mockObserver) Mutation(op, result string) {
	o.m.Lock()
	defer o.m.Unlock()
	o.mutations = append(o.mutations, op+":"+result)
}

func (o *mockObserver) ExternalSync() {
	o.m.Lock()
	defer o.m.Unlock()
	o.syncs++
}

// failingSlot wraps a slot and fails saves while err is set
type failingSlot struct {
	slot.Slot
	loadErr error
	saveErr error
}

func (f *failingSlot) Load(ctx context.Context) ([]byte, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.Slot.Load(ctx)
}

func (f *failingSlot) Save(ctx context.Context, v []byte) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.Slot.Save(ctx, v)
}

var fixedNow = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func artwork(id string, price int64) domain.Artwork {
	return domain.Artwork{
		ID:                id,
		Title:             "Artwork " + id,
		Price:             price,
		Currency:          "USD",
		Availability:      domain.Available,
		StripePaymentLink: "https://buy.stripe.com/" + id,
		HeroImage:         &domain.Image{Type: "image", Asset: domain.AssetRef{Ref: "image-" + id + "-100x100-png", Type: "reference"}},
		Slug:              domain.Slug{Current: id},
	}
}

func newTestStore(t *testing.T, s slot.Slot, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	st, err := New(context.Background(), s, opts...)
	require.NoError(t, err)
	return st
}

func TestNew_EmptySlot(t *testing.T) {
	st := newTestStore(t, slot.NewMemoryHub().Open("cart"))
	assert.True(t, st.IsEmpty())
	assert.Equal(t, 0, st.ItemCount())
	assert.Equal(t, int64(0), st.Total())
	assert.NotNil(t, st.Items())
}

func TestNew_CorruptSlotStartsEmpty(t *testing.T) {
	hub := slot.NewMemoryHub()
	hub.Set("cart", "elsewhere", []byte(`{not json`))

	st := newTestStore(t, hub.Open("cart"))
	assert.True(t, st.IsEmpty())
}

func TestNew_LoadError(t *testing.T) {
	s := &failingSlot{Slot: slot.NewMemoryHub().Open("cart"), loadErr: errors.New("redis down")}
	_, err := New(context.Background(), s)
	require.ErrorContains(t, err, "redis down")
}

func TestNew_RefreshesCounters(t *testing.T) {
	hub := slot.NewMemoryHub()
	data, err := slot.Encode([]domain.LineItem{domain.NewLineItem(artwork("a", 100), fixedNow)})
	require.NoError(t, err)
	hub.Set("cart", "elsewhere", data)

	ui := &mockUI{}
	newTestStore(t, hub.Open("cart"), WithUI(ui))
	assert.Equal(t, []int{1}, ui.counters)
}

func TestAdd_NewItem(t *testing.T) {
	hub := slot.NewMemoryHub()
	ui := &mockUI{}
	st := newTestStore(t, hub.Open("cart"), WithUI(ui))

	item, err := st.Add(context.Background(), artwork("a", 4500))
	require.NoError(t, err)
	assert.Equal(t, 1, item.Quantity)
	assert.Equal(t, fixedNow, item.AddedAt)

	assert.Equal(t, 1, st.ItemCount())
	require.Len(t, st.Items(), 1)
	assert.Equal(t, "a", st.Items()[0].ID)

	assert.Equal(t, Notice{Level: LevelSuccess, Message: "Artwork a added to cart!"}, ui.lastNotice())
	assert.Equal(t, 1, ui.opened)
	assert.Equal(t, []int{0, 1}, ui.counters)

	raw, ok := hub.Get("cart")
	require.True(t, ok)
	persisted, err := slot.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, st.Items(), persisted)
}

func TestAdd_SoldOutRejected(t *testing.T) {
	hub := slot.NewMemoryHub()
	ui := &mockUI{}
	obs := &mockObserver{}
	st := newTestStore(t, hub.Open("cart"), WithUI(ui), WithObserver(obs))

	_, err := st.Add(context.Background(), artwork("a", 100))
	require.NoError(t, err)

	sold := artwork("b", 200)
	sold.Availability = domain.SoldOut
	_, err = st.Add(context.Background(), sold)
	require.ErrorIs(t, err, ErrSoldOut)

	assert.Equal(t, 1, st.ItemCount())
	assert.Len(t, st.Items(), 1)
	assert.Equal(t, Notice{Level: LevelError, Message: "Artwork b is sold out and cannot be added to cart."}, ui.lastNotice())
	assert.Equal(t, 1, ui.opened)
	assert.Equal(t, []string{"add:ok", "add:sold_out"}, obs.mutations)
}

func TestAdd_DuplicateRejected(t *testing.T) {
	ui := &mockUI{}
	st := newTestStore(t, slot.NewMemoryHub().Open("cart"), WithUI(ui))
	ctx := context.Background()

	_, err := st.Add(ctx, artwork("a", 100))
	require.NoError(t, err)
	require.NoError(t, st.SetQuantity(ctx, "a", 2))

	changed := artwork("a", 999)
	_, err = st.Add(ctx, changed)
	require.ErrorIs(t, err, ErrAlreadyInCart)

	items := st.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, int64(100), items[0].Price)
	assert.Equal(t, LevelInfo, ui.lastNotice().Level)
	assert.Equal(t, "Artwork a is already in your cart!", ui.lastNotice().Message)
	assert.Equal(t, 2, ui.opened)
}

func TestRemove(t *testing.T) {
	ui := &mockUI{}
	st := newTestStore(t, slot.NewMemoryHub().Open("cart"), WithUI(ui))
	ctx := context.Background()

	_, err := st.Add(ctx, artwork("a", 100))
	require.NoError(t, err)
	_, err = st.Add(ctx, artwork("b", 200))
	require.NoError(t, err)

	require.NoError(t, st.Remove(ctx, "a"))
	items := st.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "b", items[0].ID)
	assert.Equal(t, "Artwork a removed from cart.", ui.lastNotice().Message)

	assert.ErrorIs(t, st.Remove(ctx, "a"), ErrItemNotFound)
}

func TestSetQuantity(t *testing.T) {
	ui := &mockUI{}
	st := newTestStore(t, slot.NewMemoryHub().Open("cart"), WithUI(ui))
	ctx := context.Background()

	_, err := st.Add(ctx, artwork("a", 4500))
	require.NoError(t, err)

	require.NoError(t, st.SetQuantity(ctx, "a", 3))
	assert.Equal(t, 3, st.ItemCount())
	assert.Equal(t, int64(13500), st.Total())
	assert.Equal(t, "Updated Artwork a quantity to 3.", ui.lastNotice().Message)

	assert.ErrorIs(t, st.SetQuantity(ctx, "missing", 2), ErrItemNotFound)
}

func TestSetQuantityZeroEqualsRemove(t *testing.T) {
	ctx := context.Background()
	build := func() *Store {
		st := newTestStore(t, slot.NewMemoryHub().Open("cart"))
		_, err := st.Add(ctx, artwork("a", 100))
		require.NoError(t, err)
		_, err = st.Add(ctx, artwork("b", 300))
		require.NoError(t, err)
		require.NoError(t, st.SetQuantity(ctx, "b", 4))
		return st
	}

	for _, n := range []int{0, -1, -50} {
		viaSet := build()
		viaRemove := build()

		before := viaSet.ItemCount()
		require.NoError(t, viaSet.SetQuantity(ctx, "b", n))
		require.NoError(t, viaRemove.Remove(ctx, "b"))

		assert.Equal(t, viaRemove.Items(), viaSet.Items())
		assert.Equal(t, before-4, viaSet.ItemCount())
		assert.Equal(t, viaRemove.ItemCount(), viaSet.ItemCount())
	}
}

func TestClear(t *testing.T) {
	ui := &mockUI{}
	hub := slot.NewMemoryHub()
	st := newTestStore(t, hub.Open("cart"), WithUI(ui))
	ctx := context.Background()

	_, err := st.Add(ctx, artwork("a", 100))
	require.NoError(t, err)
	_, err = st.Add(ctx, artwork("b", 100))
	require.NoError(t, err)
	require.NoError(t, st.SetQuantity(ctx, "b", 5))

	removed, err := st.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.True(t, st.IsEmpty())
	assert.Equal(t, 0, st.ItemCount())
	assert.Equal(t, "Cleared 2 items from cart.", ui.lastNotice().Message)
	assert.Equal(t, 1, ui.closed)

	raw, _ := hub.Get("cart")
	assert.Equal(t, "[]", string(raw))

	removed, err = st.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.Equal(t, "Cleared 0 items from cart.", ui.lastNotice().Message)
}

func TestClear_SingularNotice(t *testing.T) {
	ui := &mockUI{}
	st := newTestStore(t, slot.NewMemoryHub().Open("cart"), WithUI(ui))
	_, err := st.Add(context.Background(), artwork("a", 100))
	require.NoError(t, err)

	_, err = st.Clear(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Cleared 1 item from cart.", ui.lastNotice().Message)
}

func TestTotalMatchesSumOverSequence(t *testing.T) {
	st := newTestStore(t, slot.NewMemoryHub().Open("cart"))
	ctx := context.Background()

	steps := []func(){
		func() { _, _ = st.Add(ctx, artwork("a", 1250)) },
		func() { _, _ = st.Add(ctx, artwork("b", 999)) },
		func() { _ = st.SetQuantity(ctx, "a", 4) },
		func() { _, _ = st.Add(ctx, artwork("c", 50)) },
		func() { _ = st.Remove(ctx, "b") },
		func() { _ = st.SetQuantity(ctx, "c", 7) },
		func() { _, _ = st.Add(ctx, artwork("b", 999)) },
		func() { _ = st.SetQuantity(ctx, "a", 0) },
	}
	for _, step := range steps {
		step()
		var want int64
		for _, it := range st.Items() {
			want += it.Price * int64(it.Quantity)
		}
		assert.Equal(t, want, st.Total())
	}
}

func TestScenario_AddDuplicateQuantityRemove(t *testing.T) {
	st := newTestStore(t, slot.NewMemoryHub().Open("cart"))
	ctx := context.Background()
	a := artwork("A", 4500)

	_, err := st.Add(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ItemCount())
	assert.Equal(t, int64(4500), st.Total())

	_, err = st.Add(ctx, a)
	require.ErrorIs(t, err, ErrAlreadyInCart)
	assert.Equal(t, 1, st.ItemCount())

	require.NoError(t, st.SetQuantity(ctx, "A", 3))
	assert.Equal(t, int64(13500), st.Total())

	require.NoError(t, st.Remove(ctx, "A"))
	assert.True(t, st.IsEmpty())
}

func TestScenario_TwoStoresSameSlot(t *testing.T) {
	hub := slot.NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tab1Slot := hub.Open("cart")
	tab2Slot := hub.Open("cart")
	tab1 := newTestStore(t, tab1Slot)
	tab2 := newTestStore(t, tab2Slot)

	done := make(chan error, 1)
	go func() { done <- tab2.Run(ctx, tab2Slot) }()
	require.Eventually(t, func() bool { return hub.Watchers("cart") == 1 }, time.Second, 5*time.Millisecond)

	_, err := tab1.Add(ctx, artwork("X", 700))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(tab2.Items()) == 1 }, time.Second, 5*time.Millisecond)
	items := tab2.Items()
	assert.Equal(t, "X", items[0].ID)
	assert.Equal(t, tab1.Items(), items)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRun_IgnoresOwnWrites(t *testing.T) {
	hub := slot.NewMemoryHub()
	obs := &mockObserver{}
	s := hub.Open("cart")
	st := newTestStore(t, s, WithObserver(obs))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = st.Run(ctx, s) }()
	require.Eventually(t, func() bool { return hub.Watchers("cart") == 1 }, time.Second, 5*time.Millisecond)

	_, err := st.Add(ctx, artwork("mine", 1))
	require.NoError(t, err)
	require.NoError(t, hub.Open("cart").Save(ctx, []byte(`[]`)))

	// Changes arrive in write order: the own write is skipped, the foreign one applied.
	require.Eventually(t, func() bool { return st.IsEmpty() }, time.Second, 5*time.Millisecond)
	obs.m.Lock()
	defer obs.m.Unlock()
	assert.Equal(t, 1, obs.syncs)
}

func TestApplyExternal_ReplacesAndBroadcasts(t *testing.T) {
	ui := &mockUI{}
	st := newTestStore(t, slot.NewMemoryHub().Open("cart"), WithUI(ui))
	ctx := context.Background()
	_, err := st.Add(ctx, artwork("local", 100))
	require.NoError(t, err)

	var got []domain.Snapshot
	cancel := st.Subscribe(func(s domain.Snapshot) { got = append(got, s) })
	defer cancel()

	remote := []domain.LineItem{domain.NewLineItem(artwork("r1", 300), fixedNow), domain.NewLineItem(artwork("r2", 200), fixedNow)}
	remote[1].Quantity = 2
	data, err := slot.Encode(remote)
	require.NoError(t, err)

	st.ApplyExternal(ctx, data)

	assert.Equal(t, remote, st.Items())
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].ItemCount)
	assert.Equal(t, int64(700), got[0].Total)
	assert.Equal(t, 3, ui.counters[len(ui.counters)-1])
}

func TestApplyExternal_UnreadableIsEmpty(t *testing.T) {
	st := newTestStore(t, slot.NewMemoryHub().Open("cart"))
	ctx := context.Background()
	_, err := st.Add(ctx, artwork("a", 100))
	require.NoError(t, err)

	st.ApplyExternal(ctx, []byte(`garbage`))
	assert.True(t, st.IsEmpty())

	_, err = st.Add(ctx, artwork("a", 100))
	require.NoError(t, err)
	st.ApplyExternal(ctx, nil)
	assert.True(t, st.IsEmpty())
}

func TestSubscribe_BroadcastPayload(t *testing.T) {
	st := newTestStore(t, slot.NewMemoryHub().Open("cart"))
	ctx := context.Background()

	var got []domain.Snapshot
	cancel := st.Subscribe(func(s domain.Snapshot) {
		// listeners may read from the store
		assert.Equal(t, s.ItemCount, st.ItemCount())
		got = append(got, s)
	})

	_, err := st.Add(ctx, artwork("a", 250))
	require.NoError(t, err)
	require.NoError(t, st.SetQuantity(ctx, "a", 2))
	_, err = st.Add(ctx, artwork("a", 250))
	require.ErrorIs(t, err, ErrAlreadyInCart)

	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].ItemCount)
	assert.Equal(t, int64(250), got[0].Total)
	assert.Equal(t, 2, got[1].ItemCount)
	assert.Equal(t, int64(500), got[1].Total)
	require.Len(t, got[1].Items, 1)

	cancel()
	_, err = st.Clear(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSaveFailureLeavesStateUnchanged(t *testing.T) {
	hub := slot.NewMemoryHub()
	fs := &failingSlot{Slot: hub.Open("cart")}
	obs := &mockObserver{}
	st := newTestStore(t, fs, WithObserver(obs))
	ctx := context.Background()

	_, err := st.Add(ctx, artwork("a", 100))
	require.NoError(t, err)

	var broadcasts int
	st.Subscribe(func(domain.Snapshot) { broadcasts++ })

	fs.saveErr = errors.New("disk full")
	_, err = st.Add(ctx, artwork("b", 100))
	require.ErrorContains(t, err, "disk full")
	require.ErrorContains(t, st.SetQuantity(ctx, "a", 3), "disk full")
	require.ErrorContains(t, st.Remove(ctx, "a"), "disk full")
	_, err = st.Clear(ctx)
	require.ErrorContains(t, err, "disk full")

	items := st.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Quantity)
	assert.Equal(t, 0, broadcasts)

	raw, _ := hub.Get("cart")
	persisted, err := slot.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, items, persisted)
	assert.Contains(t, obs.mutations, "add:error")
}

func TestItems_ReturnsCopy(t *testing.T) {
	st := newTestStore(t, slot.NewMemoryHub().Open("cart"))
	_, err := st.Add(context.Background(), artwork("a", 100))
	require.NoError(t, err)

	items := st.Items()
	items[0].Quantity = 99
	items[0].HeroImage.Asset.Ref = "tampered"

	fresh := st.Items()
	require.Len(t, fresh, 1)
	assert.Equal(t, 1, fresh[0].Quantity)
	assert.Equal(t, "image-a-100x100-png", fresh[0].ImageRef())
}

func TestRoundTrip_ReconstructFromSlot(t *testing.T) {
	hub := slot.NewMemoryHub()
	ctx := context.Background()
	st := newTestStore(t, hub.Open("cart"))

	_, err := st.Add(ctx, artwork("a", 100))
	require.NoError(t, err)
	_, err = st.Add(ctx, artwork("b", 250))
	require.NoError(t, err)
	require.NoError(t, st.SetQuantity(ctx, "a", 3))

	rebuilt := newTestStore(t, hub.Open("cart"))
	assert.Equal(t, st.Items(), rebuilt.Items())
}

func TestFormattedTotal(t *testing.T) {
	st := newTestStore(t, slot.NewMemoryHub().Open("cart"))
	ctx := context.Background()
	assert.Equal(t, "$0.00", st.FormattedTotal())

	_, err := st.Add(ctx, artwork("a", 4500))
	require.NoError(t, err)
	require.NoError(t, st.SetQuantity(ctx, "a", 3))
	assert.Equal(t, "$135.00", st.FormattedTotal())
}

func TestMixedCurrencyIsSummedAndFlagged(t *testing.T) {
	st := newTestStore(t, slot.NewMemoryHub().Open("cart"))
	ctx := context.Background()

	usd := artwork("usd", 1000)
	eur := artwork("eur", 500)
	eur.Currency = "EUR"
	_, err := st.Add(ctx, usd)
	require.NoError(t, err)
	assert.False(t, st.MixedCurrency())

	_, err = st.Add(ctx, eur)
	require.NoError(t, err)

	assert.True(t, st.MixedCurrency())
	assert.Equal(t, []string{"USD", "EUR"}, st.Currencies())
	assert.Equal(t, int64(1500), st.Total())
	assert.Equal(t, "$15.00", st.FormattedTotal())
}

func TestConcurrentAdds_ListenerReadsStore(t *testing.T) {
	st := newTestStore(t, slot.NewMemoryHub().Open("cart"))
	ctx := context.Background()

	var mu sync.Mutex
	var counts []int
	st.Subscribe(func(s domain.Snapshot) {
		_ = st.ItemCount()
		_ = st.FormattedTotal()
		mu.Lock()
		counts = append(counts, s.ItemCount)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := st.Add(ctx, artwork(fmt.Sprintf("a%d", i), 100))
			assert.NoError(t, err)
		}(i)
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent adds with a reading listener did not finish")
	}

	assert.Equal(t, 50, st.ItemCount())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, counts, 50)
	// broadcasts arrive in commit order
	for i, n := range counts {
		assert.Equal(t, i+1, n)
	}
}

func TestRun_BurstEndsOnLatestValue(t *testing.T) {
	hub := slot.NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writerSlot := hub.Open("cart")
	watcherSlot := hub.Open("cart")
	writer := newTestStore(t, writerSlot)
	watcher := newTestStore(t, watcherSlot)

	var once sync.Once
	watcher.Subscribe(func(domain.Snapshot) {
		once.Do(func() { time.Sleep(200 * time.Millisecond) })
	})

	go func() { _ = watcher.Run(ctx, watcherSlot) }()
	require.Eventually(t, func() bool { return hub.Watchers("cart") == 1 }, time.Second, 5*time.Millisecond)

	for i := 0; i < 40; i++ {
		_, err := writer.Add(ctx, artwork(fmt.Sprintf("w%d", i), 100))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return watcher.ItemCount() == 40 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, writer.Items(), watcher.Items())
}

func TestFollow_AppliesChangesQueuedBeforeNew(t *testing.T) {
	hub := slot.NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := hub.Open("cart")
	changes, err := s.Watch(ctx)
	require.NoError(t, err)

	st := newTestStore(t, s)
	hub.Set("cart", "other-tab", []byte(`[{"_id":"x","title":"X","price":100,"currency":"USD","availability":"Available","quantity":1}]`))

	go func() { _ = st.Follow(ctx, changes) }()

	require.Eventually(t, func() bool { return st.ItemCount() == 1 }, time.Second, 5*time.Millisecond)
}
