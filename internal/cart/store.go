// Package cart holds the cart state of one shopper: an ordered list of line
// items mirrored into a persisted slot, with a change broadcast and
// last-writer-wins synchronization with other contexts sharing the slot.
package cart

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JoJoGatito/koji-gallery/internal/domain"
	"github.com/JoJoGatito/koji-gallery/internal/logger"
	"github.com/JoJoGatito/koji-gallery/internal/slot"
)

// Listener receives the change broadcast. It runs after the change is
// committed, in commit order. It may read from the Store but must not call
// a mutating method synchronously: that call would wait for its own turn.
type Listener func(domain.Snapshot)

type drawerAction int

const (
	drawerNone drawerAction = iota
	drawerOpen
	drawerClose
)

type effects struct {
	snapshot *domain.Snapshot
	notice   *Notice
	drawer   drawerAction
}

type Store struct {
	// mu guards items and ticket. Each commit takes a ticket under mu; its
	// side effects run once serving reaches that ticket, with mu released.
	mu     sync.Mutex
	items  []domain.LineItem
	ticket uint64

	turnMu  sync.Mutex
	turn    *sync.Cond
	serving uint64

	slot     slot.Slot
	ui       UI
	observer Observer
	log      *slog.Logger
	now      func() time.Time

	lmu       sync.RWMutex
	listeners map[int]Listener
	nextID    int
}

type Option func(*Store)

func WithUI(ui UI) Option {
	return func(s *Store) { s.ui = ui }
}

func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New loads the slot once and builds a store over it. Absent or corrupt
// content starts an empty cart; only a failing slot read is an error.
func New(ctx context.Context, sl slot.Slot, opts ...Option) (*Store, error) {
	s := &Store{
		slot:      sl,
		ui:        NopUI{},
		observer:  nopObserver{},
		log:       logger.Discard(),
		now:       time.Now,
		listeners: make(map[int]Listener),
	}
	s.turn = sync.NewCond(&s.turnMu)
	for _, opt := range opts {
		opt(s)
	}

	raw, err := sl.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	items, err := slot.Decode(raw)
	if err != nil {
		s.log.WarnContext(ctx, "persisted cart unreadable, starting empty", "key", sl.Key(), "error", err)
	}
	s.items = items
	s.ui.RefreshCounters(itemCount(items))
	return s, nil
}

func (s *Store) Key() string    { return s.slot.Key() }
func (s *Store) Origin() string { return s.slot.Origin() }

// Subscribe registers l for change broadcasts and returns its cancel func.
func (s *Store) Subscribe(l Listener) func() {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.lmu.Unlock()

	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

// Add appends artwork with quantity 1. Sold-out artworks and ids already in
// the cart are rejected and leave the cart untouched.
func (s *Store) Add(ctx context.Context, a domain.Artwork) (domain.LineItem, error) {
	s.mu.Lock()

	if a.IsSoldOut() {
		s.observer.Mutation(OpAdd, ResultSoldOut)
		s.release(effects{notice: &Notice{
			Level:   LevelError,
			Message: fmt.Sprintf("%s is sold out and cannot be added to cart.", a.Title),
		}})
		return domain.LineItem{}, ErrSoldOut
	}

	if indexOf(s.items, a.ID) >= 0 {
		s.observer.Mutation(OpAdd, ResultAlreadyInCart)
		s.release(effects{
			notice: &Notice{Level: LevelInfo, Message: fmt.Sprintf("%s is already in your cart!", a.Title)},
			drawer: drawerOpen,
		})
		return domain.LineItem{}, ErrAlreadyInCart
	}

	item := domain.NewLineItem(a, s.now())
	next := make([]domain.LineItem, 0, len(s.items)+1)
	next = append(next, s.items...)
	next = append(next, item)

	if err := s.commit(ctx, next); err != nil {
		s.observer.Mutation(OpAdd, ResultError)
		s.mu.Unlock()
		return domain.LineItem{}, err
	}

	s.observer.Mutation(OpAdd, ResultOK)
	s.release(effects{
		snapshot: s.snapshotLocked(),
		notice:   &Notice{Level: LevelSuccess, Message: fmt.Sprintf("%s added to cart!", a.Title)},
		drawer:   drawerOpen,
	})
	return cloneItem(item), nil
}

func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	return s.removeLocked(ctx, OpRemove, id)
}

// SetQuantity sets the quantity of id. n <= 0 removes the item.
func (s *Store) SetQuantity(ctx context.Context, id string, n int) error {
	s.mu.Lock()

	idx := indexOf(s.items, id)
	if idx < 0 {
		s.observer.Mutation(OpSetQuantity, ResultNotFound)
		s.mu.Unlock()
		return ErrItemNotFound
	}
	if n <= 0 {
		return s.removeLocked(ctx, OpSetQuantity, id)
	}

	next := cloneItems(s.items)
	next[idx].Quantity = n
	if err := s.commit(ctx, next); err != nil {
		s.observer.Mutation(OpSetQuantity, ResultError)
		s.mu.Unlock()
		return err
	}

	s.observer.Mutation(OpSetQuantity, ResultOK)
	s.release(effects{
		snapshot: s.snapshotLocked(),
		notice:   &Notice{Level: LevelInfo, Message: fmt.Sprintf("Updated %s quantity to %d.", next[idx].Title, n)},
	})
	return nil
}

// Clear empties the cart and returns how many line items it removed.
func (s *Store) Clear(ctx context.Context) (int, error) {
	s.mu.Lock()

	removed := len(s.items)
	if err := s.commit(ctx, []domain.LineItem{}); err != nil {
		s.observer.Mutation(OpClear, ResultError)
		s.mu.Unlock()
		return 0, err
	}

	s.observer.Mutation(OpClear, ResultOK)
	s.release(effects{
		snapshot: s.snapshotLocked(),
		notice:   &Notice{Level: LevelInfo, Message: fmt.Sprintf("Cleared %d %s from cart.", removed, plural(removed, "item"))},
		drawer:   drawerClose,
	})
	return removed, nil
}

// ItemCount is the sum of quantities, not the number of lines.
func (s *Store) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return itemCount(s.items)
}

// Total sums price*quantity in minor units. Currencies are not converted: a
// cart mixing currencies is summed as is (see MixedCurrency).
func (s *Store) Total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return total(s.items)
}

// FormattedTotal renders Total in the first item's currency.
func (s *Store) FormattedTotal() string {
	s.mu.Lock()
	items := s.items
	sum := total(items)
	s.mu.Unlock()

	if mixedCurrency(items) {
		s.log.Warn("formatting total of a mixed-currency cart", "key", s.slot.Key(), "currencies", currencies(items))
	}
	return FormatTotal(items, sum)
}

func (s *Store) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items) == 0
}

// Items returns a copy of the current list.
func (s *Store) Items() []domain.LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneItems(s.items)
}

func (s *Store) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.snapshotLocked()
}

// Currencies lists the distinct currency codes in item order.
func (s *Store) Currencies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return currencies(s.items)
}

func (s *Store) MixedCurrency() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return mixedCurrency(s.items)
}

// ApplyExternal replaces the whole list with a value written by another
// context. No merge: whatever this context had is discarded.
func (s *Store) ApplyExternal(ctx context.Context, value []byte) {
	items, err := slot.Decode(value)
	if err != nil {
		s.log.WarnContext(ctx, "external cart value unreadable, treating as empty", "key", s.slot.Key(), "error", err)
	}

	s.mu.Lock()
	s.items = items
	s.observer.ExternalSync()
	s.release(effects{snapshot: s.snapshotLocked()})
}

// Run applies changes from w made by other contexts until ctx is done.
func (s *Store) Run(ctx context.Context, w slot.Watcher) error {
	changes, err := w.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch cart slot: %w", err)
	}
	return s.Follow(ctx, changes)
}

// Follow applies changes made by other contexts from an already open watch.
// Opening the watch before New closes the gap between the initial load and
// the subscription.
func (s *Store) Follow(ctx context.Context, changes <-chan slot.Change) error {
	for c := range changes {
		if c.Origin == s.slot.Origin() || c.Key != s.slot.Key() {
			continue
		}
		s.log.DebugContext(ctx, "cart changed in another context", "key", c.Key, "origin", c.Origin)
		s.ApplyExternal(ctx, c.Value)
	}
	return ctx.Err()
}

func (s *Store) removeLocked(ctx context.Context, op, id string) error {
	idx := indexOf(s.items, id)
	if idx < 0 {
		s.observer.Mutation(op, ResultNotFound)
		s.mu.Unlock()
		return ErrItemNotFound
	}

	removed := s.items[idx]
	next := make([]domain.LineItem, 0, len(s.items)-1)
	next = append(next, s.items[:idx]...)
	next = append(next, s.items[idx+1:]...)

	if err := s.commit(ctx, next); err != nil {
		s.observer.Mutation(op, ResultError)
		s.mu.Unlock()
		return err
	}

	s.observer.Mutation(op, ResultOK)
	s.release(effects{
		snapshot: s.snapshotLocked(),
		notice:   &Notice{Level: LevelInfo, Message: fmt.Sprintf("%s removed from cart.", removed.Title)},
	})
	return nil
}

// commit persists next and only then makes it the current list, so a failed
// write leaves memory and slot equal. Requires mu.
func (s *Store) commit(ctx context.Context, next []domain.LineItem) error {
	data, err := slot.Encode(next)
	if err != nil {
		return err
	}
	if err := s.slot.Save(ctx, data); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	s.items = next
	return nil
}

// release hands the side effects of a commit to the UI and listeners. It is
// entered with mu held and returns with mu released. Effects are delivered in
// commit order without holding mu, so listeners may read from the Store.
func (s *Store) release(fx effects) {
	t := s.ticket
	s.ticket++
	s.mu.Unlock()

	s.turnMu.Lock()
	for s.serving != t {
		s.turn.Wait()
	}
	s.turnMu.Unlock()

	defer func() {
		s.turnMu.Lock()
		s.serving++
		s.turn.Broadcast()
		s.turnMu.Unlock()
	}()

	if fx.snapshot != nil {
		s.ui.RefreshCounters(fx.snapshot.ItemCount)
		s.broadcast(*fx.snapshot)
	}
	if fx.notice != nil {
		s.ui.Notify(*fx.notice)
	}
	switch fx.drawer {
	case drawerOpen:
		s.ui.OpenDrawer()
	case drawerClose:
		s.ui.CloseDrawer()
	}
}

func (s *Store) broadcast(snap domain.Snapshot) {
	s.lmu.RLock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.lmu.RUnlock()

	for _, l := range listeners {
		l(domain.Snapshot{Items: cloneItems(snap.Items), ItemCount: snap.ItemCount, Total: snap.Total})
	}
}

func (s *Store) snapshotLocked() *domain.Snapshot {
	return &domain.Snapshot{
		Items:     cloneItems(s.items),
		ItemCount: itemCount(s.items),
		Total:     total(s.items),
	}
}

// FormatTotal renders sum in the currency of the first item, or the default
// currency for an empty list.
func FormatTotal(items []domain.LineItem, sum int64) string {
	code := domain.DefaultCurrency
	if len(items) > 0 && items[0].Currency != "" {
		code = items[0].Currency
	}
	return FormatMinor(sum, code)
}

func indexOf(items []domain.LineItem, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func itemCount(items []domain.LineItem) int {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return n
}

func total(items []domain.LineItem) int64 {
	var sum int64
	for _, it := range items {
		sum += it.Subtotal()
	}
	return sum
}

func currencies(items []domain.LineItem) []string {
	return domain.Snapshot{Items: items}.Currencies()
}

func mixedCurrency(items []domain.LineItem) bool {
	return domain.Snapshot{Items: items}.MixedCurrency()
}

func cloneItem(it domain.LineItem) domain.LineItem {
	if it.HeroImage != nil {
		img := *it.HeroImage
		it.HeroImage = &img
	}
	return it
}

func cloneItems(items []domain.LineItem) []domain.LineItem {
	out := make([]domain.LineItem, len(items))
	for i, it := range items {
		out[i] = cloneItem(it)
	}
	return out
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
