package slot

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryHub is process-local shared storage. Every MemorySlot opened from it
// behaves like a separate browser tab over the same origin storage.
type MemoryHub struct {
	mu       sync.RWMutex
	values   map[string][]byte
	watchers map[string]map[*memoryWatch]struct{}
}

type memoryWatch struct {
	ch chan Change
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		values:   make(map[string][]byte),
		watchers: make(map[string]map[*memoryWatch]struct{}),
	}
}

// Open returns a new handle with a fresh origin.
func (h *MemoryHub) Open(key string) *MemorySlot {
	return &MemorySlot{hub: h, key: key, origin: uuid.NewString()}
}

// Get returns a copy of the stored value, mainly for inspection in tests.
func (h *MemoryHub) Get(key string) ([]byte, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.values[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// Watchers reports how many watches are active on key.
func (h *MemoryHub) Watchers(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers[key])
}

// Set overwrites a value as if written by an outside context.
func (h *MemoryHub) Set(key, origin string, value []byte) {
	h.store(Change{Key: key, Origin: origin, Value: append([]byte(nil), value...)})
}

func (h *MemoryHub) store(c Change) {
	h.mu.Lock()
	h.values[c.Key] = c.Value
	watches := make([]*memoryWatch, 0, len(h.watchers[c.Key]))
	for w := range h.watchers[c.Key] {
		watches = append(watches, w)
	}
	// Delivery happens under the lock so every watcher sees writes in store order.
	for _, w := range watches {
		Offer(w.ch, c)
	}
	h.mu.Unlock()
}

func (h *MemoryHub) subscribe(key string) *memoryWatch {
	w := &memoryWatch{ch: make(chan Change, 1)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.watchers[key] == nil {
		h.watchers[key] = make(map[*memoryWatch]struct{})
	}
	h.watchers[key][w] = struct{}{}
	return w
}

func (h *MemoryHub) unsubscribe(key string, w *memoryWatch) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.watchers[key], w)
	if len(h.watchers[key]) == 0 {
		delete(h.watchers, key)
	}
	close(w.ch)
}

// MemorySlot is a handle on a MemoryHub key.
type MemorySlot struct {
	hub    *MemoryHub
	key    string
	origin string
}

func (s *MemorySlot) Key() string    { return s.key }
func (s *MemorySlot) Origin() string { return s.origin }

func (s *MemorySlot) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, _ := s.hub.Get(s.key)
	return v, nil
}

func (s *MemorySlot) Save(ctx context.Context, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.hub.store(Change{Key: s.key, Origin: s.origin, Value: append([]byte(nil), value...)})
	return nil
}

// Watch reports every write to the key, including this handle's own; the
// consumer filters by origin.
func (s *MemorySlot) Watch(ctx context.Context) (<-chan Change, error) {
	w := s.hub.subscribe(s.key)
	out := make(chan Change)
	go func() {
		defer close(out)
		defer s.hub.unsubscribe(s.key, w)
		for {
			select {
			case <-ctx.Done():
				return
			case c := <-w.ch:
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
