// Package session owns the cart stores of browser sessions: one store, one
// slot handle and one live feed per session, created on first use and
// dropped after a period of inactivity.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/JoJoGatito/koji-gallery/internal/cart"
	"github.com/JoJoGatito/koji-gallery/internal/live"
	"github.com/JoJoGatito/koji-gallery/internal/logger"
	"github.com/JoJoGatito/koji-gallery/internal/render"
	"github.com/JoJoGatito/koji-gallery/internal/slot"
)

const (
	// DefaultIdleTTL is how long an untouched session stays in memory.
	DefaultIdleTTL = 30 * time.Minute

	// CleanupInterval is how often idle sessions are looked for.
	CleanupInterval = 30 * time.Second
)

var (
	ErrInvalidID = errors.New("invalid session id")
	ErrClosed    = errors.New("session manager closed")
)

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

func NewID() string { return uuid.NewString() }

func ValidID(id string) bool { return validID.MatchString(id) }

// Gauge tracks how many sessions are held.
type Gauge interface {
	SessionOpened()
	SessionClosed()
}

type nopGauge struct{}

func (nopGauge) SessionOpened() {}
func (nopGauge) SessionClosed() {}

type Session struct {
	ID    string
	Store *cart.Store
	Hub   *live.Hub

	lastSeen    atomic.Int64
	unsubscribe func()
	cancel      context.CancelFunc
	done        chan struct{}
}

func (s *Session) touch(now time.Time) { s.lastSeen.Store(now.UnixNano()) }

func (s *Session) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastSeen.Load()))
}

func (s *Session) stop() {
	s.cancel()
	<-s.done
	s.unsubscribe()
	s.Hub.Close()
}

type Manager struct {
	open     Opener
	observer cart.Observer
	gauge    Gauge
	renderer *render.Renderer
	log      *slog.Logger
	idleTTL  time.Duration
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
	group    singleflight.Group

	stopCleanup chan struct{}
	wg          sync.WaitGroup
}

type Option func(*Manager)

func WithObserver(o cart.Observer) Option {
	return func(m *Manager) { m.observer = o }
}

func WithGauge(g Gauge) Option {
	return func(m *Manager) { m.gauge = g }
}

func WithRenderer(r *render.Renderer) Option {
	return func(m *Manager) { m.renderer = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithIdleTTL sets the eviction age. Zero disables eviction.
func WithIdleTTL(d time.Duration) Option {
	return func(m *Manager) { m.idleTTL = d }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(open Opener, opts ...Option) *Manager {
	m := &Manager{
		open:        open,
		gauge:       nopGauge{},
		log:         logger.Discard(),
		idleTTL:     DefaultIdleTTL,
		now:         time.Now,
		sessions:    make(map[string]*Session),
		stopCleanup: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.idleTTL > 0 {
		m.wg.Add(1)
		go m.cleanupLoop()
	}
	return m
}

// Get returns the session's store, loading it from its slot on first use.
// Concurrent first requests of one session share a single load.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	if !ValidID(id) {
		return nil, ErrInvalidID
	}
	if s, ok := m.lookup(id); ok {
		return s, nil
	}

	v, err, _ := m.group.Do(id, func() (interface{}, error) {
		if s, ok := m.lookup(id); ok {
			return s, nil
		}
		return m.create(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Lookup returns a held session without creating one.
func (m *Manager) Lookup(id string) (*Session, bool) {
	return m.lookup(id)
}

func (m *Manager) lookup(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		s.touch(m.now())
	}
	return s, ok
}

func (m *Manager) create(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	log := m.log.With("session", id)
	sl, watcher := m.open(slot.Key(id))

	hubOpts := []live.Option{live.WithLogger(log)}
	if m.renderer != nil {
		hubOpts = append(hubOpts, live.WithRenderer(m.renderer))
	}
	hub := live.NewHub(hubOpts...)

	// Subscribe before the initial load so no foreign write falls between them.
	runCtx, cancel := context.WithCancel(context.Background())
	var changes <-chan slot.Change
	if watcher != nil {
		var err error
		if changes, err = watcher.Watch(runCtx); err != nil {
			cancel()
			hub.Close()
			return nil, fmt.Errorf("watch cart for session: %w", err)
		}
	}

	storeOpts := []cart.Option{cart.WithUI(hub), cart.WithLogger(log)}
	if m.observer != nil {
		storeOpts = append(storeOpts, cart.WithObserver(m.observer))
	}
	store, err := cart.New(ctx, sl, storeOpts...)
	if err != nil {
		cancel()
		hub.Close()
		return nil, fmt.Errorf("open cart for session: %w", err)
	}

	s := &Session{
		ID:          id,
		Store:       store,
		Hub:         hub,
		unsubscribe: store.Subscribe(hub.Listen),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	s.touch(m.now())

	if changes == nil {
		close(s.done)
	} else {
		go func() {
			defer close(s.done)
			if err := store.Follow(runCtx, changes); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("cart sync stopped", "error", err)
			}
		}()
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.stop()
		return nil, ErrClosed
	}
	m.sessions[id] = s
	m.mu.Unlock()

	m.gauge.SessionOpened()
	log.Debug("session opened", "key", store.Key(), "items", store.ItemCount())
	return s, nil
}

// Evict drops a session from memory. Its slot is left as is.
func (m *Manager) Evict(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.stop()
	m.gauge.SessionClosed()
	return true
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// cleanupLoop periodically evicts idle sessions
func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.EvictIdle()
		case <-m.stopCleanup:
			return
		}
	}
}

// EvictIdle drops sessions untouched for longer than the idle TTL that have
// no connected tabs, and returns how many it dropped.
func (m *Manager) EvictIdle() int {
	if m.idleTTL <= 0 {
		return 0
	}
	now := m.now()

	m.mu.RLock()
	var idle []string
	for id, s := range m.sessions {
		if s.idleSince(now) > m.idleTTL && s.Hub.ClientCount() == 0 {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	n := 0
	for _, id := range idle {
		if m.Evict(id) {
			n++
		}
	}
	if n > 0 {
		m.log.Debug("evicted idle sessions", "count", n)
	}
	return n
}

// Close stops the cleanup loop and every session.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	close(m.stopCleanup)
	m.wg.Wait()

	for _, s := range sessions {
		s.stop()
		m.gauge.SessionClosed()
	}
}
