// Package live pushes a cart's UI side effects to the browser tabs of its
// session over WebSocket.
package live

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JoJoGatito/koji-gallery/internal/cart"
	"github.com/JoJoGatito/koji-gallery/internal/domain"
	"github.com/JoJoGatito/koji-gallery/internal/logger"
	"github.com/JoJoGatito/koji-gallery/internal/render"
)

type MessageType string

const (
	TypeCart    MessageType = "cart"
	TypeCounter MessageType = "counter"
	TypeNotice  MessageType = "notice"
	TypeDrawer  MessageType = "drawer"
)

// Message is sent to browsers via WebSocket.
type Message struct {
	Type MessageType `json:"type"`

	// cart
	Cart           *domain.Snapshot `json:"cart,omitempty"`
	FormattedTotal string           `json:"formattedTotal,omitempty"`
	DrawerHTML     template.HTML    `json:"drawerHtml,omitempty"`

	// counter
	ItemCount   *int          `json:"itemCount,omitempty"`
	CounterHTML template.HTML `json:"counterHtml,omitempty"`

	// notice
	Notice         *cart.Notice `json:"notice,omitempty"`
	DismissAfterMs int64        `json:"dismissAfterMs,omitempty"`

	// drawer
	Open *bool `json:"open,omitempty"`
}

const (
	defaultWriteTimeout = 5 * time.Second
	// sendQueue bounds the messages waiting for one tab. A tab that falls
	// this far behind is disconnected; on reconnect it gets the full cart.
	sendQueue = 64
)

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, sendQueue),
		done: make(chan struct{}),
	}
}

// enqueue reports false when the tab's queue is full.
func (c *client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// Hub implements cart.UI for one session and fans every effect out to the
// session's connected tabs.
type Hub struct {
	renderer     *render.Renderer
	log          *slog.Logger
	writeTimeout time.Duration
	upgrader     websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type Option func(*Hub)

func WithRenderer(r *render.Renderer) Option {
	return func(h *Hub) { h.renderer = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.log = l }
}

// WithCheckOrigin replaces the same-origin check of the upgrade.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		log:          logger.Discard(),
		writeTimeout: defaultWriteTimeout,
		clients:      make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeWS upgrades the request and keeps the connection registered until the
// browser goes away. initial messages are sent before any broadcast.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, initial ...Message) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.DebugContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	c := newClient(conn)

	for _, msg := range initial {
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		c.enqueue(data)
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)

	// The feed is one-way; reading only detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.drop(c)
}

// writeLoop owns all writes to c's connection, so a stalled tab only delays
// itself.
func (h *Hub) writeLoop(c *client) {
	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.drop(c)
				return
			}
		case <-c.done:
			return
		}
	}
}

// CartMessage describes the full cart state.
func (h *Hub) CartMessage(snap domain.Snapshot) Message {
	msg := Message{
		Type:           TypeCart,
		Cart:           &snap,
		FormattedTotal: cart.FormatTotal(snap.Items, snap.Total),
	}
	if h.renderer != nil {
		if html, err := h.renderer.Drawer(snap); err == nil {
			msg.DrawerHTML = html
		} else {
			h.log.Warn("render drawer failed", "error", err)
		}
	}
	return msg
}

// Listen is the store's change listener.
func (h *Hub) Listen(snap domain.Snapshot) {
	h.broadcast(h.CartMessage(snap))
}

func (h *Hub) RefreshCounters(itemCount int) {
	msg := Message{Type: TypeCounter, ItemCount: &itemCount}
	if h.renderer != nil {
		if html, err := h.renderer.Counter(itemCount); err == nil {
			msg.CounterHTML = html
		}
	}
	h.broadcast(msg)
}

func (h *Hub) Notify(n cart.Notice) {
	h.broadcast(Message{Type: TypeNotice, Notice: &n, DismissAfterMs: cart.NoticeTTL.Milliseconds()})
}

func (h *Hub) OpenDrawer() {
	open := true
	h.broadcast(Message{Type: TypeDrawer, Open: &open})
}

func (h *Hub) CloseDrawer() {
	open := false
	h.broadcast(Message{Type: TypeDrawer, Open: &open})
}

// ClientCount returns the number of connected tabs.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every tab.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// broadcast queues msg for every tab and never waits on a socket.
func (h *Hub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("marshal live message failed", "type", msg.Type, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.enqueue(data) {
			h.log.Warn("live tab is lagging, disconnecting", "type", msg.Type)
			h.drop(c)
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}
