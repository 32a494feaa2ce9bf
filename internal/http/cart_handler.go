package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JoJoGatito/koji-gallery/internal/cart"
	"github.com/JoJoGatito/koji-gallery/internal/catalog"
	"github.com/JoJoGatito/koji-gallery/internal/domain"
	"github.com/JoJoGatito/koji-gallery/internal/logger"
	"github.com/JoJoGatito/koji-gallery/internal/render"
	"github.com/JoJoGatito/koji-gallery/internal/session"
)

const maxQuantity = 99

type CartHandler struct {
	sessions *session.Manager
	// catalog is nil when artworks are posted in full by the site.
	catalog  catalog.Provider
	renderer *render.Renderer
	timeout  time.Duration
	log      *slog.Logger
}

type HandlerOption func(*CartHandler)

func WithCatalog(p catalog.Provider) HandlerOption {
	return func(h *CartHandler) { h.catalog = p }
}

func WithRenderer(r *render.Renderer) HandlerOption {
	return func(h *CartHandler) { h.renderer = r }
}

func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *CartHandler) { h.log = l }
}

func NewCartHandler(sessions *session.Manager, timeout time.Duration, opts ...HandlerOption) *CartHandler {
	h := &CartHandler{
		sessions: sessions,
		renderer: render.New(render.Images{}),
		timeout:  timeout,
		log:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddItemRequestDTO carries either just an id, resolved through the catalog,
// or a full artwork as the site's pages have it.
type AddItemRequestDTO struct {
	domain.Artwork
}

type UpdateQuantityRequestDTO struct {
	Quantity *int `json:"quantity"`
}

type CartResponseDTO struct {
	Items          []domain.LineItem `json:"items"`
	ItemCount      int               `json:"itemCount"`
	Total          int64             `json:"total"`
	FormattedTotal string            `json:"formattedTotal"`
	Currencies     []string          `json:"currencies"`
	MixedCurrency  bool              `json:"mixedCurrency"`
}

type AddItemResponseDTO struct {
	Item domain.LineItem `json:"item"`
	Cart CartResponseDTO `json:"cart"`
}

type ClearCartResponseDTO struct {
	Removed int             `json:"removed"`
	Cart    CartResponseDTO `json:"cart"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, cartResponse(sess.Store))
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		respondError(w, http.StatusBadRequest, "invalid_artwork_id", "_id is required")
		return
	}

	artwork, err := h.resolve(ctx, req.Artwork)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	item, err := sess.Store.Add(ctx, *artwork)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, AddItemResponseDTO{Item: item, Cart: cartResponse(sess.Store)})
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := chi.URLParam(r, "id")

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "quantity is required")
		return
	}
	if *req.Quantity > maxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be at most 99")
		return
	}

	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := sess.Store.SetQuantity(ctx, id, *req.Quantity); err != nil {
		h.handleError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, cartResponse(sess.Store))
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := sess.Store.Remove(ctx, chi.URLParam(r, "id")); err != nil {
		h.handleError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, cartResponse(sess.Store))
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	removed, err := sess.Store.Clear(ctx)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, ClearCartResponseDTO{Removed: removed, Cart: cartResponse(sess.Store)})
}

// Drawer serves the drawer fragment for pages rendered without JavaScript state.
func (h *CartHandler) Drawer(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	html, err := h.renderer.Drawer(sess.Store.Snapshot())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(html))
}

// Live upgrades to the session's WebSocket feed.
func (h *CartHandler) Live(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	sess.Hub.ServeWS(w, r, sess.Hub.CartMessage(sess.Store.Snapshot()))
}

func (h *CartHandler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := getSessionID(r.Context())
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing_session", "cart session is required")
		return nil, false
	}
	sess, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return nil, false
	}
	return sess, true
}

func (h *CartHandler) resolve(ctx context.Context, posted domain.Artwork) (*domain.Artwork, error) {
	if h.catalog != nil {
		return h.catalog.Artwork(ctx, posted.ID)
	}
	if posted.Title == "" || posted.Price < 0 {
		return nil, errInvalidArtwork
	}
	if posted.Currency == "" {
		posted.Currency = domain.DefaultCurrency
	}
	if posted.Availability == "" {
		posted.Availability = domain.Available
	}
	return &posted, nil
}

var errInvalidArtwork = errors.New("artwork needs a title and a non-negative price")

func cartResponse(s *cart.Store) CartResponseDTO {
	snap := s.Snapshot()
	return CartResponseDTO{
		Items:          snap.Items,
		ItemCount:      snap.ItemCount,
		Total:          snap.Total,
		FormattedTotal: cart.FormatTotal(snap.Items, snap.Total),
		Currencies:     snap.Currencies(),
		MixedCurrency:  snap.MixedCurrency(),
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleError maps cart and catalog errors to HTTP responses. Rejected
// mutations are ordinary outcomes and are not logged.
func (h *CartHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var httpStatus int
	var code string

	switch {
	case errors.Is(err, cart.ErrSoldOut):
		httpStatus, code = http.StatusConflict, "sold_out"
	case errors.Is(err, cart.ErrAlreadyInCart):
		httpStatus, code = http.StatusConflict, "already_in_cart"
	case errors.Is(err, cart.ErrItemNotFound), errors.Is(err, catalog.ErrNotFound):
		httpStatus, code = http.StatusNotFound, "not_found"
	case errors.Is(err, errInvalidArtwork), errors.Is(err, session.ErrInvalidID):
		httpStatus, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, catalog.ErrUnavailable):
		httpStatus, code = http.StatusServiceUnavailable, "catalog_unavailable"
	case errors.Is(err, session.ErrClosed):
		httpStatus, code = http.StatusServiceUnavailable, "service_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		httpStatus, code = http.StatusGatewayTimeout, "timeout"
	default:
		h.log.ErrorContext(r.Context(), "cart request failed",
			"path", r.URL.Path, "session", getSessionID(r.Context()), "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	respondError(w, httpStatus, code, err.Error())
}
