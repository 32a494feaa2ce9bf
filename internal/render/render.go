// Package render turns cart snapshots into the HTML fragments of the cart
// drawer and the header counter.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/JoJoGatito/koji-gallery/internal/cart"
	"github.com/JoJoGatito/koji-gallery/internal/domain"
)

const (
	PlaceholderImage = "/assets/images/placeholder.jpg"
	thumbSize        = 160
)

var templates = template.Must(template.New("cart").Parse(`
{{define "counter"}}<span class="cart-counter" style="display: {{if gt .Count 0}}flex{{else}}none{{end}}">{{.Count}}</span>{{end}}

{{define "drawer"}}<div class="cart-content">
{{- if not .Items}}
  <div class="empty-cart">
    <p>Your cart is empty</p>
    <button class="btn-small" data-cart-action="close">Continue Shopping</button>
  </div>
{{- else}}
{{- range .Items}}
  <div class="cart-item" data-item-id="{{.ID}}">
    <div class="cart-item-image">
      <img src="{{.ImageURL}}" alt="{{.Title}}" loading="lazy">
    </div>
    <div class="cart-item-info">
      <h4 class="cart-item-title">{{.Title}}</h4>
      <div class="cart-item-price">{{.Subtotal}}</div>
      <div class="cart-item-actions">
        <div class="quantity-controls">
          <button class="quantity-btn" data-cart-action="quantity" data-item-id="{{.ID}}" data-quantity="{{.Decrement}}">-</button>
          <span class="quantity">{{.Quantity}}</span>
          <button class="quantity-btn" data-cart-action="quantity" data-item-id="{{.ID}}" data-quantity="{{.Increment}}">+</button>
        </div>
        <button class="remove-btn" data-cart-action="remove" data-item-id="{{.ID}}">Remove</button>
      </div>
    </div>
    {{- if .CheckoutURL}}
    <div class="cart-item-checkout">
      <a class="btn-buy-now" href="{{.CheckoutURL}}" target="_blank" rel="noopener">Checkout</a>
    </div>
    {{- end}}
  </div>
{{- end}}
{{- end}}
</div>
<div class="cart-summary">
{{- if .Items}}
  <div class="cart-summary-content">
    <div class="cart-summary-row">
      <span>Total ({{.ItemCount}} {{.ItemWord}}):</span>
      <span class="cart-total">{{.Total}}</span>
    </div>
    <div class="cart-summary-actions">
      <button class="btn-clear-cart" data-cart-action="clear">Clear Cart</button>
      <p class="cart-note">Each item has its own checkout process</p>
    </div>
  </div>
{{- end}}
</div>{{end}}
`))

// Images builds CDN URLs for Sanity image asset references.
type Images struct {
	ProjectID string
	Dataset   string
}

// URL turns a reference like "image-<id>-<w>x<h>-<ext>" into a square
// thumbnail URL. Empty or malformed references yield the placeholder.
func (im Images) URL(ref string, size int) string {
	if ref == "" || im.ProjectID == "" {
		return PlaceholderImage
	}
	parts := strings.Split(ref, "-")
	if len(parts) < 4 || parts[0] != "image" {
		return PlaceholderImage
	}
	ext := parts[len(parts)-1]
	dims := parts[len(parts)-2]
	id := strings.Join(parts[1:len(parts)-2], "-")
	return fmt.Sprintf("https://cdn.sanity.io/images/%s/%s/%s-%s.%s?w=%d&h=%d&fit=crop&auto=format",
		im.ProjectID, im.Dataset, id, dims, ext, size, size)
}

type Renderer struct {
	images Images
}

func New(images Images) *Renderer {
	return &Renderer{images: images}
}

type itemView struct {
	ID          string
	Title       string
	ImageURL    string
	Subtotal    string
	Quantity    int
	Decrement   int
	Increment   int
	CheckoutURL template.URL
}

type drawerView struct {
	Items     []itemView
	ItemCount int
	ItemWord  string
	Total     string
}

// Drawer renders the item list and summary of the cart drawer.
func (r *Renderer) Drawer(snap domain.Snapshot) (template.HTML, error) {
	view := drawerView{
		Items:     make([]itemView, 0, len(snap.Items)),
		ItemCount: snap.ItemCount,
		ItemWord:  "items",
		Total:     cart.FormatTotal(snap.Items, snap.Total),
	}
	if snap.ItemCount == 1 {
		view.ItemWord = "item"
	}
	for _, it := range snap.Items {
		view.Items = append(view.Items, itemView{
			ID:          it.ID,
			Title:       it.Title,
			ImageURL:    r.images.URL(it.ImageRef(), thumbSize),
			Subtotal:    cart.FormatMinor(it.Subtotal(), it.Currency),
			Quantity:    it.Quantity,
			Decrement:   it.Quantity - 1,
			Increment:   it.Quantity + 1,
			CheckoutURL: checkoutURL(it.StripePaymentLink),
		})
	}
	return execute("drawer", view)
}

// Counter renders the header badge; it is hidden for an empty cart.
func (r *Renderer) Counter(itemCount int) (template.HTML, error) {
	return execute("counter", struct{ Count int }{itemCount})
}

// checkoutURL only lets https links through as trusted URLs.
func checkoutURL(link string) template.URL {
	if !strings.HasPrefix(link, "https://") {
		return ""
	}
	return template.URL(link)
}

func execute(name string, data any) (template.HTML, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return template.HTML(buf.String()), nil
}
