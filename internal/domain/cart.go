package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// Availability is the sale state of an artwork.
type Availability string

const (
	Available Availability = "Available"
	SoldOut   Availability = "SoldOut"
)

// DefaultCurrency is used when a cart has no items to take a currency from.
const DefaultCurrency = "USD"

// AssetRef points at an uploaded image asset in the content store.
type AssetRef struct {
	Ref  string `json:"_ref"`
	Type string `json:"_type,omitempty"`
}

type Image struct {
	Type  string   `json:"_type,omitempty"`
	Asset AssetRef `json:"asset"`
}

// Slug accepts both the CMS object form {"current": "..."} and a bare string.
type Slug struct {
	Current string `json:"current"`
	Type    string `json:"_type,omitempty"`
}

func (s *Slug) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = Slug{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var current string
		if err := json.Unmarshal(data, &current); err != nil {
			return err
		}
		*s = Slug{Current: current}
		return nil
	}
	type plain Slug
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = Slug(p)
	return nil
}

// Artwork is a purchasable catalog entry as supplied by the catalog provider.
type Artwork struct {
	ID                string       `json:"_id"`
	Title             string       `json:"title"`
	Price             int64        `json:"price"`
	Currency          string       `json:"currency"`
	Availability      Availability `json:"availability"`
	StripePaymentLink string       `json:"stripePaymentLink"`
	HeroImage         *Image       `json:"heroImage,omitempty"`
	Slug              Slug         `json:"slug"`
}

func (a Artwork) IsSoldOut() bool {
	return a.Availability == SoldOut
}

// LineItem is one entry of the cart. Its JSON shape is the persisted slot layout.
type LineItem struct {
	ID                string       `json:"_id"`
	Title             string       `json:"title"`
	Price             int64        `json:"price"`
	Currency          string       `json:"currency"`
	Availability      Availability `json:"availability"`
	StripePaymentLink string       `json:"stripePaymentLink"`
	HeroImage         *Image       `json:"heroImage,omitempty"`
	Slug              Slug         `json:"slug"`
	Quantity          int          `json:"quantity"`
	AddedAt           time.Time    `json:"addedAt"`
}

// NewLineItem turns an artwork into a fresh line item with quantity 1.
func NewLineItem(a Artwork, now time.Time) LineItem {
	var img *Image
	if a.HeroImage != nil {
		cp := *a.HeroImage
		img = &cp
	}
	return LineItem{
		ID:                a.ID,
		Title:             a.Title,
		Price:             a.Price,
		Currency:          a.Currency,
		Availability:      a.Availability,
		StripePaymentLink: a.StripePaymentLink,
		HeroImage:         img,
		Slug:              a.Slug,
		Quantity:          1,
		AddedAt:           now.UTC(),
	}
}

// Subtotal is price times quantity in minor units.
func (i LineItem) Subtotal() int64 {
	return i.Price * int64(i.Quantity)
}

// ImageRef returns the hero image asset reference, or "" when there is none.
func (i LineItem) ImageRef() string {
	if i.HeroImage == nil {
		return ""
	}
	return i.HeroImage.Asset.Ref
}

// Snapshot is the payload of a cart change broadcast.
type Snapshot struct {
	Items     []LineItem `json:"items"`
	ItemCount int        `json:"itemCount"`
	Total     int64      `json:"total"`
}

// Currencies lists the distinct currency codes of the items in item order.
func (s Snapshot) Currencies() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, it := range s.Items {
		if _, ok := seen[it.Currency]; ok {
			continue
		}
		seen[it.Currency] = struct{}{}
		out = append(out, it.Currency)
	}
	return out
}

// MixedCurrency reports whether Total sums amounts of different currencies.
func (s Snapshot) MixedCurrency() bool {
	return len(s.Currencies()) > 1
}
