// Package cartv1 defines the koji.cart.v1.CartService wire contract. Messages
// travel as JSON over gRPC (content subtype "json"), so the types here are
// plain structs rather than generated protobuf code.
package cartv1

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"

	"github.com/JoJoGatito/koji-gallery/internal/domain"
)

const (
	ServiceName = "koji.cart.v1.CartService"
	CodecName   = "json"
)

func init() {
	encoding.RegisterCodec(Codec{})
}

// Codec marshals messages as JSON.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json codec marshal: %w", err)
	}
	return data, nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json codec unmarshal: %w", err)
	}
	return nil
}

func (Codec) Name() string { return CodecName }

type GetCartRequest struct {
	SessionID string `json:"session_id"`
}

// AddItemRequest names the artwork by id. Artwork is only read when the
// server has no catalog to resolve the id with.
type AddItemRequest struct {
	SessionID string          `json:"session_id"`
	ArtworkID string          `json:"artwork_id"`
	Artwork   *domain.Artwork `json:"artwork,omitempty"`
}

type RemoveItemRequest struct {
	SessionID string `json:"session_id"`
	ItemID    string `json:"item_id"`
}

type SetQuantityRequest struct {
	SessionID string `json:"session_id"`
	ItemID    string `json:"item_id"`
	Quantity  int    `json:"quantity"`
}

type ClearCartRequest struct {
	SessionID string `json:"session_id"`
}

type WatchCartRequest struct {
	SessionID string `json:"session_id"`
}

type Cart struct {
	Items          []domain.LineItem `json:"items"`
	ItemCount      int               `json:"item_count"`
	Total          int64             `json:"total"`
	FormattedTotal string            `json:"formatted_total"`
}

type CartResponse struct {
	Cart Cart `json:"cart"`
	// Item is set by AddItem.
	Item *domain.LineItem `json:"item,omitempty"`
	// Removed is set by ClearCart.
	Removed int `json:"removed,omitempty"`
}
