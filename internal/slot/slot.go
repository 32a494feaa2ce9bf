// Package slot persists the serialized cart under a named key and carries
// change notifications between execution contexts sharing that key.
package slot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JoJoGatito/koji-gallery/internal/domain"
)

// Name is the slot name the cart is stored under.
const Name = "cart"

var ErrClosed = errors.New("slot closed")

// Slot is one execution context's handle on a persisted value. Handles opened
// over the same key share the value; each handle has its own Origin.
type Slot interface {
	Key() string
	Origin() string
	// Load returns nil, nil when nothing has been stored yet.
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, value []byte) error
}

// Change reports that the value under Key was overwritten by Origin.
type Change struct {
	Key    string `json:"key"`
	Origin string `json:"origin"`
	Value  []byte `json:"value"`
}

// Watcher delivers changes of one key until ctx is done, then closes the channel.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Change, error)
}

// Publisher sends a change to the other execution contexts.
type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

// Offer puts c into ch, a channel with a buffer of one, replacing a change
// the consumer has not taken yet. Every change carries the whole value, so a
// lagging watcher skips intermediate states but always ends on the latest.
// Callers must serialize Offer calls on the same channel.
func Offer(ch chan Change, c Change) {
	select {
	case <-ch:
	default:
	}
	ch <- c
}

// Key builds the storage key for a session's cart slot.
func Key(session string) string {
	if session == "" {
		return Name
	}
	return fmt.Sprintf("%s:%s", Name, session)
}

// Encode serializes the full line-item list. A nil list encodes as [].
func Encode(items []domain.LineItem) ([]byte, error) {
	if items == nil {
		items = []domain.LineItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal cart failed: %w", err)
	}
	return data, nil
}

// Decode parses a persisted value. Absent content decodes to an empty list
// without error; unparsable content also yields an empty list, along with the
// parse error so callers can log it.
func Decode(data []byte) ([]domain.LineItem, error) {
	if len(data) == 0 {
		return []domain.LineItem{}, nil
	}
	var items []domain.LineItem
	if err := json.Unmarshal(data, &items); err != nil {
		return []domain.LineItem{}, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	if items == nil {
		items = []domain.LineItem{}
	}
	return items, nil
}
