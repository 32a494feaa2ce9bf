package slot

import (
	"context"
	"fmt"
)

// Notifying announces every successful Save of the wrapped slot through pub.
// A failed announcement does not fail the Save: the value is already stored
// and the writer's own state matches it; only other contexts miss the update.
type Notifying struct {
	Slot
	pub     Publisher
	onError func(error)
}

func WithPublisher(s Slot, pub Publisher, onError func(error)) *Notifying {
	if onError == nil {
		onError = func(error) {}
	}
	return &Notifying{Slot: s, pub: pub, onError: onError}
}

func (n *Notifying) Save(ctx context.Context, value []byte) error {
	if err := n.Slot.Save(ctx, value); err != nil {
		return err
	}
	change := Change{Key: n.Key(), Origin: n.Origin(), Value: value}
	if err := n.pub.Publish(ctx, change); err != nil {
		n.onError(fmt.Errorf("publish change failed: %w", err))
	}
	return nil
}
