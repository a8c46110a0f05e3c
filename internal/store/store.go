// Package store defines the shared key-value broadcast store the signaling
// coordinator talks through. Paths are slash separated; values are opaque
// JSON leaves and structure comes only from paths.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BioHazard786/livestream/internal/errs"
)

// ErrClosed is returned by every operation on a closed connection.
var ErrClosed = fmt.Errorf("%w: connection closed", errs.ErrStoreUnavailable)

// Store is one client connection to the signaling store.
type Store interface {
	// Set writes value at path, replacing whatever subtree was there.
	// A nil value removes the path.
	Set(ctx context.Context, path string, value any) error
	// Push appends value under path with a fresh, lexicographically
	// ordered key and returns the key.
	Push(ctx context.Context, path string, value any) (string, error)
	Get(ctx context.Context, path string) (Snapshot, error)
	// Remove deletes path and everything below it. Removing a missing
	// path is not an error.
	Remove(ctx context.Context, path string) error
	// Subscribe delivers the current value at path, then a new snapshot
	// every time the subtree changes. Deliveries for one subscription are
	// ordered and never concurrent with each other.
	Subscribe(ctx context.Context, path string, fn Listener) (Subscription, error)
	// OnDisconnectRemove asks the store to remove path once this
	// connection goes away without saying goodbye.
	OnDisconnectRemove(ctx context.Context, path string) error
	Close() error
}

// Monitor is implemented by stores whose connection can drop for good.
// Done closes when the connection ends; Err is nil after a plain Close
// and says what broke otherwise.
type Monitor interface {
	Done() <-chan struct{}
	Err() error
}

type Listener func(Snapshot)

type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a plain function to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() { f() }

// Encode turns a caller value into the JSON leaf stored at a path.
func Encode(value any) ([]byte, error) {
	if raw, ok := value.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, fmt.Errorf("encode value: invalid raw json")
		}
		return raw, nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return b, nil
}
