package memstore

import (
	"context"
	"sync"

	"github.com/BioHazard786/livestream/internal/store"
)

// Conn is a single client of a Tree. Closing it behaves like a dropped
// network connection: registered remove-on-disconnect paths are removed
// and its subscriptions end.
type Conn struct {
	tree *Tree

	mu           sync.Mutex
	subs         map[uint64]*subscription
	onDisconnect []string
	closed       bool
}

var _ store.Store = (*Conn)(nil)

func (c *Conn) check(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return store.ErrClosed
	}
	return store.Validate(path)
}

func (c *Conn) Set(ctx context.Context, path string, value any) error {
	if err := c.check(ctx, path); err != nil {
		return err
	}
	if value == nil {
		c.tree.remove(path)
		return nil
	}
	b, err := store.Encode(value)
	if err != nil {
		return err
	}
	c.tree.set(path, b)
	return nil
}

func (c *Conn) Push(ctx context.Context, path string, value any) (string, error) {
	if err := c.check(ctx, path); err != nil {
		return "", err
	}
	b, err := store.Encode(value)
	if err != nil {
		return "", err
	}
	key := c.tree.keys.Next()
	c.tree.set(store.Join(path, key), b)
	return key, nil
}

func (c *Conn) Get(ctx context.Context, path string) (store.Snapshot, error) {
	if err := c.check(ctx, path); err != nil {
		return store.Snapshot{}, err
	}
	return c.tree.Snapshot(path), nil
}

func (c *Conn) Remove(ctx context.Context, path string) error {
	if err := c.check(ctx, path); err != nil {
		return err
	}
	c.tree.remove(path)
	return nil
}

func (c *Conn) Subscribe(ctx context.Context, path string, fn store.Listener) (store.Subscription, error) {
	if err := c.check(ctx, path); err != nil {
		return nil, err
	}
	s := c.tree.subscribe(path, fn)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.tree.unsubscribe(s)
		return nil, store.ErrClosed
	}
	c.subs[s.id] = s
	c.mu.Unlock()

	return store.SubscriptionFunc(func() {
		c.mu.Lock()
		delete(c.subs, s.id)
		c.mu.Unlock()
		c.tree.unsubscribe(s)
	}), nil
}

func (c *Conn) OnDisconnectRemove(ctx context.Context, path string) error {
	if err := c.check(ctx, path); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.onDisconnect {
		if p == path {
			return nil
		}
	}
	c.onDisconnect = append(c.onDisconnect, path)
	c.tree.writes.Add(1)
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	paths := c.onDisconnect
	subs := c.subs
	c.onDisconnect, c.subs = nil, nil
	c.mu.Unlock()

	for _, s := range subs {
		c.tree.unsubscribe(s)
	}
	for _, p := range paths {
		c.tree.log.Debug("removing on disconnect", "path", p)
		c.tree.remove(p)
	}
	return nil
}
