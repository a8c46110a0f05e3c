// Package memstore is an in-process implementation of the signaling store.
// A Tree holds the data; every Conn is one client of it with its own
// subscriptions and remove-on-disconnect registrations.
package memstore

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/BioHazard786/livestream/internal/store"
)

type node struct {
	value    []byte
	children map[string]*node
}

func (n *node) empty() bool {
	return n.value == nil && len(n.children) == 0
}

func (n *node) snapshot(key string) store.Snapshot {
	snap := store.Snapshot{Key: key}
	if n == nil {
		return snap
	}
	if n.value != nil {
		snap.Value = append([]byte(nil), n.value...)
		return snap
	}
	if len(n.children) == 0 {
		return snap
	}
	keys := make([]string, 0, len(n.children))
	for k := range n.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	snap.Children = make([]store.Snapshot, 0, len(keys))
	for _, k := range keys {
		snap.Children = append(snap.Children, n.children[k].snapshot(k))
	}
	return snap
}

// Tree is the shared data all connections see.
type Tree struct {
	mu     sync.Mutex
	root   *node
	subs   map[uint64]*subscription
	nextID uint64
	keys   *store.PushKeys
	writes atomic.Int64
	log    *slog.Logger
}

func NewTree() *Tree {
	return &Tree{
		root: &node{},
		subs: make(map[uint64]*subscription),
		keys: store.NewPushKeys(),
		log:  slog.Default().With("component", "memstore"),
	}
}

// Connect opens a new client connection to the tree.
func (t *Tree) Connect() *Conn {
	return &Conn{tree: t, subs: make(map[uint64]*subscription)}
}

// Writes counts mutating operations accepted by the tree, including
// remove-on-disconnect registrations.
func (t *Tree) Writes() int64 {
	return t.writes.Load()
}

// Snapshot reads path without going through a connection.
func (t *Tree) Snapshot(path string) store.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lookup(path).snapshot(store.Base(path))
}

// lookup must be called with t.mu held.
func (t *Tree) lookup(path string) *node {
	n := t.root
	for _, seg := range store.Split(path) {
		if n.children == nil {
			return nil
		}
		n = n.children[seg]
		if n == nil {
			return nil
		}
	}
	return n
}

func (t *Tree) set(path string, value []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes.Add(1)

	segs := store.Split(path)
	n := t.root
	for _, seg := range segs[:len(segs)-1] {
		if n.value != nil {
			n.value = nil
		}
		if n.children == nil {
			n.children = make(map[string]*node)
		}
		child := n.children[seg]
		if child == nil {
			child = &node{}
			n.children[seg] = child
		}
		n = child
	}
	if n.value != nil {
		n.value = nil
	}
	if n.children == nil {
		n.children = make(map[string]*node)
	}
	n.children[segs[len(segs)-1]] = &node{value: value}
	t.notifyLocked(path)
}

func (t *Tree) remove(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes.Add(1)

	segs := store.Split(path)
	// walk down remembering the chain so emptied parents can be pruned
	chain := []*node{t.root}
	n := t.root
	for _, seg := range segs {
		if n.children == nil || n.children[seg] == nil {
			return
		}
		n = n.children[seg]
		chain = append(chain, n)
	}
	for i := len(segs) - 1; i >= 0; i-- {
		parent := chain[i]
		if i == len(segs)-1 || chain[i+1].empty() {
			delete(parent.children, segs[i])
		}
		if !parent.empty() {
			break
		}
	}
	t.notifyLocked(path)
}

// notifyLocked queues a fresh snapshot for every subscription whose data
// may have changed. Identical snapshots are not redelivered.
func (t *Tree) notifyLocked(path string) {
	for _, s := range t.subs {
		if !store.Related(s.path, path) {
			continue
		}
		snap := t.lookup(s.path).snapshot(store.Base(s.path))
		if s.hasLast && s.last.Equal(snap) {
			continue
		}
		s.last, s.hasLast = snap, true
		s.enqueue(snap)
	}
}

func (t *Tree) subscribe(path string, fn store.Listener) *subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	s := newSubscription(t.nextID, path, fn)
	t.subs[s.id] = s
	snap := t.lookup(path).snapshot(store.Base(path))
	s.last, s.hasLast = snap, true
	s.enqueue(snap)
	return s
}

func (t *Tree) unsubscribe(s *subscription) {
	t.mu.Lock()
	delete(t.subs, s.id)
	t.mu.Unlock()
	s.stop()
}
