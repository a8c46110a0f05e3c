package memstore

import (
	"github.com/BioHazard786/livestream/internal/store"
)

type subscription struct {
	id   uint64
	path string
	box  *store.Mailbox

	// guarded by Tree.mu
	last    store.Snapshot
	hasLast bool
}

func newSubscription(id uint64, path string, fn store.Listener) *subscription {
	return &subscription{id: id, path: path, box: store.NewMailbox(fn)}
}

func (s *subscription) enqueue(snap store.Snapshot) {
	s.box.Post(snap)
}

func (s *subscription) stop() {
	s.box.Stop()
}
