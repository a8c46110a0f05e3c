package session

import "sync"

// Feed fans events out to subscribers. Publish calls subscribers on the
// publishing goroutine, outside the feed lock.
//
// A feed with Replay > 0 keeps its last Replay values and hands them to
// each new subscriber ahead of anything published afterwards.
type Feed[T any] struct {
	Replay int

	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber[T]
	recent []T
	closed bool
}

type subscriber[T any] struct {
	fn func(T)

	// set while the backlog is handed over; Publish parks values in
	// pending instead of calling fn
	replaying bool
	pending   []T
}

// Subscribe registers fn and returns a func that removes it again.
func (f *Feed[T]) Subscribe(fn func(T)) (cancel func()) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return func() {}
	}
	if f.subs == nil {
		f.subs = make(map[int]*subscriber[T])
	}
	id := f.nextID
	f.nextID++
	sub := &subscriber[T]{fn: fn, replaying: len(f.recent) > 0}
	f.subs[id] = sub
	backlog := append([]T(nil), f.recent...)
	f.mu.Unlock()

	for len(backlog) > 0 {
		for _, v := range backlog {
			fn(v)
		}
		f.mu.Lock()
		backlog, sub.pending = sub.pending, nil
		if len(backlog) == 0 {
			sub.replaying = false
		}
		f.mu.Unlock()
	}

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	if f.Replay > 0 {
		f.recent = append(f.recent, v)
		if n := len(f.recent); n > f.Replay {
			f.recent = append(f.recent[:0], f.recent[n-f.Replay:]...)
		}
	}
	fns := make([]func(T), 0, len(f.subs))
	for _, sub := range f.subs {
		if sub.replaying {
			sub.pending = append(sub.pending, v)
			continue
		}
		fns = append(fns, sub.fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Close drops every subscriber; later publishes are ignored.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	f.closed = true
	f.subs = nil
	f.recent = nil
	f.mu.Unlock()
}
