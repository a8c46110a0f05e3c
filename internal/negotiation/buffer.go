package negotiation

import (
	"errors"
	"sync"
)

// ApplyFunc hands one candidate to the transport engine.
type ApplyFunc func(Candidate) error

type pending struct {
	key       string
	candidate Candidate
}

// Buffer holds remote candidates until a remote description is set, then
// releases them in arrival order. Candidates are identified by their log
// key, so replayed snapshots never queue or apply one twice.
type Buffer struct {
	mu      sync.Mutex
	queue   []pending
	seen    map[string]struct{}
	applied int
}

func NewBuffer() *Buffer {
	return &Buffer{seen: make(map[string]struct{})}
}

// Offer queues the candidate stored under key. It returns false when key
// was already queued or applied.
func (b *Buffer) Offer(key string, c Candidate) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.seen[key]; ok {
		return false
	}
	b.seen[key] = struct{}{}
	b.queue = append(b.queue, pending{key: key, candidate: c})
	return true
}

// MarkSeen records key without queueing anything, for log entries that
// could not be decoded.
func (b *Buffer) MarkSeen(key string) {
	b.mu.Lock()
	b.seen[key] = struct{}{}
	b.mu.Unlock()
}

// Seen reports whether key was ever offered.
func (b *Buffer) Seen(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.seen[key]
	return ok
}

// TryApply applies every queued candidate in order when ready reports a
// remote description. A candidate whose apply fails is still consumed.
func (b *Buffer) TryApply(ready func() bool, apply ApplyFunc) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !ready() {
		return 0, nil
	}
	var errList []error
	n := 0
	for len(b.queue) > 0 {
		p := b.queue[0]
		b.queue = b.queue[1:]
		if err := apply(p.candidate); err != nil {
			errList = append(errList, err)
			continue
		}
		n++
	}
	b.applied += n
	return n, errors.Join(errList...)
}

// DrainIfReady is TryApply with an already known readiness.
func (b *Buffer) DrainIfReady(hasRemoteDescription bool, apply ApplyFunc) (int, error) {
	return b.TryApply(func() bool { return hasRemoteDescription }, apply)
}

// Len is the number of candidates waiting.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Applied counts candidates handed to the engine successfully.
func (b *Buffer) Applied() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.applied
}
