package store

import "sync"

// Mailbox runs a listener on its own goroutine, in the order snapshots
// were posted. Listeners may call back into the store that feeds them.
type Mailbox struct {
	fn Listener

	mu      sync.Mutex
	queue   []Snapshot
	wake    chan struct{}
	done    chan struct{}
	stopped bool
}

func NewMailbox(fn Listener) *Mailbox {
	m := &Mailbox{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go m.run()
	return m
}

// Post queues snapshot for delivery. Posting to a stopped mailbox is a no-op.
func (m *Mailbox) Post(snap Snapshot) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, snap)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Mailbox) run() {
	for {
		select {
		case <-m.done:
			return
		case <-m.wake:
		}
		for {
			m.mu.Lock()
			if m.stopped || len(m.queue) == 0 {
				m.mu.Unlock()
				break
			}
			snap := m.queue[0]
			m.queue = m.queue[1:]
			m.mu.Unlock()

			m.fn(snap)
		}
	}
}

// Stop drops pending snapshots. A delivery already in progress finishes.
func (m *Mailbox) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	m.queue = nil
	close(m.done)
}
