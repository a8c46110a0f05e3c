package negotiation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/BioHazard786/livestream/internal/errs"
	"github.com/BioHazard786/livestream/internal/room"
	"github.com/BioHazard786/livestream/internal/store"
)

// Config wires a Machine to its room and engine.
type Config struct {
	Role   Role
	Store  store.Store
	Paths  room.Paths
	Engine Engine

	// OnStateChange and OnError are called outside the machine lock, in
	// the order the events happened.
	OnStateChange func(State)
	OnError       func(error)
}

// Stats counts candidate traffic for one machine.
type Stats struct {
	Sent     int
	Received int
	Applied  int
	Pending  int
}

// Machine runs one side of the negotiation. Store and engine callbacks may
// arrive on any goroutine; a single mutex serializes them and every
// handler is a no-op once the machine is terminated.
type Machine struct {
	cfg    Config
	buffer *Buffer
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state State
	subs  []store.Subscription

	// sendMu keeps local candidates in emission order.
	sendMu   sync.Mutex
	sent     atomic.Int64
	received atomic.Int64

	// events are dispatched in order by whoever holds dispatchMu.
	eventsMu   sync.Mutex
	events     []func()
	dispatchMu sync.Mutex
}

func NewMachine(cfg Config) *Machine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{
		cfg:    cfg,
		buffer: NewBuffer(),
		log: slog.Default().With("component", "negotiation",
			"role", cfg.Role.String(), "room", cfg.Paths.Room),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Stats() Stats {
	return Stats{
		Sent:     int(m.sent.Load()),
		Received: int(m.received.Load()),
		Applied:  m.buffer.Applied(),
		Pending:  m.buffer.Len(),
	}
}

// Start publishes the offer (initiator) and opens the description and
// candidate subscriptions. A failed offer write is returned since no peer
// could ever answer; later store failures go to OnError and leave the
// machine running.
func (m *Machine) Start() error {
	defer m.dispatch()

	m.mu.Lock()
	if m.state != Idle {
		m.mu.Unlock()
		return fmt.Errorf("start %s: machine is %s", m.cfg.Role, m.state)
	}
	if m.cfg.Role == Initiator {
		if err := m.publishOfferLocked(); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	m.mu.Unlock()

	// the two subscriptions are independent; neither waits for the other
	m.watch("watch remote description", m.cfg.Role.remoteSlot(m.cfg.Paths), m.handleDescription)
	m.watch("watch remote candidates", m.cfg.Role.remoteLog(m.cfg.Paths), m.handleCandidates)
	return nil
}

func (m *Machine) publishOfferLocked() error {
	offer, err := m.cfg.Engine.CreateOffer()
	if err != nil {
		return errs.ForRoom("create offer", m.cfg.Paths.Room, err)
	}
	if err := m.cfg.Engine.SetLocalDescription(offer); err != nil {
		return errs.ForRoom("set local description", m.cfg.Paths.Room, err)
	}
	if err := m.cfg.Store.Set(m.ctx, m.cfg.Paths.Offer(), offer); err != nil {
		return errs.ForRoom("publish offer", m.cfg.Paths.Room, err)
	}
	m.setStateLocked(LocalDescriptionSet)
	return nil
}

func (m *Machine) watch(op, path string, fn store.Listener) {
	sub, err := m.cfg.Store.Subscribe(m.ctx, path, fn)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.reportLocked(op, err)
		return
	}
	if m.state == Terminated {
		// Stop ran while we were subscribing
		sub.Unsubscribe()
		return
	}
	m.subs = append(m.subs, sub)
}

func (m *Machine) handleDescription(snap store.Snapshot) {
	defer m.dispatch()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Terminated || !snap.Exists() {
		return
	}
	var desc Description
	if err := snap.Decode(&desc); err != nil {
		m.reportLocked("decode remote description", err)
		return
	}
	if desc.Type != m.cfg.Role.RemoteType() {
		m.reportLocked("read remote description", fmt.Errorf("%w: got %q, want %q",
			errs.ErrUnexpectedDescription, desc.Type, m.cfg.Role.RemoteType()))
		return
	}
	if m.cfg.Engine.HasRemoteDescription() {
		m.log.Debug("ignoring replayed description", "type", desc.Type)
		return
	}
	if err := m.cfg.Engine.SetRemoteDescription(desc); err != nil {
		m.reportLocked("set remote description", err)
		return
	}
	m.log.Info("remote description applied", "type", desc.Type)

	if m.cfg.Role == Joiner {
		m.answerLocked()
	}
	m.setStateLocked(RemoteDescriptionSet)
	m.drainLocked()
}

func (m *Machine) answerLocked() {
	answer, err := m.cfg.Engine.CreateAnswer()
	if err != nil {
		m.reportLocked("create answer", err)
		return
	}
	if err := m.cfg.Engine.SetLocalDescription(answer); err != nil {
		m.reportLocked("set local description", err)
		return
	}
	if err := m.cfg.Store.Set(m.ctx, m.cfg.Paths.Answer(), answer); err != nil {
		m.reportLocked("publish answer", err)
	}
}

func (m *Machine) handleCandidates(snap store.Snapshot) {
	defer m.dispatch()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Terminated {
		return
	}
	for _, child := range snap.Children {
		if m.buffer.Seen(child.Key) {
			continue
		}
		var c Candidate
		if err := child.Decode(&c); err != nil {
			// remember the key so a bad entry is reported once
			m.buffer.MarkSeen(child.Key)
			m.reportLocked("decode remote candidate", err)
			continue
		}
		m.buffer.Offer(child.Key, c)
		m.received.Add(1)
	}
	m.drainLocked()
}

func (m *Machine) drainLocked() {
	n, err := m.buffer.DrainIfReady(m.cfg.Engine.HasRemoteDescription(), m.cfg.Engine.AddRemoteCandidate)
	if n > 0 {
		m.log.Debug("applied remote candidates", "count", n)
	}
	if err != nil {
		m.reportLocked("add remote candidate", err)
	}
}

// ForwardLocalCandidate appends a locally gathered candidate to this
// role's log right away. nil is the end-of-candidates marker and is
// forwarded as an empty candidate.
func (m *Machine) ForwardLocalCandidate(c *Candidate) {
	defer m.dispatch()
	if m.State() == Terminated {
		return
	}
	out := Candidate{}
	if c != nil {
		out = *c
	}

	m.sendMu.Lock()
	_, err := m.cfg.Store.Push(m.ctx, m.cfg.Role.localLog(m.cfg.Paths), out)
	m.sendMu.Unlock()

	if err != nil {
		m.mu.Lock()
		if m.state != Terminated {
			m.reportLocked("publish local candidate", err)
		}
		m.mu.Unlock()
		return
	}
	m.sent.Add(1)
}

// Stop unsubscribes every watch and moves to Terminated. Late callbacks
// become no-ops. Calling Stop again does nothing.
func (m *Machine) Stop() {
	m.cancel()
	defer m.dispatch()

	m.mu.Lock()
	if m.state == Terminated {
		m.mu.Unlock()
		return
	}
	subs := m.subs
	m.subs = nil
	m.setStateLocked(Terminated)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

func (m *Machine) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.log.Debug("state change", "from", m.state.String(), "to", s.String())
	m.state = s
	if fn := m.cfg.OnStateChange; fn != nil {
		m.queue(func() { fn(s) })
	}
}

func (m *Machine) reportLocked(op string, err error) {
	err = errs.ForRoom(op, m.cfg.Paths.Room, err)
	m.log.Warn("negotiation error", "error", err)
	if fn := m.cfg.OnError; fn != nil {
		m.queue(func() { fn(err) })
	}
}

func (m *Machine) queue(fn func()) {
	m.eventsMu.Lock()
	m.events = append(m.events, fn)
	m.eventsMu.Unlock()
}

// dispatch runs queued callbacks once the caller released the machine
// lock, so callbacks may call back into the machine.
func (m *Machine) dispatch() {
	for {
		if !m.dispatchMu.TryLock() {
			// the goroutine holding it re-checks the queue before leaving
			return
		}
		for {
			m.eventsMu.Lock()
			events := m.events
			m.events = nil
			m.eventsMu.Unlock()
			if len(events) == 0 {
				break
			}
			for _, fn := range events {
				fn()
			}
		}
		m.dispatchMu.Unlock()

		m.eventsMu.Lock()
		more := len(m.events) > 0
		m.eventsMu.Unlock()
		if !more {
			return
		}
	}
}
