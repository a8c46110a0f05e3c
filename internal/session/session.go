// Package session is the entry point for creating or joining a stream
// room. A Handle owns everything one session needs: room id, role, the
// negotiation machine and the transport engine.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BioHazard786/livestream/internal/errs"
	"github.com/BioHazard786/livestream/internal/negotiation"
	"github.com/BioHazard786/livestream/internal/room"
	"github.com/BioHazard786/livestream/internal/store"
)

const (
	leaveTimeout = 5 * time.Second
	errorBacklog = 8
)

// Deps are the collaborators a session needs.
type Deps struct {
	Store     store.Store
	Namespace string
	NewEngine EngineFactory
}

// Handle is one live session.
type Handle struct {
	roomID      string
	role        negotiation.Role
	participant string
	started     time.Time

	registry *room.Registry
	engine   Engine
	machine  *negotiation.Machine
	log      *slog.Logger

	tracks     Feed[RemoteTrack]
	candidates Feed[negotiation.Candidate]
	states     Feed[negotiation.State]
	conns      Feed[ConnectionState]
	errors     Feed[error]

	mu        sync.Mutex
	connState ConnectionState

	ready     chan struct{}
	readyOnce sync.Once
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Create opens a new room as the initiator.
func Create(ctx context.Context, deps Deps) (*Handle, error) {
	participant := room.NewParticipantID()
	reg := room.NewRegistry(deps.Store, deps.Namespace)

	eng, err := deps.NewEngine()
	if err != nil {
		return nil, errs.New("create engine", err)
	}
	id, err := reg.CreateRoom(ctx, participant)
	if err != nil {
		eng.Close()
		return nil, err
	}
	return start(deps, reg, eng, id, participant, negotiation.Initiator)
}

// Join enters room roomID as the joiner. An empty or malformed id fails
// before anything is written to the store.
func Join(ctx context.Context, deps Deps, roomID string) (*Handle, error) {
	id, err := room.ParseID(roomID)
	if err != nil {
		return nil, err
	}
	participant := room.NewParticipantID()
	reg := room.NewRegistry(deps.Store, deps.Namespace)

	eng, err := deps.NewEngine()
	if err != nil {
		return nil, errs.New("create engine", err)
	}
	if err := reg.JoinRoom(ctx, id, participant); err != nil {
		eng.Close()
		return nil, err
	}
	return start(deps, reg, eng, id, participant, negotiation.Joiner)
}

func start(deps Deps, reg *room.Registry, eng Engine, id, participant string, role negotiation.Role) (*Handle, error) {
	h := &Handle{
		roomID:      id,
		role:        role,
		participant: participant,
		started:     time.Now(),
		registry:    reg,
		engine:      eng,
		connState:   ConnectionNew,
		ready:       make(chan struct{}),
		closed:      make(chan struct{}),
		log:         slog.Default().With("component", "session", "room", id, "role", role.String()),
	}
	// callers subscribe after Create or Join return
	h.states.Replay = 1
	h.errors.Replay = errorBacklog
	h.machine = negotiation.NewMachine(negotiation.Config{
		Role:          role,
		Store:         deps.Store,
		Paths:         reg.Paths(id),
		Engine:        eng,
		OnStateChange: h.onState,
		OnError:       h.errors.Publish,
	})

	// wired before Start: setting the local description starts gathering
	eng.OnLocalCandidate(func(c *negotiation.Candidate) {
		if c != nil {
			h.candidates.Publish(*c)
		} else {
			h.candidates.Publish(negotiation.Candidate{})
		}
		h.machine.ForwardLocalCandidate(c)
	})
	eng.OnRemoteTrack(func(t RemoteTrack) {
		h.log.Info("remote track", "kind", t.Kind, "codec", t.Codec)
		h.tracks.Publish(t)
	})
	eng.OnConnectionStateChange(func(s ConnectionState) {
		h.mu.Lock()
		h.connState = s
		h.mu.Unlock()
		h.log.Info("connection state", "state", string(s))
		h.conns.Publish(s)
	})

	if err := h.machine.Start(); err != nil {
		h.Close()
		return nil, err
	}
	if m, ok := deps.Store.(store.Monitor); ok {
		go h.watchStore(m)
	}
	h.log.Info("session started", "participant", participant)
	return h, nil
}

// watchStore reports a store connection that dies under a live session.
func (h *Handle) watchStore(m store.Monitor) {
	select {
	case <-m.Done():
	case <-h.closed:
		return
	}
	err := m.Err()
	if err == nil {
		return
	}
	h.log.Warn("store connection lost", "error", err)
	h.errors.Publish(errs.ForRoom("store connection", h.roomID, err))
}

func (h *Handle) onState(s negotiation.State) {
	if s == negotiation.RemoteDescriptionSet {
		h.readyOnce.Do(func() { close(h.ready) })
	}
	h.states.Publish(s)
}

func (h *Handle) RoomID() string           { return h.roomID }
func (h *Handle) Role() negotiation.Role   { return h.role }
func (h *Handle) ParticipantID() string    { return h.participant }
func (h *Handle) State() negotiation.State { return h.machine.State() }
func (h *Handle) Engine() Engine           { return h.engine }
func (h *Handle) Done() <-chan struct{}    { return h.closed }
func (h *Handle) Started() time.Time       { return h.started }
func (h *Handle) Stats() negotiation.Stats { return h.machine.Stats() }

func (h *Handle) ConnectionState() ConnectionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connState
}

// OnRemoteTrack subscribes to incoming media tracks.
func (h *Handle) OnRemoteTrack(fn func(RemoteTrack)) (cancel func()) {
	return h.tracks.Subscribe(fn)
}

// OnLocalCandidate reports every locally gathered candidate; the end of
// gathering shows up as an empty candidate.
func (h *Handle) OnLocalCandidate(fn func(negotiation.Candidate)) (cancel func()) {
	return h.candidates.Subscribe(fn)
}

// OnStateChanged reports negotiation states, starting with the last one
// reached before the call.
func (h *Handle) OnStateChanged(fn func(negotiation.State)) (cancel func()) {
	return h.states.Subscribe(fn)
}

func (h *Handle) OnConnectionStateChanged(fn func(ConnectionState)) (cancel func()) {
	return h.conns.Subscribe(fn)
}

// OnError reports store and engine failures. None of them end the session.
// Failures from before the call are delivered first.
func (h *Handle) OnError(fn func(error)) (cancel func()) {
	return h.errors.Subscribe(fn)
}

// WaitReady blocks until the remote description is set. There is no
// built-in timeout: when ctx ends first the negotiation counts as stalled
// and the caller decides whether to Close.
func (h *Handle) WaitReady(ctx context.Context) error {
	select {
	case <-h.ready:
		return nil
	case <-h.closed:
		return errs.ForRoom("wait for peer", h.roomID, errs.ErrSessionClosed)
	case <-ctx.Done():
		return errs.ForRoom("wait for peer", h.roomID, errs.ErrNegotiationStalled)
	}
}

// Close stops watching the room, leaves it and shuts the engine down. It
// may be called at any point and more than once.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		// unsubscribe before the participant record goes away
		h.machine.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		defer cancel()
		if err := h.registry.Leave(ctx, h.roomID, h.participant); err != nil {
			h.closeErr = err
		}
		if err := h.engine.Close(); err != nil {
			h.log.Debug("engine close", "error", err)
		}

		h.tracks.Close()
		h.candidates.Close()
		h.states.Close()
		h.conns.Close()
		h.errors.Close()
		close(h.closed)
		h.log.Info("session closed")
	})
	return h.closeErr
}
