package session

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/livestream/internal/errs"
	"github.com/BioHazard786/livestream/internal/negotiation"
	"github.com/BioHazard786/livestream/internal/room"
	"github.com/BioHazard786/livestream/internal/store"
	"github.com/BioHazard786/livestream/internal/store/memstore"
)

const ns = "livestream"

type fakeEngine struct {
	name string

	mu          sync.Mutex
	remote      *negotiation.Description
	setRemote   int
	applied     []string
	closeCalls  int
	onCandidate func(*negotiation.Candidate)
	onTrack     func(RemoteTrack)
	onConn      func(ConnectionState)
}

func (e *fakeEngine) CreateOffer() (negotiation.Description, error) {
	return negotiation.Description{Type: "offer", SDP: "sdp-" + e.name}, nil
}

func (e *fakeEngine) CreateAnswer() (negotiation.Description, error) {
	return negotiation.Description{Type: "answer", SDP: "sdp-" + e.name}, nil
}

func (e *fakeEngine) SetLocalDescription(negotiation.Description) error { return nil }

func (e *fakeEngine) SetRemoteDescription(d negotiation.Description) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setRemote++
	e.remote = &d
	return nil
}

func (e *fakeEngine) AddRemoteCandidate(c negotiation.Candidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remote == nil {
		return errors.New("no remote description")
	}
	e.applied = append(e.applied, c.Candidate)
	return nil
}

func (e *fakeEngine) HasRemoteDescription() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remote != nil
}

func (e *fakeEngine) OnLocalCandidate(fn func(*negotiation.Candidate)) { e.onCandidate = fn }
func (e *fakeEngine) OnRemoteTrack(fn func(RemoteTrack))               { e.onTrack = fn }
func (e *fakeEngine) OnConnectionStateChange(fn func(ConnectionState)) { e.onConn = fn }

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeCalls++
	return nil
}

func (e *fakeEngine) emit(candidate string) {
	e.onCandidate(&negotiation.Candidate{Candidate: candidate})
}

func (e *fakeEngine) state() (int, []string, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setRemote, append([]string(nil), e.applied...), e.closeCalls
}

// recordingStore logs the path of every write in order.
type recordingStore struct {
	store.Store

	mu     sync.Mutex
	writes []string
}

func (r *recordingStore) record(op, path string) {
	r.mu.Lock()
	r.writes = append(r.writes, op+" "+path)
	r.mu.Unlock()
}

func (r *recordingStore) Set(ctx context.Context, path string, value any) error {
	r.record("set", path)
	return r.Store.Set(ctx, path, value)
}

func (r *recordingStore) Push(ctx context.Context, path string, value any) (string, error) {
	r.record("push", path)
	return r.Store.Push(ctx, path, value)
}

func (r *recordingStore) Writes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.writes...)
}

func depsFor(s store.Store, eng *fakeEngine) Deps {
	return Deps{
		Store:     s,
		Namespace: ns,
		NewEngine: func() (Engine, error) { return eng, nil },
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCreateAndJoinExchangeCandidates(t *testing.T) {
	ctx := context.Background()
	tree := memstore.NewTree()

	aliceStore := &recordingStore{Store: tree.Connect()}
	alice := &fakeEngine{name: "alice"}
	h1, err := Create(ctx, depsFor(aliceStore, alice))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { h1.Close() })

	if h1.Role() != negotiation.Initiator {
		t.Errorf("Role() = %s, want initiator", h1.Role())
	}
	paths := room.NewPaths(ns, h1.RoomID())
	writes := aliceStore.Writes()
	wantPrefix := []string{
		"set " + paths.Participant(h1.ParticipantID()),
		"set " + paths.Offer(),
	}
	if len(writes) < 2 || !reflect.DeepEqual(writes[:2], wantPrefix) {
		t.Fatalf("writes = %v, want presence before offer", writes)
	}

	bob := &fakeEngine{name: "bob"}
	h2, err := Join(ctx, depsFor(tree.Connect(), bob), h1.RoomID())
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	t.Cleanup(func() { h2.Close() })

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h1.WaitReady(waitCtx); err != nil {
		t.Fatalf("initiator WaitReady: %v", err)
	}
	if err := h2.WaitReady(waitCtx); err != nil {
		t.Fatalf("joiner WaitReady: %v", err)
	}

	alice.emit("c1")
	alice.emit("c2")

	waitFor(t, "candidates applied", func() bool {
		_, applied, _ := bob.state()
		return len(applied) == 2
	})
	// give any duplicate redelivery a chance to show up
	time.Sleep(50 * time.Millisecond)

	setRemote, applied, _ := bob.state()
	if setRemote != 1 {
		t.Errorf("joiner set remote description %d times, want 1", setRemote)
	}
	if want := []string{"c1", "c2"}; !reflect.DeepEqual(applied, want) {
		t.Errorf("joiner applied %v, want %v", applied, want)
	}
	if st := h1.Stats(); st.Sent != 2 {
		t.Errorf("initiator sent %d candidates, want 2", st.Sent)
	}
}

func TestJoinEmptyIDFailsWithoutSideEffects(t *testing.T) {
	tree := memstore.NewTree()
	called := false
	deps := Deps{
		Store:     tree.Connect(),
		Namespace: ns,
		NewEngine: func() (Engine, error) {
			called = true
			return &fakeEngine{}, nil
		},
	}

	_, err := Join(context.Background(), deps, "")
	if !errors.Is(err, errs.ErrInvalidRoomID) {
		t.Fatalf("Join(\"\") error = %v, want ErrInvalidRoomID", err)
	}
	if called {
		t.Error("engine created for an invalid room id")
	}
	if n := tree.Writes(); n != 0 {
		t.Errorf("store saw %d writes, want 0", n)
	}
}

func TestCloseIsIdempotentBeforeNegotiation(t *testing.T) {
	tree := memstore.NewTree()
	eng := &fakeEngine{name: "alice"}
	h, err := Create(context.Background(), depsFor(tree.Connect(), eng))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if h.State() != negotiation.Terminated {
		t.Errorf("State() = %s, want terminated", h.State())
	}
	if _, _, closes := eng.state(); closes != 1 {
		t.Errorf("engine closed %d times, want 1", closes)
	}
	if snap := tree.Snapshot(room.NewPaths(ns, h.RoomID()).Root()); snap.Exists() {
		t.Error("room still present after the only participant left")
	}

	select {
	case <-h.Done():
	default:
		t.Error("Done() not closed")
	}
	err = h.WaitReady(context.Background())
	if !errors.Is(err, errs.ErrSessionClosed) {
		t.Errorf("WaitReady after Close = %v, want ErrSessionClosed", err)
	}
}

func TestWaitReadyReportsStall(t *testing.T) {
	tree := memstore.NewTree()
	h, err := Create(context.Background(), depsFor(tree.Connect(), &fakeEngine{name: "alice"}))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := h.WaitReady(ctx); !errors.Is(err, errs.ErrNegotiationStalled) {
		t.Fatalf("WaitReady = %v, want ErrNegotiationStalled", err)
	}
	if h.State() != negotiation.LocalDescriptionSet {
		t.Errorf("State() = %s, want local-description-set", h.State())
	}
}

func TestEngineEventsReachSubscribers(t *testing.T) {
	tree := memstore.NewTree()
	eng := &fakeEngine{name: "alice"}
	h, err := Create(context.Background(), depsFor(tree.Connect(), eng))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer h.Close()

	var (
		mu     sync.Mutex
		tracks []string
		conns  []ConnectionState
	)
	h.OnRemoteTrack(func(tr RemoteTrack) {
		mu.Lock()
		tracks = append(tracks, tr.Kind)
		mu.Unlock()
	})
	cancel := h.OnConnectionStateChanged(func(s ConnectionState) {
		mu.Lock()
		conns = append(conns, s)
		mu.Unlock()
	})

	eng.onTrack(RemoteTrack{ID: "v0", Kind: "video", Codec: "video/VP8"})
	eng.onConn(ConnectionConnecting)
	cancel()
	eng.onConn(ConnectionConnected)

	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(tracks, []string{"video"}) {
		t.Errorf("tracks = %v", tracks)
	}
	if !reflect.DeepEqual(conns, []ConnectionState{ConnectionConnecting}) {
		t.Errorf("connection states = %v, want only the one before cancel", conns)
	}
	if h.ConnectionState() != ConnectionConnected {
		t.Errorf("ConnectionState() = %s, want connected", h.ConnectionState())
	}
}

// offerFails rejects writes to the offer slot only.
type offerFails struct{ store.Store }

func (s offerFails) Set(ctx context.Context, path string, value any) error {
	if strings.HasSuffix(path, "/offer") {
		return errs.ErrStoreUnavailable
	}
	return s.Store.Set(ctx, path, value)
}

func TestCreateFailsWhenOfferWriteFails(t *testing.T) {
	tree := memstore.NewTree()
	eng := &fakeEngine{name: "alice"}

	h, err := Create(context.Background(), depsFor(offerFails{tree.Connect()}, eng))
	if !errors.Is(err, errs.ErrStoreUnavailable) {
		t.Fatalf("Create error = %v, want ErrStoreUnavailable", err)
	}
	if h != nil {
		t.Fatal("Create returned a handle alongside an error")
	}
	if _, _, closes := eng.state(); closes != 1 {
		t.Errorf("engine closed %d times, want 1", closes)
	}
	if snap := tree.Snapshot(ns + "/rooms"); snap.Exists() {
		t.Errorf("room left behind: %+v", snap)
	}
}

func TestLateSubscriberSeesEarlierState(t *testing.T) {
	tree := memstore.NewTree()
	h, err := Create(context.Background(), depsFor(tree.Connect(), &fakeEngine{name: "alice"}))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer h.Close()

	var (
		mu     sync.Mutex
		states []negotiation.State
	)
	h.OnStateChanged(func(s negotiation.State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	waitFor(t, "offer state replayed", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) > 0 && states[0] == negotiation.LocalDescriptionSet
	})
}

// droppingStore is a store whose connection can be cut from the test.
type droppingStore struct {
	store.Store
	done chan struct{}
	err  error
}

func (d *droppingStore) Done() <-chan struct{} { return d.done }
func (d *droppingStore) Err() error            { return d.err }

func (d *droppingStore) drop(err error) {
	d.err = err
	close(d.done)
}

func TestStoreLossReachesOnError(t *testing.T) {
	tree := memstore.NewTree()
	s := &droppingStore{Store: tree.Connect(), done: make(chan struct{})}
	h, err := Create(context.Background(), depsFor(s, &fakeEngine{name: "alice"}))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer h.Close()

	s.drop(store.ErrClosed)

	var (
		mu   sync.Mutex
		seen []error
	)
	h.OnError(func(err error) {
		mu.Lock()
		seen = append(seen, err)
		mu.Unlock()
	})
	waitFor(t, "store loss reported", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1 && errors.Is(seen[0], errs.ErrStoreUnavailable)
	})

	var opErr *errs.OpError
	mu.Lock()
	defer mu.Unlock()
	if !errors.As(seen[0], &opErr) || opErr.Room != h.RoomID() {
		t.Errorf("error = %v, want one naming room %s", seen[0], h.RoomID())
	}
}
