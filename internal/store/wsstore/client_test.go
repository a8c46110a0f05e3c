package wsstore

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/livestream/internal/errs"
	"github.com/BioHazard786/livestream/internal/store"
	"github.com/BioHazard786/livestream/internal/storeserver"
)

func startServer(t *testing.T) (*storeserver.Hub, string) {
	t.Helper()
	hub := storeserver.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(storeserver.NewMux(hub))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRoundTrip(t *testing.T) {
	_, url := startServer(t)
	c := dial(t, url)
	ctx := context.Background()

	offer := map[string]string{"type": "offer", "sdp": "v=0"}
	if err := c.Set(ctx, "livestream/rooms/r1/offer", offer); err != nil {
		t.Fatalf("Set: %v", err)
	}
	k1, err := c.Push(ctx, "livestream/rooms/r1/callerCandidates", map[string]string{"candidate": "a"})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	k2, _ := c.Push(ctx, "livestream/rooms/r1/callerCandidates", map[string]string{"candidate": "b"})
	if !(k1 < k2) {
		t.Fatalf("push keys not ordered: %q %q", k1, k2)
	}

	snap, err := c.Get(ctx, "livestream/rooms/r1/offer")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var got map[string]string
	if err := snap.Decode(&got); err != nil || got["sdp"] != "v=0" {
		t.Fatalf("offer = %v, %v", got, err)
	}

	if err := c.Remove(ctx, "livestream/rooms/r1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if snap, _ := c.Get(ctx, "livestream/rooms/r1"); snap.Exists() {
		t.Fatalf("room still present: %+v", snap)
	}
}

func TestSubscriptionAcrossClients(t *testing.T) {
	_, url := startServer(t)
	a, b := dial(t, url), dial(t, url)
	ctx := context.Background()

	var (
		mu    sync.Mutex
		sizes []int
	)
	sub, err := b.Subscribe(ctx, "room/calleeCandidates", func(s store.Snapshot) {
		mu.Lock()
		sizes = append(sizes, s.Len())
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := a.Push(ctx, "room/calleeCandidates", i); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "three updates after replay", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sizes) == 4
	})
	mu.Lock()
	for i, n := range sizes {
		if n != i {
			t.Fatalf("delivery %d saw %d children", i, n)
		}
	}
	mu.Unlock()

	sub.Unsubscribe()
	a.Push(ctx, "room/calleeCandidates", 99)
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(sizes) != 4 {
		t.Fatalf("delivery after unsubscribe: %v", sizes)
	}
}

func TestDisconnectRemovesPresence(t *testing.T) {
	hub, url := startServer(t)
	a, b := dial(t, url), dial(t, url)
	ctx := context.Background()

	waitFor(t, "two clients", func() bool { return hub.Connected() == 2 })

	if err := a.Set(ctx, "room/participants/a", true); err != nil {
		t.Fatal(err)
	}
	if err := a.OnDisconnectRemove(ctx, "room/participants/a"); err != nil {
		t.Fatal(err)
	}

	a.Close()
	waitFor(t, "presence removal", func() bool {
		snap, err := b.Get(ctx, "room/participants")
		return err == nil && !snap.Exists()
	})
	waitFor(t, "hub unregister", func() bool { return hub.Connected() == 1 })

	if err := a.Set(ctx, "room/x", 1); !errors.Is(err, errs.ErrStoreUnavailable) {
		t.Fatalf("Set after Close = %v", err)
	}
}

func TestServerShutdownEndsClient(t *testing.T) {
	hub := storeserver.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(storeserver.NewMux(hub))
	t.Cleanup(srv.Close)
	t.Cleanup(cancel)

	c := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws")
	waitFor(t, "client registered", func() bool { return hub.Connected() == 1 })
	if err := c.Err(); err != nil {
		t.Fatalf("Err() while connected = %v", err)
	}

	cancel()
	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("Done not closed after the server went away")
	}
	if err := c.Err(); !errors.Is(err, errs.ErrStoreUnavailable) {
		t.Fatalf("Err() = %v, want ErrStoreUnavailable", err)
	}
}

func TestCloseLeavesNoError(t *testing.T) {
	_, url := startServer(t)
	c := dial(t, url)
	c.Close()

	select {
	case <-c.Done():
	default:
		t.Fatal("Done still open after Close")
	}
	if err := c.Err(); err != nil {
		t.Fatalf("Err() after Close = %v", err)
	}
}

func TestDialRejectsBadScheme(t *testing.T) {
	_, err := Dial(context.Background(), "http://localhost:1/ws")
	if !errors.Is(err, errs.ErrStoreUnavailable) {
		t.Fatalf("Dial = %v", err)
	}
}
