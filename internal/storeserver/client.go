package storeserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/livestream/internal/store"
	"github.com/BioHazard786/livestream/internal/store/memstore"
	"github.com/BioHazard786/livestream/internal/store/wsproto"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer. SDP blobs are the largest values.
	maxMessageSize = 64 * 1024

	// Per-request deadline for tree operations.
	opTimeout = 5 * time.Second
)

// Client is one websocket connection, backed by its own store connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	store  *memstore.Conn
	remote string

	// Send is the outbound frame queue drained by WritePump.
	Send chan *wsproto.Frame

	mu   sync.Mutex
	subs map[uint64]store.Subscription

	done     chan struct{}
	doneOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		store:  hub.Tree.Connect(),
		remote: conn.RemoteAddr().String(),
		Send:   make(chan *wsproto.Frame, 256),
		subs:   make(map[uint64]store.Subscription),
		done:   make(chan struct{}),
	}
}

// shutdown closes the store connection, which removes everything this
// client registered for removal on disconnect.
func (c *Client) shutdown() {
	c.doneOnce.Do(func() {
		close(c.done)
		c.store.Close()
		c.conn.Close()
	})
}

// send queues f unless the client has gone away.
func (c *Client) send(f *wsproto.Frame) {
	select {
	case c.Send <- f:
	case <-c.done:
	}
}

// ReadPump reads and executes requests in arrival order.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("read failed", "remote", c.remote, "error", err)
			}
			return
		}
		req, err := wsproto.Decode(data)
		if err != nil {
			c.hub.log.Warn("dropping malformed frame", "remote", c.remote, "error", err)
			continue
		}
		c.send(c.handle(req))
	}
}

func (c *Client) handle(req *wsproto.Frame) *wsproto.Frame {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	reply := wsproto.Ack(req)
	var err error
	switch req.Op {
	case wsproto.OpSet:
		if req.Value == nil {
			err = c.store.Remove(ctx, req.Path)
		} else {
			err = c.store.Set(ctx, req.Path, json.RawMessage(req.Value))
		}
	case wsproto.OpPush:
		reply.Key, err = c.store.Push(ctx, req.Path, json.RawMessage(req.Value))
	case wsproto.OpGet:
		var snap store.Snapshot
		snap, err = c.store.Get(ctx, req.Path)
		reply.Snapshot = &snap
	case wsproto.OpRemove:
		err = c.store.Remove(ctx, req.Path)
	case wsproto.OpSubscribe:
		err = c.subscribe(ctx, req)
	case wsproto.OpUnsubscribe:
		c.unsubscribe(req.Sub)
	case wsproto.OpOnDisconnect:
		err = c.store.OnDisconnectRemove(ctx, req.Path)
	default:
		err = fmt.Errorf("unknown op %q", req.Op)
	}
	if err != nil {
		return wsproto.Fail(req, err)
	}
	return reply
}

func (c *Client) subscribe(ctx context.Context, req *wsproto.Frame) error {
	if req.Sub == 0 {
		return errors.New("subscribe without subscription id")
	}
	c.mu.Lock()
	_, dup := c.subs[req.Sub]
	c.mu.Unlock()
	if dup {
		return fmt.Errorf("subscription %d already active", req.Sub)
	}

	id := req.Sub
	sub, err := c.store.Subscribe(ctx, req.Path, func(snap store.Snapshot) {
		c.send(wsproto.Event(id, snap))
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.subs[id] = sub
	c.mu.Unlock()
	return nil
}

func (c *Client) unsubscribe(id uint64) {
	c.mu.Lock()
	sub, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if ok {
		sub.Unsubscribe()
	}
}

// WritePump writes queued frames and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		// unblocks ReadPump if it is waiting on a full Send queue
		c.shutdown()
	}()

	for {
		select {
		case f := <-c.Send:
			b, err := wsproto.Encode(f)
			if err != nil {
				c.hub.log.Error("encode frame", "error", err)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
