// Package wsstore is a signaling store client for the livestream store
// server, speaking wsproto frames over a websocket.
package wsstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/livestream/internal/dns"
	"github.com/BioHazard786/livestream/internal/errs"
	"github.com/BioHazard786/livestream/internal/store"
	"github.com/BioHazard786/livestream/internal/store/wsproto"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	dialTimeout    = 10 * time.Second
)

// Client is one websocket connection to the store server.
type Client struct {
	conn     *websocket.Conn
	outgoing chan *wsproto.Frame
	closing  chan struct{}
	dead     chan struct{}

	nextID  atomic.Uint64
	nextSub atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan *wsproto.Frame
	subs    map[uint64]*store.Mailbox

	lost      error
	closeOnce sync.Once
	log       *slog.Logger
}

var (
	_ store.Store   = (*Client)(nil)
	_ store.Monitor = (*Client)(nil)
)

// Option customizes Dial.
type Option func(*websocket.Dialer)

// WithResolver routes host lookups through r, falling back to public DNS
// when the system resolver fails.
func WithResolver(r *dns.Resolver) Option {
	return func(d *websocket.Dialer) {
		d.NetDialContext = r.DialContext
	}
}

// Dial connects to the store server at serverURL (ws:// or wss://).
func Dial(ctx context.Context, serverURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, errs.Wrap("dial store", err, "invalid server URL")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errs.Wrap("dial store", errs.ErrStoreUnavailable, fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: dialTimeout,
		ReadBufferSize:   maxMessageSize,
		WriteBufferSize:  maxMessageSize,
	}
	for _, opt := range opts {
		opt(dialer)
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, errs.Wrap("dial store", fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err), u.Host)
	}

	c := &Client{
		conn:     conn,
		outgoing: make(chan *wsproto.Frame, 64),
		closing:  make(chan struct{}),
		dead:     make(chan struct{}),
		pending:  make(map[uint64]chan *wsproto.Frame),
		subs:     make(map[uint64]*store.Mailbox),
		log:      slog.Default().With("component", "wsstore", "server", u.Host),
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()
	return c, nil
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.dead)
		c.mu.Lock()
		for _, box := range c.subs {
			box.Stop()
		}
		c.subs = map[uint64]*store.Mailbox{}
		c.mu.Unlock()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closing:
			default:
				c.log.Warn("store connection lost", "error", err)
				c.mu.Lock()
				c.lost = fmt.Errorf("%w: %v", store.ErrClosed, err)
				c.mu.Unlock()
			}
			return
		}
		f, err := wsproto.Decode(data)
		if err != nil {
			c.log.Warn("dropping malformed frame", "error", err)
			continue
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f *wsproto.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f.Op == wsproto.OpEvent {
		if box, ok := c.subs[f.Sub]; ok && f.Snapshot != nil {
			box.Post(*f.Snapshot)
		}
		return
	}
	if ch, ok := c.pending[f.ID]; ok {
		delete(c.pending, f.ID)
		ch <- f
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f := <-c.outgoing:
			b, err := wsproto.Encode(f)
			if err != nil {
				c.log.Error("encode frame", "error", err)
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

		case <-c.closing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-c.dead:
			return
		}
	}
}

// request sends f and waits for the matching ack or error frame.
func (c *Client) request(ctx context.Context, f *wsproto.Frame) (*wsproto.Frame, error) {
	f.ID = c.nextID.Add(1)
	reply := make(chan *wsproto.Frame, 1)

	c.mu.Lock()
	select {
	case <-c.dead:
		c.mu.Unlock()
		return nil, store.ErrClosed
	default:
	}
	c.pending[f.ID] = reply
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
	}

	select {
	case c.outgoing <- f:
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	case <-c.dead:
		forget()
		return nil, store.ErrClosed
	}

	select {
	case r := <-reply:
		if r.Op == wsproto.OpError {
			return nil, fmt.Errorf("%s %s: %s", f.Op, f.Path, r.Error)
		}
		return r, nil
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	case <-c.dead:
		forget()
		return nil, store.ErrClosed
	}
}

func (c *Client) Set(ctx context.Context, path string, value any) error {
	if err := store.Validate(path); err != nil {
		return err
	}
	f := &wsproto.Frame{Op: wsproto.OpSet, Path: path}
	if value != nil {
		b, err := store.Encode(value)
		if err != nil {
			return err
		}
		f.Value = b
	}
	_, err := c.request(ctx, f)
	return err
}

func (c *Client) Push(ctx context.Context, path string, value any) (string, error) {
	if err := store.Validate(path); err != nil {
		return "", err
	}
	b, err := store.Encode(value)
	if err != nil {
		return "", err
	}
	r, err := c.request(ctx, &wsproto.Frame{Op: wsproto.OpPush, Path: path, Value: b})
	if err != nil {
		return "", err
	}
	return r.Key, nil
}

func (c *Client) Get(ctx context.Context, path string) (store.Snapshot, error) {
	if err := store.Validate(path); err != nil {
		return store.Snapshot{}, err
	}
	r, err := c.request(ctx, &wsproto.Frame{Op: wsproto.OpGet, Path: path})
	if err != nil {
		return store.Snapshot{}, err
	}
	if r.Snapshot == nil {
		return store.Snapshot{Key: store.Base(path)}, nil
	}
	return *r.Snapshot, nil
}

func (c *Client) Remove(ctx context.Context, path string) error {
	if err := store.Validate(path); err != nil {
		return err
	}
	_, err := c.request(ctx, &wsproto.Frame{Op: wsproto.OpRemove, Path: path})
	return err
}

func (c *Client) OnDisconnectRemove(ctx context.Context, path string) error {
	if err := store.Validate(path); err != nil {
		return err
	}
	_, err := c.request(ctx, &wsproto.Frame{Op: wsproto.OpOnDisconnect, Path: path})
	return err
}

// Subscribe registers the listener before the request goes out; the
// server may send the replay event ahead of the ack.
func (c *Client) Subscribe(ctx context.Context, path string, fn store.Listener) (store.Subscription, error) {
	if err := store.Validate(path); err != nil {
		return nil, err
	}
	id := c.nextSub.Add(1)
	box := store.NewMailbox(fn)

	c.mu.Lock()
	c.subs[id] = box
	c.mu.Unlock()

	drop := func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		box.Stop()
	}

	if _, err := c.request(ctx, &wsproto.Frame{Op: wsproto.OpSubscribe, Path: path, Sub: id}); err != nil {
		drop()
		return nil, err
	}

	var once sync.Once
	return store.SubscriptionFunc(func() {
		once.Do(func() {
			drop()
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			defer cancel()
			if _, err := c.request(ctx, &wsproto.Frame{Op: wsproto.OpUnsubscribe, Sub: id}); err != nil && !errors.Is(err, store.ErrClosed) {
				c.log.Debug("unsubscribe failed", "sub", id, "error", err)
			}
		})
	}), nil
}

// Done closes once the connection is gone, whether through Close or a
// network failure. The client does not redial.
func (c *Client) Done() <-chan struct{} { return c.dead }

// Err reports why the connection ended. It is nil while connected and
// after Close.
func (c *Client) Err() error {
	select {
	case <-c.dead:
	default:
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lost
}

// Close ends the connection. The server then runs this client's
// remove-on-disconnect registrations.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
	})
	select {
	case <-c.dead:
	case <-time.After(writeWait):
		c.conn.Close()
		<-c.dead
	}
	return nil
}
