// Package mqttstore implements the signaling store on top of an MQTT
// broker. Every store path is a retained topic; deleting a path publishes
// an empty retained payload. The client mirrors the topics it subscribed
// to into a local tree, which serves reads and listener replay.
package mqttstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/BioHazard786/livestream/internal/errs"
	"github.com/BioHazard786/livestream/internal/store"
	"github.com/BioHazard786/livestream/internal/store/memstore"
)

const (
	DefaultQoS     = 1
	DefaultSettle  = 300 * time.Millisecond
	DefaultTimeout = 10 * time.Second
)

// Options configures the broker connection.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
	// Settle is how long to wait after a new subscription before trusting
	// the mirror to hold every retained topic below it.
	Settle  time.Duration
	Timeout time.Duration
}

func (o *Options) defaults() {
	if o.ClientID == "" {
		o.ClientID = "livestream-" + uuid.NewString()[:8]
	}
	if o.QoS == 0 {
		o.QoS = DefaultQoS
	}
	if o.Settle == 0 {
		o.Settle = DefaultSettle
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
}

type clientFactory func(*mqtt.ClientOptions) mqtt.Client

// Client is a signaling store connection over MQTT.
type Client struct {
	opts      Options
	newClient clientFactory
	client    mqtt.Client

	mirror *memstore.Tree
	view   *memstore.Conn

	mu       sync.Mutex
	filters  map[string]chan struct{}
	presence map[string]mqtt.Client
	closed   bool

	log *slog.Logger
}

var _ store.Store = (*Client)(nil)

// Connect dials the broker.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	return connect(ctx, opts, mqtt.NewClient)
}

func connect(ctx context.Context, opts Options, factory clientFactory) (*Client, error) {
	opts.defaults()
	c := &Client{
		opts:      opts,
		newClient: factory,
		mirror:    memstore.NewTree(),
		filters:   make(map[string]chan struct{}),
		presence:  make(map[string]mqtt.Client),
		log:       slog.Default().With("component", "mqttstore", "broker", opts.Broker),
	}
	c.view = c.mirror.Connect()

	mo := c.clientOptions(opts.ClientID)
	mo.SetAutoReconnect(true)
	mo.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.log.Warn("mqtt connection lost", "error", err)
	})
	// filters survive reconnects through resubscription
	mo.SetOnConnectHandler(func(cl mqtt.Client) {
		c.resubscribe(cl)
	})

	c.client = factory(mo)
	if err := c.wait(ctx, c.client.Connect()); err != nil {
		return nil, errs.Wrap("connect mqtt", fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err), opts.Broker)
	}
	return c, nil
}

func (c *Client) clientOptions(clientID string) *mqtt.ClientOptions {
	mo := mqtt.NewClientOptions()
	mo.AddBroker(c.opts.Broker)
	mo.SetClientID(clientID)
	mo.SetCleanSession(true)
	mo.SetConnectTimeout(c.opts.Timeout)
	if c.opts.Username != "" {
		mo.SetUsername(c.opts.Username)
		mo.SetPassword(c.opts.Password)
	}
	return mo
}

// wait blocks until the token completes, ctx ends or the timeout passes.
func (c *Client) wait(ctx context.Context, tok mqtt.Token) error {
	timer := time.NewTimer(c.opts.Timeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errs.ErrTimeout
	}
}

func (c *Client) checkOpen(path string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return store.ErrClosed
	}
	return store.Validate(path)
}

// apply mirrors one broker message into the local tree.
func (c *Client) apply(_ mqtt.Client, msg mqtt.Message) {
	ctx := context.Background()
	topic := msg.Topic()
	if len(msg.Payload()) == 0 {
		c.view.Remove(ctx, topic)
		return
	}
	if err := c.view.Set(ctx, topic, json.RawMessage(msg.Payload())); err != nil {
		c.log.Warn("ignoring non-json payload", "topic", topic, "error", err)
	}
}

func filterFor(path string) string {
	return store.Join(path) + "/#"
}

// ensureFilter subscribes to path and everything below it unless an
// existing filter already covers it. The returned channel closes once
// retained messages had time to arrive.
func (c *Client) ensureFilter(ctx context.Context, path string) (<-chan struct{}, error) {
	c.mu.Lock()
	for covered, settled := range c.filters {
		if store.IsPrefix(covered, path) {
			c.mu.Unlock()
			return settled, nil
		}
	}
	settled := make(chan struct{})
	c.filters[path] = settled
	c.mu.Unlock()

	if err := c.wait(ctx, c.client.Subscribe(filterFor(path), c.opts.QoS, c.apply)); err != nil {
		c.mu.Lock()
		delete(c.filters, path)
		c.mu.Unlock()
		close(settled)
		return nil, fmt.Errorf("subscribe %s: %w", path, err)
	}
	time.AfterFunc(c.opts.Settle, func() { close(settled) })
	return settled, nil
}

func (c *Client) resubscribe(cl mqtt.Client) {
	c.mu.Lock()
	paths := make([]string, 0, len(c.filters))
	for p := range c.filters {
		paths = append(paths, p)
	}
	c.mu.Unlock()
	for _, p := range paths {
		cl.Subscribe(filterFor(p), c.opts.QoS, c.apply)
	}
}

func (c *Client) settle(ctx context.Context, path string) error {
	settled, err := c.ensureFilter(ctx, path)
	if err != nil {
		return err
	}
	select {
	case <-settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) publish(ctx context.Context, topic string, payload []byte) error {
	if err := c.wait(ctx, c.client.Publish(topic, c.opts.QoS, true, payload)); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (c *Client) Set(ctx context.Context, path string, value any) error {
	if err := c.checkOpen(path); err != nil {
		return err
	}
	if value == nil {
		return c.Remove(ctx, path)
	}
	b, err := store.Encode(value)
	if err != nil {
		return err
	}
	if err := c.publish(ctx, store.Join(path), b); err != nil {
		return err
	}
	// write through so our own reads see the value before the echo
	return c.view.Set(ctx, path, json.RawMessage(b))
}

func (c *Client) Push(ctx context.Context, path string, value any) (string, error) {
	key := store.NewPushKey()
	if err := c.Set(ctx, store.Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (c *Client) Get(ctx context.Context, path string) (store.Snapshot, error) {
	if err := c.checkOpen(path); err != nil {
		return store.Snapshot{}, err
	}
	if err := c.settle(ctx, path); err != nil {
		return store.Snapshot{}, err
	}
	return c.view.Get(ctx, path)
}

// Remove clears every retained topic at or below path that the broker
// knows about.
func (c *Client) Remove(ctx context.Context, path string) error {
	if err := c.checkOpen(path); err != nil {
		return err
	}
	if err := c.settle(ctx, path); err != nil {
		return err
	}
	snap, err := c.view.Get(ctx, path)
	if err != nil {
		return err
	}
	var errList []error
	for _, leaf := range leaves(store.Join(path), snap) {
		if err := c.publish(ctx, leaf, nil); err != nil {
			errList = append(errList, err)
		}
	}
	if err := errors.Join(errList...); err != nil {
		return err
	}
	return c.view.Remove(ctx, path)
}

func leaves(path string, snap store.Snapshot) []string {
	if snap.IsLeaf() {
		return []string{path}
	}
	var out []string
	for _, child := range snap.Children {
		out = append(out, leaves(store.Join(path, child.Key), child)...)
	}
	return out
}

func (c *Client) Subscribe(ctx context.Context, path string, fn store.Listener) (store.Subscription, error) {
	if err := c.checkOpen(path); err != nil {
		return nil, err
	}
	if _, err := c.ensureFilter(ctx, path); err != nil {
		return nil, err
	}
	return c.view.Subscribe(ctx, path, fn)
}

// OnDisconnectRemove opens a dedicated connection whose last will clears
// the topic, so the broker removes it when this process dies.
func (c *Client) OnDisconnectRemove(ctx context.Context, path string) error {
	if err := c.checkOpen(path); err != nil {
		return err
	}
	topic := store.Join(path)

	c.mu.Lock()
	_, exists := c.presence[topic]
	c.mu.Unlock()
	if exists {
		return nil
	}

	mo := c.clientOptions(c.opts.ClientID + "-will-" + uuid.NewString()[:8])
	mo.SetWill(topic, "", c.opts.QoS, true)
	mo.SetAutoReconnect(true)
	pc := c.newClient(mo)
	if err := c.wait(ctx, pc.Connect()); err != nil {
		return fmt.Errorf("presence connection for %s: %w", topic, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		pc.Disconnect(0)
		return store.ErrClosed
	}
	c.presence[topic] = pc
	c.mu.Unlock()
	return nil
}

// Close clears topics registered for removal, then disconnects. A crash
// skips the explicit clears and the broker publishes the wills instead.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	presence := c.presence
	c.presence = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout)
	defer cancel()
	for topic, pc := range presence {
		if err := c.publish(ctx, topic, nil); err != nil {
			c.log.Warn("clearing presence on close", "topic", topic, "error", err)
		}
		pc.Disconnect(250)
	}
	c.view.Close()
	c.client.Disconnect(250)
	return nil
}
