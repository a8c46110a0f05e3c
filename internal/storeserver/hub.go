// Package storeserver exposes a memstore tree to websocket clients.
package storeserver

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/BioHazard786/livestream/internal/store/memstore"
)

// Hub tracks connected clients. All membership changes go through its Run
// loop; data lives in the shared tree.
type Hub struct {
	Tree *memstore.Tree

	clients map[*Client]struct{}

	// Register is a channel for newly upgraded clients.
	Register chan *Client

	// Unregister is a channel for clients whose connection ended.
	Unregister chan *Client

	quit      chan struct{}
	connected atomic.Int64
	log       *slog.Logger
}

func NewHub(tree *memstore.Tree) *Hub {
	if tree == nil {
		tree = memstore.NewTree()
	}
	return &Hub{
		Tree:       tree,
		clients:    make(map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		quit:       make(chan struct{}),
		log:        slog.Default().With("component", "storeserver"),
	}
}

// Connected reports how many clients are currently registered.
func (h *Hub) Connected() int64 {
	return h.connected.Load()
}

// Run processes registrations until ctx ends, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.Register:
			h.clients[client] = struct{}{}
			h.connected.Add(1)
			h.log.Info("client registered", "remote", client.remote)

		case client := <-h.Unregister:
			if _, ok := h.clients[client]; !ok {
				continue
			}
			delete(h.clients, client)
			h.connected.Add(-1)
			h.log.Info("client unregistered", "remote", client.remote)
			// runs the client's remove-on-disconnect registrations
			client.shutdown()

		case <-ctx.Done():
			close(h.quit)
			for client := range h.clients {
				client.shutdown()
			}
			h.clients = make(map[*Client]struct{})
			h.connected.Store(0)
			return
		}
	}
}

func (h *Hub) register(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.quit:
		c.shutdown()
	}
}
