package storeserver

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  maxMessageSize,
	WriteBufferSize: maxMessageSize,
	// CLI clients send no Origin header
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWs upgrades the request and starts the client's pumps.
func ServeWs(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}

		client := newClient(hub, conn)
		if !hub.register(client) {
			client.shutdown()
			return
		}

		go client.WritePump()
		go client.ReadPump()
	}
}

// HealthHandler reports liveness and the number of connected clients.
func HealthHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"clients": hub.Connected(),
		})
	}
}

// NewMux wires the store server routes.
func NewMux(hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler(hub))
	mux.HandleFunc("/ws", ServeWs(hub))
	return mux
}
