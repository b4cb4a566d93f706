package web

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"shadowrunner/proxy"
)

// Hub fans pipeline events out to connected websocket clients. It satisfies
// the pipeline's event sink: Publish never blocks, and when no client can
// keep up the event is dropped rather than stalling capture.
type Hub struct {
	upgrader  websocket.Upgrader
	broadcast chan []byte

	clientsMux sync.RWMutex
	clients    map[*websocket.Conn]bool
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // dashboard is same-process, origin checks add nothing here
			},
		},
		broadcast: make(chan []byte, 64),
		clients:   make(map[*websocket.Conn]bool),
	}
}

// Publish implements proxy.EventSink.
func (h *Hub) Publish(ev proxy.Event) {
	message, err := json.Marshal(ev)
	if err != nil {
		log.Printf("Failed to marshal event: %v", err)
		return
	}
	select {
	case h.broadcast <- message:
	default:
		// Feed is best-effort; drop when the pump is behind.
	}
}

// Run pumps broadcast messages to every connected client until the hub's
// channel is closed. Dead clients are pruned as writes fail.
func (h *Hub) Run() {
	for message := range h.broadcast {
		var dead []*websocket.Conn

		h.clientsMux.RLock()
		for client := range h.clients {
			if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
				dead = append(dead, client)
			}
		}
		h.clientsMux.RUnlock()

		if len(dead) > 0 {
			h.clientsMux.Lock()
			for _, client := range dead {
				client.Close()
				delete(h.clients, client)
			}
			h.clientsMux.Unlock()
		}
	}
}

// HandleWebSocket upgrades the connection and parks it in the client set.
// The read loop exists only to notice disconnects.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	h.clientsMux.Lock()
	h.clients[conn] = true
	h.clientsMux.Unlock()

	log.Printf("WebSocket client connected from %s", r.RemoteAddr)

	defer func() {
		h.clientsMux.Lock()
		delete(h.clients, conn)
		h.clientsMux.Unlock()
		log.Printf("WebSocket client disconnected")
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// ClientCount returns how many websocket clients are connected.
func (h *Hub) ClientCount() int {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	return len(h.clients)
}
