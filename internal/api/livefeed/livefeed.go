// Package livefeed broadcasts fused-track snapshots to WebSocket
// subscribers, grounded on internal/api/realtime/broadcaster.go's
// register/unregister/broadcast channel loop.
package livefeed

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/asgard/aegis/internal/platform/bus"
	"github.com/asgard/aegis/internal/platform/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub manages WebSocket subscribers and fans out snapshot batches
// produced by the Tracking engine's RetirementSweep/Process loop.
type Hub struct {
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []bus.SnapshotMessage
	mu         sync.RWMutex
	done       chan struct{}
}

// NewHub constructs an idle Hub; call Run in its own goroutine to start
// the event loop.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan []bus.SnapshotMessage, 64),
		done:       make(chan struct{}),
	}
}

// Run drives the Hub's event loop until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			observability.Get().LivefeedConnections.Set(float64(len(h.clients)))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
			observability.Get().LivefeedConnections.Set(float64(len(h.clients)))

		case snaps := <-h.broadcast:
			h.mu.RLock()
			for conn := range h.clients {
				if err := conn.WriteJSON(snaps); err != nil {
					log.Printf("[livefeed] write error: %v", err)
					go func(c *websocket.Conn) { h.unregister <- c }(conn)
				}
			}
			h.mu.RUnlock()

		case <-h.done:
			return
		}
	}
}

// Publish enqueues a snapshot batch for broadcast, dropping it if the
// channel is saturated rather than blocking the caller.
func (h *Hub) Publish(snaps []bus.SnapshotMessage) {
	select {
	case h.broadcast <- snaps:
	default:
		log.Printf("[livefeed] broadcast channel full, dropping batch of %d", len(snaps))
	}
}

// Stop terminates the event loop and closes every subscriber connection.
func (h *Hub) Stop() {
	close(h.done)
	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

// ServeWS upgrades r to a WebSocket connection and registers it with the
// Hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[livefeed] upgrade error: %v", err)
		return
	}

	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(54 * time.Second)
		defer ticker.Stop()
		defer conn.Close()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-h.done:
				return
			}
		}
	}()
}
