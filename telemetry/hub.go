package telemetry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds a single websocket write so one slow client cannot
// stall the foreground loop.
const writeWait = 200 * time.Millisecond

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub is a Sink that forwards events to every connected websocket client
// and serves the HTTP endpoints of the monitor.
type Hub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]bool

	status    func() any
	published atomic.Int64
	dropped   atomic.Int64
}

// NewHub creates a hub. status, if not nil, is served as JSON on /status.
func NewHub(status func() any) *Hub {
	return &Hub{
		conns:  make(map[*websocket.Conn]bool),
		status: status,
	}
}

func (h *Hub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.conns[c] = true
	h.mu.Unlock()
}

func (h *Hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

func (h *Hub) snapshot() []*websocket.Conn {
	h.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	return clients
}

// Clients returns the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Publish implements Sink. Clients that fail a write are disconnected.
func (h *Hub) Publish(e Event) error {
	b, err := e.Marshal()
	if err != nil {
		return err
	}
	h.published.Add(1)
	for _, c := range h.snapshot() {
		_ = c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
			h.dropped.Add(1)
			_ = c.Close()
			h.remove(c)
		}
	}
	return nil
}

// Close implements Sink.
func (h *Hub) Close() error {
	for _, c := range h.snapshot() {
		_ = c.Close()
		h.remove(c)
	}
	return nil
}

// Handler returns the HTTP routes: /ws, /status and /metrics.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.add(conn)
		defer func() {
			h.remove(conn)
			conn.Close()
		}()

		// Clients only listen; reading detects when they go away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if h.status == nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(h.status()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "events %d\n", h.published.Load())
		fmt.Fprintf(w, "clients %d\n", h.Clients())
		fmt.Fprintf(w, "dropped_clients %d\n", h.dropped.Load())
	})

	return mux
}
