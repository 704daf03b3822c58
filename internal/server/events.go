package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/bsort/internal/store"
)

const (
	// feedBuffer is how many events a slow client may fall behind before
	// events to it are dropped.
	feedBuffer   = 16
	writeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// RunEvent is one message on the run feed.
type RunEvent struct {
	Run       store.Run `json:"run"`
	Timestamp int64     `json:"timestamp"`
}

// RunFeed pushes run state changes to WebSocket clients.
type RunFeed struct {
	clients map[*websocket.Conn]chan []byte
	mu      sync.RWMutex
}

// NewRunFeed creates an empty feed.
func NewRunFeed() *RunFeed {
	return &RunFeed{clients: make(map[*websocket.Conn]chan []byte)}
}

// Publish sends run to every connected client. Clients that are too far
// behind miss the event.
func (f *RunFeed) Publish(run store.Run) {
	msg, err := json.Marshal(RunEvent{Run: run, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Clients returns the number of connected clients.
func (f *RunFeed) Clients() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// ServeHTTP handles WebSocket upgrade requests.
func (f *RunFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := make(chan []byte, feedBuffer)
	f.mu.Lock()
	f.clients[conn] = ch
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.clients, conn)
		f.mu.Unlock()
	}()

	// Reads only detect the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case msg := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}
