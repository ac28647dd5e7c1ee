// Package events streams periodic encoder status snapshots to
// Server-Sent Events clients.
package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/logger"
)

// Broadcaster fans out status events to SSE clients. Each event is
// serialized once and shared by every client.
type Broadcaster struct {
	mu       sync.Mutex
	clients  map[int]chan []byte
	nextID   int
	snapshot func() any
	stop     chan struct{}
	stopped  bool
	interval time.Duration
}

// NewBroadcaster creates a broadcaster that calls snapshot every interval
// while at least one client is subscribed
func NewBroadcaster(interval time.Duration, snapshot func() any) *Broadcaster {
	return &Broadcaster{
		clients:  make(map[int]chan []byte),
		snapshot: snapshot,
		stop:     make(chan struct{}),
		interval: interval,
	}
}

// Subscribe adds a client and returns its event channel
func (b *Broadcaster) Subscribe() (int, <-chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan []byte, 2) // Buffer 2 events to avoid blocking
	b.clients[id] = ch

	logger.Debug("Events", "Client #%d subscribed (total clients: %d)", id, len(b.clients))
	return id, ch
}

// Unsubscribe removes a client and closes its channel
func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
		logger.Debug("Events", "Client #%d unsubscribed (remaining clients: %d)", id, len(b.clients))
	}
}

// Clients returns the number of subscribed clients
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Start begins the event loop
func (b *Broadcaster) Start() {
	go b.run()
}

// Stop halts the event loop. It is safe to call more than once.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	if !b.stopped {
		close(b.stop)
		b.stopped = true
	}
	b.mu.Unlock()
}

func (b *Broadcaster) run() {
	logger.Info("Events", "Starting status broadcaster (interval=%v)", b.interval)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			if b.Clients() == 0 {
				continue
			}
			b.Publish()
		}
	}
}

// Publish takes a snapshot and sends it to every client now
func (b *Broadcaster) Publish() {
	data, err := json.Marshal(b.snapshot())
	if err != nil {
		logger.Error("Events", "JSON marshal error: %v", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, skip this event for it
		}
	}
}

// ServeHTTP streams events until the client goes away or the broadcaster
// stops
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	id, events := b.Subscribe()
	defer b.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-b.stop:
			return
		case data := <-events:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				logger.Debug("Events", "Client disconnected during event write: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}
