package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulsefeed/pulsefeed/internal/domain"
	"github.com/pulsefeed/pulsefeed/internal/metrics"
)

const (
	// writeTimeout is the deadline for a single write to a subscriber.
	writeTimeout = 10 * time.Second

	// DefaultHeartbeat is the expected client ping cadence.
	DefaultHeartbeat = 30 * time.Second

	// DefaultQueueSize is the per-subscriber outgoing buffer depth.
	DefaultQueueSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins — callers should apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// control is the envelope for connected and pong messages. Events use
// the domain.Event envelope with the same field names.
type control struct {
	Type      string    `json:"type"`
	Domain    string    `json:"domain,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub fans live-feed events out to WebSocket subscribers. Subscribers
// are grouped per partition; the empty partition is the wildcard and
// receives every event. Each group has its own lock, so publishing to
// one partition never contends with another.
type Hub struct {
	heartbeat time.Duration
	queueSize int
	log       *slog.Logger

	mu     sync.RWMutex
	shards map[string]*shard
}

// shard is one partition's subscriber set.
type shard struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// subscriber is one connected client.
type subscriber struct {
	conn      *websocket.Conn
	send      chan []byte
	partition string
	closeOnce sync.Once
}

// New creates a Hub. Non-positive arguments fall back to defaults.
func New(heartbeat time.Duration, queueSize int, log *slog.Logger) *Hub {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		heartbeat: heartbeat,
		queueSize: queueSize,
		log:       log,
		shards:    make(map[string]*shard),
	}
}

// Run blocks until ctx is done, then disconnects every subscriber.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Publish fans the event out to the event's partition plus wildcard
// subscribers. A subscriber whose queue is full is evicted rather than
// allowed to stall the rest.
func (h *Hub) Publish(ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("hub: marshal event", "error", err)
		return
	}
	h.deliver(ev.Domain, data)
	if ev.Domain != "" {
		h.deliver("", data)
	}
}

func (h *Hub) deliver(partition string, data []byte) {
	h.mu.RLock()
	sh := h.shards[partition]
	h.mu.RUnlock()
	if sh == nil {
		return
	}

	// Sends happen under the shard read lock; evict closes the queue
	// under the write lock, so a send never races a close.
	var overflowed []*subscriber
	sh.mu.RLock()
	for s := range sh.subs {
		select {
		case s.send <- data:
		default:
			overflowed = append(overflowed, s)
		}
	}
	sh.mu.RUnlock()

	for _, s := range overflowed {
		// Queue overflow: the subscriber is too slow to keep.
		h.evict(s)
		metrics.SubscriberEvictions.Inc()
		h.log.Warn("hub: evicted slow subscriber", "partition", s.partition)
	}
}

// trySend enqueues data for s if it is still registered, dropping the
// message when the queue is full.
func (h *Hub) trySend(s *subscriber, data []byte) {
	h.mu.RLock()
	sh := h.shards[s.partition]
	h.mu.RUnlock()
	if sh == nil {
		return
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if _, ok := sh.subs[s]; !ok {
		return
	}
	select {
	case s.send <- data:
	default:
	}
}

// Serve upgrades the request and serves the subscriber until its
// connection closes. partition "" subscribes to all partitions.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, partition string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	s := &subscriber{
		conn:      conn,
		send:      make(chan []byte, h.queueSize),
		partition: partition,
	}
	h.register(s)
	defer h.evict(s)

	if data, err := json.Marshal(control{Type: "connected", Domain: partition, Timestamp: time.Now().UTC()}); err == nil {
		h.trySend(s, data)
	}

	go s.writePump()
	h.readPump(s) // blocks until the connection closes
}

// Status returns subscriber counts per partition. The wildcard group is
// reported under "*".
func (h *Hub) Status() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]int, len(h.shards))
	for name, sh := range h.shards {
		sh.mu.RLock()
		n := len(sh.subs)
		sh.mu.RUnlock()
		if n == 0 {
			continue
		}
		if name == "" {
			name = "*"
		}
		out[name] = n
	}
	return out
}

// Count returns the total number of connected subscribers.
func (h *Hub) Count() int {
	total := 0
	for _, n := range h.Status() {
		total += n
	}
	return total
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(s *subscriber) {
	h.mu.Lock()
	sh := h.shards[s.partition]
	if sh == nil {
		sh = &shard{subs: make(map[*subscriber]struct{})}
		h.shards[s.partition] = sh
	}
	h.mu.Unlock()

	sh.mu.Lock()
	sh.subs[s] = struct{}{}
	sh.mu.Unlock()
	metrics.Subscribers.Inc()
}

func (h *Hub) evict(s *subscriber) {
	h.mu.RLock()
	sh := h.shards[s.partition]
	h.mu.RUnlock()
	if sh == nil {
		return
	}

	sh.mu.Lock()
	_, present := sh.subs[s]
	if present {
		delete(sh.subs, s)
	}
	sh.mu.Unlock()

	if present {
		s.closeOnce.Do(func() { close(s.send) })
		metrics.Subscribers.Dec()
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	shards := h.shards
	h.shards = make(map[string]*shard)
	h.mu.Unlock()

	for _, sh := range shards {
		sh.mu.Lock()
		for s := range sh.subs {
			s.closeOnce.Do(func() { close(s.send) })
			metrics.Subscribers.Dec()
		}
		sh.subs = make(map[*subscriber]struct{})
		sh.mu.Unlock()
	}
}

// readPump consumes client messages. Any message counts as liveness;
// the text message "ping" additionally gets a pong reply. A subscriber
// silent for twice the heartbeat interval is disconnected.
func (h *Hub) readPump(s *subscriber) {
	defer s.conn.Close()

	wait := 2 * h.heartbeat
	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(wait))

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(wait))
		if string(msg) == "ping" {
			if data, err := json.Marshal(control{Type: "pong", Timestamp: time.Now().UTC()}); err == nil {
				h.trySend(s, data)
			}
		}
	}
}

// writePump drains the subscriber's queue onto the connection. Runs in
// its own goroutine per subscriber; exits when the queue is closed or a
// write fails.
func (s *subscriber) writePump() {
	defer s.conn.Close()

	for msg := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	s.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
}
