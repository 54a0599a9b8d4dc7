package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulsefeed/pulsefeed/internal/domain"
)

// eventBuffer is the depth of the delivered-events channel. Events are
// dropped when the consumer falls this far behind.
const eventBuffer = 64

// Options configures a Client.
type Options struct {
	// URL is the full ws:// or wss:// feed URL, partition included.
	URL string

	// APIKey, when set, is sent in Header on the upgrade request.
	APIKey string
	Header string

	// Heartbeat is the ping cadence. Zero means 30s.
	Heartbeat time.Duration

	// MaxAttempts bounds consecutive failed connects before the client
	// goes to the error state. Zero or negative retries forever.
	MaxAttempts int

	Log *slog.Logger
}

// Client maintains a live-feed subscription across disconnects. All
// reconnect decisions go through the Next state machine; the Client
// only supplies the I/O.
type Client struct {
	opts   Options
	events chan domain.Event

	mu      sync.Mutex
	state   State
	attempt int
	running bool
	cancel  context.CancelFunc
}

// New builds a Client. Connect must be called to start it.
func New(opts Options) *Client {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 30 * time.Second
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Client{
		opts:   opts,
		events: make(chan domain.Event, eventBuffer),
		state:  StateDisconnected,
	}
}

// Events delivers received feed events. Control messages (connected,
// pong) are consumed internally.
func (c *Client) Events() <-chan domain.Event { return c.events }

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the connection loop. A second call while the loop is
// running (connecting or connected) is a no-op.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running || c.state == StateError {
		return
	}
	c.running = true

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.run(runCtx)
}

// Retry clears the terminal error state and reconnects. It is a no-op
// in any other state.
func (c *Client) Retry(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateError {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.attempt = 0
	c.mu.Unlock()

	c.Connect(ctx)
}

// Close stops the connection loop.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) run(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	for {
		c.mu.Lock()
		state, delay := Next(c.state, c.attempt, c.opts.MaxAttempts)
		c.state = state
		c.mu.Unlock()

		if state == StateError {
			c.opts.Log.Error("feed client: giving up after repeated failures",
				"url", c.opts.URL, "attempts", c.attempt)
			return
		}

		if delay > 0 {
			select {
			case <-ctx.Done():
				c.setState(StateDisconnected)
				return
			case <-time.After(delay):
			}
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.mu.Lock()
			c.attempt++
			c.state = StateDisconnected
			c.mu.Unlock()
			c.opts.Log.Warn("feed client: connect failed",
				"url", c.opts.URL, "error", err)
			continue
		}

		c.mu.Lock()
		c.state = StateConnected
		c.attempt = 0 // success resets the backoff
		c.mu.Unlock()
		c.opts.Log.Info("feed client: connected", "url", c.opts.URL)

		err = c.consume(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}

		c.mu.Lock()
		c.attempt++
		c.state = StateDisconnected
		c.mu.Unlock()
		c.opts.Log.Warn("feed client: connection lost", "url", c.opts.URL, "error", err)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	var header map[string][]string
	if c.opts.APIKey != "" {
		name := c.opts.Header
		if name == "" {
			name = "x-api-key"
		}
		header = map[string][]string{name: {c.opts.APIKey}}
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, header)
	return conn, err
}

// consume reads events until the connection drops, sending heartbeat
// pings at the configured cadence.
func (c *Client) consume(ctx context.Context, conn *websocket.Conn) error {
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go func() {
		ticker := time.NewTicker(c.opts.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
					conn.Close() // unblocks the read loop
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var ev domain.Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			c.opts.Log.Warn("feed client: bad message", "error", err)
			continue
		}
		switch ev.Type {
		case domain.EventNewItem, domain.EventUpdated, domain.EventBreaking:
			select {
			case c.events <- ev:
			default:
				c.opts.Log.Warn("feed client: consumer behind, dropped event", "item", ev.Item.ID)
			}
		default:
			// connected / pong / unknown control messages.
		}
	}
}
