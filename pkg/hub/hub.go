package hub

import (
	"context"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"

	"github.com/teslashibe/go-emotion/internal/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options configure a Hub.
type Options struct {
	// Rate caps broadcasts per second; zero means unlimited. Messages over
	// the rate are dropped, not queued.
	Rate rate.Limit

	// Burst is the limiter burst size; defaults to 1.
	Burst int

	// Retain keeps the last message and sends it to clients as they
	// connect.
	Retain bool
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	name string
	opts Options

	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	limiter *rate.Limiter

	mu      sync.RWMutex
	count   int
	last    *Message
	running bool
}

// New creates a Hub
func New(name string, opts Options) *Hub {
	h := &Hub{
		name:       name,
		opts:       opts,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
	if opts.Rate > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(opts.Rate, burst)
	}
	return h
}

// Run owns the client set until ctx is cancelled, then disconnects every
// client. Call it in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.running = false
		h.count = 0
		h.mu.Unlock()
		for client := range h.clients {
			close(client.send)
		}
		close(h.done)
		log.Debug("hub stopped", "hub", h.name)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client] = true
			if msg := h.retained(); msg != nil {
				client.send <- *msg
			}
			h.setCount(len(h.clients))
			log.Info("websocket client connected", "hub", h.name, "clients", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.setCount(len(h.clients))
			log.Info("websocket client disconnected", "hub", h.name, "clients", len(h.clients))

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client: its queue is full.
					delete(h.clients, client)
					close(client.send)
					log.Warn("dropped slow websocket client", "hub", h.name)
				}
			}
			h.setCount(len(h.clients))
		}
	}
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

func (h *Hub) retained() *Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

// Broadcast queues msg for every client. It never blocks: messages over the
// rate limit or beyond a full queue are dropped. It reports whether msg was
// queued.
func (h *Hub) Broadcast(msg Message) bool {
	if h.opts.Retain {
		h.mu.Lock()
		h.last = &msg
		h.mu.Unlock()
	}
	if h.limiter != nil && !h.limiter.Allow() {
		return false
	}
	return h.enqueue(msg)
}

// BroadcastNow queues msg ignoring the rate limit. Use it for messages that
// must not be dropped, such as state transitions.
func (h *Hub) BroadcastNow(msg Message) bool {
	if h.opts.Retain {
		h.mu.Lock()
		h.last = &msg
		h.mu.Unlock()
	}
	return h.enqueue(msg)
}

func (h *Hub) enqueue(msg Message) bool {
	select {
	case h.broadcast <- msg:
		return true
	default:
		log.Warn("broadcast queue full, dropping message", "hub", h.name)
		return false
	}
}

// Allow reports whether a broadcast would pass the rate limit now, without
// consuming it. Producers use it to skip building expensive messages.
func (h *Hub) Allow() bool {
	if h.limiter == nil {
		return true
	}
	return h.limiter.Tokens() >= 1
}

// BroadcastJSON encodes and broadcasts v
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(NewJSONMessage(data))
	return nil
}

// BroadcastBinary broadcasts binary data
func (h *Hub) BroadcastBinary(data []byte) bool {
	return h.Broadcast(NewBinaryMessage(data))
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Queued returns the number of messages waiting for the hub loop
func (h *Hub) Queued() int {
	return len(h.broadcast)
}

// IsRunning returns whether the hub loop is running
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
