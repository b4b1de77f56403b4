// Package stream fans session events out to websocket clients, optionally
// relaying them through Redis pub/sub so every instance sees them.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/trackrec/trackrec/internal/session"
)

// DefaultChannel is the Redis channel events are relayed on.
const DefaultChannel = "trackrec:events"

// HubConfig configures a Hub.
type HubConfig struct {
	// Redis enables the pub/sub relay when non-nil.
	Redis *redis.Client

	// Channel overrides DefaultChannel.
	Channel string

	// Buffer is the per-client send queue length (default 64).
	Buffer int

	// PublishTimeout bounds a relay publish (default 2s).
	PublishTimeout time.Duration

	Logger zerolog.Logger
}

// Hub delivers event payloads to registered clients. A client whose queue is
// full misses the message rather than stalling the publisher.
type Hub struct {
	redis          *redis.Client
	channel        string
	buffer         int
	publishTimeout time.Duration
	logger         zerolog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}

	ready     chan struct{}
	readyOnce sync.Once
}

// Client is one registered receiver.
type Client struct {
	Send chan []byte
}

// NewHub creates a hub. Call Run to start the relay when Redis is configured.
func NewHub(cfg HubConfig) *Hub {
	h := &Hub{
		redis:          cfg.Redis,
		channel:        cfg.Channel,
		buffer:         cfg.Buffer,
		publishTimeout: cfg.PublishTimeout,
		logger:         cfg.Logger.With().Str("component", "stream").Logger(),
		clients:        make(map[*Client]struct{}),
		ready:          make(chan struct{}),
	}
	if h.channel == "" {
		h.channel = DefaultChannel
	}
	if h.buffer <= 0 {
		h.buffer = 64
	}
	if h.publishTimeout <= 0 {
		h.publishTimeout = 2 * time.Second
	}
	if h.redis == nil {
		h.markReady()
	}
	return h
}

// Register adds a client.
func (h *Hub) Register() *Client {
	c := &Client{Send: make(chan []byte, h.buffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

// Unregister removes a client and closes its queue. It is safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.Send)
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Notify implements session.Notifier.
func (h *Hub) Notify(e session.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		h.logger.Error().Err(err).Str("event", string(e.Type)).Msg("failed to encode event")
		return
	}
	h.Broadcast(payload)
}

// Broadcast sends payload to every client. With a relay the payload goes
// through Redis and reaches local clients via Run; if the publish fails it
// is delivered locally instead.
func (h *Hub) Broadcast(payload []byte) {
	if h.redis == nil {
		h.deliver(payload)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.publishTimeout)
	defer cancel()

	if err := h.redis.Publish(ctx, h.channel, payload).Err(); err != nil {
		h.logger.Warn().Err(err).Msg("relay publish failed, delivering locally")
		h.deliver(payload)
	}
}

// Ready is closed once the hub can receive relayed messages.
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

// Run consumes the relay channel until ctx is done. Without Redis it just
// waits for ctx.
func (h *Hub) Run(ctx context.Context) error {
	if h.redis == nil {
		<-ctx.Done()
		return nil
	}

	pubsub := h.redis.Subscribe(ctx, h.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before reporting ready.
	if _, err := pubsub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	h.markReady()
	h.logger.Info().Str("channel", h.channel).Msg("event relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			h.deliver([]byte(msg.Payload))
		}
	}
}

func (h *Hub) deliver(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.Send <- payload:
		default:
			h.logger.Debug().Msg("client queue full, dropping event")
		}
	}
}

func (h *Hub) markReady() {
	h.readyOnce.Do(func() { close(h.ready) })
}
