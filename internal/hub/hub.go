// Package hub fans detector events out to live subscribers, and mirrors them
// through Redis pub/sub when several server instances share one deployment.
package hub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"control_miles/internal/detection"
)

// Channel is the Redis channel events are mirrored on.
const Channel = "controlmiles:events"

// Client is one subscriber. Send is closed by Unregister.
type Client struct {
	Send chan []byte
}

type envelope struct {
	Origin string          `json:"origin"`
	Event  json.RawMessage `json:"event"`
}

// Hub manages subscribers and broadcasts events to them without blocking the
// publisher.
type Hub struct {
	redis     *redis.Client
	origin    string
	clients   map[*Client]struct{}
	broadcast chan []byte
	mu        sync.RWMutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewHub starts the broadcast loop. A nil Redis client keeps events local.
func NewHub(redisClient *redis.Client) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		redis:     redisClient,
		origin:    uuid.NewString(),
		clients:   make(map[*Client]struct{}),
		broadcast: make(chan []byte, 100),
		cancel:    cancel,
	}
	h.wg.Add(1)
	go h.run(ctx)

	if redisClient != nil {
		pubsub := redisClient.Subscribe(ctx, Channel)
		if _, err := pubsub.Receive(ctx); err != nil {
			logrus.WithError(err).Warn("Redis subscription failed, events stay local.")
			_ = pubsub.Close()
		} else {
			h.wg.Add(1)
			go h.subscribeRedis(ctx, pubsub)
		}
	}
	return h
}

// Register adds a subscriber.
func (h *Hub) Register() *Client {
	c := &Client{Send: make(chan []byte, 64)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	logrus.WithField("clients", n).Info("Client registered with event hub.")
	return c
}

// Unregister removes a subscriber and closes its channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.Send)
	logrus.WithField("clients", len(h.clients)).Info("Client unregistered from event hub.")
}

// Clients returns the number of registered subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues an event for broadcast. It never blocks: when the queue is
// full the event is dropped.
func (h *Hub) Publish(e detection.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		logrus.WithError(err).Error("Failed to encode event.")
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		logrus.WithField("kind", e.Kind).Warn("Event broadcast channel full, dropping message.")
	}
}

// Close stops the broadcast loop and the Redis subscription.
func (h *Hub) Close() {
	h.cancel()
	h.wg.Wait()
}

func (h *Hub) run(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-h.broadcast:
			h.deliver(payload)
			h.mirror(ctx, payload)
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
			logrus.Warn("Subscriber is not keeping up, dropping event.")
		}
	}
}

func (h *Hub) mirror(ctx context.Context, payload []byte) {
	if h.redis == nil {
		return
	}
	msg, err := json.Marshal(envelope{Origin: h.origin, Event: payload})
	if err != nil {
		return
	}
	if err := h.redis.Publish(ctx, Channel, msg).Err(); err != nil {
		logrus.WithError(err).Warn("Redis publish failed.")
	}
}

func (h *Hub) subscribeRedis(ctx context.Context, pubsub *redis.PubSub) {
	defer h.wg.Done()
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logrus.WithError(err).Warn("Ignoring malformed event from Redis.")
				continue
			}
			if env.Origin == h.origin {
				continue
			}
			h.deliver(env.Event)
		}
	}
}
