package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/wordai/api/internal/logging"
	"github.com/wordai/api/internal/model"
)

// EventsChannel carries job events from worker processes to API processes.
const EventsChannel = "jobs:events"

// Client represents a WebSocket client. Send is never closed; the hub
// signals a dropped client through Done and the connection goroutine exits.
type Client struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte

	initOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// Done is closed once the hub stops delivering to the client.
func (c *Client) Done() <-chan struct{} {
	c.initOnce.Do(func() { c.done = make(chan struct{}) })
	return c.done
}

func (c *Client) stop() {
	c.Done()
	c.closeOnce.Do(func() { close(c.done) })
}

// trySend queues msg without blocking. It reports false when the buffer is
// full or the client was already dropped.
func (c *Client) trySend(msg []byte) bool {
	select {
	case <-c.Done():
		return false
	default:
	}
	select {
	case c.Send <- msg:
		return true
	default:
		return false
	}
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by job ID
	clients map[string]map[*Client]bool

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Broadcast messages to job subscribers
	broadcast chan *BroadcastMessage

	// When set, broadcasts go through Redis pub/sub so API and worker
	// processes can run separately.
	redis *redis.Client

	log *zerolog.Logger
	mu  sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	JobID   string          `json:"job_id"`
	Message json.RawMessage `json:"message"`
}

// NewHub creates a new Hub. redisClient may be nil for a process-local hub.
func NewHub(redisClient *redis.Client, logger *zerolog.Logger) *Hub {
	l := logging.Component(logger, "WebSocketHub")
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		redis:      redisClient,
		log:        l,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.mu.Unlock()
			h.log.Debug().Str("job_id", client.JobID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.JobID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					client.stop()
					if len(clients) == 0 {
						delete(h.clients, client.JobID)
					}
				}
			}
			h.mu.Unlock()
			h.log.Debug().Str("job_id", client.JobID).Msg("client unregistered")

		case msg := <-h.broadcast:
			h.mu.Lock()
			if clients, ok := h.clients[msg.JobID]; ok {
				for client := range clients {
					if !client.trySend(msg.Message) {
						// Too slow to keep up. Its connection goroutine
						// sees Done and hangs up.
						delete(clients, client)
						client.stop()
						h.log.Warn().Str("job_id", msg.JobID).Msg("dropping slow websocket client")
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.JobID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Relay forwards events published by other processes to local clients.
// It returns when ctx is done. A nil redis client makes it a no-op.
func (h *Hub) Relay(ctx context.Context) {
	if h.redis == nil {
		return
	}
	sub := h.redis.Subscribe(ctx, EventsChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var msg BroadcastMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				h.log.Warn().Err(err).Msg("dropping malformed job event")
				continue
			}
			h.deliver(&msg)
		}
	}
}

// Subscribers returns the number of connected clients for jobID.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// BroadcastProgress sends a progress update to all job subscribers
func (h *Hub) BroadcastProgress(jobID string, progress int, step string) {
	h.publish(jobID, model.WSProgressMessage{
		Type:        model.WSMessageTypeProgress,
		JobID:       jobID,
		Progress:    progress,
		Status:      model.JobStatusProcessing,
		CurrentStep: step,
	})
}

// BroadcastComplete sends a completion message to all job subscribers
func (h *Hub) BroadcastComplete(jobID string, result *model.JobResult) {
	h.publish(jobID, model.WSCompleteMessage{
		Type:   model.WSMessageTypeComplete,
		JobID:  jobID,
		Result: result,
	})
}

// BroadcastFailed sends a terminal failure to all job subscribers
func (h *Hub) BroadcastFailed(jobID string, jobErr model.JobError) {
	h.publish(jobID, model.WSFailedMessage{
		Type:  model.WSMessageTypeFailed,
		JobID: jobID,
		Error: jobErr,
	})
}

func (h *Hub) publish(jobID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("failed to marshal job event")
		return
	}
	msg := &BroadcastMessage{JobID: jobID, Message: data}

	if h.redis != nil {
		env, _ := json.Marshal(msg)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.redis.Publish(ctx, EventsChannel, env).Err(); err != nil {
			h.log.Warn().Err(err).Str("job_id", jobID).Msg("failed to publish job event")
		}
		return
	}
	h.deliver(msg)
}

// deliver hands msg to Run without blocking the caller; events are
// best-effort since polling stays authoritative.
func (h *Hub) deliver(msg *BroadcastMessage) {
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn().Str("job_id", msg.JobID).Msg("broadcast buffer full, dropping job event")
	}
}

// HandleConnection handles a WebSocket connection
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string) {
	client := &Client{
		JobID: jobID,
		Conn:  c,
		Send:  make(chan []byte, 256),
	}

	h.Register(client)
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-client.Done():
				c.WriteMessage(websocket.CloseMessage, []byte{})
				c.Close()
				return

			case message := <-client.Send:
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Str("job_id", jobID).Msg("websocket error")
			}
			break
		}

		// Handle client messages (ping/pong)
		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong := model.WSMessage{Type: model.WSMessageTypePong}
			data, _ := json.Marshal(pong)
			client.trySend(data)
		}
	}
}
