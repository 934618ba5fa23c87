package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

// Envelope is the JSON frame pushed to clients.
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type directMsg struct {
	userIDs []string
	data    []byte
}

// Hub tracks connected clients by user and pushes messages to the sessions
// of given users. It is safe for concurrent use.
type Hub struct {
	clients    map[string]*Client
	byUser     map[string]map[string]*Client
	register   chan *Client
	unregister chan *Client
	direct     chan directMsg
	done       chan struct{}
	mu         sync.RWMutex
	log        logrus.FieldLogger
}

// NewHub allocates a Hub. Call Run in a goroutine to start the event loop.
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		byUser:     make(map[string]map[string]*Client),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		direct:     make(chan directMsg, 256),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run is the hub's event loop. It returns when ctx is done, closing every
// client's send channel. Run must be called at most once.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for id, c := range h.clients {
				delete(h.clients, id)
				close(c.send)
			}
			h.byUser = make(map[string]map[string]*Client)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			if h.byUser[client.UserID] == nil {
				h.byUser[client.UserID] = make(map[string]*Client)
			}
			h.byUser[client.UserID][client.ID] = client
			h.mu.Unlock()
			h.log.WithFields(logrus.Fields{"client": client.ID, "user_id": client.UserID}).Debug("ws: client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				if sessions := h.byUser[client.UserID]; sessions != nil {
					delete(sessions, client.ID)
					if len(sessions) == 0 {
						delete(h.byUser, client.UserID)
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.log.WithField("client", client.ID).Debug("ws: client unregistered")

		case msg := <-h.direct:
			h.mu.RLock()
			for _, uid := range msg.userIDs {
				for _, client := range h.byUser[uid] {
					select {
					case client.send <- msg.data:
					default:
						// Slow consumer: drop the message to avoid blocking.
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// SendToUsers pushes {type, data} to every open session of the given users.
// Users without a session are skipped; nothing is queued for later.
func (h *Hub) SendToUsers(userIDs []string, msgType string, payload interface{}) {
	data, err := json.Marshal(Envelope{Type: msgType, Data: payload})
	if err != nil {
		h.log.WithError(err).Error("ws: failed to marshal message")
		return
	}
	select {
	case h.direct <- directMsg{userIDs: userIDs, data: data}:
	default:
		h.log.WithField("recipients", len(userIDs)).Warn("ws: push queue full, dropping message")
	}
}

// Online reports whether userID has at least one open session.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

// Register enqueues a new client for addition to the hub. Once the hub has
// stopped the client is not added and its send channel is closed.
func (h *Hub) Register(c *Client) {
	if h.stopped() {
		close(c.send)
		return
	}
	select {
	case h.register <- c:
	case <-h.done:
		close(c.send)
	}
}

// Unregister enqueues a client for removal from the hub. It is a no-op once
// the hub has stopped, which already closed every registered client.
func (h *Hub) Unregister(c *Client) {
	if h.stopped() {
		return
	}
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) stopped() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
