package notify

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Events sent to browsers.
const (
	EventSnapshot     = "snapshot"
	EventNotification = "notification"
	EventRead         = "read"
	EventReadAll      = "read_all"
)

// Publisher fans a notification out to every console instance.
type Publisher interface {
	PublishNotification(ctx context.Context, n Notification) error
}

// Subscriber receives notifications published by any instance.
type Subscriber interface {
	SubscribeNotifications(ctx context.Context, handler func(n Notification)) (cancel func(), err error)
}

// Hub maintains user_id -> set of connections. With a Publisher configured,
// Push only publishes and the subscription delivers, so every instance
// (this one included) stores and broadcasts the notification exactly once.
type Hub struct {
	users  map[string]map[string]*Client
	mu     sync.RWMutex
	center *Center
	pub    Publisher
	sub    Subscriber
	logger *zap.Logger
}

// NewHub creates a hub over center. pub and sub may both be nil for a
// single-instance deployment.
func NewHub(center *Center, pub Publisher, sub Subscriber, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		users:  make(map[string]map[string]*Client),
		center: center,
		pub:    pub,
		sub:    sub,
		logger: logger,
	}
}

// Center returns the hub's notification store.
func (h *Hub) Center() *Center { return h.center }

// Start subscribes to cross-instance notifications until ctx ends.
func (h *Hub) Start(ctx context.Context) error {
	if h.sub == nil {
		return nil
	}
	cancel, err := h.sub.SubscribeNotifications(ctx, h.deliver)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return nil
}

// Push stores n in its user's feed and sends it to the user's browsers.
func (h *Hub) Push(ctx context.Context, n Notification) {
	if h.pub != nil {
		err := h.pub.PublishNotification(ctx, n)
		if err == nil {
			return
		}
		h.logger.Warn("publish notification failed, delivering locally", zap.Error(err))
	}
	h.deliver(n)
}

func (h *Hub) deliver(n Notification) {
	n = h.center.Add(n)
	h.SendToUser(n.UserID, EventNotification, n)
}

// MarkRead marks one notification read and tells the user's other tabs.
func (h *Hub) MarkRead(userID, id string) bool {
	if !h.center.MarkRead(userID, id) {
		return false
	}
	h.SendToUser(userID, EventRead, map[string]string{"id": id})
	return true
}

// MarkAllRead marks userID's feed read and tells the user's other tabs.
func (h *Hub) MarkAllRead(userID string) int {
	n := h.center.MarkAllRead(userID)
	h.SendToUser(userID, EventReadAll, map[string]int{"count": n})
	return n
}

// Register adds a client to its user's room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.users[c.UserID] == nil {
		h.users[c.UserID] = make(map[string]*Client)
	}
	h.users[c.UserID][c.ID] = c
	h.mu.Unlock()
	h.center.SetConnected(c.UserID, true)
	h.logger.Debug("notification client connected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID))
}

// Unregister removes a client from its user's room.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.users[c.UserID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.users, c.UserID)
		}
	}
	h.mu.Unlock()
	h.center.SetConnected(c.UserID, false)
	h.logger.Debug("notification client left", zap.String("client_id", c.ID), zap.String("user_id", c.UserID))
}

// Connections returns the number of live connections of userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// SendToUser sends an event to every connection of userID (local only).
func (h *Hub) SendToUser(userID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.users[userID] {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}
