// Package notify keeps per-user notification feeds and pushes them to
// connected browsers over websockets.
package notify

import (
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Notification types raised by the console itself.
const (
	TypeActionFailed = "action_failed"
	TypeInvitation   = "invitation"
	TypeSession      = "session"
)

// DefaultLimit bounds a user's feed.
const DefaultLimit = 50

// Notification is one entry of a user's feed.
type Notification struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	RedirectURL string         `json:"redirectUrl,omitempty"`
	IsRead      bool           `json:"isRead"`
	ReadAt      *time.Time     `json:"readAt"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Target is where clicking the notification leads: the explicit redirect,
// then metadata.actionUrl, then the accept page for an invitation token.
func (n Notification) Target() string {
	if n.RedirectURL != "" {
		return n.RedirectURL
	}
	if v, ok := n.Metadata["actionUrl"].(string); ok && v != "" {
		return v
	}
	if v, ok := n.Metadata["token"].(string); ok && v != "" {
		return "/invites/accept?token=" + url.QueryEscape(v)
	}
	return ""
}

// ActionFailed builds the notification raised when a user's mutation fails.
func ActionFailed(userID, title, message, redirect string) Notification {
	return Notification{UserID: userID, Type: TypeActionFailed, Title: title, Message: message, RedirectURL: redirect}
}

// Feed is the view of one user's notifications.
type Feed struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unreadCount"`
	IsConnected   bool           `json:"isConnected"`
}

type feed struct {
	items       []Notification
	unread      int
	connections int
}

// Center holds every user's feed in memory.
type Center struct {
	mu    sync.Mutex
	users map[string]*feed
	limit int
	now   func() time.Time
}

// NewCenter creates a Center keeping at most limit notifications per user.
func NewCenter(limit int) *Center {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Center{users: make(map[string]*feed), limit: limit, now: time.Now}
}

func (c *Center) feedLocked(userID string) *feed {
	f, ok := c.users[userID]
	if !ok {
		f = &feed{}
		c.users[userID] = f
	}
	return f
}

// Feed returns a copy of userID's feed, newest first.
func (c *Center) Feed(userID string) Feed {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.users[userID]
	if !ok {
		return Feed{Notifications: []Notification{}}
	}
	return Feed{
		Notifications: append([]Notification(nil), f.items...),
		UnreadCount:   f.unread,
		IsConnected:   f.connections > 0,
	}
}

// Set replaces userID's list and recomputes the unread count.
func (c *Center) Set(userID string, list []Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.feedLocked(userID)
	if len(list) > c.limit {
		list = list[:c.limit]
	}
	f.items = append([]Notification(nil), list...)
	f.unread = 0
	for _, n := range f.items {
		if !n.IsRead {
			f.unread++
		}
	}
}

// Add prepends n to its user's feed and bumps the unread count. Missing
// ID and CreatedAt are filled in.
func (c *Center) Add(n Notification) Notification {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = c.now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.feedLocked(n.UserID)
	f.items = append([]Notification{n}, f.items...)
	if !n.IsRead {
		f.unread++
	}
	if len(f.items) > c.limit {
		for _, dropped := range f.items[c.limit:] {
			if !dropped.IsRead {
				f.unread--
			}
		}
		f.items = f.items[:c.limit]
	}
	return n
}

// MarkRead marks one notification read. It reports false when the
// notification is unknown or was already read.
func (c *Center) MarkRead(userID, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.users[userID]
	if !ok {
		return false
	}
	for i := range f.items {
		if f.items[i].ID != id {
			continue
		}
		if f.items[i].IsRead {
			return false
		}
		now := c.now()
		f.items[i].IsRead = true
		f.items[i].ReadAt = &now
		if f.unread > 0 {
			f.unread--
		}
		return true
	}
	return false
}

// MarkAllRead marks the whole feed read and returns how many changed.
func (c *Center) MarkAllRead(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.users[userID]
	if !ok {
		return 0
	}
	now := c.now()
	changed := 0
	for i := range f.items {
		if f.items[i].IsRead {
			continue
		}
		f.items[i].IsRead = true
		f.items[i].ReadAt = &now
		changed++
	}
	f.unread = 0
	return changed
}

// UnreadCount returns userID's unread count.
func (c *Center) UnreadCount(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.users[userID]; ok {
		return f.unread
	}
	return 0
}

// SetConnected records a websocket connecting (true) or leaving (false).
func (c *Center) SetConnected(userID string, connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.feedLocked(userID)
	if connected {
		f.connections++
	} else if f.connections > 0 {
		f.connections--
	}
}

// Connected reports whether userID has at least one live websocket.
func (c *Center) Connected(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.users[userID]
	return ok && f.connections > 0
}
