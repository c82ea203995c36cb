package realtime

import (
	"log/slog"
	"sync"
)

const clientBuffer = 64

// Client is one websocket subscription to a chat feed.
type Client struct {
	ID       uint64
	ChatID   string
	UserID   string
	Outbound chan Event
}

// Hub tracks feed subscribers per chat.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	chats  map[string]map[uint64]*Client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{chats: make(map[string]map[uint64]*Client)}
}

// Subscribe registers a new client for chatID.
func (h *Hub) Subscribe(chatID, userID string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	c := &Client{
		ID:       h.nextID,
		ChatID:   chatID,
		UserID:   userID,
		Outbound: make(chan Event, clientBuffer),
	}
	if _, ok := h.chats[chatID]; !ok {
		h.chats[chatID] = make(map[uint64]*Client)
	}
	h.chats[chatID][c.ID] = c
	slog.Info("Feed client registered", "chat_id", chatID, "user_id", userID, "client_id", c.ID)
	return c
}

// Unsubscribe removes a client and closes its outbound channel. Safe to call twice.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.chats[c.ChatID]
	if !ok {
		return
	}
	if _, exists := clients[c.ID]; !exists {
		return
	}
	delete(clients, c.ID)
	close(c.Outbound)
	if len(clients) == 0 {
		delete(h.chats, c.ChatID)
	}
	slog.Info("Feed client unregistered", "chat_id", c.ChatID, "user_id", c.UserID, "client_id", c.ID)
}

// Broadcast delivers ev to every subscriber of ev.ChatID without blocking.
// A subscriber whose buffer is full misses the event; clients recover by
// re-reading the canonical message list. EventChatClosed also drops the
// chat's subscribers.
func (h *Hub) Broadcast(ev Event) {
	if ev.Type == EventChatClosed {
		h.closeChat(ev)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.chats[ev.ChatID] {
		select {
		case c.Outbound <- ev:
		default:
			slog.Warn("Feed client buffer full, dropping event", "chat_id", ev.ChatID, "client_id", c.ID, "type", ev.Type)
		}
	}
}

// Subscribers returns the number of clients on a chat.
func (h *Hub) Subscribers(chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.chats[chatID])
}

// closeChat sends the closing event where there is room, then closes every
// subscriber of the chat. Their websocket loops end on the closed channel.
func (h *Hub) closeChat(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.chats[ev.ChatID]
	for _, c := range clients {
		select {
		case c.Outbound <- ev:
		default:
		}
		close(c.Outbound)
	}
	delete(h.chats, ev.ChatID)
	if len(clients) > 0 {
		slog.Info("Feed clients closed", "chat_id", ev.ChatID, "count", len(clients))
	}
}
