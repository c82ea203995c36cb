package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/amora/internal/domain"
	"github.com/ashureev/amora/internal/identity"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

const writeTimeout = 10 * time.Second

// ChatStore resolves chats for subscription checks.
type ChatStore interface {
	GetChat(ctx context.Context, id string) (*domain.Chat, error)
}

// WebSocketHandler serves GET /ws/chats/{chatID}.
type WebSocketHandler struct {
	chats         ChatStore
	hub           *Hub
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new feed handler.
func NewWebSocketHandler(chats ChatStore, hub *Hub, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		chats:         chats,
		hub:           hub,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// inbound is a client frame. Only pings are understood.
type inbound struct {
	Type string `json:"type"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	chatID := chi.URLParam(r, "chatID")
	slog.Info("Feed connection request", "user_id", userID, "chat_id", chatID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	chat, err := h.chats.GetChat(r.Context(), chatID)
	if err != nil {
		slog.Error("Failed to load chat for feed", "error", err, "chat_id", chatID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if chat == nil {
		http.Error(w, domain.ErrChatNotFound.Error(), http.StatusNotFound)
		return
	}
	if chat.UserID != userID {
		http.Error(w, "chat does not belong to this user", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	client := h.hub.Subscribe(chatID, userID)
	defer h.hub.Unsubscribe(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := writeEvent(ctx, ws, Event{Type: EventSubscribed, ChatID: chatID, WomanID: chat.WomanID, At: time.Now().UTC()}); err != nil {
		slog.Debug("Failed to send subscribed event", "error", err)
		return
	}

	// Pongs and feed events share one writer goroutine.
	pongs := make(chan struct{}, 1)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		h.readLoop(ctx, ws, pongs, userID)
	}()

	go func() {
		defer wg.Done()
		defer cancel()
		h.writeLoop(ctx, ws, client, pongs)
	}()

	wg.Wait()
	slog.Info("Feed connection ended", "user_id", userID, "chat_id", chatID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, pongs chan<- struct{}, userID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			select {
			case pongs <- struct{}{}:
			default:
			}
		}
	}
}

func (h *WebSocketHandler) writeLoop(ctx context.Context, ws *websocket.Conn, client *Client, pongs <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-pongs:
			if err := writeEvent(ctx, ws, Event{Type: EventPong, ChatID: client.ChatID, At: time.Now().UTC()}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
				return
			}
		case ev, ok := <-client.Outbound:
			if !ok {
				return
			}
			if err := writeEvent(ctx, ws, ev); err != nil {
				slog.Debug("Failed to write feed event", "error", err, "chat_id", client.ChatID)
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, ws *websocket.Conn, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, data)
}
