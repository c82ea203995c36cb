package api

import (
	"context"
	"net/http"

	"github.com/ashureev/amora/internal/domain"
	"github.com/ashureev/amora/internal/identity"
	"github.com/go-chi/chi/v5"
)

// AccessService computes grants and opens chats.
type AccessService interface {
	Check(ctx context.Context, userID, womanID string) (domain.AccessGrant, error)
	EnsureChat(ctx context.Context, userID, womanID string) (*domain.Chat, domain.AccessGrant, error)
}

// Eraser removes a user's conversation data and closes its feeds.
type Eraser interface {
	EraseUserData(ctx context.Context, userID string) (int, error)
}

type createChatRequest struct {
	WomanID string `json:"womanId" validate:"required"`
}

// ChatHandler serves the authenticated chat API.
type ChatHandler struct {
	access AccessService
	msgs   Messenger
	eraser Eraser
}

// NewChatHandler creates a chat handler.
func NewChatHandler(access AccessService, msgs Messenger, eraser Eraser) *ChatHandler {
	return &ChatHandler{access: access, msgs: msgs, eraser: eraser}
}

// RegisterRoutes registers chat routes. Callers wrap r with user auth.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chats", h.OpenChat)
	r.Get("/api/chats/{chatID}/messages", h.ListMessages)
	r.Get("/api/access/{womanID}", h.GetAccess)
	r.Delete("/api/me/data", h.DeleteMyData)
}

// OpenChat checks access and returns the chat with a profile, creating it on
// first use.
func (h *ChatHandler) OpenChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req createChatRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	chat, grant, err := h.access.EnsureChat(r.Context(), userID, req.WomanID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"chat":   chat,
		"access": grant,
	})
}

// ListMessages returns the canonical ordered message list of a chat.
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	chatID := chi.URLParam(r, "chatID")

	msgs, err := h.msgs.Messages(r.Context(), userID, chatID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

// GetAccess returns the caller's current grant for a profile.
func (h *ChatHandler) GetAccess(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	grant, err := h.access.Check(r.Context(), userID, chi.URLParam(r, "womanID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, grant)
}

// DeleteMyData erases every chat and message of the caller.
func (h *ChatHandler) DeleteMyData(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	n, err := h.eraser.EraseUserData(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"chats_deleted": n})
}
