package api

import (
	"context"
	"net/http"

	"github.com/ashureev/amora/internal/domain"
	"github.com/ashureev/amora/internal/identity"
	"github.com/go-chi/chi/v5"
)

// APIKeyHeader carries the per-profile key on webhook calls.
const APIKeyHeader = "x-api-key"

// FunctionsPrefix is where the edge functions are mounted. Any origin may
// call them.
const FunctionsPrefix = "/functions/v1"

// Messenger is the messaging service used by the HTTP layer.
type Messenger interface {
	Send(ctx context.Context, userID, chatID string, msgType domain.MessageType, content string) (*domain.Message, error)
	Deliver(ctx context.Context, rawKey, chatID string, msgType domain.MessageType, content string) (*domain.Message, error)
	SetTyping(ctx context.Context, rawKey, chatID string, isTyping bool) error
	Messages(ctx context.Context, userID, chatID string) ([]domain.Message, error)
}

type messageRequest struct {
	ChatID      string `json:"chatId" validate:"required"`
	Message     string `json:"message" validate:"required"`
	MessageType string `json:"messageType" validate:"omitempty,oneof=text audio"`
}

type typingRequest struct {
	ChatID   string `json:"chatId" validate:"required"`
	IsTyping *bool  `json:"isTyping" validate:"required"`
}

// FunctionsHandler serves the edge function endpoints under /functions/v1.
type FunctionsHandler struct {
	msgs    Messenger
	users   *identity.Verifier
	limiter *RateLimiter
}

// NewFunctionsHandler creates the edge function handler. limiter may be nil.
func NewFunctionsHandler(msgs Messenger, users *identity.Verifier, limiter *RateLimiter) *FunctionsHandler {
	return &FunctionsHandler{msgs: msgs, users: users, limiter: limiter}
}

// RegisterRoutes registers the edge function routes.
func (h *FunctionsHandler) RegisterRoutes(r chi.Router) {
	r.Route(FunctionsPrefix, func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(APIKeyRateLimit(h.limiter))
			r.Post("/receive-message", h.ReceiveMessage)
			r.Post("/set-typing-status", h.SetTypingStatus)
		})
		r.With(identity.Middleware(h.users)).Post("/send-message", h.SendMessage)
	})
}

// ReceiveMessage inserts an AI reply delivered by a profile's backend.
func (h *FunctionsHandler) ReceiveMessage(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(APIKeyHeader)
	if key == "" {
		writeError(w, r, domain.ErrMissingAPIKey)
		return
	}

	var req messageRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	msgType, _ := domain.ParseMessageType(req.MessageType)

	msg, err := h.msgs.Deliver(r.Context(), key, req.ChatID, msgType, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, success{Success: true, Message: "Message received successfully", ID: msg.ID})
}

// SetTypingStatus broadcasts a typing signal for a chat.
func (h *FunctionsHandler) SetTypingStatus(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(APIKeyHeader)
	if key == "" {
		writeError(w, r, domain.ErrMissingAPIKey)
		return
	}

	var req typingRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.msgs.SetTyping(r.Context(), key, req.ChatID, *req.IsTyping); err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, success{Success: true, Message: "Typing status updated"})
}

// SendMessage persists a user message and relays it to the profile's backend.
func (h *FunctionsHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req messageRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	msgType, _ := domain.ParseMessageType(req.MessageType)

	msg, err := h.msgs.Send(r.Context(), userID, req.ChatID, msgType, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, success{Success: true, Message: "Message sent", ID: msg.ID})
}
