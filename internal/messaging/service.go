// Package messaging implements the send and delivery paths of a chat.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/amora/internal/domain"
	"github.com/ashureev/amora/internal/realtime"
	"github.com/ashureev/amora/internal/relay"
)

// Store is the subset of the repository used by the service.
type Store interface {
	GetChat(ctx context.Context, id string) (*domain.Chat, error)
	GetProfile(ctx context.Context, id string) (*domain.Profile, error)
	InsertMessage(ctx context.Context, msg *domain.Message) error
	ListMessages(ctx context.Context, chatID string) ([]domain.Message, error)
	DeleteUserData(ctx context.Context, userID string) ([]string, error)
}

// AccessGate re-validates a user's access before every send.
type AccessGate interface {
	Require(ctx context.Context, userID, womanID string) error
}

// KeyAuthenticator resolves inbound API keys.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, raw string) (*domain.APIKey, error)
	MarkUsed(ctx context.Context, key *domain.APIKey) error
}

// Publisher sends feed events.
type Publisher interface {
	Publish(ctx context.Context, ev realtime.Event) error
}

// Relayer hands a job to the webhook relay without waiting for it.
type Relayer interface {
	Dispatch(job relay.Job) error
}

// Service coordinates persistence, feed events and the webhook relay.
type Service struct {
	store  Store
	access AccessGate
	keys   KeyAuthenticator
	pub    Publisher
	relay  Relayer
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a messaging service.
func NewService(store Store, access AccessGate, keys KeyAuthenticator, pub Publisher, relayer Relayer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		access: access,
		keys:   keys,
		pub:    pub,
		relay:  relayer,
		logger: logger.With("component", "messaging"),
		now:    time.Now,
	}
}

func normalize(msgType domain.MessageType, content string) (domain.MessageType, string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", "", domain.ErrEmptyMessage
	}
	if msgType == "" {
		msgType = domain.MessageText
	}
	if !msgType.Valid() {
		return "", "", domain.ErrInvalidMessageType
	}
	return msgType, content, nil
}

// Send persists a user-authored message and relays it to the profile's
// webhook. Access is checked before anything is written; relay failures are
// logged and never returned.
func (s *Service) Send(ctx context.Context, userID, chatID string, msgType domain.MessageType, content string) (*domain.Message, error) {
	msgType, content, err := normalize(msgType, content)
	if err != nil {
		return nil, err
	}

	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}
	if chat == nil {
		return nil, domain.ErrChatNotFound
	}
	if chat.UserID != userID {
		return nil, domain.ErrChatForbidden
	}

	if err := s.access.Require(ctx, userID, chat.WomanID); err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ChatID:      chat.ID,
		SenderType:  domain.SenderUser,
		MessageType: msgType,
		Content:     content,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	s.logger.Info("Message sent", "chat_id", chat.ID, "message_id", msg.ID, "type", msgType)

	s.publish(ctx, realtime.Event{
		Type:       realtime.EventMessageInserted,
		ChatID:     chat.ID,
		MessageID:  msg.ID,
		SenderType: string(domain.SenderUser),
		WomanID:    chat.WomanID,
		At:         msg.CreatedAt,
	})
	s.dispatchRelay(ctx, chat, userID, msg)
	return msg, nil
}

// dispatchRelay enqueues the webhook call. It never blocks on the network.
func (s *Service) dispatchRelay(ctx context.Context, chat *domain.Chat, userID string, msg *domain.Message) {
	if s.relay == nil {
		return
	}
	profile, err := s.store.GetProfile(ctx, chat.WomanID)
	if err != nil {
		s.logger.Warn("Relay skipped, profile lookup failed", "chat_id", chat.ID, "error", err)
		return
	}
	if !profile.HasWebhook() {
		s.logger.Debug("Relay skipped, profile has no webhook", "woman_id", chat.WomanID)
		return
	}
	if err := s.relay.Dispatch(relay.NewJob(profile, userID, msg)); err != nil {
		s.logger.Warn("Relay not queued", "chat_id", chat.ID, "error", err)
	}
}

// authorizeChat authenticates the key and checks the chat belongs to its profile.
func (s *Service) authorizeChat(ctx context.Context, rawKey, chatID string) (*domain.APIKey, *domain.Chat, error) {
	key, err := s.keys.Authenticate(ctx, rawKey)
	if err != nil {
		return nil, nil, err
	}
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, nil, fmt.Errorf("load chat: %w", err)
	}
	// Unknown chats are reported as ownership failures.
	if !chat.OwnedBy(key.WomanID) {
		s.logger.Warn("Chat ownership mismatch", "chat_id", chatID, "woman_id", key.WomanID)
		return nil, nil, domain.ErrChatOwnership
	}
	return key, chat, nil
}

// Deliver inserts an AI reply on behalf of the profile owning rawKey.
func (s *Service) Deliver(ctx context.Context, rawKey, chatID string, msgType domain.MessageType, content string) (*domain.Message, error) {
	key, chat, err := s.authorizeChat(ctx, rawKey, chatID)
	if err != nil {
		return nil, err
	}
	msgType, content, err = normalize(msgType, content)
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ChatID:      chat.ID,
		SenderType:  domain.SenderAI,
		MessageType: msgType,
		Content:     content,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.keys.MarkUsed(ctx, key); err != nil {
		s.logger.Warn("Failed to update api key last use", "key_id", key.ID, "error", err)
	}
	s.logger.Info("Message received", "chat_id", chat.ID, "message_id", msg.ID, "woman_id", key.WomanID)

	s.publish(ctx, realtime.Event{
		Type:       realtime.EventMessageInserted,
		ChatID:     chat.ID,
		MessageID:  msg.ID,
		SenderType: string(domain.SenderAI),
		WomanID:    chat.WomanID,
		At:         msg.CreatedAt,
	})
	s.publish(ctx, realtime.TypingEvent(chat.ID, chat.WomanID, false, msg.CreatedAt))
	return msg, nil
}

// SetTyping broadcasts a typing signal. Nothing is persisted.
func (s *Service) SetTyping(ctx context.Context, rawKey, chatID string, isTyping bool) error {
	_, chat, err := s.authorizeChat(ctx, rawKey, chatID)
	if err != nil {
		return err
	}
	s.publish(ctx, realtime.TypingEvent(chat.ID, chat.WomanID, isTyping, s.now().UTC()))
	return nil
}

// Messages returns the canonical ordered list of a chat for its user.
func (s *Service) Messages(ctx context.Context, userID, chatID string) ([]domain.Message, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}
	if chat == nil {
		return nil, domain.ErrChatNotFound
	}
	if chat.UserID != userID {
		return nil, domain.ErrChatForbidden
	}
	msgs, err := s.store.ListMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	domain.SortMessages(msgs)
	return msgs, nil
}

// EraseUserData deletes every chat of a user and closes their feeds on every
// node. It returns the number of chats removed.
func (s *Service) EraseUserData(ctx context.Context, userID string) (int, error) {
	chatIDs, err := s.store.DeleteUserData(ctx, userID)
	if err != nil {
		return 0, err
	}
	at := s.now().UTC()
	for _, id := range chatIDs {
		s.publish(ctx, realtime.ChatClosedEvent(id, at))
	}
	s.logger.Info("User data erased", "user_id", userID, "chats_deleted", len(chatIDs))
	return len(chatIDs), nil
}

// publish sends a feed event. Feed failures never fail the caller; clients
// fall back to polling.
func (s *Service) publish(ctx context.Context, ev realtime.Event) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("Failed to publish feed event", "chat_id", ev.ChatID, "type", ev.Type, "error", err)
	}
}
