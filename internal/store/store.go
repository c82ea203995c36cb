// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/amora/internal/domain"
)

// Repository defines the interface for persisting chats, messages, profiles,
// API keys and access records.
//
// Lookups that find nothing return (nil, nil).
type Repository interface {
	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// CreateProfile inserts a profile. ID and CreatedAt are filled when empty.
	CreateProfile(ctx context.Context, profile *domain.Profile) error

	// GetProfile retrieves a profile by id.
	GetProfile(ctx context.Context, id string) (*domain.Profile, error)

	// ListProfiles returns all profiles ordered by name.
	ListProfiles(ctx context.Context) ([]*domain.Profile, error)

	// GetChat retrieves a chat by id.
	GetChat(ctx context.Context, id string) (*domain.Chat, error)

	// GetChatForPair retrieves the chat between a user and a profile.
	GetChatForPair(ctx context.Context, userID, womanID string) (*domain.Chat, error)

	// CreateChat inserts the chat for (user, profile) unless one already exists
	// and returns the stored row.
	CreateChat(ctx context.Context, userID, womanID string) (*domain.Chat, error)

	// InsertMessage appends a message. ID, CreatedAt and Seq are assigned.
	InsertMessage(ctx context.Context, msg *domain.Message) error

	// ListMessages returns a chat's messages ordered by created_at, then seq.
	ListMessages(ctx context.Context, chatID string) ([]domain.Message, error)

	// DeleteUserData removes every chat (and cascaded message) of a user and
	// returns the erased chat ids.
	DeleteUserData(ctx context.Context, userID string) (chatIDs []string, err error)

	// CreateAPIKey stores a hashed API key.
	CreateAPIKey(ctx context.Context, key *domain.APIKey) error

	// FindAPIKeysByPrefix returns all keys, active or not, with the given prefix.
	FindAPIKeysByPrefix(ctx context.Context, prefix string) ([]*domain.APIKey, error)

	// TouchAPIKey records the last time a key was used.
	TouchAPIKey(ctx context.Context, id string, at time.Time) error

	// SetAPIKeyActive activates or revokes a key.
	SetAPIKeyActive(ctx context.Context, id string, active bool) error

	// ListAPIKeys returns the keys of one profile.
	ListAPIKeys(ctx context.Context, womanID string) ([]*domain.APIKey, error)

	// UpsertSubscription creates or updates a subscription by id.
	UpsertSubscription(ctx context.Context, sub *domain.Subscription) error

	// ActiveSubscription returns a subscription granting access at the given time.
	ActiveSubscription(ctx context.Context, userID, womanID string, at time.Time) (*domain.Subscription, error)

	// CreateFreeAccess stores a free access window.
	CreateFreeAccess(ctx context.Context, period *domain.FreeAccessPeriod) error

	// ActiveFreeAccess returns a free access window for the profile (or for all
	// profiles) containing the given time.
	ActiveFreeAccess(ctx context.Context, userID, womanID string, at time.Time) (*domain.FreeAccessPeriod, error)
}
