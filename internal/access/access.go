// Package access derives whether a user may chat with a profile.
package access

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/amora/internal/domain"
)

// Store is the subset of the repository needed to compute grants.
type Store interface {
	ActiveSubscription(ctx context.Context, userID, womanID string, at time.Time) (*domain.Subscription, error)
	ActiveFreeAccess(ctx context.Context, userID, womanID string, at time.Time) (*domain.FreeAccessPeriod, error)
	GetProfile(ctx context.Context, id string) (*domain.Profile, error)
	GetChatForPair(ctx context.Context, userID, womanID string) (*domain.Chat, error)
	CreateChat(ctx context.Context, userID, womanID string) (*domain.Chat, error)
}

// Checker computes AccessGrants. Results are never cached.
type Checker struct {
	store Store
	now   func() time.Time
}

// NewChecker creates a new access checker.
func NewChecker(store Store) *Checker {
	return &Checker{store: store, now: time.Now}
}

// Check returns the current grant for (user, profile).
// A subscription wins over a free access window when both exist.
func (c *Checker) Check(ctx context.Context, userID, womanID string) (domain.AccessGrant, error) {
	grant := domain.AccessGrant{UserID: userID, WomanID: womanID, Source: domain.GrantNone}
	if userID == "" || womanID == "" {
		return grant, nil
	}
	now := c.now()

	sub, err := c.store.ActiveSubscription(ctx, userID, womanID, now)
	if err != nil {
		return grant, fmt.Errorf("check subscription: %w", err)
	}
	if sub.ActiveAt(now) {
		end := sub.CurrentPeriodEnd
		grant.Allowed = true
		grant.Source = domain.GrantSubscription
		grant.ExpiresAt = &end
		return grant, nil
	}

	period, err := c.store.ActiveFreeAccess(ctx, userID, womanID, now)
	if err != nil {
		return grant, fmt.Errorf("check free access: %w", err)
	}
	if period.ActiveAt(now) {
		end := period.EndsAt
		grant.Allowed = true
		grant.Source = domain.GrantFreeAccess
		grant.ExpiresAt = &end
	}
	return grant, nil
}

// Require returns domain.ErrAccessDenied unless the user currently has access.
func (c *Checker) Require(ctx context.Context, userID, womanID string) error {
	grant, err := c.Check(ctx, userID, womanID)
	if err != nil {
		return err
	}
	if !grant.Allowed {
		return domain.ErrAccessDenied
	}
	return nil
}

// EnsureChat checks access and returns the chat for the pair, creating it on
// the first qualifying check.
func (c *Checker) EnsureChat(ctx context.Context, userID, womanID string) (*domain.Chat, domain.AccessGrant, error) {
	profile, err := c.store.GetProfile(ctx, womanID)
	if err != nil {
		return nil, domain.AccessGrant{}, err
	}
	if profile == nil {
		return nil, domain.AccessGrant{}, domain.ErrProfileNotFound
	}

	grant, err := c.Check(ctx, userID, womanID)
	if err != nil {
		return nil, grant, err
	}
	if !grant.Allowed {
		return nil, grant, domain.ErrAccessDenied
	}

	chat, err := c.store.GetChatForPair(ctx, userID, womanID)
	if err != nil {
		return nil, grant, err
	}
	if chat != nil {
		return chat, grant, nil
	}

	chat, err = c.store.CreateChat(ctx, userID, womanID)
	if err != nil {
		return nil, grant, err
	}
	slog.Info("Chat created", "chat_id", chat.ID, "user_id", userID, "woman_id", womanID, "grant", grant.Source)
	return chat, grant, nil
}
