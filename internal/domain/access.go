package domain

import (
	"time"
)

// Subscription statuses that grant access while the period is current.
const (
	SubscriptionActive   = "active"
	SubscriptionTrialing = "trialing"
	SubscriptionCanceled = "canceled"
	SubscriptionPastDue  = "past_due"
)

// Subscription is a billing-provider backed subscription of a user to a profile.
type Subscription struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	WomanID          string    `json:"woman_id"`
	Status           string    `json:"status"`
	CurrentPeriodEnd time.Time `json:"current_period_end"`
	CreatedAt        time.Time `json:"created_at"`
}

// ActiveAt returns true if the subscription grants access at t.
func (s *Subscription) ActiveAt(t time.Time) bool {
	if s == nil {
		return false
	}
	if s.Status != SubscriptionActive && s.Status != SubscriptionTrialing {
		return false
	}
	return t.Before(s.CurrentPeriodEnd)
}

// FreeAccessPeriod is a time window during which a user may chat without paying.
// An empty WomanID applies to every profile.
type FreeAccessPeriod struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	WomanID   string    `json:"woman_id,omitempty"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	CreatedAt time.Time `json:"created_at"`
}

// ActiveAt returns true if t falls inside [StartsAt, EndsAt).
func (f *FreeAccessPeriod) ActiveAt(t time.Time) bool {
	if f == nil {
		return false
	}
	return !t.Before(f.StartsAt) && t.Before(f.EndsAt)
}

// GrantSource names where an AccessGrant came from.
type GrantSource string

const (
	GrantNone         GrantSource = "none"
	GrantSubscription GrantSource = "subscription"
	GrantFreeAccess   GrantSource = "free_access"
)

// AccessGrant is the derived permission for a user to chat with a profile.
type AccessGrant struct {
	UserID    string      `json:"user_id"`
	WomanID   string      `json:"woman_id"`
	Allowed   bool        `json:"allowed"`
	Source    GrantSource `json:"source"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
}
