package domain

import (
	"time"
)

// Profile is the counterpart a user subscribes to and chats with.
// Its replies come from an external AI backend reached through WebhookURL.
type Profile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Personality string    `json:"personality"`
	WebhookURL  string    `json:"webhook_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// HasWebhook returns true if replies can be requested for this profile.
func (p *Profile) HasWebhook() bool {
	return p != nil && p.WebhookURL != ""
}

// APIKey authorizes inbound webhook calls on behalf of one profile.
type APIKey struct {
	ID         string     `json:"id"`
	WomanID    string     `json:"woman_id"`
	KeyPrefix  string     `json:"key_prefix"`
	KeyHash    string     `json:"-"`
	Active     bool       `json:"active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
