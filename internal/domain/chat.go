// Package domain contains core domain types for the amora chat backend.
package domain

import (
	"sort"
	"strings"
	"time"
)

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderUser SenderType = "user"
	SenderAI   SenderType = "ai"
)

// Valid reports whether s is a known sender type.
func (s SenderType) Valid() bool {
	return s == SenderUser || s == SenderAI
}

// MessageType identifies the payload carried in Message.Content.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageAudio MessageType = "audio"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t == MessageText || t == MessageAudio
}

// ParseMessageType maps an optional wire value to a MessageType.
// An empty value means text.
func ParseMessageType(v string) (MessageType, bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return MessageText, true
	}
	t := MessageType(v)
	return t, t.Valid()
}

// Chat is the conversation container between one user and one profile.
type Chat struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	WomanID   string    `json:"woman_id"`
	CreatedAt time.Time `json:"created_at"`
}

// OwnedBy returns true if the chat belongs to the given profile.
func (c *Chat) OwnedBy(womanID string) bool {
	return c != nil && womanID != "" && c.WomanID == womanID
}

// Message is an append-only chat entry. Content is text or an audio URL.
type Message struct {
	ID          string      `json:"id"`
	ChatID      string      `json:"chat_id"`
	SenderType  SenderType  `json:"sender_type"`
	MessageType MessageType `json:"message_type"`
	Content     string      `json:"content"`
	CreatedAt   time.Time   `json:"created_at"`
	Seq         int64       `json:"seq"`
}

// Before reports whether m sorts before other in chat order:
// created_at ascending, ties broken by insertion sequence then id.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	if m.Seq != other.Seq {
		return m.Seq < other.Seq
	}
	return m.ID < other.ID
}

// SortMessages orders messages in place using Message.Before.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Before(&msgs[j])
	})
}
