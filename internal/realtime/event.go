// Package realtime fans out per-chat change events to websocket subscribers.
package realtime

import (
	"time"
)

// EventType names a change feed or typing event.
type EventType string

const (
	EventMessageInserted EventType = "message_inserted"
	EventTypingStart     EventType = "typing_start"
	EventTypingStop      EventType = "typing_stop"

	// EventSubscribed is sent once to a client after registration. Clients
	// treat it as the confirmation that the feed is live.
	EventSubscribed EventType = "subscribed"

	// EventPong answers a client ping.
	EventPong EventType = "pong"

	// EventChatClosed ends every feed of a chat, after the chat was erased.
	EventChatClosed EventType = "chat_closed"
)

// Event is the wire form of everything sent over a chat feed.
type Event struct {
	Type       EventType `json:"type"`
	ChatID     string    `json:"chat_id"`
	MessageID  string    `json:"message_id,omitempty"`
	SenderType string    `json:"sender_type,omitempty"`
	WomanID    string    `json:"woman_id,omitempty"`
	At         time.Time `json:"at"`
}

// TypingEvent returns the typing event for the given state.
func TypingEvent(chatID, womanID string, isTyping bool, at time.Time) Event {
	t := EventTypingStop
	if isTyping {
		t = EventTypingStart
	}
	return Event{Type: t, ChatID: chatID, WomanID: womanID, At: at}
}

// ChatClosedEvent returns the event that tears down a chat's feeds.
func ChatClosedEvent(chatID string, at time.Time) Event {
	return Event{Type: EventChatClosed, ChatID: chatID, At: at}
}
