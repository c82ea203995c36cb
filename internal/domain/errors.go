package domain

import "errors"

var (
	// ErrAccessDenied means the user has neither an active subscription nor free access.
	ErrAccessDenied = errors.New("access denied: no active subscription or free access period")

	// ErrChatOwnership means the chat does not belong to the caller.
	ErrChatOwnership = errors.New("chat does not belong to this profile")

	// ErrChatForbidden means the user is not a participant of the chat.
	ErrChatForbidden = errors.New("chat does not belong to this user")

	// ErrChatNotFound means no chat exists with the requested id.
	ErrChatNotFound = errors.New("chat not found")

	// ErrProfileNotFound means no profile exists with the requested id.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrMissingAPIKey means the x-api-key header was absent.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidAPIKey means the key is unknown, malformed or inactive.
	ErrInvalidAPIKey = errors.New("invalid API key")

	// ErrEmptyMessage means the message content was blank after trimming.
	ErrEmptyMessage = errors.New("message is required")

	// ErrInvalidMessageType means the message type is neither text nor audio.
	ErrInvalidMessageType = errors.New("invalid message type")
)
