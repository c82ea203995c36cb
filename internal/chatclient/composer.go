package chatclient

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ashureev/amora/internal/domain"
)

var (
	// ErrNoChat means no chat is open.
	ErrNoChat = errors.New("no chat selected")
	// ErrSendInFlight means a previous send has not finished.
	ErrSendInFlight = errors.New("a message is already being sent")
)

// Sender delivers outbound messages.
type Sender interface {
	SendMessage(ctx context.Context, chatID string, msgType domain.MessageType, content string) (string, error)
	UploadAudio(ctx context.Context, clip Clip) (string, error)
}

// Composer holds the input box of the open chat. Messages are not inserted
// locally; they appear when the next resync returns them.
type Composer struct {
	sender Sender

	mu       sync.Mutex
	chatID   string
	input    string
	inFlight bool
}

// NewComposer creates a composer with no chat.
func NewComposer(sender Sender) *Composer {
	return &Composer{sender: sender}
}

// SetChat changes the target chat.
func (c *Composer) SetChat(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chatID = chatID
}

// SetInput replaces the input text.
func (c *Composer) SetInput(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = text
}

// Input returns the current input text.
func (c *Composer) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// Sending reports whether a send is in flight.
func (c *Composer) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

func (c *Composer) begin() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chatID == "" {
		return "", ErrNoChat
	}
	if c.inFlight {
		return "", ErrSendInFlight
	}
	c.inFlight = true
	return c.chatID, nil
}

func (c *Composer) end(clearInput bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false
	if clearInput {
		c.input = ""
	}
}

// SendText sends the trimmed input as a text message and clears the input on
// success.
func (c *Composer) SendText(ctx context.Context) error {
	text := strings.TrimSpace(c.Input())
	if text == "" {
		return domain.ErrEmptyMessage
	}
	chatID, err := c.begin()
	if err != nil {
		return err
	}
	_, err = c.sender.SendMessage(ctx, chatID, domain.MessageText, text)
	c.end(err == nil)
	return err
}

// SendAudio uploads a reviewed clip and sends it as an audio message.
func (c *Composer) SendAudio(ctx context.Context, clip Clip) error {
	if len(clip.Data) == 0 {
		return domain.ErrEmptyMessage
	}
	chatID, err := c.begin()
	if err != nil {
		return err
	}
	url, err := c.sender.UploadAudio(ctx, clip)
	if err == nil {
		_, err = c.sender.SendMessage(ctx, chatID, domain.MessageAudio, url)
	}
	c.end(false)
	return err
}
