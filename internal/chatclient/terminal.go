package chatclient

import (
	"fmt"
	"io"
	"sync"

	"github.com/ashureev/amora/internal/domain"
)

// TerminalAlerts rings the terminal bell and prints a notification line.
type TerminalAlerts struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTerminalAlerts writes alerts to w.
func NewTerminalAlerts(w io.Writer) *TerminalAlerts {
	return &TerminalAlerts{w: w}
}

// PlayTone rings the bell.
func (a *TerminalAlerts) PlayTone() {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = io.WriteString(a.w, "\a")
}

// Notify prints a one-line notification.
func (a *TerminalAlerts) Notify(chatID string, msg domain.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = fmt.Fprintf(a.w, "* new message in chat %s: %s\n", chatID, preview(msg))
}

// TerminalRenderer prints messages it has not printed before.
type TerminalRenderer struct {
	mu      sync.Mutex
	w       io.Writer
	printed map[string]struct{}
}

// NewTerminalRenderer writes the transcript to w.
func NewTerminalRenderer(w io.Writer) *TerminalRenderer {
	return &TerminalRenderer{w: w, printed: make(map[string]struct{})}
}

// Render prints new messages in list order.
func (r *TerminalRenderer) Render(_ string, msgs []domain.Message, _ ScrollMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		if _, ok := r.printed[m.ID]; ok {
			continue
		}
		r.printed[m.ID] = struct{}{}
		who := "you"
		if m.SenderType == domain.SenderAI {
			who = "them"
		}
		_, _ = fmt.Fprintf(r.w, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), who, preview(m))
	}
}

func preview(m domain.Message) string {
	if m.MessageType == domain.MessageAudio {
		return "(voice message) " + m.Content
	}
	return m.Content
}
