package chatclient

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/amora/internal/domain"
)

type fakeSource struct {
	mu   sync.Mutex
	msgs []domain.Message
	err  error
	hits int
}

func (f *fakeSource) ListMessages(_ context.Context, _ string) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Message, len(f.msgs))
	copy(out, f.msgs)
	return out, nil
}

func (f *fakeSource) add(msgs ...domain.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
}

func (f *fakeSource) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits
}

type renderCall struct {
	msgs   []domain.Message
	scroll ScrollMode
}

type fakeRenderer struct {
	mu    sync.Mutex
	calls []renderCall
}

func (r *fakeRenderer) Render(_ string, msgs []domain.Message, scroll ScrollMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, renderCall{msgs: msgs, scroll: scroll})
}

func (r *fakeRenderer) last() renderCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

type fakeAlerts struct {
	mu       sync.Mutex
	tones    int
	notified []string
}

func (a *fakeAlerts) PlayTone() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tones++
}

func (a *fakeAlerts) Notify(_ string, msg domain.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notified = append(a.notified, msg.ID)
}

var base = time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

func msg(id string, sender domain.SenderType, offset time.Duration, seq int64) domain.Message {
	return domain.Message{
		ID:          id,
		ChatID:      "chat-1",
		SenderType:  sender,
		MessageType: domain.MessageText,
		Content:     "content " + id,
		CreatedAt:   base.Add(offset),
		Seq:         seq,
	}
}

func ids(msgs []domain.Message) string {
	out := ""
	for i, m := range msgs {
		if i > 0 {
			out += ","
		}
		out += m.ID
	}
	return out
}

func TestResyncOrdersAndDeduplicates(t *testing.T) {
	src := &fakeSource{}
	src.add(
		msg("c", domain.SenderUser, 2*time.Second, 3),
		msg("a", domain.SenderUser, 0, 1),
		msg("b", domain.SenderAI, 0, 2),
		msg("a", domain.SenderUser, 0, 1),
	)
	r := &fakeRenderer{}
	v := NewView("chat-1", src, r, nil, nil, DefaultSettings(), nil)

	// Feed-triggered and poll-triggered resyncs interleave.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = v.Resync(context.Background())
		}()
	}
	wg.Wait()

	if got := ids(v.Messages()); got != "a,b,c" {
		t.Fatalf("expected a,b,c, got %s", got)
	}
	if got := ids(r.last().msgs); got != "a,b,c" {
		t.Fatalf("rendered %s", got)
	}
}

func TestResyncAlertsOnlyForNewAIMessages(t *testing.T) {
	tests := []struct {
		name       string
		openChat   string
		focused    bool
		wantNotify bool
	}{
		{"same chat focused", "chat-1", true, false},
		{"same chat unfocused", "chat-1", false, true},
		{"different chat", "chat-2", true, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			src := &fakeSource{}
			src.add(msg("m1", domain.SenderAI, 0, 1))
			alerts := &fakeAlerts{}
			focus := NewFocus()
			focus.SetOpenChat(tc.openChat)
			focus.SetFocused(tc.focused)
			v := NewView("chat-1", src, &fakeRenderer{}, alerts, focus, DefaultSettings(), nil)

			// Initial load never alerts.
			if err := v.Resync(context.Background()); err != nil {
				t.Fatalf("Resync failed: %v", err)
			}
			if len(alerts.notified) != 0 {
				t.Fatal("initial load must not notify")
			}

			src.add(msg("m2", domain.SenderUser, time.Second, 2))
			_ = v.Resync(context.Background())
			if len(alerts.notified) != 0 || alerts.tones != 0 {
				t.Fatal("user messages must not alert")
			}

			src.add(msg("m3", domain.SenderAI, 2*time.Second, 3))
			_ = v.Resync(context.Background())
			_ = v.Resync(context.Background())

			if alerts.tones != 1 {
				t.Fatalf("expected one tone for m3, got %d", alerts.tones)
			}
			if tc.wantNotify {
				if len(alerts.notified) != 1 || alerts.notified[0] != "m3" {
					t.Fatalf("expected one notification for m3, got %v", alerts.notified)
				}
			} else if len(alerts.notified) != 0 {
				t.Fatalf("expected notification suppressed, got %v", alerts.notified)
			}
		})
	}
}

func TestResyncRespectsSettings(t *testing.T) {
	src := &fakeSource{}
	alerts := &fakeAlerts{}
	focus := NewFocus()
	settings := DefaultSettings()
	settings.SoundEnabled = false
	v := NewView("chat-1", src, nil, alerts, focus, settings, nil)

	_ = v.Resync(context.Background())
	src.add(msg("m1", domain.SenderAI, 0, 1))
	_ = v.Resync(context.Background())

	if alerts.tones != 0 || len(alerts.notified) != 1 {
		t.Fatalf("expected notification without tone, got tones=%d notified=%v", alerts.tones, alerts.notified)
	}
}

func TestResyncScrollModes(t *testing.T) {
	src := &fakeSource{}
	r := &fakeRenderer{}
	v := NewView("chat-1", src, r, nil, nil, DefaultSettings(), nil)

	_ = v.Resync(context.Background())
	if r.last().scroll != ScrollNone {
		t.Fatalf("empty render should not scroll, got %v", r.last().scroll)
	}

	src.add(msg("m1", domain.SenderUser, 0, 1))
	_ = v.Resync(context.Background())
	if r.last().scroll != ScrollInstant {
		t.Fatalf("first non-empty render should jump, got %v", r.last().scroll)
	}

	_ = v.Resync(context.Background())
	if r.last().scroll != ScrollNone {
		t.Fatalf("unchanged render should not scroll, got %v", r.last().scroll)
	}

	src.add(msg("m2", domain.SenderAI, time.Second, 2))
	_ = v.Resync(context.Background())
	if r.last().scroll != ScrollAnimated {
		t.Fatalf("growth after settle should animate, got %v", r.last().scroll)
	}
}

func TestResyncClearsTypingOnAIMessage(t *testing.T) {
	src := &fakeSource{}
	typing := NewTypingIndicator(time.Minute, nil)
	v := NewView("chat-1", src, nil, nil, nil, DefaultSettings(), typing)
	_ = v.Resync(context.Background())

	typing.Set(true)
	src.add(msg("m1", domain.SenderAI, 0, 1))
	_ = v.Resync(context.Background())

	if typing.On() {
		t.Fatal("expected typing indicator to clear on AI arrival")
	}
}

func TestResyncErrorKeepsList(t *testing.T) {
	src := &fakeSource{}
	src.add(msg("m1", domain.SenderUser, 0, 1))
	v := NewView("chat-1", src, nil, nil, nil, DefaultSettings(), nil)
	_ = v.Resync(context.Background())

	src.err = errors.New("offline")
	if err := v.Resync(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(v.Messages()) != 1 {
		t.Fatal("failed resync must keep the last list")
	}
}

func TestClosedViewDiscardsResults(t *testing.T) {
	src := &fakeSource{}
	r := &fakeRenderer{}
	v := NewView("chat-1", src, r, nil, nil, DefaultSettings(), nil)
	v.Close()
	_ = v.Resync(context.Background())
	if len(r.calls) != 0 || src.calls() != 0 {
		t.Fatal("closed view must not fetch or render")
	}
}

func TestNormalizeKeepsLastCopy(t *testing.T) {
	in := make([]domain.Message, 0, 10)
	for i := 0; i < 5; i++ {
		m := msg("m"+strconv.Itoa(i%2), domain.SenderUser, time.Duration(i%2)*time.Second, int64(i%2))
		m.Content = "v" + strconv.Itoa(i)
		in = append(in, m)
	}
	out := normalizeMessages(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 unique messages, got %d", len(out))
	}
	if out[0].Content != "v4" || out[1].Content != "v3" {
		t.Fatalf("expected last copies, got %q %q", out[0].Content, out[1].Content)
	}
}
