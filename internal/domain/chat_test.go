package domain

import (
	"testing"
	"time"
)

func TestParseMessageType(t *testing.T) {
	tests := []struct {
		in     string
		want   MessageType
		wantOK bool
	}{
		{"", MessageText, true},
		{"  ", MessageText, true},
		{"text", MessageText, true},
		{"AUDIO", MessageAudio, true},
		{"video", MessageType("video"), false},
	}
	for _, tc := range tests {
		got, ok := ParseMessageType(tc.in)
		if got != tc.want || ok != tc.wantOK {
			t.Errorf("ParseMessageType(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestSortMessagesBreaksTies(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := []Message{
		{ID: "late", CreatedAt: at.Add(time.Second), Seq: 1},
		{ID: "b", CreatedAt: at, Seq: 3},
		{ID: "z", CreatedAt: at, Seq: 2},
		{ID: "a", CreatedAt: at, Seq: 3},
	}
	SortMessages(msgs)

	want := []string{"z", "a", "b", "late"}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, msgs[i].ID)
		}
	}
}

func TestChatOwnedBy(t *testing.T) {
	chat := &Chat{ID: "c1", UserID: "u1", WomanID: "w1"}
	if !chat.OwnedBy("w1") {
		t.Error("expected w1 to own the chat")
	}
	if chat.OwnedBy("w2") || chat.OwnedBy("") {
		t.Error("expected other profiles to be rejected")
	}
	var none *Chat
	if none.OwnedBy("w1") {
		t.Error("nil chat must not be owned")
	}
}
