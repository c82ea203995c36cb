package chatclient

import (
	"context"
	"errors"
	"testing"
)

type fakeMic struct {
	err         error
	constraints CaptureConstraints
	stops       int
}

func (m *fakeMic) Start(c CaptureConstraints) (Recording, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.constraints = c
	return &fakeRecording{mic: m}, nil
}

type fakeRecording struct{ mic *fakeMic }

func (r *fakeRecording) Stop() (Clip, error) {
	r.mic.stops++
	return Clip{Data: []byte("audio"), ContentType: "audio/webm"}, nil
}

func TestRecorderLifecycle(t *testing.T) {
	mic := &fakeMic{}
	sender := &fakeSender{}
	composer := NewComposer(sender)
	composer.SetChat("chat-1")
	r := NewRecorder(mic)

	if _, err := r.Stop(); !errors.Is(err, ErrRecorderState) {
		t.Fatalf("expected state error, got %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if mic.constraints != VoiceCapture {
		t.Fatalf("unexpected constraints: %+v", mic.constraints)
	}
	if err := r.Start(); !errors.Is(err, ErrRecorderState) {
		t.Fatalf("expected state error on double start, got %v", err)
	}
	if _, err := r.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if r.State() != RecorderReviewing {
		t.Fatalf("expected reviewing, got %s", r.State())
	}

	sender.sendErr = errors.New("offline")
	if err := r.Confirm(context.Background(), composer); err == nil {
		t.Fatal("expected send failure")
	}
	if r.State() != RecorderReviewing {
		t.Fatalf("failed send must keep the clip, got %s", r.State())
	}

	sender.sendErr = nil
	if err := r.Confirm(context.Background(), composer); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if r.State() != RecorderIdle {
		t.Fatalf("expected idle, got %s", r.State())
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one audio message, got %d", len(sender.sent))
	}
}

func TestRecorderMicrophoneError(t *testing.T) {
	r := NewRecorder(&fakeMic{err: errors.New("permission denied")})
	if err := r.Start(); !errors.Is(err, ErrMicrophone) {
		t.Fatalf("expected ErrMicrophone, got %v", err)
	}
	if r.State() != RecorderIdle {
		t.Fatalf("expected idle, got %s", r.State())
	}
}

func TestRecorderDiscard(t *testing.T) {
	mic := &fakeMic{}
	r := NewRecorder(mic)
	_ = r.Start()
	r.Discard()
	if r.State() != RecorderIdle || mic.stops != 1 {
		t.Fatalf("expected idle with stopped capture, got %s (stops %d)", r.State(), mic.stops)
	}
	if err := r.Confirm(context.Background(), NewComposer(&fakeSender{})); !errors.Is(err, ErrRecorderState) {
		t.Fatalf("expected state error, got %v", err)
	}
}
