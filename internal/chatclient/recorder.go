package chatclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// RecorderState is the audio recorder lifecycle.
type RecorderState string

const (
	RecorderIdle      RecorderState = "idle"
	RecorderRecording RecorderState = "recording"
	RecorderReviewing RecorderState = "reviewing"
)

var (
	// ErrMicrophone wraps capture device failures.
	ErrMicrophone = errors.New("microphone unavailable")
	// ErrRecorderState means the action is not valid in the current state.
	ErrRecorderState = errors.New("invalid recorder state")
)

// CaptureConstraints describe the requested audio input.
type CaptureConstraints struct {
	Channels         int
	SampleRate       int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// VoiceCapture is the fixed constraint set for voice messages.
var VoiceCapture = CaptureConstraints{
	Channels:         1,
	SampleRate:       44100,
	EchoCancellation: true,
	NoiseSuppression: true,
	AutoGainControl:  true,
}

// Clip is a finished recording.
type Clip struct {
	Data        []byte
	ContentType string
	Duration    time.Duration
}

// Microphone opens capture sessions.
type Microphone interface {
	Start(c CaptureConstraints) (Recording, error)
}

// Recording is an active capture.
type Recording interface {
	Stop() (Clip, error)
}

// Recorder drives idle -> recording -> reviewing -> idle.
type Recorder struct {
	mic Microphone

	mu    sync.Mutex
	state RecorderState
	rec   Recording
	clip  Clip
}

// NewRecorder creates an idle recorder.
func NewRecorder(mic Microphone) *Recorder {
	return &Recorder{mic: mic, state: RecorderIdle}
}

// State returns the current state.
func (r *Recorder) State() RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start opens the microphone. A device error is returned immediately and the
// recorder stays idle.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RecorderIdle {
		return fmt.Errorf("%w: cannot start while %s", ErrRecorderState, r.state)
	}
	rec, err := r.mic.Start(VoiceCapture)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMicrophone, err)
	}
	r.rec = rec
	r.state = RecorderRecording
	return nil
}

// Stop ends capture and holds the clip for review.
func (r *Recorder) Stop() (Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RecorderRecording {
		return Clip{}, fmt.Errorf("%w: cannot stop while %s", ErrRecorderState, r.state)
	}
	clip, err := r.rec.Stop()
	r.rec = nil
	if err != nil {
		r.state = RecorderIdle
		return Clip{}, fmt.Errorf("%w: %v", ErrMicrophone, err)
	}
	r.clip = clip
	r.state = RecorderReviewing
	return clip, nil
}

// Discard drops the current recording or clip.
func (r *Recorder) Discard() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec != nil {
		_, _ = r.rec.Stop()
		r.rec = nil
	}
	r.clip = Clip{}
	r.state = RecorderIdle
}

// Confirm sends the reviewed clip. On failure the clip stays in review.
func (r *Recorder) Confirm(ctx context.Context, composer *Composer) error {
	r.mu.Lock()
	if r.state != RecorderReviewing {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: cannot send while %s", ErrRecorderState, state)
	}
	clip := r.clip
	r.mu.Unlock()

	if err := composer.SendAudio(ctx, clip); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.clip = Clip{}
	r.state = RecorderIdle
	return nil
}
