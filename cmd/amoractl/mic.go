package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/amora/internal/chatclient"
	"github.com/ashureev/amora/internal/media"
)

// fileMic stands in for a capture device: each recording is the contents of
// the file named by next.
type fileMic struct {
	next string
}

func (m *fileMic) Start(c chatclient.CaptureConstraints) (chatclient.Recording, error) {
	if m.next == "" {
		return nil, errors.New("no audio file given")
	}
	if _, err := os.Stat(m.next); err != nil {
		return nil, err
	}
	if c.Channels != 1 {
		return nil, fmt.Errorf("unsupported channel count %d", c.Channels)
	}
	return &fileRecording{path: m.next, started: time.Now()}, nil
}

type fileRecording struct {
	path    string
	started time.Time
}

func (r *fileRecording) Stop() (chatclient.Clip, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return chatclient.Clip{}, err
	}
	contentType, ok := media.ContentType(filepath.Ext(r.path))
	if !ok {
		return chatclient.Clip{}, fmt.Errorf("%s: %w", r.path, media.ErrUnsupportedType)
	}
	return chatclient.Clip{Data: data, ContentType: contentType, Duration: time.Since(r.started)}, nil
}
