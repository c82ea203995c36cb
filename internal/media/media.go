// Package media stores uploaded audio clips on local disk.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DefaultMaxBytes caps a single clip.
const DefaultMaxBytes = 10 << 20

var (
	// ErrUnsupportedType means the content type is not an allowed audio type.
	ErrUnsupportedType = errors.New("unsupported audio content type")
	// ErrTooLarge means the clip exceeds the size cap.
	ErrTooLarge = errors.New("audio clip too large")
	// ErrEmpty means the upload had no data.
	ErrEmpty = errors.New("audio clip is empty")
)

var extensions = map[string]string{
	"audio/webm": ".webm",
	"audio/ogg":  ".ogg",
	"audio/mpeg": ".mp3",
	"audio/wav":  ".wav",
	"audio/mp4":  ".m4a",
}

// Store writes clips under a directory and serves them under a public base URL.
type Store struct {
	dir      string
	baseURL  string
	maxBytes int64
}

// NewStore creates the media directory if needed.
func NewStore(dir, publicBaseURL string, maxBytes int64) (*Store, error) {
	if dir == "" {
		return nil, errors.New("media directory is empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create media directory: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Store{
		dir:      dir,
		baseURL:  strings.TrimRight(publicBaseURL, "/"),
		maxBytes: maxBytes,
	}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string { return s.dir }

// MaxBytes returns the size cap.
func (s *Store) MaxBytes() int64 { return s.maxBytes }

// Extension returns the file extension for an allowed content type.
func Extension(contentType string) (string, bool) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", false
	}
	ext, ok := extensions[strings.ToLower(mediaType)]
	return ext, ok
}

// ContentType returns the allowed content type for a file extension.
func ContentType(ext string) (string, bool) {
	ext = strings.ToLower(ext)
	for ct, e := range extensions {
		if e == ext {
			return ct, true
		}
	}
	return "", false
}

// SaveAudio stores a clip and returns its public URL.
func (s *Store) SaveAudio(ctx context.Context, userID, contentType string, r io.Reader) (string, error) {
	ext, ok := Extension(contentType)
	if !ok {
		return "", ErrUnsupportedType
	}

	name := uuid.NewString() + ext
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("create clip: %w", err)
	}

	n, copyErr := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		err = fmt.Errorf("write clip: %w", copyErr)
	case closeErr != nil:
		err = fmt.Errorf("close clip: %w", closeErr)
	case n == 0:
		err = ErrEmpty
	case n > s.maxBytes:
		err = ErrTooLarge
	case ctx.Err() != nil:
		err = ctx.Err()
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}

	slog.Info("Audio clip stored", "user_id", userID, "name", name, "bytes", n)
	return s.baseURL + "/media/" + name, nil
}
