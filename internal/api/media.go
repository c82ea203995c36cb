package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ashureev/amora/internal/identity"
	"github.com/ashureev/amora/internal/media"
	"github.com/go-chi/chi/v5"
)

// AudioStore persists uploaded clips.
type AudioStore interface {
	SaveAudio(ctx context.Context, userID, contentType string, r io.Reader) (string, error)
	MaxBytes() int64
	Dir() string
}

// MediaHandler accepts audio uploads and serves stored clips.
type MediaHandler struct {
	store AudioStore
}

// NewMediaHandler creates a media handler.
func NewMediaHandler(store AudioStore) *MediaHandler {
	return &MediaHandler{store: store}
}

// RegisterUpload registers the upload route. Callers wrap r with user auth.
func (h *MediaHandler) RegisterUpload(r chi.Router) {
	r.Post("/api/media/audio", h.UploadAudio)
}

// RegisterFiles registers the public clip route.
func (h *MediaHandler) RegisterFiles(r chi.Router) {
	files := http.StripPrefix("/media/", http.FileServer(http.Dir(h.store.Dir())))
	r.Get("/media/*", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}

// UploadAudio stores the multipart "audio" part and returns its URL.
func (h *MediaHandler) UploadAudio(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, h.store.MaxBytes()+64<<10)

	file, header, err := r.FormFile("audio")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, media.ErrTooLarge)
			return
		}
		Error(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer func() { _ = file.Close() }()

	url, err := h.store.SaveAudio(r.Context(), userID, header.Header.Get("Content-Type"), file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"url": url})
}
