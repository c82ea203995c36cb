package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/ashureev/amora/internal/domain"
)

// APIError is a non-2xx server response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// IsAccessDenied reports whether err is a 403 from the server.
func IsAccessDenied(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusForbidden
}

// Client calls the chat server on behalf of a session.
type Client struct {
	session Session
	http    *http.Client
}

// NewClient creates an API client. httpClient may be nil.
func NewClient(session Session, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	session.BaseURL = strings.TrimRight(session.BaseURL, "/")
	return &Client{session: session, http: httpClient}
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.session.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+c.session.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out interface{}) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(raw), out)
}

// OpenChat returns the chat with a profile, creating it if access allows.
func (c *Client) OpenChat(ctx context.Context, womanID string) (*domain.Chat, domain.AccessGrant, error) {
	var out struct {
		Chat   *domain.Chat       `json:"chat"`
		Access domain.AccessGrant `json:"access"`
	}
	err := c.postJSON(ctx, "/api/chats", map[string]string{"womanId": womanID}, &out)
	return out.Chat, out.Access, err
}

// Access returns the current grant for a profile.
func (c *Client) Access(ctx context.Context, womanID string) (domain.AccessGrant, error) {
	var grant domain.AccessGrant
	err := c.do(ctx, http.MethodGet, "/api/access/"+url.PathEscape(womanID), "", nil, &grant)
	return grant, err
}

// ListMessages returns the canonical message list of a chat.
func (c *Client) ListMessages(ctx context.Context, chatID string) ([]domain.Message, error) {
	var out struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/chats/"+url.PathEscape(chatID)+"/messages", "", nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// SendMessage calls the send-message function and returns the new message id.
func (c *Client) SendMessage(ctx context.Context, chatID string, msgType domain.MessageType, content string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := c.postJSON(ctx, "/functions/v1/send-message", map[string]string{
		"chatId":      chatID,
		"message":     content,
		"messageType": string(msgType),
	}, &out)
	return out.ID, err
}

// UploadAudio stores a clip and returns its public URL.
func (c *Client) UploadAudio(ctx context.Context, clip Clip) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="audio"; filename="clip"`)
	h.Set("Content-Type", clip.ContentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(clip.Data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/media/audio", mw.FormDataContentType(), &buf, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// FeedURL returns the websocket URL of a chat feed.
func (c *Client) FeedURL(chatID string) string {
	base := c.session.BaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws/chats/" + url.PathEscape(chatID) + "?token=" + url.QueryEscape(c.session.Token)
}
