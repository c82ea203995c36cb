//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/amora/internal/access"
	"github.com/ashureev/amora/internal/apikey"
	"github.com/ashureev/amora/internal/domain"
	"github.com/ashureev/amora/internal/identity"
	"github.com/ashureev/amora/internal/media"
	"github.com/ashureev/amora/internal/messaging"
	"github.com/ashureev/amora/internal/realtime"
	"github.com/ashureev/amora/internal/realtime/bus"
	"github.com/ashureev/amora/internal/store"
	"github.com/coder/websocket"
	"golang.org/x/crypto/bcrypt"
)

type testEnv struct {
	srv     *httptest.Server
	repo    store.Repository
	hub     *realtime.Hub
	users   *identity.Verifier
	keys    *apikey.Service
	profile *domain.Profile
	other   *domain.Profile
	chat    *domain.Chat
	rawKey  string
}

func newTestEnv(t *testing.T, limiter *RateLimiter) *testEnv {
	t.Helper()
	ctx := context.Background()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	hub := realtime.NewHub()
	feedBus := bus.NewMemoryBus()
	t.Cleanup(func() { _ = feedBus.Close() })
	if err := feedBus.StartForwarder(ctx, hub.Broadcast); err != nil {
		t.Fatalf("StartForwarder failed: %v", err)
	}

	users := identity.NewVerifier("api-secret", "")
	keys := apikey.NewService(repo).WithCost(bcrypt.MinCost)
	checker := access.NewChecker(repo)
	svc := messaging.NewService(repo, checker, keys, feedBus, nil, nil)
	mediaStore, err := media.NewStore(filepath.Join(t.TempDir(), "media"), "http://media.test", 1024)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	handler := NewRouter(Routes{
		Users:          users,
		Health:         NewHealthHandler(repo),
		Functions:      NewFunctionsHandler(svc, users, limiter),
		Chats:          NewChatHandler(checker, svc, svc),
		Media:          NewMediaHandler(mediaStore),
		Feed:           realtime.NewWebSocketHandler(repo, hub, "*", true),
		AllowedOrigins: []string{"*"},
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	env := &testEnv{srv: srv, repo: repo, hub: hub, users: users, keys: keys}
	env.profile = &domain.Profile{Name: "Alice", Personality: "warm"}
	env.other = &domain.Profile{Name: "Bea", Personality: "dry"}
	for _, p := range []*domain.Profile{env.profile, env.other} {
		if err := repo.CreateProfile(ctx, p); err != nil {
			t.Fatalf("CreateProfile failed: %v", err)
		}
	}
	env.chat, err = repo.CreateChat(ctx, "user-1", env.profile.ID)
	if err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}
	env.rawKey, _, err = keys.Issue(ctx, env.profile.ID)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	return env
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.users.Sign(userID, "", time.Minute)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path string, headers map[string]string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (e *testEnv) messages(t *testing.T, chatID string) []domain.Message {
	t.Helper()
	msgs, err := e.repo.ListMessages(context.Background(), chatID)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	return msgs
}

func (e *testEnv) grantFreeAccess(t *testing.T, userID string) {
	t.Helper()
	now := time.Now()
	err := e.repo.CreateFreeAccess(context.Background(), &domain.FreeAccessPeriod{
		UserID:   userID,
		WomanID:  e.profile.ID,
		StartsAt: now.Add(-time.Hour),
		EndsAt:   now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateFreeAccess failed: %v", err)
	}
}

func TestReceiveMessageInsertsAIRow(t *testing.T) {
	env := newTestEnv(t, nil)

	code, body := env.do(t, http.MethodPost, "/functions/v1/receive-message",
		map[string]string{APIKeyHeader: env.rawKey},
		map[string]string{"chatId": env.chat.ID, "message": "hi"})
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", code, body)
	}
	if body["success"] != true || body["message"] != "Message received successfully" {
		t.Fatalf("unexpected body %v", body)
	}

	msgs := env.messages(t, env.chat.ID)
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one row, got %d", len(msgs))
	}
	if msgs[0].SenderType != domain.SenderAI || msgs[0].Content != "hi" {
		t.Fatalf("unexpected row %+v", msgs[0])
	}

	keys, err := env.repo.ListAPIKeys(context.Background(), env.profile.ID)
	if err != nil || len(keys) != 1 || keys[0].LastUsedAt == nil {
		t.Fatalf("expected last_used_at to be set, got %+v (err %v)", keys, err)
	}
}

func TestReceiveMessageRejectsCrossProfileChat(t *testing.T) {
	env := newTestEnv(t, nil)
	foreign, err := env.repo.CreateChat(context.Background(), "user-2", env.other.ID)
	if err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}

	code, body := env.do(t, http.MethodPost, "/functions/v1/receive-message",
		map[string]string{APIKeyHeader: env.rawKey},
		map[string]string{"chatId": foreign.ID, "message": "injected"})
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %v", code, body)
	}
	if _, ok := body["error"]; !ok {
		t.Fatalf("expected error body, got %v", body)
	}
	if n := len(env.messages(t, foreign.ID)); n != 0 {
		t.Fatalf("expected zero rows, got %d", n)
	}
}

func TestReceiveMessageAuthErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	tests := []struct {
		name string
		key  string
		want int
	}{
		{"missing key", "", http.StatusUnauthorized},
		{"garbage key", "nope", http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			headers := map[string]string{}
			if tc.key != "" {
				headers[APIKeyHeader] = tc.key
			}
			code, _ := env.do(t, http.MethodPost, "/functions/v1/receive-message", headers,
				map[string]string{"chatId": env.chat.ID, "message": "hi"})
			if code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, code)
			}
		})
	}
	if n := len(env.messages(t, env.chat.ID)); n != 0 {
		t.Fatalf("expected zero rows, got %d", n)
	}
}

func TestSetTypingStatusRevokedKeyBroadcastsNothing(t *testing.T) {
	env := newTestEnv(t, nil)
	client := env.hub.Subscribe(env.chat.ID, "user-1")
	defer env.hub.Unsubscribe(client)

	keys, err := env.repo.ListAPIKeys(context.Background(), env.profile.ID)
	if err != nil || len(keys) != 1 {
		t.Fatalf("ListAPIKeys failed: %v", err)
	}
	if err := env.repo.SetAPIKeyActive(context.Background(), keys[0].ID, false); err != nil {
		t.Fatalf("SetAPIKeyActive failed: %v", err)
	}

	code, _ := env.do(t, http.MethodPost, "/functions/v1/set-typing-status",
		map[string]string{APIKeyHeader: env.rawKey},
		map[string]interface{}{"chatId": env.chat.ID, "isTyping": true})
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	select {
	case ev := <-client.Outbound:
		t.Fatalf("expected no broadcast, got %+v", ev)
	default:
	}
}

func TestSetTypingStatusBroadcasts(t *testing.T) {
	env := newTestEnv(t, nil)
	client := env.hub.Subscribe(env.chat.ID, "user-1")
	defer env.hub.Unsubscribe(client)

	code, body := env.do(t, http.MethodPost, "/functions/v1/set-typing-status",
		map[string]string{APIKeyHeader: env.rawKey},
		map[string]interface{}{"chatId": env.chat.ID, "isTyping": true})
	if code != http.StatusOK || body["message"] != "Typing status updated" {
		t.Fatalf("unexpected response %d %v", code, body)
	}
	select {
	case ev := <-client.Outbound:
		if ev.Type != realtime.EventTypingStart {
			t.Fatalf("expected typing_start, got %s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a typing broadcast")
	}

	code, _ = env.do(t, http.MethodPost, "/functions/v1/set-typing-status",
		map[string]string{APIKeyHeader: env.rawKey},
		map[string]interface{}{"chatId": env.chat.ID})
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 when isTyping is missing, got %d", code)
	}
}

func TestSendMessageAccessGate(t *testing.T) {
	env := newTestEnv(t, nil)
	auth := map[string]string{"Authorization": "Bearer " + env.token(t, "user-1")}
	req := map[string]string{"chatId": env.chat.ID, "message": "hello"}

	code, _ := env.do(t, http.MethodPost, "/functions/v1/send-message", auth, req)
	if code != http.StatusForbidden {
		t.Fatalf("expected 403 without access, got %d", code)
	}
	if n := len(env.messages(t, env.chat.ID)); n != 0 {
		t.Fatalf("denied send must write nothing, got %d rows", n)
	}

	env.grantFreeAccess(t, "user-1")
	code, body := env.do(t, http.MethodPost, "/functions/v1/send-message", auth, req)
	if code != http.StatusOK || body["id"] == "" {
		t.Fatalf("expected 200 with id, got %d %v", code, body)
	}

	code, _ = env.do(t, http.MethodPost, "/functions/v1/send-message", nil, req)
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
}

func TestChatAPI(t *testing.T) {
	env := newTestEnv(t, nil)
	auth := map[string]string{"Authorization": "Bearer " + env.token(t, "user-9")}

	code, _ := env.do(t, http.MethodPost, "/api/chats", auth, map[string]string{"womanId": env.profile.ID})
	if code != http.StatusForbidden {
		t.Fatalf("expected 403 before access, got %d", code)
	}
	code, body := env.do(t, http.MethodGet, "/api/access/"+env.profile.ID, auth, nil)
	if code != http.StatusOK || body["allowed"] != false {
		t.Fatalf("unexpected access response %d %v", code, body)
	}

	env.grantFreeAccess(t, "user-9")
	code, body = env.do(t, http.MethodPost, "/api/chats", auth, map[string]string{"womanId": env.profile.ID})
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", code, body)
	}
	chatID := body["chat"].(map[string]interface{})["id"].(string)

	code, _ = env.do(t, http.MethodPost, "/api/chats", auth, map[string]string{"womanId": "missing"})
	if code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown profile, got %d", code)
	}

	code, body = env.do(t, http.MethodGet, "/api/chats/"+chatID+"/messages", auth, nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if msgs := body["messages"].([]interface{}); len(msgs) != 0 {
		t.Fatalf("expected empty list, got %v", msgs)
	}

	other := map[string]string{"Authorization": "Bearer " + env.token(t, "user-1")}
	code, _ = env.do(t, http.MethodGet, "/api/chats/"+chatID+"/messages", other, nil)
	if code != http.StatusForbidden {
		t.Fatalf("expected 403 for another user's chat, got %d", code)
	}

	code, body = env.do(t, http.MethodDelete, "/api/me/data", auth, nil)
	if code != http.StatusOK || body["chats_deleted"] != float64(1) {
		t.Fatalf("unexpected erase response %d %v", code, body)
	}
}

func TestEraseUserDataClosesLiveFeed(t *testing.T) {
	env := newTestEnv(t, nil)
	tok := env.token(t, "user-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/chats/" + env.chat.ID + "?" + identity.TokenQueryParam + "=" + tok
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	readType := func() (realtime.EventType, error) {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return "", err
		}
		var ev realtime.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		return ev.Type, nil
	}
	if typ, err := readType(); err != nil || typ != realtime.EventSubscribed {
		t.Fatalf("expected subscribed event, got %q (err %v)", typ, err)
	}

	code, body := env.do(t, http.MethodDelete, "/api/me/data", map[string]string{"Authorization": "Bearer " + tok}, nil)
	if code != http.StatusOK || body["chats_deleted"] != float64(1) {
		t.Fatalf("unexpected erase response %d %v", code, body)
	}

	if typ, err := readType(); err != nil || typ != realtime.EventChatClosed {
		t.Fatalf("expected chat_closed event, got %q (err %v)", typ, err)
	}
	if _, err := readType(); err == nil {
		t.Fatal("expected the feed connection to close after erasure")
	}
	if n := env.hub.Subscribers(env.chat.ID); n != 0 {
		t.Fatalf("expected no subscribers after erasure, got %d", n)
	}
}

func TestUploadAudio(t *testing.T) {
	env := newTestEnv(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="audio"; filename="clip.webm"`)
	h.Set("Content-Type", "audio/webm")
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart failed: %v", err)
	}
	_, _ = part.Write([]byte("opus-bytes"))
	_ = mw.Close()

	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/api/media/audio", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+env.token(t, "user-1"))
	resp, err := env.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	name := filepath.Base(out["url"])
	get, err := env.srv.Client().Get(env.srv.URL + "/media/" + name)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	defer func() { _ = get.Body.Close() }()
	data, _ := io.ReadAll(get.Body)
	if get.StatusCode != http.StatusOK || string(data) != "opus-bytes" {
		t.Fatalf("unexpected media response %d %q", get.StatusCode, data)
	}
}

func TestWebhookRateLimit(t *testing.T) {
	limiter := NewRateLimiter(0.001, 1)
	defer limiter.Stop()
	env := newTestEnv(t, limiter)

	headers := map[string]string{APIKeyHeader: env.rawKey}
	body := map[string]interface{}{"chatId": env.chat.ID, "isTyping": false}
	if code, _ := env.do(t, http.MethodPost, "/functions/v1/set-typing-status", headers, body); code != http.StatusOK {
		t.Fatalf("expected first call to pass, got %d", code)
	}
	if code, _ := env.do(t, http.MethodPost, "/functions/v1/set-typing-status", headers, body); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	code, body := env.do(t, http.MethodGet, "/health", nil, nil)
	if code != http.StatusOK || body["status"] != "healthy" {
		t.Fatalf("unexpected health %d %v", code, body)
	}
}
