package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSignAndParseRoundTrip(t *testing.T) {
	v := NewVerifier("test-secret", "amora")
	tok, err := v.Sign("user-42", "u@example.com", time.Minute)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	claims, err := v.Parse(tok)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("expected subject user-42, got %q", claims.Subject)
	}
}

func TestParseRejectsWrongSecretAndExpired(t *testing.T) {
	v := NewVerifier("test-secret", "")
	other := NewVerifier("other-secret", "")

	tok, err := other.Sign("user-42", "", time.Minute)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if _, err := v.Parse(tok); err == nil {
		t.Fatal("expected token signed with another secret to be rejected")
	}

	stale := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	expired, err := stale.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}
	if _, err := v.Parse(expired); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("test-secret", "")
	tok, err := v.Sign("user-7", "", time.Minute)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	var gotUser string
	h := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name     string
		setup    func(r *http.Request)
		wantCode int
		wantUser string
	}{
		{"missing token", func(*http.Request) {}, http.StatusUnauthorized, ""},
		{"garbage token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized, ""},
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }, http.StatusNoContent, "user-7"},
		{"query param", func(r *http.Request) {
			q := r.URL.Query()
			q.Set(TokenQueryParam, tok)
			r.URL.RawQuery = q.Encode()
		}, http.StatusNoContent, "user-7"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gotUser = ""
			req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
			tc.setup(req)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tc.wantCode {
				t.Fatalf("expected status %d, got %d", tc.wantCode, rr.Code)
			}
			if gotUser != tc.wantUser {
				t.Fatalf("expected user %q, got %q", tc.wantUser, gotUser)
			}
		})
	}
}
