package apikey

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/amora/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

type memStore struct {
	mu      sync.Mutex
	keys    []*domain.APIKey
	touched map[string]time.Time
}

func (m *memStore) CreateAPIKey(_ context.Context, key *domain.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key.ID = "key-" + key.KeyPrefix
	m.keys = append(m.keys, key)
	return nil
}

func (m *memStore) FindAPIKeysByPrefix(_ context.Context, prefix string) ([]*domain.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.APIKey
	for _, k := range m.keys {
		if k.KeyPrefix == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memStore) TouchAPIKey(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.touched == nil {
		m.touched = make(map[string]time.Time)
	}
	m.touched[id] = at
	return nil
}

func TestIssueAndAuthenticate(t *testing.T) {
	store := &memStore{}
	svc := NewService(store).WithCost(bcrypt.MinCost)

	raw, key, err := svc.Issue(context.Background(), "woman-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if !strings.HasPrefix(raw, "amk_"+key.KeyPrefix+"_") {
		t.Fatalf("unexpected key format %q", raw)
	}
	if strings.Contains(key.KeyHash, raw) {
		t.Fatal("plaintext key must not be stored")
	}

	got, err := svc.Authenticate(context.Background(), raw)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if got.WomanID != "woman-1" {
		t.Fatalf("expected woman-1, got %q", got.WomanID)
	}

	if err := svc.MarkUsed(context.Background(), got); err != nil {
		t.Fatalf("MarkUsed failed: %v", err)
	}
	if _, ok := store.touched[got.ID]; !ok || got.LastUsedAt == nil {
		t.Fatal("expected last_used_at to be recorded")
	}
}

func TestAuthenticateRejections(t *testing.T) {
	store := &memStore{}
	svc := NewService(store).WithCost(bcrypt.MinCost)
	raw, key, err := svc.Issue(context.Background(), "woman-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	prefix, _, _ := Split(raw)

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"missing", "  ", domain.ErrMissingAPIKey},
		{"malformed", "not-a-key", domain.ErrInvalidAPIKey},
		{"wrong secret", "amk_" + prefix + "_" + strings.Repeat("0", secretBytes*2), domain.ErrInvalidAPIKey},
		{"unknown prefix", "amk_ffffffff_" + strings.Repeat("a", secretBytes*2), domain.ErrInvalidAPIKey},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Authenticate(context.Background(), tc.raw); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	key.Active = false
	if _, err := svc.Authenticate(context.Background(), raw); !errors.Is(err, domain.ErrInvalidAPIKey) {
		t.Fatalf("expected inactive key to be rejected, got %v", err)
	}
}
