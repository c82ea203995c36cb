// Package apikey issues and authenticates per-profile webhook API keys.
//
// A key looks like amk_<prefix>_<secret>. The prefix is stored in clear for
// lookup; only a bcrypt hash of the secret is stored.
package apikey

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/amora/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

const (
	keyScheme   = "amk"
	prefixBytes = 4
	secretBytes = 24
)

// Store is the subset of the repository used for API keys.
type Store interface {
	CreateAPIKey(ctx context.Context, key *domain.APIKey) error
	FindAPIKeysByPrefix(ctx context.Context, prefix string) ([]*domain.APIKey, error)
	TouchAPIKey(ctx context.Context, id string, at time.Time) error
}

// Service issues and verifies keys.
type Service struct {
	store Store
	cost  int
	now   func() time.Time
}

// NewService creates a key service using bcrypt.DefaultCost.
func NewService(store Store) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost, now: time.Now}
}

// WithCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func (s *Service) WithCost(cost int) *Service {
	s.cost = cost
	return s
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Split parses a raw key into its prefix and secret.
func Split(raw string) (prefix, secret string, ok bool) {
	raw = strings.TrimSpace(raw)
	parts := strings.Split(raw, "_")
	if len(parts) != 3 || parts[0] != keyScheme {
		return "", "", false
	}
	if len(parts[1]) != prefixBytes*2 || len(parts[2]) != secretBytes*2 {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// Issue creates an active key for a profile and returns the plaintext once.
func (s *Service) Issue(ctx context.Context, womanID string) (string, *domain.APIKey, error) {
	prefix, err := randomHex(prefixBytes)
	if err != nil {
		return "", nil, err
	}
	secret, err := randomHex(secretBytes)
	if err != nil {
		return "", nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost)
	if err != nil {
		return "", nil, fmt.Errorf("hash api key: %w", err)
	}

	key := &domain.APIKey{
		WomanID:   womanID,
		KeyPrefix: prefix,
		KeyHash:   string(hash),
		Active:    true,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return "", nil, err
	}
	return keyScheme + "_" + prefix + "_" + secret, key, nil
}

// Authenticate resolves a raw key to its stored record.
// Missing keys yield domain.ErrMissingAPIKey; malformed, unknown or inactive
// keys yield domain.ErrInvalidAPIKey.
func (s *Service) Authenticate(ctx context.Context, raw string) (*domain.APIKey, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, domain.ErrMissingAPIKey
	}
	prefix, secret, ok := Split(raw)
	if !ok {
		return nil, domain.ErrInvalidAPIKey
	}

	candidates, err := s.store.FindAPIKeysByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("lookup api key: %w", err)
	}
	for _, k := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(secret)) != nil {
			continue
		}
		if !k.Active {
			return nil, domain.ErrInvalidAPIKey
		}
		return k, nil
	}
	return nil, domain.ErrInvalidAPIKey
}

// MarkUsed records that a key authorized a call.
func (s *Service) MarkUsed(ctx context.Context, key *domain.APIKey) error {
	now := s.now().UTC()
	if err := s.store.TouchAPIKey(ctx, key.ID, now); err != nil {
		return err
	}
	key.LastUsedAt = &now
	return nil
}
