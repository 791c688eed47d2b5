package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/repo"
)

const (
	apiKeyPrefix    = "wak_"
	apiKeyRandBytes = 24
	apiKeyShownLen  = 12
)

// GenerateAPIKey returns a new secret, its display prefix, and its digest.
func GenerateAPIKey() (raw, prefix, hash string, err error) {
	b := make([]byte, apiKeyRandBytes)
	if _, err = rand.Read(b); err != nil {
		return "", "", "", err
	}
	raw = apiKeyPrefix + hex.EncodeToString(b)
	return raw, raw[:apiKeyShownLen], HashAPIKey(raw), nil
}

// HashAPIKey returns the hex SHA-256 of raw.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

// APIKeyService manages server-to-server credentials. Agents cannot hold keys.
type APIKeyService struct {
	DB  *gorm.DB
	Now func() time.Time
}

func (s *APIKeyService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// List returns the caller's keys, revoked ones included.
func (s *APIKeyService) List(ctx context.Context, p domain.Principal) ([]domain.APIKey, error) {
	if p.IsAgent() {
		return nil, ErrForbidden
	}
	return repo.ListAPIKeys(ctx, s.DB, p.ActorID)
}

// Create issues a key. The secret is returned once and never stored.
func (s *APIKeyService) Create(ctx context.Context, p domain.Principal, name string) (*domain.APIKey, string, error) {
	if p.IsAgent() {
		return nil, "", ErrForbidden
	}
	raw, prefix, hash, err := GenerateAPIKey()
	if err != nil {
		return nil, "", err
	}
	k := &domain.APIKey{
		AccountID: p.ActorID,
		Name:      strings.TrimSpace(name),
		Prefix:    prefix,
		KeyHash:   hash,
		CreatedAt: s.now(),
	}
	if err := repo.CreateAPIKey(ctx, s.DB, k); err != nil {
		return nil, "", err
	}
	return k, raw, nil
}

// Revoke disables one of the caller's keys.
func (s *APIKeyService) Revoke(ctx context.Context, p domain.Principal, id string) error {
	if p.IsAgent() {
		return ErrForbidden
	}
	err := repo.RevokeAPIKey(ctx, s.DB, p.ActorID, id, s.now())
	if errors.Is(err, repo.ErrNotFound) {
		return ErrAPIKeyNotFound
	}
	return err
}
