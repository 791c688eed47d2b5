// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for login
// sessions and API keys.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/domain"
)

// CreateSession persists a new session for accountID that expires after ttl.
func CreateSession(ctx context.Context, db *gorm.DB, accountID, userAgent, ip string, ttl time.Duration) (*domain.Session, error) {
	now := time.Now().UTC()
	s := &domain.Session{
		ID:        uuid.NewString(),
		AccountID: accountID,
		UserAgent: userAgent,
		IP:        ip,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// GetSession fetches a session by ID regardless of its state.
func GetSession(ctx context.Context, db *gorm.DB, id string) (*domain.Session, error) {
	var s domain.Session
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ListActiveSessions returns the unrevoked, unexpired sessions of accountID.
func ListActiveSessions(ctx context.Context, db *gorm.DB, accountID string, now time.Time) ([]domain.Session, error) {
	var out []domain.Session
	err := db.WithContext(ctx).
		Where("account_id = ? AND revoked_at IS NULL AND expires_at > ?", accountID, now.UTC()).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// RevokeSession marks one session of accountID as revoked. Already revoked
// or foreign sessions yield ErrNotFound.
func RevokeSession(ctx context.Context, db *gorm.DB, accountID, id string, at time.Time) error {
	return affected(db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ? AND account_id = ? AND revoked_at IS NULL", id, accountID).
		Update("revoked_at", at.UTC()))
}

// RevokeAllSessions revokes every live session of accountID and reports how
// many rows changed.
func RevokeAllSessions(ctx context.Context, db *gorm.DB, accountID string, at time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("account_id = ? AND revoked_at IS NULL", accountID).
		Update("revoked_at", at.UTC())
	return res.RowsAffected, res.Error
}

// TouchSession bumps last_seen_at.
func TouchSession(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ?", id).
		Update("last_seen_at", at.UTC()).Error
}

// CreateAPIKey inserts k, assigning an ID when empty.
func CreateAPIKey(ctx context.Context, db *gorm.DB, k *domain.APIKey) error {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	return dupOr(db.WithContext(ctx).Create(k).Error)
}

// ListAPIKeys returns every key of accountID, newest first, revoked ones included.
func ListAPIKeys(ctx context.Context, db *gorm.DB, accountID string) ([]domain.APIKey, error) {
	var out []domain.APIKey
	err := db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// GetAPIKeyByHash finds an unrevoked key by its SHA-256 hex digest.
func GetAPIKeyByHash(ctx context.Context, db *gorm.DB, hash string) (*domain.APIKey, error) {
	var k domain.APIKey
	err := db.WithContext(ctx).
		Where("key_hash = ? AND revoked_at IS NULL", hash).
		First(&k).Error
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// RevokeAPIKey revokes a key owned by accountID.
func RevokeAPIKey(ctx context.Context, db *gorm.DB, accountID, id string, at time.Time) error {
	return affected(db.WithContext(ctx).
		Model(&domain.APIKey{}).
		Where("id = ? AND account_id = ? AND revoked_at IS NULL", id, accountID).
		Update("revoked_at", at.UTC()))
}

// TouchAPIKey bumps last_used_at.
func TouchAPIKey(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.APIKey{}).
		Where("id = ?", id).
		Update("last_used_at", at.UTC()).Error
}
