package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/domain"
)

// ErrBlankIdemKey rejects a record without a scope or key.
var ErrBlankIdemKey = errors.New("blank idempotency scope or key")

// IdemKey names one stored send result. ScopeID is the conversation the
// request targeted.
type IdemKey struct {
	ActorID string
	ScopeID string
	Key     string
}

func (k IdemKey) blank() bool {
	return strings.TrimSpace(k.ScopeID) == "" || strings.TrimSpace(k.Key) == ""
}

// FindIdempotency returns the record for k that is still live at now, or
// ErrNotFound.
func FindIdempotency(ctx context.Context, db *gorm.DB, k IdemKey, now time.Time) (*domain.Idempotency, error) {
	if k.blank() {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("user_id = ? AND scope_id = ? AND key = ?", k.ActorID, k.ScopeID, k.Key).
		Where("expires_at > ?", now.UTC()).
		Take(&rec).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, err
	}
	return &rec, nil
}

// RecordIdempotency stores the outcome of the first request made with k.
// An expired record for k is replaced; a live one yields ErrDuplicate.
func RecordIdempotency(ctx context.Context, db *gorm.DB, k IdemKey, resourceID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	if k.blank() {
		return nil, ErrBlankIdemKey
	}
	now := time.Now().UTC()
	if err := db.WithContext(ctx).
		Where("user_id = ? AND scope_id = ? AND key = ?", k.ActorID, k.ScopeID, k.Key).
		Where("expires_at <= ?", now).
		Delete(&domain.Idempotency{}).Error; err != nil {
		return nil, err
	}
	rec := &domain.Idempotency{
		ID:         uuid.NewString(),
		UserID:     k.ActorID,
		ScopeID:    k.ScopeID,
		Key:        k.Key,
		ResourceID: resourceID,
		Status:     status,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, dupOr(err)
	}
	return rec, nil
}

// PurgeIdempotency deletes records that expired at or before now.
func PurgeIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now.UTC()).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}
