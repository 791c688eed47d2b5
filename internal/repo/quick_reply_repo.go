// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for quick replies
// (canned agent responses addressed by shortcut).
package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/domain"
)

// ListQuickReplies returns every quick reply of accountID ordered by shortcut.
func ListQuickReplies(ctx context.Context, db *gorm.DB, accountID string) ([]domain.QuickReply, error) {
	var out []domain.QuickReply
	err := db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("shortcut asc").
		Find(&out).Error
	return out, err
}

// GetQuickReply fetches a quick reply owned by accountID.
func GetQuickReply(ctx context.Context, db *gorm.DB, accountID, id string) (*domain.QuickReply, error) {
	var q domain.QuickReply
	if err := db.WithContext(ctx).Where("id = ? AND account_id = ?", id, accountID).First(&q).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

// GetQuickReplyByShortcut resolves a shortcut such as "/hours".
func GetQuickReplyByShortcut(ctx context.Context, db *gorm.DB, accountID, shortcut string) (*domain.QuickReply, error) {
	var q domain.QuickReply
	if err := db.WithContext(ctx).Where("account_id = ? AND shortcut = ?", accountID, shortcut).First(&q).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

// CreateQuickReply inserts q; a shortcut already in use yields ErrDuplicate.
func CreateQuickReply(ctx context.Context, db *gorm.DB, q *domain.QuickReply) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	return dupOr(db.WithContext(ctx).Create(q).Error)
}

// UpdateQuickReply applies column updates to a quick reply owned by accountID.
func UpdateQuickReply(ctx context.Context, db *gorm.DB, accountID, id string, updates map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.QuickReply{}).
		Where("id = ? AND account_id = ?", id, accountID).
		Updates(updates)
	if IsDuplicate(res.Error) {
		return ErrDuplicate
	}
	return affected(res)
}

// DeleteQuickReply removes a quick reply owned by accountID.
func DeleteQuickReply(ctx context.Context, db *gorm.DB, accountID, id string) error {
	return affected(db.WithContext(ctx).
		Where("id = ? AND account_id = ?", id, accountID).
		Delete(&domain.QuickReply{}))
}
