// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/domain"
)

// CreateMessage inserts m, filling ID and CreatedAt when empty.
func CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(m).Error
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conversationID).
		Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a page of messages newest first
// (CreatedAt DESC, ID DESC), matching the client cache window.
func ListMessagesPage(ctx context.Context, db *gorm.DB, conversationID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMessageByExternalID resolves a Cloud API message id (wamid).
func GetMessageByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("external_id = ?", externalID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateMessageDelivery stores the outcome of a send attempt.
func UpdateMessageDelivery(ctx context.Context, db *gorm.DB, id, status, externalID, errMsg string) error {
	return affected(db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "external_id": externalID, "error": errMsg}))
}

// SetMessageStatus moves message id from status "from" to "to". The
// compare-and-set keeps concurrent status callbacks from overwriting a
// newer state; ErrNotFound means the row changed underneath the caller.
func SetMessageStatus(ctx context.Context, db *gorm.DB, id, from, to string) error {
	return affected(db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to))
}

// StashEarlyStatus keeps a status callback for a wamid no message carries yet.
func StashEarlyStatus(ctx context.Context, db *gorm.DB, es *domain.EarlyStatus) error {
	if es.ReceivedAt.IsZero() {
		es.ReceivedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(es).Error
}

// TakeEarlyStatuses removes and returns the stashed callbacks of externalID
// in arrival order.
func TakeEarlyStatuses(ctx context.Context, db *gorm.DB, externalID string) ([]domain.EarlyStatus, error) {
	var out []domain.EarlyStatus
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("external_id = ?", externalID).Order("id ASC").Find(&out).Error; err != nil {
			return err
		}
		if len(out) == 0 {
			return nil
		}
		ids := make([]uint, 0, len(out))
		for _, es := range out {
			ids = append(ids, es.ID)
		}
		return tx.Where("id IN ?", ids).Delete(&domain.EarlyStatus{}).Error
	})
	return out, err
}

// PurgeEarlyStatuses drops callbacks received before cutoff; their messages
// were never sent from here.
func PurgeEarlyStatuses(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("received_at < ?", cutoff.UTC()).Delete(&domain.EarlyStatus{})
	return res.RowsAffected, res.Error
}
