// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for chatbots and
// their runtime flow sessions.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/domain"
)

// CreateChatbot inserts c, assigning an ID when empty.
func CreateChatbot(ctx context.Context, db *gorm.DB, c *domain.Chatbot) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return db.WithContext(ctx).Create(c).Error
}

// GetChatbot fetches a chatbot owned by accountID.
func GetChatbot(ctx context.Context, db *gorm.DB, accountID, id string) (*domain.Chatbot, error) {
	var c domain.Chatbot
	if err := db.WithContext(ctx).Where("id = ? AND account_id = ?", id, accountID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChatbotsPage returns the account's chatbots ordered by name.
func ListChatbotsPage(ctx context.Context, db *gorm.DB, accountID string, offset, limit int) ([]domain.Chatbot, int64, error) {
	var total int64
	if err := db.WithContext(ctx).Model(&domain.Chatbot{}).
		Where("account_id = ?", accountID).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.Chatbot
	err := db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("name asc, id asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, total, err
}

// EnabledChatbots returns the enabled chatbots of accountID, oldest first,
// which is the order triggers are evaluated in.
func EnabledChatbots(ctx context.Context, db *gorm.DB, accountID string) ([]domain.Chatbot, error) {
	var out []domain.Chatbot
	err := db.WithContext(ctx).
		Where("account_id = ? AND enabled = ?", accountID, true).
		Order("created_at asc, id asc").
		Find(&out).Error
	return out, err
}

// UpdateChatbot applies column updates to a chatbot owned by accountID.
func UpdateChatbot(ctx context.Context, db *gorm.DB, accountID, id string, updates map[string]any) error {
	return affected(db.WithContext(ctx).
		Model(&domain.Chatbot{}).
		Where("id = ? AND account_id = ?", id, accountID).
		Updates(updates))
}

// SaveChatbot writes name, triggers, match mode, enabled flag and graph of
// an existing chatbot. Triggers go through the JSON serializer, which map
// updates would skip.
func SaveChatbot(ctx context.Context, db *gorm.DB, c *domain.Chatbot) error {
	return affected(db.WithContext(ctx).
		Model(&domain.Chatbot{}).
		Where("id = ? AND account_id = ?", c.ID, c.AccountID).
		Select("name", "triggers", "match_mode", "enabled", "graph", "updated_at").
		Updates(c))
}

// DeleteChatbot soft-deletes a chatbot owned by accountID.
func DeleteChatbot(ctx context.Context, db *gorm.DB, accountID, id string) error {
	return affected(db.WithContext(ctx).
		Where("id = ? AND account_id = ?", id, accountID).
		Delete(&domain.Chatbot{}))
}

// ActiveFlowSession returns the active session of a conversation or ErrNotFound.
func ActiveFlowSession(ctx context.Context, db *gorm.DB, conversationID string) (*domain.FlowSession, error) {
	var s domain.FlowSession
	err := db.WithContext(ctx).
		Where("conversation_id = ? AND status = ?", conversationID, domain.FlowActive).
		Order("created_at desc").
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateFlowSession inserts s as active, ending any session still active
// for the same conversation in the same transaction.
func CreateFlowSession(ctx context.Context, db *gorm.DB, s *domain.FlowSession) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.Status = domain.FlowActive
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.FlowSession{}).
			Where("conversation_id = ? AND status = ?", s.ConversationID, domain.FlowActive).
			Update("status", domain.FlowAborted).Error; err != nil {
			return err
		}
		return tx.Create(s).Error
	})
}

// SaveFlowSession persists the cursor, variables, retries and status of s.
func SaveFlowSession(ctx context.Context, db *gorm.DB, s *domain.FlowSession) error {
	return affected(db.WithContext(ctx).
		Model(&domain.FlowSession{}).
		Where("id = ?", s.ID).
		Updates(map[string]any{
			"current_node": s.CurrentNode,
			"vars":         s.Vars,
			"retries":      s.Retries,
			"status":       s.Status,
			"updated_at":   time.Now().UTC(),
		}))
}

// AbortFlowSessions ends every active session of a conversation, e.g. when
// an agent replies manually.
func AbortFlowSessions(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.FlowSession{}).
		Where("conversation_id = ? AND status = ?", conversationID, domain.FlowActive).
		Update("status", domain.FlowAborted)
	return res.RowsAffected, res.Error
}
