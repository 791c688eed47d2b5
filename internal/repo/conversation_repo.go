// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model (the inbox).
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. Missing or foreign rows surface as
// gorm.ErrRecordNotFound (ErrNotFound).
//
// Inbox ordering is last_message_at DESC with never-messaged conversations
// last, then id for a stable page boundary.
package repo

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/domain"
)

// ConversationFilter narrows inbox listings. Empty fields are ignored.
//
// AssignedTo restricts to one agent; Unassigned restricts to conversations
// without an agent. Both set is treated as "assigned to agent OR unassigned".
type ConversationFilter struct {
	Status     string
	AssignedTo string
	Unassigned bool
}

func (f ConversationFilter) apply(q *gorm.DB) *gorm.DB {
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	switch {
	case f.AssignedTo != "" && f.Unassigned:
		q = q.Where("(assigned_agent_id = ? OR assigned_agent_id IS NULL)", f.AssignedTo)
	case f.AssignedTo != "":
		q = q.Where("assigned_agent_id = ?", f.AssignedTo)
	case f.Unassigned:
		q = q.Where("assigned_agent_id IS NULL")
	}
	return q
}

// CountConversations returns the number of conversations matching f.
func CountConversations(ctx context.Context, db *gorm.DB, accountID string, f ConversationFilter) (int64, error) {
	var total int64
	err := f.apply(db.WithContext(ctx).Model(&domain.Conversation{}).Where("account_id = ?", accountID)).
		Count(&total).Error
	return total, err
}

// ListConversationsPage returns an inbox page. Use CountConversations for
// the pagination total.
func ListConversationsPage(ctx context.Context, db *gorm.DB, accountID string, f ConversationFilter, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := f.apply(db.WithContext(ctx).Where("account_id = ?", accountID)).
		Order("CASE WHEN last_message_at IS NULL THEN 1 ELSE 0 END, last_message_at desc, id asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetConversation fetches a conversation owned by accountID.
func GetConversation(ctx context.Context, db *gorm.DB, accountID, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := db.WithContext(ctx).Where("id = ? AND account_id = ?", id, accountID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetOrCreateConversation returns the conversation between deviceID and
// phone, creating it from seed when absent. A concurrent insert losing the
// unique race re-reads the winner's row. The bool reports creation.
func GetOrCreateConversation(ctx context.Context, db *gorm.DB, seed domain.Conversation) (*domain.Conversation, bool, error) {
	find := func() (*domain.Conversation, error) {
		var c domain.Conversation
		err := db.WithContext(ctx).
			Where("device_id = ? AND contact_phone = ?", seed.DeviceID, seed.ContactPhone).
			First(&c).Error
		if err != nil {
			return nil, err
		}
		return &c, nil
	}
	c, err := find()
	if err == nil {
		return c, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	seed.ID = uuid.NewString()
	if seed.Status == "" {
		seed.Status = domain.ConversationOpen
	}
	if err := db.WithContext(ctx).Create(&seed).Error; err != nil {
		if IsDuplicate(err) {
			c, err := find()
			return c, false, err
		}
		return nil, false, err
	}
	return &seed, true, nil
}

// previewLen matches the varchar(255) column, which counts characters.
const previewLen = 255

func clipRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// TouchConversation records a new message: preview, last_message_at and,
// for inbound traffic, an unread increment. A closed conversation reopens
// on inbound messages.
func TouchConversation(ctx context.Context, db *gorm.DB, id, preview string, at time.Time, inbound bool) error {
	preview = clipRunes(preview, previewLen)
	updates := map[string]any{
		"last_message_at":      at.UTC(),
		"last_message_preview": preview,
	}
	if inbound {
		updates["unread_count"] = gorm.Expr("unread_count + 1")
		updates["status"] = domain.ConversationOpen
	}
	return affected(db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Updates(updates))
}

// UpdateConversationContact refreshes the linked contact and display name.
func UpdateConversationContact(ctx context.Context, db *gorm.DB, id string, contactID *string, name string) error {
	return db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]any{"contact_id": contactID, "contact_name": name}).Error
}

// MarkConversationRead zeroes the unread counter.
func MarkConversationRead(ctx context.Context, db *gorm.DB, accountID, id string) error {
	return affected(db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ? AND account_id = ?", id, accountID).
		Update("unread_count", 0))
}

// AssignConversation sets (or clears, with nil) the assigned agent.
func AssignConversation(ctx context.Context, db *gorm.DB, accountID, id string, agentID *string) error {
	return affected(db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ? AND account_id = ?", id, accountID).
		Update("assigned_agent_id", agentID))
}

// SetConversationStatus opens or closes a conversation.
func SetConversationStatus(ctx context.Context, db *gorm.DB, accountID, id, status string) error {
	return affected(db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ? AND account_id = ?", id, accountID).
		Update("status", status))
}

// UnassignAgent clears agentID from every conversation of accountID and
// reports how many were released.
func UnassignAgent(ctx context.Context, db *gorm.DB, accountID, agentID string) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("account_id = ? AND assigned_agent_id = ?", accountID, agentID).
		Update("assigned_agent_id", nil)
	return res.RowsAffected, res.Error
}
