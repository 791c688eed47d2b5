package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/domain"
)

// ConversationsStats returns the number of inbox rows matching f for
// accountID and the greatest UpdatedAt among them (nil when empty).
func ConversationsStats(ctx context.Context, db *gorm.DB, accountID string, f ConversationFilter) (int64, *time.Time, error) {
	q := db.WithContext(ctx).Model(&domain.Conversation{}).Where("account_id = ?", accountID)
	return freshness(f.apply(q))
}

// MessagesStats returns the number of messages in a conversation and the
// greatest UpdatedAt among them (nil when empty).
func MessagesStats(ctx context.Context, db *gorm.DB, conversationID string) (int64, *time.Time, error) {
	return freshness(db.WithContext(ctx).Model(&domain.Message{}).Where("conversation_id = ?", conversationID))
}

// freshness counts the rows selected by q and reads the newest updated_at.
// The latest row is ordered rather than aggregated because SQLite returns
// MAX() over timestamps as text.
func freshness(q *gorm.DB) (int64, *time.Time, error) {
	q = q.Session(&gorm.Session{})

	var count int64
	if err := q.Count(&count).Error; err != nil || count == 0 {
		return 0, nil, err
	}
	var latest struct{ UpdatedAt time.Time }
	if err := q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&latest).Error; err != nil {
		return 0, nil, err
	}
	return count, &latest.UpdatedAt, nil
}
