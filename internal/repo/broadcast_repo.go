// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for broadcasts
// and their materialized recipients.
//
// Dispatch ownership is taken with ClaimBroadcast, a conditional UPDATE
// that moves a row from "scheduled" to "sending". Only the caller whose
// update affected the row may send it, which keeps two dispatcher
// instances from sending the same broadcast.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-wa-backend/internal/domain"
)

// CreateBroadcast inserts b, assigning an ID when empty.
func CreateBroadcast(ctx context.Context, db *gorm.DB, b *domain.Broadcast) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return db.WithContext(ctx).Create(b).Error
}

// GetBroadcast fetches a broadcast owned by accountID.
func GetBroadcast(ctx context.Context, db *gorm.DB, accountID, id string) (*domain.Broadcast, error) {
	var b domain.Broadcast
	if err := db.WithContext(ctx).Where("id = ? AND account_id = ?", id, accountID).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBroadcastsPage returns the account's broadcasts newest first,
// optionally restricted to one status.
func ListBroadcastsPage(ctx context.Context, db *gorm.DB, accountID, status string, offset, limit int) ([]domain.Broadcast, int64, error) {
	base := func() *gorm.DB {
		q := db.WithContext(ctx).Model(&domain.Broadcast{}).Where("account_id = ?", accountID)
		if status != "" {
			q = q.Where("status = ?", status)
		}
		return q
	}
	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.Broadcast
	err := base().Order("created_at desc, id asc").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

// TransitionBroadcast moves a broadcast owned by accountID to status "to"
// only when its current status is one of from. It returns ErrNotFound when
// no row matched (missing, foreign, or in another state).
func TransitionBroadcast(ctx context.Context, db *gorm.DB, accountID, id string, from []string, to string) error {
	return affected(db.WithContext(ctx).
		Model(&domain.Broadcast{}).
		Where("id = ? AND account_id = ? AND status IN ?", id, accountID, from).
		Update("status", to))
}

// DueBroadcasts lists scheduled broadcasts whose scheduled_at is not after now.
func DueBroadcasts(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Broadcast, error) {
	var out []domain.Broadcast
	err := db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", domain.BroadcastScheduled, now.UTC()).
		Order("scheduled_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ClaimBroadcast atomically moves broadcast id from scheduled to sending.
// It reports false when another worker claimed it first or it was cancelled.
func ClaimBroadcast(ctx context.Context, db *gorm.DB, id string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Broadcast{}).
		Where("id = ? AND status = ?", id, domain.BroadcastScheduled).
		Updates(map[string]any{"status": domain.BroadcastSending, "started_at": now.UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// RequeueBroadcast hands a broadcast that stopped mid-send back to the
// scheduler. Recipients still pending are picked up by the next claim.
func RequeueBroadcast(ctx context.Context, db *gorm.DB, id string) error {
	return affected(db.WithContext(ctx).
		Model(&domain.Broadcast{}).
		Where("id = ? AND status = ?", id, domain.BroadcastSending).
		Update("status", domain.BroadcastScheduled))
}

// RequeueStalled moves every broadcast left in "sending" by a dispatcher
// that started it before startedBefore back to "scheduled".
func RequeueStalled(ctx context.Context, db *gorm.DB, startedBefore time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Broadcast{}).
		Where("status = ? AND (started_at IS NULL OR started_at < ?)", domain.BroadcastSending, startedBefore.UTC()).
		Update("status", domain.BroadcastScheduled)
	return res.RowsAffected, res.Error
}

// FinishBroadcast stores the final status and counters of broadcast id.
func FinishBroadcast(ctx context.Context, db *gorm.DB, id, status string, total, sent, failed int, at time.Time) error {
	return affected(db.WithContext(ctx).
		Model(&domain.Broadcast{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       status,
			"total":        total,
			"sent":         sent,
			"failed":       failed,
			"completed_at": at.UTC(),
		}))
}

// InsertRecipients stores recs in batches, skipping phones already present
// for the broadcast. It returns how many rows were inserted.
func InsertRecipients(ctx context.Context, db *gorm.DB, recs []domain.BroadcastRecipient) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	for i := range recs {
		if recs[i].ID == "" {
			recs[i].ID = uuid.NewString()
		}
		if recs[i].Status == "" {
			recs[i].Status = domain.RecipientPending
		}
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(recs, 200)
	return res.RowsAffected, res.Error
}

// PendingRecipients returns recipients not yet attempted or awaiting retry.
func PendingRecipients(ctx context.Context, db *gorm.DB, broadcastID string) ([]domain.BroadcastRecipient, error) {
	var out []domain.BroadcastRecipient
	err := db.WithContext(ctx).
		Where("broadcast_id = ? AND status = ?", broadcastID, domain.RecipientPending).
		Order("phone asc").
		Find(&out).Error
	return out, err
}

// ListRecipientsPage returns a page of recipients ordered by phone.
func ListRecipientsPage(ctx context.Context, db *gorm.DB, broadcastID string, offset, limit int) ([]domain.BroadcastRecipient, int64, error) {
	var total int64
	if err := db.WithContext(ctx).Model(&domain.BroadcastRecipient{}).
		Where("broadcast_id = ?", broadcastID).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.BroadcastRecipient
	err := db.WithContext(ctx).
		Where("broadcast_id = ?", broadcastID).
		Order("phone asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, total, err
}

// UpdateRecipient applies column updates to recipient id.
func UpdateRecipient(ctx context.Context, db *gorm.DB, id string, updates map[string]any) error {
	return affected(db.WithContext(ctx).
		Model(&domain.BroadcastRecipient{}).
		Where("id = ?", id).
		Updates(updates))
}

// RecipientCounts tallies the recipients of a broadcast by status.
func RecipientCounts(ctx context.Context, db *gorm.DB, broadcastID string) (map[string]int, error) {
	var rows []struct {
		Status string
		N      int
	}
	err := db.WithContext(ctx).
		Model(&domain.BroadcastRecipient{}).
		Select("status, COUNT(*) AS n").
		Where("broadcast_id = ?", broadcastID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
