// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for WhatsApp
// message templates.
package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-wa-backend/internal/domain"
)

// ListTemplates returns the account's templates ordered by name and language.
func ListTemplates(ctx context.Context, db *gorm.DB, accountID string) ([]domain.Template, error) {
	var out []domain.Template
	err := db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("name asc, language asc").
		Find(&out).Error
	return out, err
}

// GetTemplateByName fetches a template by (name, language).
func GetTemplateByName(ctx context.Context, db *gorm.DB, accountID, name, language string) (*domain.Template, error) {
	var t domain.Template
	err := db.WithContext(ctx).
		Where("account_id = ? AND name = ? AND language = ?", accountID, name, language).
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTemplate inserts t; a duplicate (name, language) yields ErrDuplicate.
func CreateTemplate(ctx context.Context, db *gorm.DB, t *domain.Template) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return dupOr(db.WithContext(ctx).Create(t).Error)
}

// UpsertTemplate inserts t or refreshes category, status, components and
// external id of the existing (account, name, language) row.
func UpsertTemplate(ctx context.Context, db *gorm.DB, t *domain.Template) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "name"}, {Name: "language"}},
		DoUpdates: clause.AssignmentColumns([]string{"category", "status", "components", "external_id", "updated_at"}),
	}).Create(t).Error
}

// DeleteTemplate removes a template owned by accountID.
func DeleteTemplate(ctx context.Context, db *gorm.DB, accountID, id string) error {
	return affected(db.WithContext(ctx).
		Where("id = ? AND account_id = ?", id, accountID).
		Delete(&domain.Template{}))
}
